package envelope

import (
	"sync"

	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelerr"
	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelid"
)

// Store is the in-memory envelope registry EngineService's GetEnvelope/
// CloneEnvelope/UpdateEnvelope operate against (spec 6.2, 6.3: "the kernel is
// in-memory"). Grounded on coreengine/grpc/server.go's proto<->Envelope
// round-trip, which implies the server must hold envelopes by id between
// calls; this module makes that registry explicit instead of leaving it to
// the caller.
type Store struct {
	mu    sync.RWMutex
	byID  map[kernelid.EnvelopeId]*Envelope
}

// NewStore constructs an empty envelope registry.
func NewStore() *Store {
	return &Store{byID: make(map[kernelid.EnvelopeId]*Envelope)}
}

// Create builds a new Envelope and registers it.
func (s *Store) Create(reqID kernelid.RequestId, userID kernelid.UserId, sessID kernelid.SessionId, rawInput string, maxIterations, maxAgentHops int) *Envelope {
	env := New(reqID, userID, sessID, rawInput, maxIterations, maxAgentHops)
	s.mu.Lock()
	s.byID[env.EnvelopeId] = env
	s.mu.Unlock()
	return env
}

// Get returns the registered envelope by id.
func (s *Store) Get(id kernelid.EnvelopeId) (*Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.byID[id]
	if !ok {
		return nil, kernelerr.NotFound("envelope", string(id))
	}
	return env, nil
}

// Clone deep-copies the registered envelope under a fresh EnvelopeId and
// registers the clone too.
func (s *Store) Clone(id kernelid.EnvelopeId) (*Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.byID[id]
	if !ok {
		return nil, kernelerr.NotFound("envelope", string(id))
	}
	clone := env.Clone()
	s.byID[clone.EnvelopeId] = clone
	return clone, nil
}

// Update applies patch to the registered envelope's Metadata and Outputs
// (the only fields spec 9 permits callers outside the orchestrator to patch)
// and returns the updated envelope.
func (s *Store) Update(id kernelid.EnvelopeId, metadataPatch map[string]any, outputPatch map[string]map[string]any) (*Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.byID[id]
	if !ok {
		return nil, kernelerr.NotFound("envelope", string(id))
	}
	for k, v := range metadataPatch {
		env.Metadata[k] = v
	}
	for k, v := range outputPatch {
		env.Outputs[k] = v
	}
	return env, nil
}

// Delete removes an envelope from the registry (e.g. once its session ends).
func (s *Store) Delete(id kernelid.EnvelopeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}
