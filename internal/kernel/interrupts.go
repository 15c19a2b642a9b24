package kernel

import (
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelerr"
	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelid"
)

// InterruptKind is one of spec 3.6's typed human-in-the-loop interrupt kinds.
type InterruptKind string

const (
	InterruptClarification    InterruptKind = "clarification"
	InterruptConfirmation     InterruptKind = "confirmation"
	InterruptAgentReview      InterruptKind = "agent_review"
	InterruptCheckpoint       InterruptKind = "checkpoint"
	InterruptResourceExhausted InterruptKind = "resource_exhausted"
	InterruptTimeout          InterruptKind = "timeout"
	InterruptSystemError      InterruptKind = "system_error"
)

// defaultTTL maps each interrupt kind to its default TTL (spec 3.6's exact
// table). Checkpoint has no expiry (zero duration means "never expires").
var defaultTTL = map[InterruptKind]time.Duration{
	InterruptClarification:     24 * time.Hour,
	InterruptConfirmation:      time.Hour,
	InterruptAgentReview:       30 * time.Minute,
	InterruptCheckpoint:        0,
	InterruptResourceExhausted: 5 * time.Minute,
	InterruptTimeout:           5 * time.Minute,
	InterruptSystemError:       time.Hour,
}

// InterruptStatus is the lifecycle state of a FlowInterrupt.
type InterruptStatus string

const (
	InterruptPending  InterruptStatus = "pending"
	InterruptResolved InterruptStatus = "resolved"
	InterruptExpired  InterruptStatus = "expired"
	InterruptCancelled InterruptStatus = "cancelled"
)

// FlowInterrupt is the record of one human-in-the-loop interrupt (spec 3.6).
type FlowInterrupt struct {
	Id        kernelid.InterruptId
	Kind      InterruptKind
	ProcessId kernelid.ProcessId
	RequestId kernelid.RequestId
	SessionId kernelid.SessionId
	CreatedBy kernelid.UserId

	Status    InterruptStatus
	Prompt    string
	Payload   map[string]any
	Response  map[string]any

	CreatedAt time.Time
	ExpiresAt *time.Time
	ResolvedAt *time.Time
	ResolvedBy *kernelid.UserId
}

// InterruptService manages the full lifecycle of FlowInterrupts (spec 4.4).
//
// Grounded on coreengine/kernel/interrupts.go's InterruptService, extended
// with spec 3.6's exact per-kind TTL table and the invariant that Resolve
// must match the original creator when a resolver id is supplied.
type InterruptService struct {
	mu    sync.RWMutex
	table map[kernelid.InterruptId]*FlowInterrupt
	now   func() time.Time
}

// NewInterruptService constructs an empty service.
func NewInterruptService(now func() time.Time) *InterruptService {
	if now == nil {
		now = time.Now
	}
	return &InterruptService{
		table: make(map[kernelid.InterruptId]*FlowInterrupt),
		now:   now,
	}
}

// Create records a new Pending interrupt, stamping ExpiresAt from kind's
// default TTL (or ttlOverride, if non-zero).
func (s *InterruptService) Create(kind InterruptKind, pid kernelid.ProcessId, reqID kernelid.RequestId, sessID kernelid.SessionId, createdBy kernelid.UserId, prompt string, payload map[string]any, ttlOverride time.Duration) *FlowInterrupt {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ttl := defaultTTL[kind]
	if ttlOverride > 0 {
		ttl = ttlOverride
	}

	fi := &FlowInterrupt{
		Id:        kernelid.NewInterruptId(),
		Kind:      kind,
		ProcessId: pid,
		RequestId: reqID,
		SessionId: sessID,
		CreatedBy: createdBy,
		Status:    InterruptPending,
		Prompt:    prompt,
		Payload:   payload,
		CreatedAt: now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		fi.ExpiresAt = &expires
	}
	s.table[fi.Id] = fi
	return fi
}

// Resolve marks a Pending interrupt Resolved with the given response. If
// resolvedBy is non-nil, it must equal the interrupt's CreatedBy (spec 4.4's
// invariant: "only the requester identity that created an interrupt, or an
// unattributed system resolution, may resolve it").
func (s *InterruptService) Resolve(id kernelid.InterruptId, resolvedBy *kernelid.UserId, response map[string]any) (*FlowInterrupt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fi, ok := s.table[id]
	if !ok {
		return nil, kernelerr.NotFound("interrupt", string(id))
	}
	if fi.Status != InterruptPending {
		return nil, kernelerr.InvalidStateTransition("interrupt", fi.Status, InterruptResolved)
	}
	if resolvedBy != nil && *resolvedBy != fi.CreatedBy {
		return nil, kernelerr.InvalidArgument("resolver does not match interrupt creator")
	}

	now := s.now()
	fi.Status = InterruptResolved
	fi.Response = response
	fi.ResolvedAt = &now
	fi.ResolvedBy = resolvedBy
	return fi, nil
}

// Cancel marks a Pending interrupt Cancelled (e.g. its owning process
// terminated before the human responded).
func (s *InterruptService) Cancel(id kernelid.InterruptId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fi, ok := s.table[id]
	if !ok {
		return kernelerr.NotFound("interrupt", string(id))
	}
	if fi.Status != InterruptPending {
		return kernelerr.InvalidStateTransition("interrupt", fi.Status, InterruptCancelled)
	}
	fi.Status = InterruptCancelled
	return nil
}

// ExpirePending scans for Pending interrupts whose ExpiresAt has passed and
// marks them Expired, returning the ids affected (spec 4.7's periodic GC).
func (s *InterruptService) ExpirePending(now time.Time) []kernelid.InterruptId {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []kernelid.InterruptId
	for id, fi := range s.table {
		if fi.Status == InterruptPending && fi.ExpiresAt != nil && now.After(*fi.ExpiresAt) {
			fi.Status = InterruptExpired
			expired = append(expired, id)
		}
	}
	return expired
}

// CleanupResolved permanently deletes interrupts that have been in a
// terminal status (Resolved/Expired/Cancelled) for longer than ttl.
func (s *InterruptService) CleanupResolved(now time.Time, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, fi := range s.table {
		if fi.Status == InterruptPending {
			continue
		}
		terminalAt := fi.CreatedAt
		if fi.ResolvedAt != nil {
			terminalAt = *fi.ResolvedAt
		}
		if now.Sub(terminalAt) >= ttl {
			delete(s.table, id)
			removed++
		}
	}
	return removed
}

// Get returns the interrupt for id.
func (s *InterruptService) Get(id kernelid.InterruptId) (*FlowInterrupt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fi, ok := s.table[id]
	if !ok {
		return nil, false
	}
	cp := *fi
	return &cp, true
}

// ListPendingForRequest returns all Pending interrupts for a request.
func (s *InterruptService) ListPendingForRequest(reqID kernelid.RequestId) []*FlowInterrupt {
	return s.listPending(func(fi *FlowInterrupt) bool { return fi.RequestId == reqID })
}

// ListPendingForSession returns all Pending interrupts for a session.
func (s *InterruptService) ListPendingForSession(sessID kernelid.SessionId) []*FlowInterrupt {
	return s.listPending(func(fi *FlowInterrupt) bool { return fi.SessionId == sessID })
}

func (s *InterruptService) listPending(match func(*FlowInterrupt) bool) []*FlowInterrupt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*FlowInterrupt
	for _, fi := range s.table {
		if fi.Status == InterruptPending && match(fi) {
			cp := *fi
			out = append(out, &cp)
		}
	}
	return out
}
