// Package envelope implements the mutable Envelope that flows through a
// pipeline traversal (spec 3.5) and accumulates a ProcessingRecord per agent
// hop for audit purposes.
//
// Grounded on coreengine/envelope/generic.go's GenericEnvelope: the dynamic
// Outputs map, ProcessingRecord/ProcessingHistory audit trail, and
// functional-option-free direct-field construction are kept near verbatim.
// Dropped: the DAG execution fields (ActiveStages/CompletedStageSet/
// FailedStages/DAGMode) and the multi-goal/critic/retry bookkeeping, since
// spec 4.5 pins a linear stage_order + routing-rule traversal model rather
// than parallel DAG execution (see DESIGN.md's orchestrator entry) and
// leaves goal-tracking to userspace agents.
package envelope

import (
	"time"

	"github.com/jeeves-cluster-organization/agentkernel/internal/kernel"
	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelid"
)

// ProcessingRecord is one audit-trail entry for a single agent's hop through
// the pipeline (spec 3.5).
type ProcessingRecord struct {
	Agent       string     `json:"agent"`
	StageOrder  int        `json:"stage_order"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int        `json:"duration_ms"`
	Status      string     `json:"status"` // "running", "success", "error", "skipped"
	Error       *string    `json:"error,omitempty"`
	LLMCalls    int        `json:"llm_calls"`
}

// Envelope is the mutable carrier routed through one orchestration session
// (spec 3.5). Only the orchestrator mutates CurrentStage/Iteration/
// Terminated fields (spec 9, "envelope mutation only via
// orchestrator"); agents read and write only their own Outputs slot.
type Envelope struct {
	EnvelopeId kernelid.EnvelopeId `json:"envelope_id"`
	RequestId  kernelid.RequestId  `json:"request_id"`
	UserId     kernelid.UserId     `json:"user_id"`
	SessionId  kernelid.SessionId  `json:"session_id"`

	RawInput   string    `json:"raw_input"`
	ReceivedAt time.Time `json:"received_at"`

	Outputs map[string]map[string]any `json:"outputs"`

	CurrentStage  string `json:"current_stage"`
	Iteration     int    `json:"iteration"`
	MaxIterations int    `json:"max_iterations"`

	AgentHopCount int `json:"agent_hop_count"`
	MaxAgentHops  int `json:"max_agent_hops"`

	Terminated        bool                   `json:"terminated"`
	TerminationReason *kernel.TerminalReason `json:"termination_reason,omitempty"`

	InterruptPending   bool                  `json:"interrupt_pending"`
	PendingInterruptId *kernelid.InterruptId `json:"pending_interrupt_id,omitempty"`

	ProcessingHistory []ProcessingRecord `json:"processing_history"`
	Errors            []map[string]any  `json:"errors"`

	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Metadata    map[string]any `json:"metadata"`
}

// New constructs an Envelope in its initial state.
func New(reqID kernelid.RequestId, userID kernelid.UserId, sessID kernelid.SessionId, rawInput string, maxIterations, maxAgentHops int) *Envelope {
	now := time.Now().UTC()
	return &Envelope{
		EnvelopeId:    kernelid.NewEnvelopeId(),
		RequestId:     reqID,
		UserId:        userID,
		SessionId:     sessID,
		RawInput:      rawInput,
		ReceivedAt:    now,
		Outputs:       make(map[string]map[string]any),
		CurrentStage:  "start",
		MaxIterations: maxIterations,
		MaxAgentHops:  maxAgentHops,
		CreatedAt:     now,
		Metadata:      make(map[string]any),
	}
}

// GetOutput returns agent output by key.
func (e *Envelope) GetOutput(key string) map[string]any { return e.Outputs[key] }

// SetOutput sets agent output by key; only the named agent should call this
// for its own key (spec 9's ownership convention, not enforced in-process).
func (e *Envelope) SetOutput(key string, value map[string]any) { e.Outputs[key] = value }

// HasOutput reports whether output exists for key.
func (e *Envelope) HasOutput(key string) bool {
	_, ok := e.Outputs[key]
	return ok
}

// RecordAgentStart appends a running ProcessingRecord and increments the hop
// counter (spec 4.5: "every instruction dispatch increments agent_hop_count").
func (e *Envelope) RecordAgentStart(agentName string, stageOrder int) {
	e.ProcessingHistory = append(e.ProcessingHistory, ProcessingRecord{
		Agent:      agentName,
		StageOrder: stageOrder,
		StartedAt:  time.Now().UTC(),
		Status:     "running",
	})
	e.AgentHopCount++
}

// RecordAgentComplete finds the most recent running record for agentName and
// finalizes it.
func (e *Envelope) RecordAgentComplete(agentName, status string, errMsg *string, llmCalls, durationMS int) {
	for i := len(e.ProcessingHistory) - 1; i >= 0; i-- {
		rec := &e.ProcessingHistory[i]
		if rec.Agent == agentName && rec.Status == "running" {
			now := time.Now().UTC()
			rec.CompletedAt = &now
			rec.Status = status
			rec.Error = errMsg
			rec.LLMCalls = llmCalls
			if durationMS > 0 {
				rec.DurationMS = durationMS
			} else {
				rec.DurationMS = int(now.Sub(rec.StartedAt).Milliseconds())
			}
			return
		}
	}
}

// Terminate marks the envelope terminated with reason, stamping CompletedAt.
func (e *Envelope) Terminate(reason kernel.TerminalReason) {
	if e.Terminated {
		return
	}
	now := time.Now().UTC()
	e.Terminated = true
	e.TerminationReason = &reason
	e.CompletedAt = &now
}

// CanContinue reports whether the orchestrator may dispatch another
// instruction for this envelope (spec 4.5 step 1 of get_next_instruction).
func (e *Envelope) CanContinue() bool {
	if e.Terminated || e.InterruptPending {
		return false
	}
	if e.Iteration > e.MaxIterations {
		return false
	}
	if e.AgentHopCount >= e.MaxAgentHops {
		return false
	}
	return true
}

// Clone returns a deep copy with a freshly minted EnvelopeId, grounded on
// coreengine/grpc/server.go's CloneEnvelope RPC (spec 6.2's EngineService).
func (e *Envelope) Clone() *Envelope {
	clone := *e
	clone.EnvelopeId = kernelid.NewEnvelopeId()

	clone.Outputs = make(map[string]map[string]any, len(e.Outputs))
	for k, v := range e.Outputs {
		inner := make(map[string]any, len(v))
		for ik, iv := range v {
			inner[ik] = iv
		}
		clone.Outputs[k] = inner
	}

	clone.ProcessingHistory = append([]ProcessingRecord(nil), e.ProcessingHistory...)
	clone.Errors = append([]map[string]any(nil), e.Errors...)

	clone.Metadata = make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		clone.Metadata[k] = v
	}

	if e.TerminationReason != nil {
		reason := *e.TerminationReason
		clone.TerminationReason = &reason
	}
	if e.PendingInterruptId != nil {
		id := *e.PendingInterruptId
		clone.PendingInterruptId = &id
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		clone.CompletedAt = &t
	}

	return &clone
}
