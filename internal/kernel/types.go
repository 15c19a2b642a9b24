// Package kernel implements the Lifecycle Manager, Resource Tracker, Rate
// Limiter, and Interrupt Service subsystems (spec 4.1-4.4) plus the PCB and
// quota/usage data model they share (spec 3.2-3.4).
//
// Grounded on coreengine/kernel/types.go (PCB fields, ProcessState/Priority
// enums, ResourceQuota/ResourceUsage structs) and coreengine/kernel/
// lifecycle.go, resources.go, rate_limiter.go, interrupts.go for the
// subsystem operations. Generalized throughout to use kernelid's typed ids
// in place of the teacher's bare strings, and extended to the full 7-state
// FSM and 13-dimension quota of spec 3.3/3.4.
package kernel

import (
	"strings"
	"time"

	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelid"
)

// ProcessState is one of the 7 states of spec 3.3's FSM.
type ProcessState int

const (
	StateNew ProcessState = iota
	StateReady
	StateRunning
	StateWaiting
	StateBlocked
	StateTerminated
	StateZombie
)

func (s ProcessState) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateWaiting:
		return "Waiting"
	case StateBlocked:
		return "Blocked"
	case StateTerminated:
		return "Terminated"
	case StateZombie:
		return "Zombie"
	default:
		return "Unknown"
	}
}

// Priority is one of the 5 scheduling ranks of spec 3.2; Normal is default.
type Priority int

const (
	PriorityRealtime Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityIdle
)

func (p Priority) String() string {
	switch p {
	case PriorityRealtime:
		return "Realtime"
	case PriorityHigh:
		return "High"
	case PriorityNormal:
		return "Normal"
	case PriorityLow:
		return "Low"
	case PriorityIdle:
		return "Idle"
	default:
		return "Unknown"
	}
}

// Rank returns the heap key used by the scheduler: smaller wins (spec 4.1,
// "priority_rank maps Realtime=0 ... Idle=4").
func (p Priority) Rank() int { return int(p) }

// ParsePriority parses a case-insensitive priority name, defaulting to
// PriorityNormal for an empty string (spec 6.4's scheduler.default_priority).
func ParsePriority(name string) (Priority, bool) {
	switch strings.ToLower(name) {
	case "", "normal":
		return PriorityNormal, true
	case "realtime":
		return PriorityRealtime, true
	case "high":
		return PriorityHigh, true
	case "low":
		return PriorityLow, true
	case "idle":
		return PriorityIdle, true
	default:
		return PriorityNormal, false
	}
}

// TerminalReason is the machine-readable cause attached to a process/envelope
// upon termination (GLOSSARY).
type TerminalReason string

const (
	ReasonCompleted            TerminalReason = "completed"
	ReasonQuotaExceeded        TerminalReason = "quota_exceeded"
	ReasonIterationsExceeded   TerminalReason = "iterations_exceeded"
	ReasonEdgeLimitExceeded    TerminalReason = "edge_limit_exceeded"
	ReasonAgentHopsExceeded    TerminalReason = "agent_hops_exceeded"
	ReasonTimeout              TerminalReason = "timeout"
	ReasonError                TerminalReason = "error"
	ReasonInvalidPipeline      TerminalReason = "invalid_pipeline"
	ReasonUserCancelled        TerminalReason = "user_cancelled"
)

// ResourceQuota carries hard limits across the 13 dimensions of spec 3.4.
// Immutable after creation except via the explicit SetQuota operation.
type ResourceQuota struct {
	MaxLLMCalls          int64
	MaxToolCalls         int64
	MaxAgentHops         int64
	MaxIterations        int64
	MaxInputTokens       int64
	MaxOutputTokens      int64
	MaxContextTokens     int64
	MaxInferenceRequests int64
	TimeoutSeconds       int64
	SoftTimeoutSeconds   int64
	RateLimitRPM         int64
	RateLimitRPH         int64
	RateLimitBurst       int64
}

// DefaultQuota mirrors coreengine/kernel/types.go's DefaultQuota().
func DefaultQuota() ResourceQuota {
	return ResourceQuota{
		MaxLLMCalls:          50,
		MaxToolCalls:         100,
		MaxAgentHops:         20,
		MaxIterations:        10,
		MaxInputTokens:       200_000,
		MaxOutputTokens:      50_000,
		MaxContextTokens:     128_000,
		MaxInferenceRequests: 100,
		TimeoutSeconds:       300,
		SoftTimeoutSeconds:   240,
		RateLimitRPM:         60,
		RateLimitRPH:         1000,
		RateLimitBurst:       10,
	}
}

// ResourceUsage mirrors counters for the first 8 dimensions of spec 3.4
// (rate limits are enforced by the Rate Limiter, not the PCB; timeouts are
// derived live from now()-started_at).
type ResourceUsage struct {
	LLMCalls          int64
	ToolCalls         int64
	AgentHops         int64
	Iterations        int64
	InputTokens       int64
	OutputTokens      int64
	ContextTokens     int64
	InferenceRequests int64
}

// Clone returns a value copy; ResourceUsage has no reference fields so a
// plain struct copy suffices (kept as a named method to mirror the teacher's
// Clone() on ResourceUsage, coreengine/kernel/types.go).
func (u ResourceUsage) Clone() ResourceUsage { return u }

// ProcessControlBlock is the in-kernel record of one in-flight request (spec 3.2).
type ProcessControlBlock struct {
	Pid        kernelid.ProcessId
	RequestId  kernelid.RequestId
	UserId     kernelid.UserId
	SessionId  kernelid.SessionId
	EnvelopeId *kernelid.EnvelopeId

	State    ProcessState
	Priority Priority

	Quota ResourceQuota
	Usage ResourceUsage

	ParentPid *kernelid.ProcessId
	ChildPids map[kernelid.ProcessId]struct{}

	PendingInterruptId *kernelid.InterruptId

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	ExitReason *TerminalReason
}

// NewPCB constructs a fresh PCB in the New state, grounded on the teacher's
// PCB constructor (coreengine/kernel/types.go).
func NewPCB(pid kernelid.ProcessId, requestID kernelid.RequestId, userID kernelid.UserId, sessionID kernelid.SessionId, priority Priority, quota ResourceQuota, now time.Time) *ProcessControlBlock {
	return &ProcessControlBlock{
		Pid:       pid,
		RequestId: requestID,
		UserId:    userID,
		SessionId: sessionID,
		State:     StateNew,
		Priority:  priority,
		Quota:     quota,
		ChildPids: make(map[kernelid.ProcessId]struct{}),
		CreatedAt: now,
	}
}

// Snapshot returns a shallow value copy safe to hand to a caller outside the
// kernel lock (spec 5: "an observed PCB snapshot is consistent but becomes
// stale as soon as the lock is released").
func (pcb *ProcessControlBlock) Snapshot() ProcessControlBlock {
	cp := *pcb
	cp.ChildPids = make(map[kernelid.ProcessId]struct{}, len(pcb.ChildPids))
	for k := range pcb.ChildPids {
		cp.ChildPids[k] = struct{}{}
	}
	return cp
}
