package orchestrator

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/agentkernel/internal/envelope"
	"github.com/jeeves-cluster-organization/agentkernel/internal/kernel"
	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelerr"
	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelid"
	"github.com/jeeves-cluster-organization/agentkernel/internal/klog"
)

// InstructionKind indicates what a worker should do next.
type InstructionKind string

const (
	InstructionRunAgent      InstructionKind = "run_agent"
	InstructionTerminate     InstructionKind = "terminate"
	InstructionWaitInterrupt InstructionKind = "wait_interrupt"
)

// Instruction tells a worker what to do next for one process (spec 4.5).
type Instruction struct {
	Kind               InstructionKind
	AgentName          string
	AgentConfig        *AgentConfig
	Envelope           *envelope.Envelope
	TerminalReason     *kernel.TerminalReason
	TerminationMessage string
	InterruptId        *kernelid.InterruptId
}

// AgentExecutionMetrics reports what an agent's run actually consumed.
type AgentExecutionMetrics struct {
	LLMCalls     int
	ToolCalls    int
	InputTokens  int
	OutputTokens int
	DurationMS   int
}

// OrchestrationSession is one active pipeline traversal (spec 3.7).
type OrchestrationSession struct {
	ProcessId      kernelid.ProcessId
	PipelineConfig *PipelineConfig
	Envelope       *envelope.Envelope
	EdgeTraversals map[string]int
	Terminated     bool
	TerminalReason *kernel.TerminalReason
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Orchestrator drives pipeline traversal for many concurrent sessions.
//
// Grounded on coreengine/kernel/orchestrator.go's Orchestrator, generalized
// to use this module's envelope/kernel/kernelid packages and to thread
// quota/usage recording through kernel.ResourceTracker instead of the
// teacher's inline Kernel.Resources() call.
type Orchestrator struct {
	mu       sync.Mutex
	k        *kernel.Kernel
	log      klog.Logger
	sessions map[kernelid.ProcessId]*OrchestrationSession
}

// New constructs an Orchestrator bound to a Kernel for quota/usage recording.
func New(k *kernel.Kernel, log klog.Logger) *Orchestrator {
	return &Orchestrator{
		k:        k,
		log:      log,
		sessions: make(map[kernelid.ProcessId]*OrchestrationSession),
	}
}

// InitializeSession creates a new orchestration session bound to pid. If a
// session already exists for pid, force must be true to replace it
// (spec 4.5's create/replace-on-force semantics).
func (o *Orchestrator) InitializeSession(pid kernelid.ProcessId, pc *PipelineConfig, env *envelope.Envelope, force bool) (*OrchestrationSession, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.sessions[pid]; exists && !force {
		return nil, kernelerr.AlreadyExists("orchestration session", string(pid))
	}
	if err := pc.Validate(); err != nil {
		return nil, kernelerr.InvalidArgument(err.Error())
	}

	stageOrder := pc.GetStageOrder()
	if len(stageOrder) > 0 && !specialStages[env.CurrentStage] {
		valid := false
		for _, s := range stageOrder {
			if s == env.CurrentStage {
				valid = true
				break
			}
		}
		if !valid {
			env.CurrentStage = stageOrder[0]
		}
	}
	env.MaxIterations = pc.MaxIterations
	env.MaxAgentHops = pc.MaxAgentHops

	now := time.Now().UTC()
	session := &OrchestrationSession{
		ProcessId:      pid,
		PipelineConfig: pc,
		Envelope:       env,
		EdgeTraversals: make(map[string]int),
		CreatedAt:      now,
		LastActivityAt: now,
	}
	o.sessions[pid] = session
	if o.log != nil {
		o.log.Info("orchestration session initialized", "process_id", pid, "pipeline", pc.Name, "stage", env.CurrentStage)
	}
	return session, nil
}

// GetNextInstruction implements spec 4.5's get_next_instruction decision,
// checking in this order:
//  1. unknown process -> error
//  2. already terminated -> Terminate instruction
//  3. current stage is "end" -> terminate with Completed, Terminate instruction
//  4. an interrupt is pending -> WaitInterrupt instruction
//  5. Resource Tracker quota check -> terminate with QuotaExceeded{dimension} if exceeded
//  6. bounds check (iterations/agent hops) -> terminate if exceeded
//  7. current stage is "clarification"/"confirmation" -> mark an interrupt
//     pending, WaitInterrupt instruction
//  8. resolve the AgentConfig for the current stage -> terminate if unknown
//  9. record agent start and return a RunAgent instruction
func (o *Orchestrator) GetNextInstruction(pid kernelid.ProcessId) (*Instruction, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	session, ok := o.sessions[pid]
	if !ok {
		return nil, kernelerr.NotFound("orchestration session", string(pid))
	}
	return o.buildInstruction(session), nil
}

func (o *Orchestrator) buildInstruction(session *OrchestrationSession) *Instruction {
	env := session.Envelope

	if session.Terminated {
		return &Instruction{Kind: InstructionTerminate, TerminalReason: session.TerminalReason, TerminationMessage: "pipeline terminated", Envelope: env}
	}

	if env.CurrentStage == "end" {
		o.terminateSession(session, kernel.ReasonCompleted, "pipeline completed successfully")
		return &Instruction{Kind: InstructionTerminate, TerminalReason: session.TerminalReason, TerminationMessage: "pipeline completed successfully", Envelope: env}
	}

	if env.InterruptPending {
		return &Instruction{Kind: InstructionWaitInterrupt, InterruptId: env.PendingInterruptId, Envelope: env}
	}

	if pcb, ok := o.k.Lifecycle.Get(session.ProcessId); ok {
		var elapsed int64
		if pcb.StartedAt != nil {
			elapsed = int64(time.Now().UTC().Sub(*pcb.StartedAt).Seconds())
		}
		if qr, err := o.k.Resources.CheckQuota(session.ProcessId, elapsed); err == nil && qr.Exceeded {
			msg := fmt.Sprintf("quota exceeded: %s", qr.ExceededDim)
			o.terminateSession(session, kernel.ReasonQuotaExceeded, msg)
			return &Instruction{Kind: InstructionTerminate, TerminalReason: session.TerminalReason, TerminationMessage: msg, Envelope: env}
		}
	}

	if !env.CanContinue() {
		reason := kernel.ReasonIterationsExceeded
		if env.AgentHopCount >= env.MaxAgentHops {
			reason = kernel.ReasonAgentHopsExceeded
		}
		o.terminateSession(session, reason, string(reason))
		return &Instruction{Kind: InstructionTerminate, TerminalReason: &reason, TerminationMessage: string(reason), Envelope: env}
	}

	// Routing to the synthetic "clarification"/"confirmation" targets hands
	// control to the Interrupt Service rather than to another agent stage;
	// the worker is expected to create the matching FlowInterrupt and the
	// caller marks env.InterruptPending once it has (spec 4.4/4.5 handoff).
	if env.CurrentStage == "clarification" || env.CurrentStage == "confirmation" {
		env.InterruptPending = true
		return &Instruction{Kind: InstructionWaitInterrupt, Envelope: env}
	}

	agentConfig := session.PipelineConfig.GetAgent(env.CurrentStage)
	if agentConfig == nil {
		msg := fmt.Sprintf("unknown stage: %s", env.CurrentStage)
		o.terminateSession(session, kernel.ReasonInvalidPipeline, msg)
		return &Instruction{Kind: InstructionTerminate, TerminalReason: session.TerminalReason, TerminationMessage: msg, Envelope: env}
	}

	env.RecordAgentStart(env.CurrentStage, agentConfig.StageOrder)
	return &Instruction{Kind: InstructionRunAgent, AgentName: env.CurrentStage, AgentConfig: agentConfig, Envelope: env}
}

// ReportAgentResult implements spec 4.5's 6-step report_agent_result
// routing algorithm:
//  1. unknown process -> error; already terminated -> return current instruction unchanged
//  2. write the agent's output into the envelope and record usage against the kernel quota
//  3. finalize the ProcessingRecord for this agent hop
//  4. on failure: route to error_next if configured, else terminate
//  5. on success: evaluate routing rules to pick the next stage, track edge
//     traversal + loop-back iteration bump, and enforce the edge limit
//  6. advance current_stage and build the next instruction
func (o *Orchestrator) ReportAgentResult(pid kernelid.ProcessId, agentName string, output map[string]any, metrics *AgentExecutionMetrics, success bool, errMsg string) (*Instruction, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	session, ok := o.sessions[pid]
	if !ok {
		return nil, kernelerr.NotFound("orchestration session", string(pid))
	}
	if session.Terminated {
		return o.buildInstruction(session), nil
	}

	env := session.Envelope
	fromStage := env.CurrentStage

	if output != nil {
		env.SetOutput(agentName, output)
	}
	if metrics != nil {
		_ = o.k.Resources.RecordUsage(pid, "llm_calls", int64(metrics.LLMCalls))
		_ = o.k.Resources.RecordUsage(pid, "tool_calls", int64(metrics.ToolCalls))
		_ = o.k.Resources.RecordUsage(pid, "agent_hops", 1)
		_ = o.k.Resources.RecordUsage(pid, "input_tokens", int64(metrics.InputTokens))
		_ = o.k.Resources.RecordUsage(pid, "output_tokens", int64(metrics.OutputTokens))
	}

	llmCalls, durationMS := 0, 0
	if metrics != nil {
		llmCalls, durationMS = metrics.LLMCalls, metrics.DurationMS
	}
	status := "success"
	var errPtr *string
	if !success {
		status = "error"
		errPtr = &errMsg
	}
	env.RecordAgentComplete(agentName, status, errPtr, llmCalls, durationMS)
	session.LastActivityAt = time.Now().UTC()

	if !success {
		agentConfig := session.PipelineConfig.GetAgent(agentName)
		if agentConfig != nil && agentConfig.ErrorNext != "" {
			env.CurrentStage = agentConfig.ErrorNext
			if o.log != nil {
				o.log.Info("agent error routing", "process_id", pid, "agent", agentName, "error", errMsg, "next_stage", agentConfig.ErrorNext)
			}
		} else {
			o.terminateSession(session, kernel.ReasonError, errMsg)
			return o.buildInstruction(session), nil
		}
		return o.buildInstruction(session), nil
	}

	toStage := o.evaluateRouting(session, agentName, output)
	if fromStage != toStage && toStage != "end" {
		edgeKey := fromStage + "->" + toStage
		session.EdgeTraversals[edgeKey]++

		if o.isLoopBack(session, fromStage, toStage) {
			env.Iteration++
			if o.log != nil {
				o.log.Info("loop detected", "process_id", pid, "from", fromStage, "to", toStage, "iteration", env.Iteration)
			}
		}

		if limit := session.PipelineConfig.GetEdgeLimit(fromStage, toStage); limit > 0 && session.EdgeTraversals[edgeKey] > limit {
			o.terminateSession(session, kernel.ReasonEdgeLimitExceeded, fmt.Sprintf("edge limit exceeded: %s", edgeKey))
			return o.buildInstruction(session), nil
		}
	}

	env.CurrentStage = toStage
	return o.buildInstruction(session), nil
}

func (o *Orchestrator) terminateSession(session *OrchestrationSession, reason kernel.TerminalReason, msg string) {
	session.Terminated = true
	session.TerminalReason = &reason
	session.Envelope.Terminate(reason)
	if o.log != nil {
		o.log.Warn("orchestration session terminated", "process_id", session.ProcessId, "reason", reason, "message", msg)
	}
}

// evaluateRouting picks the next stage: the first matching RoutingRule, else
// DefaultNext, else "end" (spec 4.5).
func (o *Orchestrator) evaluateRouting(session *OrchestrationSession, agentName string, output map[string]any) string {
	agentConfig := session.PipelineConfig.GetAgent(agentName)
	if agentConfig == nil {
		return "end"
	}
	for _, rule := range agentConfig.RoutingRules {
		value, exists := output[rule.Condition]
		if !exists {
			continue
		}
		if valuesMatch(value, rule.Value) {
			return rule.Target
		}
	}
	if agentConfig.DefaultNext != "" {
		return agentConfig.DefaultNext
	}
	return "end"
}

func valuesMatch(actual, expected any) bool {
	if a, ok := actual.(string); ok {
		if e, ok := expected.(string); ok {
			return a == e
		}
	}
	if a, ok := actual.(bool); ok {
		if e, ok := expected.(bool); ok {
			return a == e
		}
	}
	if a, ok := toFloat64(actual); ok {
		if e, ok := toFloat64(expected); ok {
			return a == e
		}
	}
	aj, _ := json.Marshal(actual)
	ej, _ := json.Marshal(expected)
	return string(aj) == string(ej)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func (o *Orchestrator) isLoopBack(session *OrchestrationSession, from, to string) bool {
	stageOrder := session.PipelineConfig.GetStageOrder()
	fromIdx, toIdx := -1, -1
	for i, s := range stageOrder {
		if s == from {
			fromIdx = i
		}
		if s == to {
			toIdx = i
		}
	}
	return fromIdx >= 0 && toIdx >= 0 && toIdx < fromIdx
}

// EndSession removes a session (called once a worker acknowledges a
// Terminate instruction; the cleanup subsystem removes stale sessions
// through CleanupStale instead).
func (o *Orchestrator) EndSession(pid kernelid.ProcessId) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sessions, pid)
}

// GetSessionCount returns the number of active sessions.
func (o *Orchestrator) GetSessionCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// CleanupStale removes sessions that are terminated or idle beyond ttl.
func (o *Orchestrator) CleanupStale(ttl time.Duration) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	cutoff := time.Now().UTC().Add(-ttl)
	cleaned := 0
	for pid, session := range o.sessions {
		if session.Terminated || session.LastActivityAt.Before(cutoff) {
			delete(o.sessions, pid)
			cleaned++
		}
	}
	return cleaned
}
