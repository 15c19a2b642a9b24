// Dispatcher routes decoded Requests to the kernel's four services
// (spec 6.2: KernelService, EngineService, OrchestrationService,
// CommBusService), translating the wire's untyped param maps into the
// concrete Go types each subsystem expects and back again.
package ipc

import (
	"context"
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/agentkernel/internal/bus"
	"github.com/jeeves-cluster-organization/agentkernel/internal/envelope"
	"github.com/jeeves-cluster-organization/agentkernel/internal/kernel"
	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelerr"
	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelid"
	"github.com/jeeves-cluster-organization/agentkernel/internal/klog"
	"github.com/jeeves-cluster-organization/agentkernel/internal/orchestrator"
	"github.com/jeeves-cluster-organization/agentkernel/internal/recovery"
)

// Dispatcher wires the wire protocol to the in-process kernel, envelope
// store, orchestrator, and message bus.
type Dispatcher struct {
	Kernel       *kernel.Kernel
	Orchestrator *orchestrator.Orchestrator
	Envelopes    *envelope.Store
	Bus          bus.CommBus
	Pipelines    map[string]*orchestrator.PipelineConfig
	Log          klog.Logger
}

// NewDispatcher constructs a Dispatcher over already-wired subsystems.
func NewDispatcher(k *kernel.Kernel, orch *orchestrator.Orchestrator, envs *envelope.Store, b bus.CommBus, log klog.Logger) *Dispatcher {
	if log == nil {
		log = klog.NewNop()
	}
	return &Dispatcher{
		Kernel:       k,
		Orchestrator: orch,
		Envelopes:    envs,
		Bus:          b,
		Pipelines:    make(map[string]*orchestrator.PipelineConfig),
		Log:          log,
	}
}

// RegisterPipeline makes a named PipelineConfig available to
// InitializeSession calls (pipeline configs are operator-provisioned at
// startup, not transmitted per-call over the wire).
func (d *Dispatcher) RegisterPipeline(pc *orchestrator.PipelineConfig) {
	d.Pipelines[pc.Name] = pc
}

// Dispatch routes req to its handler and always returns a well-formed
// Response — handler errors are translated into Response.Error rather than
// propagated, so the caller can always frame the result as FrameResponse.
// A panic inside a handler is recovered and reported as an INTERNAL error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	result, err := recovery.SafeExecuteWithResult(d.Log, req.Method, func() (any, error) {
		return d.route(ctx, req)
	})
	if err != nil {
		return Response{OK: false, Error: &ErrorPayload{Code: string(kernelerr.CodeOf(err)), Message: err.Error()}}
	}
	return Response{OK: true, Result: result}
}

func (d *Dispatcher) route(ctx context.Context, req Request) (any, error) {
	p := newParams(req.Params)

	switch req.Method {

	// KernelService
	case "CreateProcess":
		return d.createProcess(p)
	case "GetProcess":
		return d.getProcess(p)
	case "ListProcesses":
		return d.listProcesses(p)
	case "TerminateProcess":
		return d.terminateProcess(p)
	case "YieldProcess":
		return d.yieldProcess(p)
	case "GetNextRunnable":
		return d.getNextRunnable()
	case "CheckQuota":
		return d.checkQuota(p)
	case "RecordUsage":
		return d.recordUsage(p)
	case "CheckRateLimit":
		return d.checkRateLimit(p)
	case "SystemStatus":
		return d.Kernel.GetSystemStatus(), nil

	// EngineService
	case "CreateEnvelope":
		return d.createEnvelope(p)
	case "GetEnvelope":
		return d.getEnvelope(p)
	case "CloneEnvelope":
		return d.cloneEnvelope(p)
	case "UpdateEnvelope":
		return d.updateEnvelope(p)
	case "CheckBounds":
		return d.checkBounds(p)
	case "ExecutePipeline", "ExecuteAgent":
		return nil, fmt.Errorf("%s is deprecated: use OrchestrationService", req.Method)

	// OrchestrationService
	case "InitializeSession":
		return d.initializeSession(p)
	case "GetNextInstruction":
		return d.getNextInstruction(p)
	case "ReportAgentResult":
		return d.reportAgentResult(p)
	case "EndSession":
		return d.endSession(p)

	// InterruptService
	case "CreateInterrupt":
		return d.createInterrupt(p)
	case "ResolveInterrupt":
		return d.resolveInterrupt(p)
	case "CancelInterrupt":
		return d.cancelInterrupt(p)
	case "GetInterrupt":
		return d.getInterrupt(p)
	case "ListPending":
		return d.listPending(p)

	// CommBusService
	case "Publish":
		return d.publish(ctx, p)
	case "Send":
		return d.send(ctx, p)
	case "Query":
		return d.query(ctx, p)
	case "SubscribeEvents":
		return nil, fmt.Errorf("SubscribeEvents is a request/stream method handled by the IPC server, not Dispatch")

	default:
		return nil, &UnknownMethodError{Method: req.Method}
	}
}

// --- KernelService ---

func (d *Dispatcher) createProcess(p params) (any, error) {
	priority, _ := kernel.ParsePriority(p.str("priority"))
	quota := kernel.DefaultQuota()
	var parentPid *kernelid.ProcessId
	if raw := p.str("parent_pid"); raw != "" {
		pid := kernelid.ProcessId(raw)
		parentPid = &pid
	}
	pcb, err := d.Kernel.CreateProcess(
		kernelid.UserId(p.str("user_id")),
		kernelid.RequestId(p.str("request_id")),
		kernelid.SessionId(p.str("session_id")),
		priority, quota, parentPid,
	)
	if err != nil {
		return nil, err
	}
	return pcb.Snapshot(), nil
}

func (d *Dispatcher) getProcess(p params) (any, error) {
	pcb, ok := d.Kernel.Lifecycle.Get(kernelid.ProcessId(p.str("pid")))
	if !ok {
		return nil, kernelerr.NotFound("process", p.str("pid"))
	}
	return pcb, nil
}

func (d *Dispatcher) listProcesses(p params) (any, error) {
	var stateFilter *kernel.ProcessState
	if raw := p.str("state"); raw != "" {
		for s := kernel.StateNew; s <= kernel.StateZombie; s++ {
			if s.String() == raw {
				stateFilter = &s
				break
			}
		}
	}
	filter := func(pcb *kernel.ProcessControlBlock) bool {
		return stateFilter == nil || pcb.State == *stateFilter
	}
	return d.Kernel.Lifecycle.List(filter), nil
}

func (d *Dispatcher) terminateProcess(p params) (any, error) {
	reason := kernel.TerminalReason(p.strDefault("reason", string(kernel.ReasonUserCancelled)))
	if err := d.Kernel.TerminateProcess(kernelid.ProcessId(p.str("pid")), reason, p.boolDefault("cascade", false)); err != nil {
		return nil, err
	}
	pcb, _ := d.Kernel.Lifecycle.Get(kernelid.ProcessId(p.str("pid")))
	return pcb, nil
}

func (d *Dispatcher) yieldProcess(p params) (any, error) {
	pid := kernelid.ProcessId(p.str("pid"))
	if err := d.Kernel.Lifecycle.YieldRunning(pid); err != nil {
		return nil, err
	}
	pcb, _ := d.Kernel.Lifecycle.Get(pid)
	return pcb, nil
}

func (d *Dispatcher) getNextRunnable() (any, error) {
	pcb, ok := d.Kernel.Lifecycle.GetNextRunnable()
	if !ok {
		return nil, nil
	}
	return pcb, nil
}

func (d *Dispatcher) checkQuota(p params) (any, error) {
	return d.Kernel.Resources.CheckQuota(kernelid.ProcessId(p.str("pid")), p.int64Default("elapsed_seconds", 0))
}

func (d *Dispatcher) recordUsage(p params) (any, error) {
	pid := kernelid.ProcessId(p.str("pid"))
	if err := d.Kernel.Resources.RecordUsage(pid, p.str("dimension"), p.int64Default("delta", 0)); err != nil {
		return nil, err
	}
	pcb, _ := d.Kernel.Lifecycle.Get(pid)
	return pcb.Usage, nil
}

func (d *Dispatcher) checkRateLimit(p params) (any, error) {
	return d.Kernel.RateLimit.Check(kernelid.UserId(p.str("user_id"))), nil
}

// --- EngineService ---

func (d *Dispatcher) createEnvelope(p params) (any, error) {
	return d.Envelopes.Create(
		kernelid.RequestId(p.str("request_id")),
		kernelid.UserId(p.str("user_id")),
		kernelid.SessionId(p.str("session_id")),
		p.str("raw_input"),
		int(p.int64Default("max_iterations", 10)),
		int(p.int64Default("max_agent_hops", 20)),
	), nil
}

func (d *Dispatcher) getEnvelope(p params) (any, error) {
	return d.Envelopes.Get(kernelid.EnvelopeId(p.str("envelope_id")))
}

func (d *Dispatcher) cloneEnvelope(p params) (any, error) {
	return d.Envelopes.Clone(kernelid.EnvelopeId(p.str("envelope_id")))
}

func (d *Dispatcher) updateEnvelope(p params) (any, error) {
	metadataPatch, _ := p.m["metadata"].(map[string]any)
	var outputPatch map[string]map[string]any
	if raw, ok := p.m["outputs"].(map[string]any); ok {
		outputPatch = make(map[string]map[string]any, len(raw))
		for k, v := range raw {
			if inner, ok := v.(map[string]any); ok {
				outputPatch[k] = inner
			}
		}
	}
	return d.Envelopes.Update(kernelid.EnvelopeId(p.str("envelope_id")), metadataPatch, outputPatch)
}

func (d *Dispatcher) checkBounds(p params) (any, error) {
	env, err := d.Envelopes.Get(kernelid.EnvelopeId(p.str("envelope_id")))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"can_continue":        env.CanContinue(),
		"iterations_remaining": env.MaxIterations - env.Iteration,
		"agent_hops_remaining": env.MaxAgentHops - env.AgentHopCount,
	}, nil
}

// --- OrchestrationService ---

func (d *Dispatcher) initializeSession(p params) (any, error) {
	if d.Orchestrator == nil {
		return nil, fmt.Errorf("orchestration service not configured")
	}
	pc, ok := d.Pipelines[p.str("pipeline_name")]
	if !ok {
		return nil, kernelerr.NotFound("pipeline", p.str("pipeline_name"))
	}
	env, err := d.Envelopes.Get(kernelid.EnvelopeId(p.str("envelope_id")))
	if err != nil {
		return nil, err
	}
	return d.Orchestrator.InitializeSession(kernelid.ProcessId(p.str("pid")), pc, env, p.boolDefault("force", false))
}

func (d *Dispatcher) getNextInstruction(p params) (any, error) {
	if d.Orchestrator == nil {
		return nil, fmt.Errorf("orchestration service not configured")
	}
	return d.Orchestrator.GetNextInstruction(kernelid.ProcessId(p.str("pid")))
}

func (d *Dispatcher) reportAgentResult(p params) (any, error) {
	if d.Orchestrator == nil {
		return nil, fmt.Errorf("orchestration service not configured")
	}
	output, _ := p.m["output"].(map[string]any)
	metrics := &orchestrator.AgentExecutionMetrics{
		LLMCalls:    p.int64Default("llm_calls", 0),
		ToolCalls:   p.int64Default("tool_calls", 0),
		InputTokens: p.int64Default("input_tokens", 0),
		OutputTokens: p.int64Default("output_tokens", 0),
		DurationMS:  p.int64Default("duration_ms", 0),
	}
	return d.Orchestrator.ReportAgentResult(
		kernelid.ProcessId(p.str("pid")),
		p.str("agent_name"),
		output, metrics,
		p.boolDefault("success", true),
		p.str("error"),
	)
}

func (d *Dispatcher) endSession(p params) (any, error) {
	if d.Orchestrator == nil {
		return nil, fmt.Errorf("orchestration service not configured")
	}
	d.Orchestrator.EndSession(kernelid.ProcessId(p.str("pid")))
	return nil, nil
}

// --- InterruptService ---

func (d *Dispatcher) createInterrupt(p params) (any, error) {
	var ttl time.Duration
	if ms := p.int64Default("ttl_ms", 0); ms > 0 {
		ttl = time.Duration(ms) * time.Millisecond
	}
	payload, _ := p.m["data"].(map[string]any)
	in := d.Kernel.Interrupts.Create(
		kernel.InterruptKind(p.str("kind")),
		kernelid.ProcessId(p.str("pid")),
		kernelid.RequestId(p.str("request_id")),
		kernelid.SessionId(p.str("session_id")),
		kernelid.UserId(p.str("user_id")),
		p.str("question"),
		payload,
		ttl,
	)
	return in, nil
}

func (d *Dispatcher) resolveInterrupt(p params) (any, error) {
	var resolvedBy *kernelid.UserId
	if raw := p.str("resolved_by"); raw != "" {
		u := kernelid.UserId(raw)
		resolvedBy = &u
	}
	response, _ := p.m["response"].(map[string]any)
	_, err := d.Kernel.Interrupts.Resolve(kernelid.InterruptId(p.str("interrupt_id")), resolvedBy, response)
	return err == nil, err
}

func (d *Dispatcher) cancelInterrupt(p params) (any, error) {
	err := d.Kernel.Interrupts.Cancel(kernelid.InterruptId(p.str("interrupt_id")))
	return err == nil, err
}

func (d *Dispatcher) getInterrupt(p params) (any, error) {
	in, ok := d.Kernel.Interrupts.Get(kernelid.InterruptId(p.str("interrupt_id")))
	if !ok {
		return nil, nil
	}
	return in, nil
}

func (d *Dispatcher) listPending(p params) (any, error) {
	if raw := p.str("request_id"); raw != "" {
		return d.Kernel.Interrupts.ListPendingForRequest(kernelid.RequestId(raw)), nil
	}
	if raw := p.str("session_id"); raw != "" {
		return d.Kernel.Interrupts.ListPendingForSession(kernelid.SessionId(raw)), nil
	}
	return []*kernel.FlowInterrupt{}, nil
}

// --- CommBusService ---

func (d *Dispatcher) publish(ctx context.Context, p params) (any, error) {
	if d.Bus == nil {
		return nil, fmt.Errorf("message bus not configured")
	}
	payload, _ := p.m["payload"]
	return "acknowledged", d.Bus.Publish(ctx, namedPayload{topic: p.str("topic"), payload: payload})
}

func (d *Dispatcher) send(ctx context.Context, p params) (any, error) {
	if d.Bus == nil {
		return nil, fmt.Errorf("message bus not configured")
	}
	payload, _ := p.m["payload"]
	return "acknowledged", d.Bus.Send(ctx, namedPayload{topic: p.str("command_name"), payload: payload})
}

func (d *Dispatcher) query(ctx context.Context, p params) (any, error) {
	if d.Bus == nil {
		return nil, fmt.Errorf("message bus not configured")
	}
	payload, _ := p.m["payload"]
	timeoutMS := p.int64Default("timeout_ms", 0)
	qctx := ctx
	if timeoutMS > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
		defer cancel()
	}
	return d.Bus.QuerySync(qctx, namedPayload{topic: p.str("query_name"), payload: payload})
}

// StreamEvents subscribes to topic on the bus for the IPC boundary's
// SubscribeEvents request/stream method (spec 6.2) and returns a channel of
// event payloads plus an unsubscribe function. Delivery is best-effort: a
// slow reader drops messages rather than blocking the publisher (spec 4.6).
//
// Grounded on coreengine/grpc/commbus_server.go's Subscribe: a buffered
// channel registered as a bus handler, drained by the connection's write
// loop until the stream ends.
func (d *Dispatcher) StreamEvents(topic string) (<-chan any, func()) {
	events := make(chan any, 100)
	unsubscribe := d.Bus.Subscribe(topic, func(_ context.Context, msg bus.Message) (any, error) {
		payload := msg
		if np, ok := msg.(namedPayload); ok {
			payload = np.payload
		}
		select {
		case events <- payload:
		default:
		}
		return nil, nil
	})
	return events, unsubscribe
}

// namedPayload lets CommBusService's wire-level topic/command/query names
// (strings supplied in Request.Params) drive bus routing, since the bus
// itself derives routing keys from Go type names or TypedMessage (spec 4.6).
type namedPayload struct {
	topic   string
	payload any
}

func (n namedPayload) MessageType() string { return n.topic }
