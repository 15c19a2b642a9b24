// Package testutil provides shared test builders and mocks for exercising
// the kernel, orchestrator, envelope, and bus packages without duplicating
// boilerplate across _test.go files.
//
// Grounded on coreengine/testutil/testutil.go's MockLogger/NewTestEnvelope/
// NewTestPipelineConfig shape, narrowed to this module's domain: there is no
// LLM provider or tool executor mock here since those concerns live outside
// the kernel boundary (spec's Non-goals exclude agent runtime internals).
package testutil

import (
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/agentkernel/internal/envelope"
	"github.com/jeeves-cluster-organization/agentkernel/internal/kernel"
	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelid"
	"github.com/jeeves-cluster-organization/agentkernel/internal/klog"
	"github.com/jeeves-cluster-organization/agentkernel/internal/orchestrator"
)

// =============================================================================
// MOCK LOGGER
// =============================================================================

// MockLogger implements klog.Logger, capturing every call for assertion.
type MockLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

// LogEntry records one logged line.
type LogEntry struct {
	Level string
	Msg   string
	Args  []any
}

// NewMockLogger constructs an empty MockLogger.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) Debug(msg string, args ...any) { m.log("debug", msg, args...) }
func (m *MockLogger) Info(msg string, args ...any)  { m.log("info", msg, args...) }
func (m *MockLogger) Warn(msg string, args ...any)  { m.log("warn", msg, args...) }
func (m *MockLogger) Error(msg string, args ...any) { m.log("error", msg, args...) }

// Bind returns a MockLogger sharing the same entry slice; fields passed here
// are not currently injected into subsequent entries (no caller depends on
// that yet), matching klog.Logger's interface shape.
func (m *MockLogger) Bind(_ ...any) klog.Logger { return m }

func (m *MockLogger) log(level, msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

// Entries returns a copy of every entry logged so far.
func (m *MockLogger) Entries() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LogEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// HasLog reports whether any entry at level matches msg exactly.
func (m *MockLogger) HasLog(level, msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Level == level && e.Msg == msg {
			return true
		}
	}
	return false
}

// Clear discards every recorded entry.
func (m *MockLogger) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}

var _ klog.Logger = (*MockLogger)(nil)

// =============================================================================
// PIPELINE CONFIG BUILDERS
// =============================================================================

// NewTestPipelineConfig builds a linear pipeline with one AgentConfig per
// stage name, each routed via DefaultNext to the next stage and "end" after
// the last, with generous default bounds.
func NewTestPipelineConfig(name string, stages ...string) *orchestrator.PipelineConfig {
	return NewBoundedPipelineConfig(name, 50, 200, 20, stages...)
}

// NewBoundedPipelineConfig is NewTestPipelineConfig with explicit resource
// bounds, for tests that exercise quota/edge-limit enforcement.
func NewBoundedPipelineConfig(name string, maxIterations, maxLLMCalls, maxAgentHops int, stages ...string) *orchestrator.PipelineConfig {
	_ = maxLLMCalls // tracked at the kernel quota layer, not the pipeline config
	pc := orchestrator.NewPipelineConfig(name, maxIterations, maxAgentHops, 30)
	for i, stage := range stages {
		next := "end"
		if i+1 < len(stages) {
			next = stages[i+1]
		}
		pc.AddAgent(&orchestrator.AgentConfig{
			Name:        stage,
			StageOrder:  i,
			DefaultNext: next,
			ErrorNext:   "end",
		})
	}
	return pc
}

// NewEmptyPipelineConfig builds a pipeline with zero agent stages, useful
// for exercising Validate's "at least one agent is required" edge case.
func NewEmptyPipelineConfig(name string) *orchestrator.PipelineConfig {
	return orchestrator.NewPipelineConfig(name, 50, 20, 30)
}

// NewTestPipelineConfigWithCycle builds a two-stage pipeline where the
// second stage routes back to the first on a "retry" condition, for
// exercising edge-limit and max-iteration enforcement.
func NewTestPipelineConfigWithCycle(name string, maxIterations int, stages ...string) *orchestrator.PipelineConfig {
	pc := orchestrator.NewPipelineConfig(name, maxIterations, 20, 30)
	for i, stage := range stages {
		next := "end"
		if i+1 < len(stages) {
			next = stages[i+1]
		}
		agent := &orchestrator.AgentConfig{
			Name:        stage,
			StageOrder:  i,
			DefaultNext: next,
			ErrorNext:   "end",
		}
		if i == len(stages)-1 && len(stages) > 1 {
			agent.RoutingRules = []orchestrator.RoutingRule{
				{Condition: "verdict", Value: "retry", Target: stages[0]},
			}
		}
		pc.AddAgent(agent)
	}
	return pc
}

// =============================================================================
// ENVELOPE BUILDERS
// =============================================================================

// NewTestEnvelope constructs an Envelope with placeholder ids, generous
// bounds, and rawInput as its input.
func NewTestEnvelope(rawInput string) *envelope.Envelope {
	return envelope.New(
		kernelid.RequestId("test-request"),
		kernelid.UserId("test-user"),
		kernelid.SessionId("test-session"),
		rawInput,
		50, 20,
	)
}

// NewTestEnvelopeWithStages constructs a test envelope and records a
// completed hop for every stage name, as if a pipeline had already run.
func NewTestEnvelopeWithStages(rawInput string, stages []string) *envelope.Envelope {
	env := NewTestEnvelope(rawInput)
	for i, stage := range stages {
		env.RecordAgentStart(stage, i)
		env.RecordAgentComplete(stage, "success", nil, 1, 10)
	}
	return env
}

// =============================================================================
// KERNEL BUILDERS
// =============================================================================

// NewTestKernel builds a Kernel with generous default rate-limit windows,
// suitable for tests that are not specifically exercising throttling.
func NewTestKernel() *kernel.Kernel {
	return kernel.New(kernel.RateLimitWindowConfig{RPM: 10000, RPH: 100000, Burst: 1000})
}

// NewTestProcess creates a process on k with placeholder identity fields and
// the kernel's default quota, failing the test immediately on error.
func NewTestProcess(tb testingTB, k *kernel.Kernel) *kernel.ProcessControlBlock {
	tb.Helper()
	pcb, err := k.CreateProcess(
		kernelid.UserId("test-user"),
		kernelid.RequestId("test-request"),
		kernelid.SessionId("test-session"),
		kernel.PriorityNormal,
		kernel.DefaultQuota(),
		nil,
	)
	if err != nil {
		tb.Fatalf("testutil: failed to create test process: %v", err)
	}
	return pcb
}

// testingTB is the subset of testing.TB used here, avoiding importing
// "testing" directly into a package non-test files also live in.
type testingTB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// =============================================================================
// ASSERTION HELPERS
// =============================================================================

// EnvelopeCompleted reports whether env finished without being terminated
// early and has accumulated at least one processing record.
func EnvelopeCompleted(env *envelope.Envelope) bool {
	notEarly := env.TerminationReason == nil || *env.TerminationReason == kernel.ReasonCompleted
	return notEarly && len(env.ProcessingHistory) > 0
}

// EnvelopeTerminated reports whether env carries a TerminationReason.
func EnvelopeTerminated(env *envelope.Envelope) bool {
	return env.TerminationReason != nil
}

// WaitFor polls cond every interval until it returns true or timeout
// elapses, returning whether cond ever succeeded. Useful for asserting on
// background goroutines (cleanup loops, IPC accept loops) without a fixed
// sleep.
func WaitFor(timeout, interval time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(interval)
	}
}
