package ipc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	busp "github.com/jeeves-cluster-organization/agentkernel/internal/bus"
	"github.com/jeeves-cluster-organization/agentkernel/internal/envelope"
	"github.com/jeeves-cluster-organization/agentkernel/internal/ipc"
	"github.com/jeeves-cluster-organization/agentkernel/internal/kernel"
	"github.com/jeeves-cluster-organization/agentkernel/internal/klog"
)

func newTestDispatcher() *ipc.Dispatcher {
	k := kernel.New(kernel.RateLimitWindowConfig{RPM: 1000, RPH: 10000, Burst: 100})
	envs := envelope.NewStore()
	b := busp.New(50*time.Millisecond, klog.NewNop())
	return ipc.NewDispatcher(k, nil, envs, b, klog.NewNop())
}

func TestDispatchCreateProcessThenGetProcess(t *testing.T) {
	d := newTestDispatcher()

	resp := d.Dispatch(context.Background(), ipc.Request{Method: "CreateProcess", Params: map[string]any{
		"user_id": "u-1", "request_id": "r-1", "session_id": "s-1", "priority": "normal",
	}})
	require.True(t, resp.OK)

	pcb, ok := resp.Result.(kernel.ProcessControlBlock)
	require.True(t, ok)

	getResp := d.Dispatch(context.Background(), ipc.Request{Method: "GetProcess", Params: map[string]any{
		"pid": string(pcb.Pid),
	}})
	require.True(t, getResp.OK)
}

func TestDispatchUnknownMethodReturnsError(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(context.Background(), ipc.Request{Method: "DoesNotExist"})
	require.False(t, resp.OK)
	require.NotNil(t, resp.Error)
}

func TestDispatchDeprecatedExecutePipelineReturnsGuidance(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(context.Background(), ipc.Request{Method: "ExecutePipeline"})
	require.False(t, resp.OK)
	assert.Contains(t, resp.Error.Message, "OrchestrationService")
}

func TestDispatchCreateEnvelopeThenGetEnvelope(t *testing.T) {
	d := newTestDispatcher()
	createResp := d.Dispatch(context.Background(), ipc.Request{Method: "CreateEnvelope", Params: map[string]any{
		"request_id": "r-1", "user_id": "u-1", "session_id": "s-1", "raw_input": "hi",
	}})
	require.True(t, createResp.OK)
	env := createResp.Result.(*envelope.Envelope)

	getResp := d.Dispatch(context.Background(), ipc.Request{Method: "GetEnvelope", Params: map[string]any{
		"envelope_id": string(env.EnvelopeId),
	}})
	require.True(t, getResp.OK)
}

func TestDispatchCreateAndResolveInterrupt(t *testing.T) {
	d := newTestDispatcher()

	createResp := d.Dispatch(context.Background(), ipc.Request{Method: "CreateProcess", Params: map[string]any{
		"user_id": "u-1", "request_id": "r-1", "session_id": "s-1",
	}})
	require.True(t, createResp.OK)
	pcb := createResp.Result.(kernel.ProcessControlBlock)

	interruptResp := d.Dispatch(context.Background(), ipc.Request{Method: "CreateInterrupt", Params: map[string]any{
		"kind": "clarification", "pid": string(pcb.Pid), "request_id": "r-1", "session_id": "s-1", "user_id": "u-1", "question": "which one?",
	}})
	require.True(t, interruptResp.OK)
	in := interruptResp.Result.(*kernel.FlowInterrupt)

	resolveResp := d.Dispatch(context.Background(), ipc.Request{Method: "ResolveInterrupt", Params: map[string]any{
		"interrupt_id": string(in.Id), "resolved_by": "u-1", "response": map[string]any{"answer": "option a"},
	}})
	require.True(t, resolveResp.OK)
	assert.Equal(t, true, resolveResp.Result)
}

func TestDispatchSystemStatus(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(context.Background(), ipc.Request{Method: "SystemStatus"})
	require.True(t, resp.OK)
	_, ok := resp.Result.(kernel.SystemStatus)
	assert.True(t, ok)
}
