package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordProcessTerminal(t *testing.T) {
	tests := []struct {
		name       string
		state      string
		durationMS int64
	}{
		{"completed process", "completed", 1000},
		{"failed process", "failed", 500},
		{"terminated process", "terminated", 2000},
		{"zombie reap", "zombie", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordProcessTerminal(tt.state, tt.durationMS)
			count := testutil.ToFloat64(processesTotal.WithLabelValues(tt.state))
			assert.Greater(t, count, 0.0)
		})
	}
}

func TestRecordAgentHop(t *testing.T) {
	RecordAgentHop("planner", "success", 100)
	RecordAgentHop("executor", "error", 50)

	assert.Greater(t, testutil.ToFloat64(agentHopsTotal.WithLabelValues("planner", "success")), 0.0)
	assert.Greater(t, testutil.ToFloat64(agentHopsTotal.WithLabelValues("executor", "error")), 0.0)
}

func TestRecordInterrupt(t *testing.T) {
	RecordInterrupt("clarification", "resolved", 12.5)
	RecordInterrupt("approval", "expired", 900)

	assert.Greater(t, testutil.ToFloat64(interruptsTotal.WithLabelValues("clarification", "resolved")), 0.0)
	assert.Greater(t, testutil.ToFloat64(interruptsTotal.WithLabelValues("approval", "expired")), 0.0)
}

func TestRecordIPCRequest(t *testing.T) {
	RecordIPCRequest("CreateProcess", "ok", 5)
	RecordIPCRequest("CreateProcess", "error", 2)

	assert.Greater(t, testutil.ToFloat64(ipcRequestsTotal.WithLabelValues("CreateProcess", "ok")), 0.0)
	assert.Greater(t, testutil.ToFloat64(ipcRequestsTotal.WithLabelValues("CreateProcess", "error")), 0.0)
}

func TestRecordIPCConnectionRejected(t *testing.T) {
	before := testutil.ToFloat64(ipcConnectionsRejectedTotal)
	RecordIPCConnectionRejected()
	after := testutil.ToFloat64(ipcConnectionsRejectedTotal)
	assert.Equal(t, before+1, after)
}

func TestRecordBusMessage(t *testing.T) {
	RecordBusMessage("publish", "ok")
	assert.Greater(t, testutil.ToFloat64(busMessagesTotal.WithLabelValues("publish", "ok")), 0.0)
}

func TestMetrics_Concurrent(t *testing.T) {
	const goroutines = 10
	const iterations = 100
	done := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			for j := 0; j < iterations; j++ {
				RecordProcessTerminal("completed", 100)
				RecordAgentHop("concurrent-agent", "success", 50)
				RecordIPCRequest("SystemStatus", "ok", 1)
			}
			done <- true
		}()
	}
	for i := 0; i < goroutines; i++ {
		<-done
	}

	count := testutil.ToFloat64(processesTotal.WithLabelValues("completed"))
	assert.GreaterOrEqual(t, count, float64(goroutines*iterations))
}

func TestInitTracer_InvalidEndpoint(t *testing.T) {
	shutdown, err := InitTracer("test-service", "")
	require.Error(t, err)
	assert.Nil(t, shutdown)
	assert.Contains(t, err.Error(), "failed to create trace exporter")
}

func TestInitTracer_ServiceName(t *testing.T) {
	shutdown, err := InitTracer("agentkernel", "invalid-endpoint:1234")
	if err != nil {
		assert.Contains(t, err.Error(), "failed to create trace exporter")
	}
	if shutdown != nil {
		_ = shutdown(context.Background())
	}
}
