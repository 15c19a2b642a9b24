package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultKernelConfigMatchesSpecDefaults(t *testing.T) {
	c := DefaultKernelConfig()

	assert.Equal(t, ":7712", c.IPC.Address)
	assert.Equal(t, 256, c.IPC.MaxConnections)
	assert.EqualValues(t, 16<<20, c.IPC.MaxFrameBytes)
	assert.Equal(t, 30*time.Second, c.IPC.IOTimeout)

	assert.Equal(t, 5*time.Minute, c.Cleanup.Interval)
	assert.Equal(t, 5*time.Minute, c.Cleanup.ZombieTTL)
	assert.Equal(t, time.Hour, c.Cleanup.SessionIdleTTL)
	assert.Equal(t, 24*time.Hour, c.Cleanup.ResolvedInterruptTTL)

	assert.Equal(t, "normal", c.Scheduler.DefaultPriority)

	assert.EqualValues(t, 60, c.RateLimit.RPM)
	assert.EqualValues(t, 1000, c.RateLimit.RPH)
	assert.EqualValues(t, 10, c.RateLimit.Burst)
}

func TestFromMapOverlaysDefaults(t *testing.T) {
	c := FromMap(map[string]any{
		"ipc.address":                     "0.0.0.0:9000",
		"ipc.max_connections":             512,
		"ipc.max_frame_bytes":             float64(32 << 20),
		"ipc.io_timeout_ms":               5000,
		"cleanup.interval_seconds":        60,
		"cleanup.zombie_ttl_seconds":      120,
		"cleanup.session_idle_ttl_seconds": 1800,
		"cleanup.resolved_interrupt_ttl_seconds": 3600,
		"scheduler.default_priority":      "high",
	})

	assert.Equal(t, "0.0.0.0:9000", c.IPC.Address)
	assert.Equal(t, 512, c.IPC.MaxConnections)
	assert.EqualValues(t, 32<<20, c.IPC.MaxFrameBytes)
	assert.Equal(t, 5*time.Second, c.IPC.IOTimeout)
	assert.Equal(t, time.Minute, c.Cleanup.Interval)
	assert.Equal(t, 2*time.Minute, c.Cleanup.ZombieTTL)
	assert.Equal(t, 30*time.Minute, c.Cleanup.SessionIdleTTL)
	assert.Equal(t, time.Hour, c.Cleanup.ResolvedInterruptTTL)
	assert.Equal(t, "high", c.Scheduler.DefaultPriority)
}

func TestFromMapOverlaysQuotaRateLimitAndInterruptDefaults(t *testing.T) {
	c := FromMap(map[string]any{
		"quotas.default": map[string]any{
			"max_llm_calls":  float64(5),
			"max_agent_hops": 3,
			"timeout_seconds": float64(60),
		},
		"rate_limit.default": map[string]any{
			"rpm": 120, "rph": 2000, "burst": 20,
		},
		"interrupt.default_ttl_per_kind": map[string]any{
			"Confirmation": float64(30),
			"Checkpoint":   90,
		},
	})

	assert.EqualValues(t, 5, c.Quotas.MaxLLMCalls)
	assert.EqualValues(t, 3, c.Quotas.MaxAgentHops)
	assert.EqualValues(t, 60, c.Quotas.TimeoutSeconds)
	// Untouched quota dimensions keep their defaults.
	assert.EqualValues(t, DefaultQuotaDefaults().MaxToolCalls, c.Quotas.MaxToolCalls)

	assert.Equal(t, 120, c.RateLimit.RPM)
	assert.Equal(t, 2000, c.RateLimit.RPH)
	assert.Equal(t, 20, c.RateLimit.Burst)

	assert.Equal(t, 30*time.Second, c.InterruptTTL["Confirmation"])
	assert.Equal(t, 90*time.Second, c.InterruptTTL["Checkpoint"])
}

func TestFromMapIgnoresUnknownKeys(t *testing.T) {
	c := FromMap(map[string]any{"totally.unknown": "value"})
	assert.Equal(t, DefaultKernelConfig().IPC, c.IPC)
}

func TestFromMapToleratesMissingKeys(t *testing.T) {
	c := FromMap(map[string]any{})
	assert.Equal(t, DefaultKernelConfig(), c)
}
