// Package config holds the kernel's own configuration (spec 6.4).
//
// Grounded on coreengine/config/core_config.go's shape: one struct per
// concern, a Default*Config() constructor, and a FromMap loader that
// tolerates both native int/float64 (os.Getenv/JSON-decoded) inputs. There
// is no ToMap serializer. Unlike the teacher's CoreConfig (which mixes in LLM/tool/
// arbiter policy fields that are userspace concerns here), this package only
// carries the six option groups spec 6.4 actually names.
package config

import "time"

// IPCConfig configures the framed binary transport (spec 6.1, 6.4).
type IPCConfig struct {
	Address        string        `json:"address"`
	MaxConnections  int           `json:"max_connections"`
	MaxFrameBytes   uint32        `json:"max_frame_bytes"`
	IOTimeout       time.Duration `json:"io_timeout"`
}

// DefaultIPCConfig returns the recommended IPC defaults (spec 6.1: "recommended default 16 MB").
func DefaultIPCConfig() IPCConfig {
	return IPCConfig{
		Address:        ":7712",
		MaxConnections: 256,
		MaxFrameBytes:  16 << 20,
		IOTimeout:      30 * time.Second,
	}
}

// CleanupConfig configures the periodic GC cycle (spec 4.7).
type CleanupConfig struct {
	Interval               time.Duration `json:"interval"`
	ZombieTTL              time.Duration `json:"zombie_ttl"`
	SessionIdleTTL         time.Duration `json:"session_idle_ttl"`
	ResolvedInterruptTTL   time.Duration `json:"resolved_interrupt_ttl"`
}

// DefaultCleanupConfig mirrors spec 4.7's stated defaults.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Interval:             5 * time.Minute,
		ZombieTTL:            5 * time.Minute,
		SessionIdleTTL:       time.Hour,
		ResolvedInterruptTTL: 24 * time.Hour,
	}
}

// SchedulerConfig configures the lifecycle manager's default priority.
type SchedulerConfig struct {
	DefaultPriority string `json:"default_priority"`
}

// DefaultSchedulerConfig defaults to Normal priority (spec 3.2).
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{DefaultPriority: "normal"}
}

// QuotaDefaults holds the configured baseline for spec 3.4's 13 quota
// dimensions, one field per dimension. It is a separate struct from
// kernel.ResourceQuota, and nothing in this module converts it into one:
// processes created without a quota get kernel.DefaultQuota().
type QuotaDefaults struct {
	MaxLLMCalls          int64 `json:"max_llm_calls"`
	MaxToolCalls          int64 `json:"max_tool_calls"`
	MaxAgentHops          int64 `json:"max_agent_hops"`
	MaxIterations          int64 `json:"max_iterations"`
	MaxInputTokens         int64 `json:"max_input_tokens"`
	MaxOutputTokens        int64 `json:"max_output_tokens"`
	MaxContextTokens       int64 `json:"max_context_tokens"`
	MaxInferenceRequests   int64 `json:"max_inference_requests"`
	TimeoutSeconds         int64 `json:"timeout_seconds"`
	SoftTimeoutSeconds     int64 `json:"soft_timeout_seconds"`
	RateLimitRPM           int64 `json:"rate_limit_rpm"`
	RateLimitRPH           int64 `json:"rate_limit_rph"`
	RateLimitBurst         int64 `json:"rate_limit_burst"`
}

// DefaultQuotaDefaults mirrors coreengine/kernel/types.go's DefaultQuota().
func DefaultQuotaDefaults() QuotaDefaults {
	return QuotaDefaults{
		MaxLLMCalls:        50,
		MaxToolCalls:        100,
		MaxAgentHops:        20,
		MaxIterations:       10,
		MaxInputTokens:      200_000,
		MaxOutputTokens:     50_000,
		MaxContextTokens:    128_000,
		MaxInferenceRequests: 100,
		TimeoutSeconds:      300,
		SoftTimeoutSeconds:  240,
		RateLimitRPM:        60,
		RateLimitRPH:        1000,
		RateLimitBurst:      10,
	}
}

// RateLimitDefaults is the baseline (rpm, rph, burst) per user (spec 6.4).
type RateLimitDefaults struct {
	RPM   int `json:"rpm"`
	RPH   int `json:"rph"`
	Burst int `json:"burst"`
}

// DefaultRateLimitDefaults mirrors coreengine/kernel/rate_limiter.go's DefaultRateLimitConfig.
func DefaultRateLimitDefaults() RateLimitDefaults {
	return RateLimitDefaults{RPM: 60, RPH: 1000, Burst: 10}
}

// InterruptTTLDefaults holds configured per-kind interrupt TTLs (spec 3.6),
// keyed by kind name. FromMap fills it, but nothing passes it to the
// InterruptService, which always applies its own built-in per-kind TTLs.
type InterruptTTLDefaults map[string]time.Duration

// KernelConfig aggregates every configuration group the kernel recognises.
//
// Grounded on coreengine/kernel/kernel.go's KernelConfig/DefaultKernelConfig.
type KernelConfig struct {
	IPC         IPCConfig
	Cleanup     CleanupConfig
	Scheduler   SchedulerConfig
	Quotas      QuotaDefaults
	RateLimit   RateLimitDefaults
	InterruptTTL InterruptTTLDefaults
}

// DefaultKernelConfig returns the full default configuration.
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		IPC:          DefaultIPCConfig(),
		Cleanup:      DefaultCleanupConfig(),
		Scheduler:    DefaultSchedulerConfig(),
		Quotas:       DefaultQuotaDefaults(),
		RateLimit:    DefaultRateLimitDefaults(),
		InterruptTTL: InterruptTTLDefaults{},
	}
}

// FromMap overlays values found in m onto a copy of the defaults. Unknown
// keys are ignored (teacher convention, coreengine/config/core_config.go).
func FromMap(m map[string]any) KernelConfig {
	c := DefaultKernelConfig()
	if v, ok := asString(m["ipc.address"]); ok {
		c.IPC.Address = v
	}
	if v, ok := asInt(m["ipc.max_connections"]); ok {
		c.IPC.MaxConnections = v
	}
	if v, ok := asInt(m["ipc.max_frame_bytes"]); ok {
		c.IPC.MaxFrameBytes = uint32(v)
	}
	if v, ok := asInt(m["ipc.io_timeout_ms"]); ok {
		c.IPC.IOTimeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := asInt(m["cleanup.interval_seconds"]); ok {
		c.Cleanup.Interval = time.Duration(v) * time.Second
	}
	if v, ok := asInt(m["cleanup.zombie_ttl_seconds"]); ok {
		c.Cleanup.ZombieTTL = time.Duration(v) * time.Second
	}
	if v, ok := asInt(m["cleanup.session_idle_ttl_seconds"]); ok {
		c.Cleanup.SessionIdleTTL = time.Duration(v) * time.Second
	}
	if v, ok := asInt(m["cleanup.resolved_interrupt_ttl_seconds"]); ok {
		c.Cleanup.ResolvedInterruptTTL = time.Duration(v) * time.Second
	}
	if v, ok := asString(m["scheduler.default_priority"]); ok {
		c.Scheduler.DefaultPriority = v
	}
	if v, ok := asMap(m["quotas.default"]); ok {
		overlayQuotaDefaults(&c.Quotas, v)
	}
	if v, ok := asMap(m["rate_limit.default"]); ok {
		if rpm, ok := asInt(v["rpm"]); ok {
			c.RateLimit.RPM = rpm
		}
		if rph, ok := asInt(v["rph"]); ok {
			c.RateLimit.RPH = rph
		}
		if burst, ok := asInt(v["burst"]); ok {
			c.RateLimit.Burst = burst
		}
	}
	if v, ok := asMap(m["interrupt.default_ttl_per_kind"]); ok {
		if c.InterruptTTL == nil {
			c.InterruptTTL = InterruptTTLDefaults{}
		}
		for kind, raw := range v {
			if seconds, ok := asInt(raw); ok {
				c.InterruptTTL[kind] = time.Duration(seconds) * time.Second
			}
		}
	}
	return c
}

// overlayQuotaDefaults applies any of spec 3.4's 13 dimension keys found in m
// onto q, tolerating both int and float64 (JSON-decoded) inputs.
func overlayQuotaDefaults(q *QuotaDefaults, m map[string]any) {
	fields := []struct {
		key string
		dst *int64
	}{
		{"max_llm_calls", &q.MaxLLMCalls},
		{"max_tool_calls", &q.MaxToolCalls},
		{"max_agent_hops", &q.MaxAgentHops},
		{"max_iterations", &q.MaxIterations},
		{"max_input_tokens", &q.MaxInputTokens},
		{"max_output_tokens", &q.MaxOutputTokens},
		{"max_context_tokens", &q.MaxContextTokens},
		{"max_inference_requests", &q.MaxInferenceRequests},
		{"timeout_seconds", &q.TimeoutSeconds},
		{"soft_timeout_seconds", &q.SoftTimeoutSeconds},
		{"rate_limit_rpm", &q.RateLimitRPM},
		{"rate_limit_rph", &q.RateLimitRPH},
		{"rate_limit_burst", &q.RateLimitBurst},
	}
	for _, f := range fields {
		if v, ok := asInt(m[f.key]); ok {
			*f.dst = int64(v)
		}
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
