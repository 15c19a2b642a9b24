package kernel

import (
	"fmt"

	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelerr"
	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelid"
)

// quotaDimension names one of spec 3.4's 13 checked dimensions, in the exact
// order CheckQuota walks them (matches the table's listed order: llm_calls,
// tool_calls, agent_hops, iterations, input_tokens, output_tokens,
// context_tokens, inference_requests, then the derived timeout check; rate
// limit dimensions are enforced by the RateLimiter, not here).
type quotaDimension struct {
	name  string
	used  func(ResourceUsage) int64
	limit func(ResourceQuota) int64
}

var quotaDimensions = []quotaDimension{
	{"llm_calls", func(u ResourceUsage) int64 { return u.LLMCalls }, func(q ResourceQuota) int64 { return q.MaxLLMCalls }},
	{"tool_calls", func(u ResourceUsage) int64 { return u.ToolCalls }, func(q ResourceQuota) int64 { return q.MaxToolCalls }},
	{"agent_hops", func(u ResourceUsage) int64 { return u.AgentHops }, func(q ResourceQuota) int64 { return q.MaxAgentHops }},
	{"iterations", func(u ResourceUsage) int64 { return u.Iterations }, func(q ResourceQuota) int64 { return q.MaxIterations }},
	{"input_tokens", func(u ResourceUsage) int64 { return u.InputTokens }, func(q ResourceQuota) int64 { return q.MaxInputTokens }},
	{"output_tokens", func(u ResourceUsage) int64 { return u.OutputTokens }, func(q ResourceQuota) int64 { return q.MaxOutputTokens }},
	{"context_tokens", func(u ResourceUsage) int64 { return u.ContextTokens }, func(q ResourceQuota) int64 { return q.MaxContextTokens }},
	{"inference_requests", func(u ResourceUsage) int64 { return u.InferenceRequests }, func(q ResourceQuota) int64 { return q.MaxInferenceRequests }},
}

// QuotaCheckResult is the outcome of a CheckQuota call.
type QuotaCheckResult struct {
	Exceeded       bool
	SoftWarning    bool
	ExceededDim    string
	RemainingTotal map[string]int64
}

// ResourceTracker enforces the 13-dimension quota model of spec 3.4.
//
// Grounded on coreengine/kernel/resources.go's ResourceTracker, extended
// from its partial dimension set to the full 13-dimension table and to
// the soft-timeout-vs-hard-timeout distinction spec 4.2 requires.
type ResourceTracker struct {
	lm *LifecycleManager
}

// NewResourceTracker binds a tracker to the lifecycle manager whose PCBs
// hold the usage counters it mutates and reads.
func NewResourceTracker(lm *LifecycleManager) *ResourceTracker {
	return &ResourceTracker{lm: lm}
}

// RecordUsage applies a non-negative delta to one usage dimension. Deltas
// are additive and monotonic; a negative delta is a caller error (spec 4.2:
// "usage counters only increase for the lifetime of a process").
func (rt *ResourceTracker) RecordUsage(pid kernelid.ProcessId, dimension string, delta int64) error {
	if delta < 0 {
		return kernelerr.InvalidArgument(fmt.Sprintf("negative usage delta for %s", dimension))
	}
	found := false
	err := rt.lm.RecordUsageDelta(pid, func(u *ResourceUsage) {
		switch dimension {
		case "llm_calls":
			u.LLMCalls += delta
			found = true
		case "tool_calls":
			u.ToolCalls += delta
			found = true
		case "agent_hops":
			u.AgentHops += delta
			found = true
		case "iterations":
			u.Iterations += delta
			found = true
		case "input_tokens":
			u.InputTokens += delta
			found = true
		case "output_tokens":
			u.OutputTokens += delta
			found = true
		case "context_tokens":
			u.ContextTokens += delta
			found = true
		case "inference_requests":
			u.InferenceRequests += delta
			found = true
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return kernelerr.InvalidArgument("unknown dimension: " + dimension)
	}
	return nil
}

// CheckQuota walks the 8 countable dimensions in spec 3.4's listed order,
// returning the first one whose usage is at or above its limit, plus a soft
// timeout warning computed from elapsedSeconds against the quota's
// SoftTimeoutSeconds/TimeoutSeconds pair. Tie-break: when usage equals the
// limit exactly, the dimension is considered exceeded (spec 4.2: "at or
// above its limit", a closed upper bound). A dimension left at its zero
// value is treated as unbounded, mirroring the timeout branch below.
func (rt *ResourceTracker) CheckQuota(pid kernelid.ProcessId, elapsedSeconds int64) (QuotaCheckResult, error) {
	snap, ok := rt.lm.Get(pid)
	if !ok {
		return QuotaCheckResult{}, kernelerr.NotFound("process", string(pid))
	}

	result := QuotaCheckResult{RemainingTotal: make(map[string]int64, len(quotaDimensions))}
	for _, dim := range quotaDimensions {
		used := dim.used(snap.Usage)
		limit := dim.limit(snap.Quota)
		remaining := limit - used
		if remaining < 0 {
			remaining = 0
		}
		result.RemainingTotal[dim.name] = remaining
		if !result.Exceeded && limit > 0 && used >= limit {
			result.Exceeded = true
			result.ExceededDim = dim.name
		}
	}

	if snap.Quota.TimeoutSeconds > 0 && elapsedSeconds >= snap.Quota.TimeoutSeconds {
		result.Exceeded = true
		if result.ExceededDim == "" {
			result.ExceededDim = "timeout_seconds"
		}
	} else if snap.Quota.SoftTimeoutSeconds > 0 && elapsedSeconds >= snap.Quota.SoftTimeoutSeconds {
		result.SoftWarning = true
	}

	return result, nil
}

// Remaining returns the remaining headroom for a single dimension, or -1 if
// the dimension name is unrecognised.
func (rt *ResourceTracker) Remaining(pid kernelid.ProcessId, dimension string) (int64, error) {
	snap, ok := rt.lm.Get(pid)
	if !ok {
		return 0, kernelerr.NotFound("process", string(pid))
	}
	for _, dim := range quotaDimensions {
		if dim.name == dimension {
			remaining := dim.limit(snap.Quota) - dim.used(snap.Usage)
			if remaining < 0 {
				remaining = 0
			}
			return remaining, nil
		}
	}
	return -1, kernelerr.InvalidArgument("unknown dimension: " + dimension)
}

// SetQuota replaces a process's quota wholesale (administrative override;
// spec 4.2 does not define partial quota mutation).
func (rt *ResourceTracker) SetQuota(pid kernelid.ProcessId, quota ResourceQuota) error {
	return rt.lm.SetQuota(pid, quota)
}
