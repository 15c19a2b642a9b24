package kernel

import (
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelerr"
	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelid"
)

// Kernel composes the Lifecycle Manager, Resource Tracker, Rate Limiter and
// Interrupt Service into the single logical actor spec 9's design note
// recommends. Cross-subsystem operations (e.g. CreateProcess, which must
// admission-control against the rate limiter before submitting to the
// lifecycle manager) take Kernel.mu; operations that only ever touch one
// subsystem go straight to that subsystem's own lock, reconciling the
// teacher's existing per-file-mutex layout (coreengine/kernel/*.go) with
// spec 9's single-actor recommendation without a full relocking rewrite.
type Kernel struct {
	mu sync.Mutex

	Lifecycle *LifecycleManager
	Resources *ResourceTracker
	RateLimit *RateLimiter
	Interrupts *InterruptService

	now func() time.Time
}

// New constructs a fully wired Kernel with default rate-limit windows.
func New(defaultWindows RateLimitWindowConfig) *Kernel {
	now := time.Now
	lm := NewLifecycleManager(now)
	return &Kernel{
		Lifecycle:  lm,
		Resources:  NewResourceTracker(lm),
		RateLimit:  NewRateLimiter(defaultWindows, now),
		Interrupts: NewInterruptService(now),
		now:        now,
	}
}

// CreateProcess performs spec 4.1's composed admission sequence: rate-limit
// check, then PCB construction and submission to the lifecycle manager. The
// rate limiter is checked first because rejecting here is cheaper than
// rolling back a submitted PCB (spec 4.3: "rate limiting is the outermost
// admission gate").
func (k *Kernel) CreateProcess(userID kernelid.UserId, reqID kernelid.RequestId, sessID kernelid.SessionId, priority Priority, quota ResourceQuota, parentPid *kernelid.ProcessId) (*ProcessControlBlock, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	rl := k.RateLimit.Check(userID)
	if !rl.Allowed {
		return nil, kernelerr.RateLimited(rl.RetryAfterSeconds)
	}

	pid := kernelid.NewProcessId()
	pcb := NewPCB(pid, reqID, userID, sessID, priority, quota, k.now())
	if err := k.Lifecycle.Submit(pcb, parentPid); err != nil {
		return nil, err
	}
	return pcb, nil
}

// TerminateProcess terminates a process and, if it has children, leaves them
// running (spec 9: no automatic cascade) unless cascade is true, in which
// case every descendant is terminated too with the same reason.
func (k *Kernel) TerminateProcess(pid kernelid.ProcessId, reason TerminalReason, cascade bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	pcb, ok := k.Lifecycle.Get(pid)
	if !ok {
		return kernelerr.NotFound("process", string(pid))
	}
	if pcb.State == StateTerminated {
		// Terminate is retry-safe: a second call on an already-terminated
		// pid succeeds without re-running the transition (spec 4.1).
		return nil
	}
	if err := k.Lifecycle.Terminate(pid, reason); err != nil {
		return err
	}
	if pcb.PendingInterruptId != nil {
		_ = k.Interrupts.Cancel(*pcb.PendingInterruptId)
	}
	if cascade {
		for childPid := range pcb.ChildPids {
			child, ok := k.Lifecycle.Get(childPid)
			if !ok || child.State == StateTerminated || child.State == StateZombie {
				continue
			}
			_ = k.Lifecycle.Terminate(childPid, reason)
		}
	}
	return nil
}

// SystemStatus is a point-in-time aggregate snapshot of the kernel, exposed
// for introspection (SPEC_FULL.md's supplemented feature, grounded on
// coreengine/kernel/kernel.go's GetSystemStatus()).
type SystemStatus struct {
	TotalProcesses int
	ByState        map[string]int
	PendingInterrupts int
	AsOf           time.Time
}

// GetSystemStatus aggregates counts across subsystems for a debug/health endpoint.
func (k *Kernel) GetSystemStatus() SystemStatus {
	all := k.Lifecycle.List(nil)
	byState := make(map[string]int)
	pendingInterrupts := 0
	for _, pcb := range all {
		byState[pcb.State.String()]++
		if pcb.PendingInterruptId != nil {
			pendingInterrupts++
		}
	}
	return SystemStatus{
		TotalProcesses:    len(all),
		ByState:           byState,
		PendingInterrupts: pendingInterrupts,
		AsOf:              k.now(),
	}
}
