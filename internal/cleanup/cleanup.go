// Package cleanup runs the kernel's periodic garbage-collection cycle (spec
// 4.7): reaping terminated processes, expiring stale orchestration sessions,
// dropping idle rate-limit windows, expiring overdue pending interrupts, and
// purging resolved interrupts.
//
// Grounded on coreengine/kernel/cleanup.go's CleanupLoop/runCleanupCycle,
// generalized so each subsystem sweep runs concurrently via
// golang.org/x/sync/errgroup instead of the teacher's sequential calls —
// the four sweeps touch independent locks (LifecycleManager, RateLimiter,
// InterruptService, Orchestrator) and have no ordering dependency on each
// other within one cycle.
package cleanup

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeeves-cluster-organization/agentkernel/internal/config"
	"github.com/jeeves-cluster-organization/agentkernel/internal/kernel"
	"github.com/jeeves-cluster-organization/agentkernel/internal/klog"
	"github.com/jeeves-cluster-organization/agentkernel/internal/orchestrator"
	"github.com/jeeves-cluster-organization/agentkernel/internal/recovery"
)

// StaleSessionReaper is the subset of *orchestrator.Orchestrator the cleanup
// loop depends on, so tests can substitute a fake rather than standing up a
// whole kernel+orchestrator pair.
type StaleSessionReaper interface {
	CleanupStale(ttl time.Duration) int
}

// Loop drives one periodic GC cycle over a Kernel and (optionally) an
// Orchestrator.
type Loop struct {
	k    *kernel.Kernel
	orch StaleSessionReaper
	cfg  config.CleanupConfig
	log  klog.Logger
	now  func() time.Time
}

// New constructs a Loop. orch may be nil if no orchestrator is running
// (spec 4.1's kernel can operate without the orchestration layer attached).
func New(k *kernel.Kernel, orch *orchestrator.Orchestrator, cfg config.CleanupConfig, log klog.Logger) *Loop {
	if log == nil {
		log = klog.NewNop()
	}
	var reaper StaleSessionReaper
	if orch != nil {
		reaper = orch
	}
	return &Loop{k: k, orch: reaper, cfg: cfg, log: log, now: time.Now}
}

// Start launches the background ticker goroutine and returns a stop function.
func (l *Loop) Start(ctx context.Context) func() {
	interval := l.cfg.Interval
	if interval <= 0 {
		interval = config.DefaultCleanupConfig().Interval
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	recovery.SafeGo(l.log, "cleanup_loop", func() {
		for {
			select {
			case <-ticker.C:
				l.runCycle(ctx)
			case <-done:
				ticker.Stop()
				return
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}, func(r any) {
		l.log.Error("cleanup_loop_crashed", "panic", r)
	})

	return func() { close(done) }
}

// RunOnce executes a single cleanup cycle synchronously; exposed for tests
// and for an operator-triggered manual GC.
func (l *Loop) RunOnce(ctx context.Context) {
	l.runCycle(ctx)
}

func (l *Loop) runCycle(ctx context.Context) {
	err := recovery.SafeExecute(l.log, "cleanup_cycle", func() error {
		g, _ := errgroup.WithContext(ctx)

		var zombiesReaped, markedZombie, sessionsReaped, usersReaped, interruptsExpired, interruptsReaped int

		g.Go(func() error {
			markedZombie = l.k.Lifecycle.MarkTerminatedAsZombie(l.cfg.ZombieTTL)
			zombiesReaped = l.k.Lifecycle.CleanupZombies(l.cfg.ZombieTTL)
			return nil
		})
		g.Go(func() error {
			usersReaped = l.k.RateLimit.CleanupExpired(l.now())
			return nil
		})
		g.Go(func() error {
			interruptsExpired = len(l.k.Interrupts.ExpirePending(l.now()))
			interruptsReaped = l.k.Interrupts.CleanupResolved(l.now(), l.cfg.ResolvedInterruptTTL)
			return nil
		})
		if l.orch != nil {
			g.Go(func() error {
				sessionsReaped = l.orch.CleanupStale(l.cfg.SessionIdleTTL)
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		l.log.Debug("cleanup_cycle_completed",
			"processes_marked_zombie", markedZombie,
			"zombies_reaped", zombiesReaped,
			"sessions_reaped", sessionsReaped,
			"rate_limit_users_reaped", usersReaped,
			"interrupts_expired", interruptsExpired,
			"interrupts_reaped", interruptsReaped,
		)
		return nil
	})
	if err != nil {
		l.log.Error("cleanup_cycle_failed", "error", err.Error())
	}
}
