package kernel

import (
	"container/heap"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelerr"
	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelid"
)

// allowedTransitions encodes spec 3.3's exact FSM transition table. Keyed by
// (from, to); a missing entry means the transition is rejected.
//
// Grounded on coreengine/kernel/lifecycle.go's transition map, extended to
// the full New/Ready/Running/Waiting/Blocked/Terminated/Zombie state set.
var allowedTransitions = map[ProcessState]map[ProcessState]bool{
	StateNew: {
		StateReady:      true,
		StateTerminated: true,
	},
	StateReady: {
		StateRunning:    true,
		StateTerminated: true,
	},
	StateRunning: {
		StateWaiting:    true,
		StateBlocked:    true,
		StateReady:      true,
		StateTerminated: true,
	},
	StateWaiting: {
		StateReady:      true,
		StateTerminated: true,
	},
	StateBlocked: {
		StateReady:      true,
		StateTerminated: true,
	},
	StateTerminated: {
		StateZombie: true,
	},
	StateZombie: {},
}

func canTransition(from, to ProcessState) bool {
	if from == to {
		return false
	}
	m, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return m[to]
}

// runQueueItem is one entry in the priority heap; Seq breaks priority ties
// in FIFO order (spec 4.1, "equal-priority processes are scheduled FIFO").
type runQueueItem struct {
	pid   kernelid.ProcessId
	prio  Priority
	seq   uint64
	index int
}

type runQueue []*runQueueItem

func (q runQueue) Len() int { return len(q) }

func (q runQueue) Less(i, j int) bool {
	if q[i].prio.Rank() != q[j].prio.Rank() {
		return q[i].prio.Rank() < q[j].prio.Rank()
	}
	return q[i].seq < q[j].seq
}

func (q runQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *runQueue) Push(x any) {
	item := x.(*runQueueItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *runQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// LifecycleManager owns the process table and the ready-queue priority heap
// (spec 4.1). It enforces the FSM transition table and parent/child process
// trees (SPEC_FULL.md's supplemented feature, grounded on the PCB's
// under-used parent_pid/child_pids fields).
//
// Grounded on coreengine/kernel/lifecycle.go's LifecycleManager, generalized
// from a single-priority FIFO queue to a container/heap-backed priority
// queue per spec 4.1's scheduling algorithm.
type LifecycleManager struct {
	mu    sync.RWMutex
	table map[kernelid.ProcessId]*ProcessControlBlock
	ready runQueue
	seq   uint64
	now   func() time.Time
}

// NewLifecycleManager constructs an empty manager. now defaults to
// time.Now if nil, overridable in tests for deterministic timestamps.
func NewLifecycleManager(now func() time.Time) *LifecycleManager {
	if now == nil {
		now = time.Now
	}
	lm := &LifecycleManager{
		table: make(map[kernelid.ProcessId]*ProcessControlBlock),
		now:   now,
	}
	heap.Init(&lm.ready)
	return lm
}

// Submit registers a new PCB in the New state and immediately transitions it
// to Ready, pushing it onto the priority heap. If parentPid is non-nil, the
// parent must already exist in the table (supplemented feature: process
// trees), and the child is recorded in the parent's ChildPids set.
func (lm *LifecycleManager) Submit(pcb *ProcessControlBlock, parentPid *kernelid.ProcessId) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if _, exists := lm.table[pcb.Pid]; exists {
		return kernelerr.AlreadyExists("process", string(pcb.Pid))
	}
	if parentPid != nil {
		parent, ok := lm.table[*parentPid]
		if !ok {
			return kernelerr.NotFound("process", string(*parentPid))
		}
		pcb.ParentPid = parentPid
		parent.ChildPids[pcb.Pid] = struct{}{}
	}

	pcb.State = StateReady
	lm.table[pcb.Pid] = pcb
	lm.pushReady(pcb.Pid, pcb.Priority)
	return nil
}

func (lm *LifecycleManager) pushReady(pid kernelid.ProcessId, prio Priority) {
	lm.seq++
	heap.Push(&lm.ready, &runQueueItem{pid: pid, prio: prio, seq: lm.seq})
}

// GetNextRunnable pops the highest-priority Ready process and transitions it
// to Running, skipping (and discarding) stale heap entries for processes
// that are no longer Ready — the lazy-deletion policy spec 4.1 assumes for a
// heap-backed ready queue. Returns (nil, false) if no process is runnable.
func (lm *LifecycleManager) GetNextRunnable() (*ProcessControlBlock, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for lm.ready.Len() > 0 {
		item := heap.Pop(&lm.ready).(*runQueueItem)
		pcb, ok := lm.table[item.pid]
		if !ok || pcb.State != StateReady {
			continue
		}
		pcb.State = StateRunning
		if pcb.StartedAt == nil {
			started := lm.now()
			pcb.StartedAt = &started
		}
		return pcb, true
	}
	return nil, false
}

// YieldRunning moves a Running process back to Ready, re-enqueuing it at its
// current priority (spec 4.1: cooperative yield between agent hops).
func (lm *LifecycleManager) YieldRunning(pid kernelid.ProcessId) error {
	return lm.transition(pid, StateReady, func(pcb *ProcessControlBlock) {
		lm.pushReady(pcb.Pid, pcb.Priority)
	})
}

// Suspend moves a Running process to Waiting (spec 3.3: awaiting an
// interrupt resolution or external event).
func (lm *LifecycleManager) Suspend(pid kernelid.ProcessId) error {
	return lm.transition(pid, StateWaiting, nil)
}

// Resume moves a Waiting process back to Ready and re-enqueues it.
func (lm *LifecycleManager) Resume(pid kernelid.ProcessId) error {
	return lm.transition(pid, StateReady, func(pcb *ProcessControlBlock) {
		lm.pushReady(pcb.Pid, pcb.Priority)
	})
}

// Block moves a Running process to Blocked (spec 3.3: waiting on a quota or
// rate-limit condition to clear).
func (lm *LifecycleManager) Block(pid kernelid.ProcessId) error {
	return lm.transition(pid, StateBlocked, nil)
}

// Unblock moves a Blocked process back to Ready and re-enqueues it.
func (lm *LifecycleManager) Unblock(pid kernelid.ProcessId) error {
	return lm.transition(pid, StateReady, func(pcb *ProcessControlBlock) {
		lm.pushReady(pcb.Pid, pcb.Priority)
	})
}

// Terminate moves any non-terminal process to Terminated, stamping
// CompletedAt and ExitReason. Children inherit no special treatment here
// (spec 9: "parent termination does not cascade automatically"); callers
// that want cascading termination must walk ChildPids themselves.
func (lm *LifecycleManager) Terminate(pid kernelid.ProcessId, reason TerminalReason) error {
	return lm.transition(pid, StateTerminated, func(pcb *ProcessControlBlock) {
		completed := lm.now()
		pcb.CompletedAt = &completed
		pcb.ExitReason = &reason
	})
}

// Remove transitions a Terminated process to Zombie (awaiting reap by the
// cleanup subsystem) and detaches it from its parent's ChildPids.
func (lm *LifecycleManager) Remove(pid kernelid.ProcessId) error {
	return lm.transition(pid, StateZombie, func(pcb *ProcessControlBlock) {
		if pcb.ParentPid != nil {
			if parent, ok := lm.table[*pcb.ParentPid]; ok {
				delete(parent.ChildPids, pid)
			}
		}
	})
}

// Reap permanently deletes one Zombie PCB from the table. The cleanup
// subsystem does not call it; it reaps aged zombies in bulk through
// CleanupZombies.
func (lm *LifecycleManager) Reap(pid kernelid.ProcessId) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	pcb, ok := lm.table[pid]
	if !ok {
		return kernelerr.NotFound("process", string(pid))
	}
	if pcb.State != StateZombie {
		return kernelerr.InvalidStateTransition("process", pcb.State, StateZombie)
	}
	delete(lm.table, pid)
	return nil
}

// CleanupZombies reaps every Zombie PCB whose CompletedAt is older than ttl,
// returning the number removed (spec 4.7's periodic GC cycle).
func (lm *LifecycleManager) CleanupZombies(ttl time.Duration) int {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	cutoff := lm.now().Add(-ttl)
	removed := 0
	for pid, pcb := range lm.table {
		if pcb.State != StateZombie {
			continue
		}
		if pcb.CompletedAt != nil && pcb.CompletedAt.Before(cutoff) {
			delete(lm.table, pid)
			removed++
		}
	}
	return removed
}

// MarkTerminatedAsZombie transitions every Terminated PCB whose CompletedAt
// is older than retention into Zombie, making it eligible for CleanupZombies
// on a subsequent cycle (spec 4.7).
func (lm *LifecycleManager) MarkTerminatedAsZombie(retention time.Duration) int {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	cutoff := lm.now().Add(-retention)
	marked := 0
	for pid, pcb := range lm.table {
		if pcb.State != StateTerminated {
			continue
		}
		if pcb.CompletedAt == nil || !pcb.CompletedAt.Before(cutoff) {
			continue
		}
		if pcb.ParentPid != nil {
			if parent, ok := lm.table[*pcb.ParentPid]; ok {
				delete(parent.ChildPids, pid)
			}
		}
		pcb.State = StateZombie
		marked++
	}
	return marked
}

func (lm *LifecycleManager) transition(pid kernelid.ProcessId, to ProcessState, after func(*ProcessControlBlock)) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	pcb, ok := lm.table[pid]
	if !ok {
		return kernelerr.NotFound("process", string(pid))
	}
	if !canTransition(pcb.State, to) {
		return kernelerr.InvalidStateTransition("process", pcb.State, to)
	}
	pcb.State = to
	if after != nil {
		after(pcb)
	}
	return nil
}

// Get returns a snapshot of the PCB for pid.
func (lm *LifecycleManager) Get(pid kernelid.ProcessId) (ProcessControlBlock, bool) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	pcb, ok := lm.table[pid]
	if !ok {
		return ProcessControlBlock{}, false
	}
	return pcb.Snapshot(), true
}

// List returns snapshots of every PCB matching filter (nil matches all).
func (lm *LifecycleManager) List(filter func(*ProcessControlBlock) bool) []ProcessControlBlock {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	out := make([]ProcessControlBlock, 0, len(lm.table))
	for _, pcb := range lm.table {
		if filter == nil || filter(pcb) {
			out = append(out, pcb.Snapshot())
		}
	}
	return out
}

// RecordUsageDelta mutates the PCB's usage counters in place under the
// manager's lock; called by the ResourceTracker which owns the semantics of
// what counts as a valid delta.
func (lm *LifecycleManager) RecordUsageDelta(pid kernelid.ProcessId, mutate func(*ResourceUsage)) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	pcb, ok := lm.table[pid]
	if !ok {
		return kernelerr.NotFound("process", string(pid))
	}
	mutate(&pcb.Usage)
	return nil
}

// SetQuota replaces a PCB's ResourceQuota wholesale.
func (lm *LifecycleManager) SetQuota(pid kernelid.ProcessId, quota ResourceQuota) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	pcb, ok := lm.table[pid]
	if !ok {
		return kernelerr.NotFound("process", string(pid))
	}
	pcb.Quota = quota
	return nil
}

// SetPendingInterrupt records the interrupt a process is now Waiting on.
func (lm *LifecycleManager) SetPendingInterrupt(pid kernelid.ProcessId, interruptID *kernelid.InterruptId) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	pcb, ok := lm.table[pid]
	if !ok {
		return kernelerr.NotFound("process", string(pid))
	}
	pcb.PendingInterruptId = interruptID
	return nil
}
