package kernel

import (
	"testing"
	"time"

	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAppliesPerKindDefaultTTL(t *testing.T) {
	now := fixedNow()
	svc := NewInterruptService(func() time.Time { return now })

	clarification := svc.Create(InterruptClarification, kernelid.NewProcessId(), kernelid.NewRequestId(), kernelid.NewSessionId(), kernelid.UserId("u-1"), "pick one", nil, 0)
	require.NotNil(t, clarification.ExpiresAt)
	assert.Equal(t, now.Add(24*time.Hour), *clarification.ExpiresAt)

	confirmation := svc.Create(InterruptConfirmation, kernelid.NewProcessId(), kernelid.NewRequestId(), kernelid.NewSessionId(), kernelid.UserId("u-1"), "confirm?", nil, 0)
	assert.Equal(t, now.Add(time.Hour), *confirmation.ExpiresAt)

	review := svc.Create(InterruptAgentReview, kernelid.NewProcessId(), kernelid.NewRequestId(), kernelid.NewSessionId(), kernelid.UserId("u-1"), "review?", nil, 0)
	assert.Equal(t, now.Add(30*time.Minute), *review.ExpiresAt)

	checkpoint := svc.Create(InterruptCheckpoint, kernelid.NewProcessId(), kernelid.NewRequestId(), kernelid.NewSessionId(), kernelid.UserId("u-1"), "checkpoint", nil, 0)
	assert.Nil(t, checkpoint.ExpiresAt, "checkpoint has no expiry by default")

	exhausted := svc.Create(InterruptResourceExhausted, kernelid.NewProcessId(), kernelid.NewRequestId(), kernelid.NewSessionId(), kernelid.UserId("u-1"), "", nil, 0)
	assert.Equal(t, now.Add(5*time.Minute), *exhausted.ExpiresAt)

	timeout := svc.Create(InterruptTimeout, kernelid.NewProcessId(), kernelid.NewRequestId(), kernelid.NewSessionId(), kernelid.UserId("u-1"), "", nil, 0)
	assert.Equal(t, now.Add(5*time.Minute), *timeout.ExpiresAt)

	systemError := svc.Create(InterruptSystemError, kernelid.NewProcessId(), kernelid.NewRequestId(), kernelid.NewSessionId(), kernelid.UserId("u-1"), "", nil, 0)
	assert.Equal(t, now.Add(time.Hour), *systemError.ExpiresAt)
}

func TestCreateWithTTLOverrideIgnoresKindDefault(t *testing.T) {
	now := fixedNow()
	svc := NewInterruptService(func() time.Time { return now })

	fi := svc.Create(InterruptConfirmation, kernelid.NewProcessId(), kernelid.NewRequestId(), kernelid.NewSessionId(), kernelid.UserId("u-1"), "confirm?", nil, 60*time.Second)
	assert.Equal(t, now.Add(60*time.Second), *fi.ExpiresAt)
}

func TestResolveRequiresMatchingCreator(t *testing.T) {
	now := fixedNow()
	svc := NewInterruptService(func() time.Time { return now })
	creator := kernelid.UserId("u-1")
	other := kernelid.UserId("u-2")

	fi := svc.Create(InterruptConfirmation, kernelid.NewProcessId(), kernelid.NewRequestId(), kernelid.NewSessionId(), creator, "confirm?", nil, 0)

	_, err := svc.Resolve(fi.Id, &other, map[string]any{"ok": true})
	assert.Error(t, err)

	resolved, err := svc.Resolve(fi.Id, &creator, map[string]any{"ok": true})
	require.NoError(t, err)
	assert.Equal(t, InterruptResolved, resolved.Status)
}

func TestResolveWithNilResolverAllowsSystemResolution(t *testing.T) {
	now := fixedNow()
	svc := NewInterruptService(func() time.Time { return now })
	fi := svc.Create(InterruptCheckpoint, kernelid.NewProcessId(), kernelid.NewRequestId(), kernelid.NewSessionId(), kernelid.UserId("u-1"), "checkpoint", nil, 0)

	resolved, err := svc.Resolve(fi.Id, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, InterruptResolved, resolved.Status)
}

func TestResolveAlreadyResolvedRejected(t *testing.T) {
	now := fixedNow()
	svc := NewInterruptService(func() time.Time { return now })
	fi := svc.Create(InterruptCheckpoint, kernelid.NewProcessId(), kernelid.NewRequestId(), kernelid.NewSessionId(), kernelid.UserId("u-1"), "checkpoint", nil, 0)

	_, err := svc.Resolve(fi.Id, nil, nil)
	require.NoError(t, err)

	_, err = svc.Resolve(fi.Id, nil, nil)
	assert.Error(t, err)
}

func TestExpirePendingMarksPastDeadline(t *testing.T) {
	now := fixedNow()
	svc := NewInterruptService(func() time.Time { return now })
	fi := svc.Create(InterruptTimeout, kernelid.NewProcessId(), kernelid.NewRequestId(), kernelid.NewSessionId(), kernelid.UserId("u-1"), "confirm?", nil, 0)

	expired := svc.ExpirePending(now.Add(6 * time.Minute))
	require.Len(t, expired, 1)
	assert.Equal(t, fi.Id, expired[0])

	got, ok := svc.Get(fi.Id)
	require.True(t, ok)
	assert.Equal(t, InterruptExpired, got.Status)
}

func TestCancelOnlyAppliesToPending(t *testing.T) {
	now := fixedNow()
	svc := NewInterruptService(func() time.Time { return now })
	fi := svc.Create(InterruptCheckpoint, kernelid.NewProcessId(), kernelid.NewRequestId(), kernelid.NewSessionId(), kernelid.UserId("u-1"), "checkpoint", nil, 0)

	require.NoError(t, svc.Cancel(fi.Id))
	assert.Error(t, svc.Cancel(fi.Id))
}

func TestCleanupResolvedRemovesOldTerminalInterrupts(t *testing.T) {
	now := fixedNow()
	svc := NewInterruptService(func() time.Time { return now })
	fi := svc.Create(InterruptCheckpoint, kernelid.NewProcessId(), kernelid.NewRequestId(), kernelid.NewSessionId(), kernelid.UserId("u-1"), "checkpoint", nil, 0)
	_, err := svc.Resolve(fi.Id, nil, nil)
	require.NoError(t, err)

	removed := svc.CleanupResolved(now.Add(25*time.Hour), 24*time.Hour)
	assert.Equal(t, 1, removed)
	_, ok := svc.Get(fi.Id)
	assert.False(t, ok)
}

func TestListPendingForRequestAndSession(t *testing.T) {
	now := fixedNow()
	svc := NewInterruptService(func() time.Time { return now })
	reqID := kernelid.NewRequestId()
	sessID := kernelid.NewSessionId()
	svc.Create(InterruptAgentReview, kernelid.NewProcessId(), reqID, sessID, kernelid.UserId("u-1"), "approve?", nil, 0)
	svc.Create(InterruptAgentReview, kernelid.NewProcessId(), kernelid.NewRequestId(), kernelid.NewSessionId(), kernelid.UserId("u-1"), "unrelated", nil, 0)

	byRequest := svc.ListPendingForRequest(reqID)
	assert.Len(t, byRequest, 1)

	bySession := svc.ListPendingForSession(sessID)
	assert.Len(t, bySession, 1)
}
