package recovery_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/agentkernel/internal/klog"
	"github.com/jeeves-cluster-organization/agentkernel/internal/recovery"
)

func TestSafeExecutePassesThroughNormalError(t *testing.T) {
	err := recovery.SafeExecute(klog.NewNop(), "op", func() error {
		return errors.New("normal failure")
	})
	require.Error(t, err)
	assert.Equal(t, "normal failure", err.Error())
}

func TestSafeExecuteRecoversPanic(t *testing.T) {
	err := recovery.SafeExecute(klog.NewNop(), "risky_op", func() error {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risky_op")
	assert.Contains(t, err.Error(), "kaboom")
}

func TestSafeExecuteWithResultReturnsValueOnSuccess(t *testing.T) {
	result, err := recovery.SafeExecuteWithResult(klog.NewNop(), "op", func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestSafeExecuteWithResultRecoversPanicAndZeroesResult(t *testing.T) {
	result, err := recovery.SafeExecuteWithResult(klog.NewNop(), "op", func() (int, error) {
		panic("nope")
	})
	require.Error(t, err)
	assert.Equal(t, 0, result)
}

func TestSafeGoInvokesOnPanicAndDoesNotCrash(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	var recovered any
	recovery.SafeGo(klog.NewNop(), "bg_task", func() {
		defer wg.Done()
		panic("goroutine exploded")
	}, func(r any) {
		recovered = r
	})

	waitWithTimeout(t, &wg, time.Second)
	assert.Equal(t, "goroutine exploded", recovered)
}

func TestSafeGoRunsFnToCompletionWithoutPanic(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	var ran bool

	recovery.SafeGo(klog.NewNop(), "bg_task", func() {
		defer wg.Done()
		ran = true
	}, nil)

	waitWithTimeout(t, &wg, time.Second)
	assert.True(t, ran)
}

func waitWithTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for goroutine")
	}
}
