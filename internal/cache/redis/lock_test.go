package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func runKeepAlive(extend extendFunc, ttl time.Duration) (lost chan struct{}, stop func()) {
	lost = make(chan struct{})
	stopCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(extend, ttl, stopCh, lost)
	}()
	return lost, func() {
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
		<-done
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestKeepAlive_StolenLockIsLost(t *testing.T) {
	var calls atomic.Int32
	extend := func(context.Context) (bool, error) {
		return calls.Add(1) < 3, nil
	}
	lost, stop := runKeepAlive(extend, 30*time.Millisecond)
	defer stop()

	assert.Eventually(t, func() bool { return isClosed(lost) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestKeepAlive_ErrorsPastTTLAreLost(t *testing.T) {
	var calls atomic.Int32
	extend := func(context.Context) (bool, error) {
		calls.Add(1)
		return false, errors.New("connection refused")
	}
	lost, stop := runKeepAlive(extend, 60*time.Millisecond)
	defer stop()

	assert.Eventually(t, func() bool { return isClosed(lost) }, time.Second, 5*time.Millisecond)
	// Transient failures inside the ttl are retried first.
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestKeepAlive_HealthyLockIsKept(t *testing.T) {
	var calls atomic.Int32
	extend := func(context.Context) (bool, error) {
		calls.Add(1)
		return true, nil
	}
	lost, stop := runKeepAlive(extend, 30*time.Millisecond)

	assert.Eventually(t, func() bool { return calls.Load() >= 5 }, time.Second, 5*time.Millisecond)
	stop()
	assert.False(t, isClosed(lost))
}
