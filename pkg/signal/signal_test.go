package signal

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNotifyContextCancelsOnSignal(t *testing.T) {
	ctx, cancel := NotifyContext(context.Background(), zap.NewNop())
	defer cancel()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGHUP))
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled by SIGHUP")
	}
}

func TestNotifyContextFollowsParent(t *testing.T) {
	parent, stop := context.WithCancel(context.Background())
	ctx, cancel := NotifyContext(parent, zap.NewNop())
	defer cancel()
	stop()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestShutdownWithTimeout(t *testing.T) {
	log := zap.NewNop()
	assert.NoError(t, ShutdownWithTimeout(log, time.Second, func() error { return nil }))

	boom := errors.New("close failed")
	assert.ErrorIs(t, ShutdownWithTimeout(log, time.Second, func() error { return boom }), boom)

	release := make(chan struct{})
	defer close(release)
	err := ShutdownWithTimeout(log, 10*time.Millisecond, func() error {
		<-release
		return nil
	})
	assert.ErrorIs(t, err, ErrShutdownTimeout)
}
