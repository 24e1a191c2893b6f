package signal

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ShutdownSignals 触发退出的信号
var ShutdownSignals = []os.Signal{
	syscall.SIGHUP,
	syscall.SIGQUIT,
	syscall.SIGTERM,
	syscall.SIGINT,
	syscall.SIGABRT,
}

// NotifyContext 收到退出信号时取消返回的 ctx；cancel 会停止监听
func NotifyContext(parent context.Context, logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, ShutdownSignals...)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// ErrShutdownTimeout 关闭逻辑在限定时间内未完成
var ErrShutdownTimeout = errors.New("shutdown timed out")

// ShutdownWithTimeout 执行关闭逻辑，超时后不再等待
func ShutdownWithTimeout(logger *zap.Logger, timeout time.Duration, shutdownFunc func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- shutdownFunc()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("shutdown failed", zap.Error(err))
			return err
		}
		logger.Info("shutdown completed")
		return nil
	case <-ctx.Done():
		logger.Warn("shutdown timeout exceeded", zap.Duration("timeout", timeout))
		return ErrShutdownTimeout
	}
}
