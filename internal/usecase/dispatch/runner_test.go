package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

func TestRunnerRestartsAfterPanic(t *testing.T) {
	var runs atomic.Int32
	restarted := make(chan struct{})
	r := NewRunner("test", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("first run fails")
		}
		close(restarted)
		<-ctx.Done()
		return nil
	}, zerolog.Nop())
	r.newB = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	r.Start(context.Background())
	select {
	case <-restarted:
	case <-time.After(2 * time.Second):
		t.Fatalf("задача не перезапустилась")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if runs.Load() != 2 {
		t.Fatalf("ожидали 2 запуска, получили %d", runs.Load())
	}
}

func TestRunnerStopWaitsForTask(t *testing.T) {
	finished := make(chan struct{})
	r := NewRunner("test", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		close(finished)
		return nil
	}, zerolog.Nop())
	r.Start(context.Background())
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	select {
	case <-finished:
	default:
		t.Fatalf("Stop должен дождаться завершения задачи")
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("повторный Stop не должен падать: %v", err)
	}
}
