package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"tg-dispatch-bot/internal/infra/metrics"
)

// healthyRun после такой работы без сбоев задержка перезапуска сбрасывается.
const healthyRun = 5 * time.Minute

// Task долгоживущая функция под надзором Runner.
type Task func(ctx context.Context) error

// Runner запускает задачу в фоне, перезапускает её после паники или ошибки
// с экспоненциальной задержкой и останавливает по явному сигналу.
type Runner struct {
	name string
	task Task
	log  zerolog.Logger
	newB func() backoff.BackOff

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner создаёт надзор над задачей.
func NewRunner(name string, task Task, logger zerolog.Logger) *Runner {
	return &Runner{
		name: name,
		task: task,
		log:  logger.With().Str("component", "runner").Str("task", name).Logger(),
		newB: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = time.Minute
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Start запускает задачу. Повторный вызов без Stop ничего не делает.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.supervise(runCtx, r.done)
}

// Stop подаёт сигнал остановки и ждёт завершения текущей работы или ctx.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("остановка %s: %w", r.name, ctx.Err())
	}
}

func (r *Runner) supervise(ctx context.Context, done chan struct{}) {
	defer close(done)
	b := r.newB()
	for {
		started := time.Now()
		err := r.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > healthyRun {
			b.Reset()
		}
		wait := b.NextBackOff()
		metrics.LoopRestarts.Inc()
		r.log.Error().Err(err).Dur("retry_in", wait).Msg("задача завершилась, перезапуск")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("паника: %v", p)
		}
	}()
	if err := r.task(ctx); err != nil {
		return err
	}
	return fmt.Errorf("задача %s завершилась без ошибки", r.name)
}
