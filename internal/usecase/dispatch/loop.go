package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/infra/metrics"
	"tg-dispatch-bot/internal/usecase/sender"
)

const (
	// DefaultInterval период опроса очереди.
	DefaultInterval = 30 * time.Second
	// DefaultPacing пауза после каждой отправки.
	DefaultPacing = 2 * time.Second
)

// Причины снятия задачи с очереди.
const (
	ReasonAttempted = "attempted"
	ReasonStale     = "stale_target"
	ReasonNoAccount = "no_account"
	ReasonPanic     = "panic"
)

// Store часть хранилища, с которой работает планировщик.
type Store interface {
	ListDueTasks(now time.Time) []domain.ScheduledTask
	Target(id string) (domain.Target, bool)
	Account(name string) (domain.Account, bool)
	RemoveTasks(ctx context.Context, ids []string) int
}

// Resolver выбирает аккаунты для задачи.
type Resolver interface {
	ResolveTask(task domain.ScheduledTask, target domain.Target) []string
}

// Sender выполняет одну попытку отправки.
type Sender interface {
	Deliver(ctx context.Context, d sender.Delivery) (bool, error)
}

// Report итог одного прохода.
type Report struct {
	Due       int
	Retired   int
	Stale     int
	NoAccount int
	Panicked  int
	Sent      int
	Failed    int
}

// Loop периодически находит наступившие задачи, отправляет их через
// резолвер и исполнителя и снимает с очереди одним пакетом.
// Каждая задача пытается отправиться не более одного раза за проход
// и снимается независимо от результата: повторов нет.
type Loop struct {
	store    Store
	resolver Resolver
	sender   Sender
	events   domain.EventSink
	clock    Clock
	interval time.Duration
	pacing   time.Duration
	log      zerolog.Logger
}

// Option настраивает Loop.
type Option func(*Loop)

// WithClock подменяет часы.
func WithClock(c Clock) Option { return func(l *Loop) { l.clock = c } }

// WithInterval задаёт период опроса.
func WithInterval(d time.Duration) Option { return func(l *Loop) { l.interval = d } }

// WithPacing задаёт паузу между отправками.
func WithPacing(d time.Duration) Option { return func(l *Loop) { l.pacing = d } }

// WithEvents включает события о пропущенных задачах.
func WithEvents(sink domain.EventSink) Option { return func(l *Loop) { l.events = sink } }

// NewLoop создаёт планировщик.
func NewLoop(st Store, resolver Resolver, snd Sender, logger zerolog.Logger, opts ...Option) *Loop {
	l := &Loop{
		store:    st,
		resolver: resolver,
		sender:   snd,
		clock:    SystemClock{},
		interval: DefaultInterval,
		pacing:   DefaultPacing,
		log:      logger.With().Str("component", "dispatch").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run крутит цикл до отмены ctx. Начатый проход всегда доводится до конца.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info().Dur("interval", l.interval).Dur("pacing", l.pacing).Msg("планировщик запущен")
	for {
		if err := l.clock.Sleep(ctx, l.interval); err != nil {
			l.log.Info().Msg("планировщик остановлен")
			return nil
		}
		l.Pass(context.WithoutCancel(ctx))
		if ctx.Err() != nil {
			l.log.Info().Msg("планировщик остановлен после завершения прохода")
			return nil
		}
	}
}

// Pass выполняет один проход: выборка, обработка по порядку, пакетное снятие.
func (l *Loop) Pass(ctx context.Context) Report {
	start := time.Now()
	now := l.clock.Now()
	due := l.store.ListDueTasks(now)
	report := Report{Due: len(due)}
	if len(due) == 0 {
		return report
	}
	l.log.Info().Int("due", len(due)).Time("now", now).Msg("найдены задачи к отправке")

	retire := make([]string, 0, len(due))
	for _, task := range due {
		reason := l.processSafe(ctx, task, &report)
		metrics.TasksRetiredTotal.WithLabelValues(reason).Inc()
		retire = append(retire, task.ID)
	}
	report.Retired = l.store.RemoveTasks(ctx, retire)
	metrics.PassSeconds.Observe(time.Since(start).Seconds())
	l.log.Info().
		Int("retired", report.Retired).
		Int("sent", report.Sent).
		Int("failed", report.Failed).
		Int("stale", report.Stale).
		Int("no_account", report.NoAccount).
		Msg("проход завершён")
	return report
}

func (l *Loop) processSafe(ctx context.Context, task domain.ScheduledTask, report *Report) (reason string) {
	defer func() {
		if r := recover(); r != nil {
			report.Panicked++
			reason = ReasonPanic
			l.log.Error().Str("task", task.ID).Str("panic", fmt.Sprint(r)).Msg("паника при обработке задачи")
		}
	}()
	return l.process(ctx, task, report)
}

func (l *Loop) process(ctx context.Context, task domain.ScheduledTask, report *Report) string {
	log := l.log.With().Str("task", task.ID).Str("target", task.TargetID).Logger()

	target, ok := l.store.Target(task.TargetID)
	if !ok {
		report.Stale++
		log.Warn().Msg("получатель не найден, задача снята")
		l.skip(ctx, task, domain.ErrTargetNotFound)
		return ReasonStale
	}

	accounts := l.resolver.ResolveTask(task, target)
	if len(accounts) == 0 {
		report.NoAccount++
		log.Error().Msg("нет доступных аккаунтов для отправки, задача снята")
		l.skip(ctx, task, domain.ErrNoEligibleAccount)
		return ReasonNoAccount
	}

	sent := 0
	for _, name := range accounts {
		if _, exists := l.store.Account(name); !exists {
			report.Failed++
			log.Warn().Str("account", name).Msg("аккаунт не найден, пропускаем")
			continue
		}
		ok, _ := l.sender.Deliver(ctx, sender.Delivery{
			TaskID:  task.ID,
			Source:  domain.SourceScheduled,
			Account: name,
			Target:  target,
			Content: task.Content,
			Button:  task.Button,
		})
		if ok {
			sent++
			report.Sent++
		} else {
			report.Failed++
		}
		_ = l.clock.Sleep(ctx, l.pacing)
	}
	log.Info().Int("sent", sent).Int("accounts", len(accounts)).Msg("задача обработана")
	return ReasonAttempted
}

func (l *Loop) skip(ctx context.Context, task domain.ScheduledTask, reason error) {
	event := domain.DeliveryEvent{
		TaskID:   task.ID,
		Source:   domain.SourceScheduled,
		TargetID: task.TargetID,
		Status:   domain.DeliverySkipped,
		Reason:   reason.Error(),
		At:       l.clock.Now().UTC(),
	}
	if task.Content != nil {
		event.Kind = task.Content.Kind()
	}
	event.ID = task.ID + ":" + string(domain.DeliverySkipped)
	sender.Publish(ctx, l.events, event, l.log)
}
