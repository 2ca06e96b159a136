package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/infra/metrics"
	"tg-dispatch-bot/internal/usecase/stats"
	"tg-dispatch-bot/internal/usecase/store"
)

// ErrNoStager возвращается при отправке медиа без настроенного стейджера.
var ErrNoStager = errors.New("media stager is not configured")

// Store часть хранилища, нужная исполнителю.
type Store interface {
	Conn(name string) (*store.Conn, bool)
	RecordSend(ctx context.Context, account, target, preview string, at time.Time)
	RefreshConnected() int
}

// Delivery описывает одну попытку отправки аккаунт → получатель.
type Delivery struct {
	TaskID  string
	Source  domain.DeliverySource
	Account string
	Target  domain.Target
	Content domain.Content
	Button  *domain.Button
}

// Executor выполняет отправку от имени аккаунта и учитывает её в статистике.
type Executor struct {
	store  Store
	stager domain.MediaStager
	events domain.EventSink
	log    zerolog.Logger
	now    func() time.Time
}

// Option настраивает Executor.
type Option func(*Executor)

// WithEvents включает публикацию событий доставки.
func WithEvents(sink domain.EventSink) Option {
	return func(e *Executor) { e.events = sink }
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor создаёт исполнителя.
func NewExecutor(st Store, stager domain.MediaStager, logger zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		store:  st,
		stager: stager,
		log:    logger.With().Str("component", "sender").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send отправляет содержимое получателю от имени аккаунта.
func (e *Executor) Send(ctx context.Context, account string, target domain.Target, content domain.Content, button *domain.Button) (bool, error) {
	return e.Deliver(ctx, Delivery{Source: domain.SourceImmediate, Account: account, Target: target, Content: content, Button: button})
}

// Deliver выполняет одну попытку. Ошибка не пробрасывается паникой и не
// останавливает попытки других аккаунтов: результат возвращается значением.
// При неактивном подключении делается одна попытка переподключения.
func (e *Executor) Deliver(ctx context.Context, d Delivery) (bool, error) {
	err := e.deliver(ctx, d)
	ok := err == nil
	metrics.ObserveSend(d.Account, string(d.Source), ok)
	if ok {
		e.store.RecordSend(ctx, d.Account, d.Target.Display(), stats.Preview(d.Content), e.now())
		e.log.Info().Str("account", d.Account).Str("target", d.Target.ID()).Str("kind", string(d.Content.Kind())).Msg("сообщение отправлено")
	} else {
		e.log.Error().Err(err).Str("account", d.Account).Str("target", d.Target.ID()).Msg("ошибка отправки")
	}
	e.publish(ctx, d, err)
	return ok, err
}

func (e *Executor) deliver(ctx context.Context, d Delivery) error {
	if d.Content == nil {
		return domain.ErrInvalidContent
	}
	conn, ok := e.store.Conn(d.Account)
	if !ok {
		return fmt.Errorf("аккаунт %s: %w", d.Account, domain.ErrAccountNotFound)
	}
	reconnected := false
	err := conn.Do(func(client domain.PlatformClient) error {
		if !client.IsConnected() {
			reconnected = true
			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("переподключение %s: %w", d.Account, err)
			}
		}
		to := d.Target.Recipient()
		media, isMedia := d.Content.(domain.Media)
		if !isMedia {
			return client.SendText(ctx, to, d.Content.Body(), d.Button)
		}
		return e.sendMedia(ctx, client, to, media, d.Button)
	})
	if reconnected {
		e.store.RefreshConnected()
	}
	return err
}

func (e *Executor) sendMedia(ctx context.Context, client domain.PlatformClient, to domain.Recipient, media domain.Media, button *domain.Button) error {
	if e.stager == nil {
		return ErrNoStager
	}
	path, release, err := e.stager.Stage(ctx, media)
	if err != nil {
		return fmt.Errorf("подготовка медиа: %w", err)
	}
	defer release()
	return client.SendMedia(ctx, to, domain.MediaFile{Kind: media.Kind(), Path: path, Caption: media.Body()}, button)
}

func (e *Executor) publish(ctx context.Context, d Delivery, sendErr error) {
	if e.events == nil {
		return
	}
	event := domain.DeliveryEvent{
		ID:       uuid.NewString(),
		TaskID:   d.TaskID,
		Source:   d.Source,
		Account:  d.Account,
		TargetID: d.Target.ID(),
		Status:   domain.DeliverySent,
		At:       e.now().UTC(),
	}
	if d.Content != nil {
		event.Kind = d.Content.Kind()
	}
	if sendErr != nil {
		event.Status = domain.DeliveryFailed
		event.Reason = sendErr.Error()
	}
	Publish(ctx, e.events, event, e.log)
}

// Publish отправляет событие без влияния на результат доставки.
func Publish(ctx context.Context, sink domain.EventSink, event domain.DeliveryEvent, logger zerolog.Logger) {
	if sink == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := sink.Publish(pubCtx, event); err != nil {
		logger.Warn().Err(err).Str("target", event.TargetID).Msg("не удалось опубликовать событие доставки")
	}
}
