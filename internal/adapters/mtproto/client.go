package mtproto

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/markup"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/infra/metrics"
)

// ErrUnauthorized возвращается, если сессия аккаунта не авторизована.
var ErrUnauthorized = errors.New("сессия аккаунта не авторизована")

// ErrPeerNotFound возвращается, если группа не найдена среди диалогов аккаунта.
var ErrPeerNotFound = errors.New("получатель не найден среди диалогов")

const channelIDShift = 1_000_000_000_000

// SessionStore выдаёт хранилище сессии gotd по имени аккаунта.
type SessionStore interface {
	SessionStorage(name string) session.Storage
}

// FileSessions хранит сессии в файлах DIR/<name>.json.
type FileSessions struct {
	Dir string
}

// SessionStorage возвращает файловое хранилище сессии.
func (f FileSessions) SessionStorage(name string) session.Storage {
	return &session.FileStorage{Path: filepath.Join(f.Dir, name+".json")}
}

// Client пользовательский MTProto-клиент одного аккаунта на базе gotd.
type Client struct {
	acc     domain.Account
	storage session.Storage
	limiter *rate.Limiter
	log     zerolog.Logger

	mu     sync.Mutex
	api    *tg.Client
	sender *message.Sender
	cancel context.CancelFunc
	done   chan struct{}
	peers  map[int64]tg.InputPeerClass
}

var _ domain.PlatformClient = (*Client)(nil)

// NewClient создаёт клиент. limiter общий для всех аккаунтов, nil отключает ограничение.
func NewClient(acc domain.Account, storage session.Storage, limiter *rate.Limiter, log zerolog.Logger) *Client {
	return &Client{
		acc:     acc,
		storage: storage,
		limiter: limiter,
		log:     log.With().Str("account", acc.Name).Logger(),
	}
}

// Connect поднимает соединение и проверяет авторизацию сессии.
func (c *Client) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	start := time.Now()
	api, done, cancel, err := runClient(ctx, c.acc, c.storage, true)
	metrics.ObserveNetworkRequest("mtproto", "connect", c.acc.Name, start, err)
	if err != nil {
		return fmt.Errorf("подключение %s: %w", c.acc.Name, err)
	}

	c.mu.Lock()
	c.api = api
	c.sender = message.NewSender(api)
	c.cancel = cancel
	c.done = done
	c.peers = nil
	c.mu.Unlock()
	c.log.Info().Msg("аккаунт подключён")
	return nil
}

// IsConnected сообщает, активен ли цикл клиента.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Disconnect останавливает клиент и ждёт завершения цикла.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.api, c.sender, c.cancel, c.done = nil, nil, nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendText отправляет текст с необязательной кнопкой-ссылкой.
func (c *Client) SendText(ctx context.Context, to domain.Recipient, text string, button *domain.Button) error {
	return c.send(ctx, "send_text", func(b *message.Builder) error {
		_, err := b.Text(ctx, text)
		return err
	}, to, button)
}

// SendMedia загружает локальный файл и отправляет его как фото, видео или документ.
func (c *Client) SendMedia(ctx context.Context, to domain.Recipient, file domain.MediaFile, button *domain.Button) error {
	return c.send(ctx, "send_"+string(file.Kind), func(b *message.Builder) error {
		api, _ := c.session()
		uploaded, err := uploader.NewUploader(api).FromPath(ctx, file.Path)
		if err != nil {
			return fmt.Errorf("загрузка файла: %w", err)
		}
		var caption []styling.StyledTextOption
		if file.Caption != "" {
			caption = append(caption, styling.Plain(file.Caption))
		}
		var media message.MediaOption
		switch file.Kind {
		case domain.KindPhoto:
			media = message.UploadedPhoto(uploaded, caption...)
		case domain.KindVideo:
			media = message.UploadedDocument(uploaded, caption...).Filename(filepath.Base(file.Path)).Video()
		default:
			media = message.UploadedDocument(uploaded, caption...).Filename(filepath.Base(file.Path))
		}
		_, err = b.Media(ctx, media)
		return err
	}, to, button)
}

func (c *Client) send(ctx context.Context, op string, fn func(b *message.Builder) error, to domain.Recipient, button *domain.Button) error {
	api, sender := c.session()
	if api == nil {
		return domain.ErrNotConnected
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	err := func() error {
		builder, err := c.builder(ctx, api, sender, to)
		if err != nil {
			return err
		}
		if button != nil {
			builder = builder.Markup(markup.InlineRow(markup.URL(button.Label, button.URL)))
		}
		return fn(builder)
	}()
	metrics.ObserveNetworkRequest("mtproto", op, c.acc.Name, start, err)
	if d, ok := tgerr.AsFloodWait(err); ok {
		c.log.Warn().Dur("wait", d).Str("to", to.String()).Msg("flood wait от Telegram")
	}
	return err
}

func (c *Client) session() (*tg.Client, *message.Sender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.api, c.sender
}

func (c *Client) builder(ctx context.Context, api *tg.Client, sender *message.Sender, to domain.Recipient) (*message.Builder, error) {
	if to.Username != "" {
		return &sender.Resolve(to.Username).Builder, nil
	}
	peer, err := c.peer(ctx, api, to.ChatID)
	if err != nil {
		return nil, err
	}
	return &sender.To(peer).Builder, nil
}

// peer ищет InputPeer по идентификатору в формате Bot API.
func (c *Client) peer(ctx context.Context, api *tg.Client, chatID int64) (tg.InputPeerClass, error) {
	if chatID < 0 && chatID > -channelIDShift {
		return &tg.InputPeerChat{ChatID: -chatID}, nil
	}
	c.mu.Lock()
	cached, ok := c.peers[chatID]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	peers, err := dialogPeers(ctx, api)
	if err != nil {
		return nil, fmt.Errorf("загрузка диалогов: %w", err)
	}
	c.mu.Lock()
	c.peers = peers
	c.mu.Unlock()
	if p, ok := peers[chatID]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("chat_id %d: %w", chatID, ErrPeerNotFound)
}

func dialogPeers(ctx context.Context, api *tg.Client) (map[int64]tg.InputPeerClass, error) {
	res, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      100,
	})
	if err != nil {
		return nil, err
	}
	modified, ok := res.AsModified()
	if !ok {
		return map[int64]tg.InputPeerClass{}, nil
	}
	peers := make(map[int64]tg.InputPeerClass)
	for _, chat := range modified.GetChats() {
		switch ch := chat.(type) {
		case *tg.Chat:
			peers[-ch.ID] = &tg.InputPeerChat{ChatID: ch.ID}
		case *tg.Channel:
			peers[-(channelIDShift + ch.ID)] = &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
		}
	}
	for _, u := range modified.GetUsers() {
		if user, ok := u.(*tg.User); ok {
			peers[user.ID] = &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash}
		}
	}
	return peers, nil
}

// runClient запускает telegram.Client в фоне и ждёт готовности.
// Клиент живёт до вызова cancel.
func runClient(ctx context.Context, acc domain.Account, storage session.Storage, requireAuth bool) (*tg.Client, chan struct{}, context.CancelFunc, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	client := telegram.NewClient(acc.APIID, acc.APIHash, telegram.Options{
		SessionStorage: storage,
		NoUpdates:      true,
	})

	ready := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := client.Run(runCtx, func(ctx context.Context) error {
			if requireAuth {
				status, err := client.Auth().Status(ctx)
				if err != nil {
					ready <- err
					return err
				}
				if !status.Authorized {
					ready <- ErrUnauthorized
					return ErrUnauthorized
				}
			}
			ready <- nil
			<-ctx.Done()
			return ctx.Err()
		})
		if err == nil {
			err = errors.New("клиент остановлен")
		}
		select {
		case ready <- err:
		default:
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			<-done
			return nil, nil, nil, err
		}
	case <-ctx.Done():
		cancel()
		<-done
		return nil, nil, nil, ctx.Err()
	}
	return client.API(), done, cancel, nil
}

// Factory создаёт клиентов для аккаунтов.
type Factory struct {
	sessions SessionStore
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// NewFactory создаёт фабрику. rps ограничивает суммарную частоту отправок, 0 снимает ограничение.
func NewFactory(sessions SessionStore, rps float64, log zerolog.Logger) *Factory {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Factory{sessions: sessions, limiter: limiter, log: log}
}

// NewClient создаёт клиент аккаунта.
func (f *Factory) NewClient(acc domain.Account) domain.PlatformClient {
	return NewClient(acc, f.sessions.SessionStorage(acc.Name), f.limiter, f.log)
}

// Sessions возвращает хранилище сессий фабрики.
func (f *Factory) Sessions() SessionStore {
	return f.sessions
}
