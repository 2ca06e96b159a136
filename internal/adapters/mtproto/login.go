package mtproto

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/infra/metrics"
)

var (
	// ErrPasswordNeeded сессии требуется пароль двухфакторной защиты.
	ErrPasswordNeeded = errors.New("требуется пароль 2FA")
	// ErrCodeExpired код истёк, новый код уже отправлен.
	ErrCodeExpired = errors.New("код истёк, отправлен новый")
	// ErrLoginFinished вход уже завершён или отменён.
	ErrLoginFinished = errors.New("вход завершён")
)

// Login интерактивный вход аккаунта по коду из Telegram.
// Сессия сохраняется в хранилище, после чего аккаунт подключается обычным клиентом.
type Login struct {
	acc domain.Account

	mu       sync.Mutex
	api      *tg.Client
	auth     *auth.Client
	codeHash string
	cancel   context.CancelFunc
	done     chan struct{}
	finished bool
}

// StartLogin подключается без авторизации и запрашивает код входа.
func StartLogin(ctx context.Context, acc domain.Account, storage session.Storage) (*Login, error) {
	api, done, cancel, err := runClient(ctx, acc, storage, false)
	if err != nil {
		return nil, fmt.Errorf("подключение %s: %w", acc.Name, err)
	}
	l := &Login{acc: acc, api: api, auth: auth.NewClient(api, crand.Reader, acc.APIID, acc.APIHash), cancel: cancel, done: done}
	if err := l.sendCode(ctx); err != nil {
		l.Cancel()
		return nil, err
	}
	return l, nil
}

func (l *Login) sendCode(ctx context.Context) error {
	start := time.Now()
	sent, err := l.auth.SendCode(ctx, l.acc.Phone, auth.SendCodeOptions{})
	metrics.ObserveNetworkRequest("mtproto", "send_code", l.acc.Name, start, err)
	if err != nil {
		return fmt.Errorf("отправка кода: %w", err)
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return fmt.Errorf("неожиданный ответ на запрос кода: %T", sent)
	}
	l.mu.Lock()
	l.codeHash = code.PhoneCodeHash
	l.mu.Unlock()
	return nil
}

// SubmitCode завершает вход кодом. ErrPasswordNeeded означает, что нужен SubmitPassword.
func (l *Login) SubmitCode(ctx context.Context, code string) error {
	l.mu.Lock()
	if l.finished {
		l.mu.Unlock()
		return ErrLoginFinished
	}
	hash := l.codeHash
	l.mu.Unlock()

	start := time.Now()
	_, err := l.auth.SignIn(ctx, l.acc.Phone, code, hash)
	metrics.ObserveNetworkRequest("mtproto", "sign_in", l.acc.Name, start, err)
	switch {
	case err == nil:
		l.finish()
		return nil
	case errors.Is(err, auth.ErrPasswordAuthNeeded):
		return ErrPasswordNeeded
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		if resendErr := l.sendCode(ctx); resendErr != nil {
			return resendErr
		}
		return ErrCodeExpired
	default:
		return fmt.Errorf("вход по коду: %w", err)
	}
}

// SubmitPassword завершает вход паролем 2FA.
func (l *Login) SubmitPassword(ctx context.Context, password string) error {
	l.mu.Lock()
	if l.finished {
		l.mu.Unlock()
		return ErrLoginFinished
	}
	l.mu.Unlock()

	start := time.Now()
	_, err := l.auth.Password(ctx, password)
	metrics.ObserveNetworkRequest("mtproto", "password", l.acc.Name, start, err)
	if err != nil {
		return fmt.Errorf("вход по паролю: %w", err)
	}
	l.finish()
	return nil
}

// Account возвращает аккаунт, для которого идёт вход.
func (l *Login) Account() domain.Account {
	return l.acc
}

func (l *Login) finish() {
	l.mu.Lock()
	l.finished = true
	l.mu.Unlock()
	l.Cancel()
}

// Cancel останавливает клиент входа. Повторные вызовы безопасны.
func (l *Login) Cancel() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
