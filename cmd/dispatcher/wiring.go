package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-dispatch-bot/internal/adapters/bot"
	"tg-dispatch-bot/internal/adapters/mtproto"
	"tg-dispatch-bot/internal/adapters/repo"
	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/infra/cache"
	"tg-dispatch-bot/internal/infra/config"
	"tg-dispatch-bot/internal/infra/db"
	"tg-dispatch-bot/internal/infra/queue"
)

// storage собирает бэкенд состояния, хранилище сессий и общие клиенты.
type storage struct {
	backend  repo.Backend
	sessions mtproto.SessionStore
	pool     *pgxpool.Pool
	redis    *redis.Client
}

func openStorage(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*storage, error) {
	s := &storage{}
	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		s.redis = client
	}

	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		s.pool = pool
		pg := repo.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("миграция: %w", err)
		}
		s.backend = pg
		s.sessions = pg
		logger.Info().Msg("dispatcher: состояние и сессии хранятся в Postgres")
		return s, nil
	case "redis":
		s.backend = repo.NewRedis(s.redis, cfg.Storage.RedisPrefix)
	default:
		s.backend = repo.NewFileBackend(cfg.Storage.DataDir, cfg.FileOverrides())
	}

	if err := os.MkdirAll(cfg.MTProto.SessionsDir, 0o700); err != nil {
		s.Close()
		return nil, fmt.Errorf("каталог сессий: %w", err)
	}
	s.sessions = mtproto.FileSessions{Dir: cfg.MTProto.SessionsDir}
	logger.Info().Str("driver", cfg.Storage.Driver).Str("sessions", cfg.MTProto.SessionsDir).Msg("dispatcher: хранилище открыто")
	return s, nil
}

func (s *storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

func openEventSink(cfg config.AppConfig, client *redis.Client) (domain.EventSink, func(), error) {
	switch cfg.Events.Driver {
	case "":
		return nil, func() {}, nil
	case "rabbitmq":
		sink, err := queue.NewRabbitEventSink(cfg.Events.AMQPURL, cfg.Events.Queue)
		if err != nil {
			return nil, nil, err
		}
		return sink, func() { _ = sink.Close() }, nil
	case "redis":
		if client == nil {
			return nil, nil, errors.New("для EVENTS_DRIVER=redis нужен REDIS_ADDR")
		}
		return queue.NewRedisEventSink(client, cfg.Events.Queue), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("EVENTS_DRIVER=%q: ожидали rabbitmq или redis", cfg.Events.Driver)
	}
}

// loginSession переводит ошибки входа MTProto в ошибки диалога бота.
type loginSession struct {
	*mtproto.Login
}

func (l loginSession) SubmitCode(ctx context.Context, code string) error {
	err := l.Login.SubmitCode(ctx, code)
	switch {
	case errors.Is(err, mtproto.ErrPasswordNeeded):
		return bot.ErrPasswordNeeded
	case errors.Is(err, mtproto.ErrCodeExpired):
		return bot.ErrCodeExpired
	}
	return err
}

func loginStarter(sessions mtproto.SessionStore) bot.LoginStarter {
	return func(ctx context.Context, acc domain.Account) (bot.LoginSession, error) {
		login, err := mtproto.StartLogin(ctx, acc, sessions.SessionStorage(acc.Name))
		if err != nil {
			return nil, err
		}
		return loginSession{Login: login}, nil
	}
}
