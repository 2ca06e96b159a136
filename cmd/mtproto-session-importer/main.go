package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gotd/td/session"
	"github.com/rs/zerolog/log"

	"tg-dispatch-bot/internal/adapters/mtproto"
	"tg-dispatch-bot/internal/adapters/repo"
	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/infra/cache"
	"tg-dispatch-bot/internal/infra/config"
	"tg-dispatch-bot/internal/infra/db"
)

// Импорт выполняется при остановленном dispatcher: состояние перечитывается и перезаписывается целиком.
func main() {
	var (
		filePath string
		acc      domain.Account
	)
	flag.StringVar(&filePath, "file", "", "Путь к сессии: Telethon .session (SQLite), строка Telethon или JSON gotd")
	flag.StringVar(&acc.Name, "name", "", "Имя аккаунта")
	flag.IntVar(&acc.APIID, "api-id", 0, "api_id аккаунта")
	flag.StringVar(&acc.APIHash, "api-hash", "", "api_hash аккаунта")
	flag.StringVar(&acc.Phone, "phone", "", "Телефон аккаунта")
	flag.Parse()

	if filePath == "" || acc.Name == "" {
		log.Fatal().Msg("mtproto-importer: нужны -file и -name")
	}

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := mtproto.LoadSessionFile(ctx, filePath)
	if err != nil {
		log.Fatal().Err(err).Str("file", filePath).Msg("mtproto-importer: неподдерживаемый формат сессии")
	}

	var (
		backend  repo.Backend
		sessions session.Storage
	)
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("mtproto-importer: нет подключения к БД")
		}
		defer pool.Close()
		pg := repo.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("mtproto-importer: миграция не удалась")
		}
		backend, sessions = pg, pg.SessionStorage(acc.Name)
	case "redis":
		client, err := cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("mtproto-importer: нет подключения к Redis")
		}
		defer client.Close()
		backend = repo.NewRedis(client, cfg.Storage.RedisPrefix)
	default:
		backend = repo.NewFileBackend(cfg.Storage.DataDir, cfg.FileOverrides())
	}
	if sessions == nil {
		if err := os.MkdirAll(cfg.MTProto.SessionsDir, 0o700); err != nil {
			log.Fatal().Err(err).Msg("mtproto-importer: не удалось создать каталог сессий")
		}
		sessions = mtproto.FileSessions{Dir: cfg.MTProto.SessionsDir}.SessionStorage(acc.Name)
	}

	if err := sessions.StoreSession(ctx, data); err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: не удалось сохранить сессию")
	}

	repository := repo.NewRepository(backend, log.Logger)
	state, err := repository.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: не удалось прочитать состояние")
	}
	registered := false
	for i, existing := range state.Accounts {
		if existing.Name != acc.Name {
			continue
		}
		registered = true
		if acc.APIID != 0 {
			state.Accounts[i] = acc
		}
	}
	if !registered {
		if acc.APIID == 0 || acc.APIHash == "" {
			log.Fatal().Str("account", acc.Name).Msg("mtproto-importer: для нового аккаунта нужны -api-id и -api-hash")
		}
		state.Accounts = append(state.Accounts, acc)
	}
	if err := repository.Save(ctx, state); err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: не удалось сохранить аккаунт")
	}

	fmt.Printf("Сессия %q импортирована (%d байт), новый аккаунт: %v\n", acc.Name, len(data), !registered)
}
