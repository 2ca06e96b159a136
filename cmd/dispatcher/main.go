package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"tg-dispatch-bot/internal/adapters/api"
	"tg-dispatch-bot/internal/adapters/bot"
	"tg-dispatch-bot/internal/adapters/mtproto"
	"tg-dispatch-bot/internal/adapters/repo"
	"tg-dispatch-bot/internal/adapters/telegram"
	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/infra/config"
	httpinfra "tg-dispatch-bot/internal/infra/http"
	"tg-dispatch-bot/internal/infra/log"
	"tg-dispatch-bot/internal/infra/metrics"
	"tg-dispatch-bot/internal/usecase/assign"
	"tg-dispatch-bot/internal/usecase/broadcast"
	"tg-dispatch-bot/internal/usecase/dispatch"
	"tg-dispatch-bot/internal/usecase/schedule"
	"tg-dispatch-bot/internal/usecase/sender"
	"tg-dispatch-bot/internal/usecase/store"
)

const shutdownTimeout = 2 * time.Minute

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv, cfg.LogLevel)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("dispatcher: не удалось открыть хранилище")
	}
	defer infra.Close()

	factory := mtproto.NewFactory(infra.sessions, cfg.MTProto.GlobalRPS, logger)
	st := store.New(repo.NewRepository(infra.backend, logger), factory, logger)
	if err := st.Init(ctx); err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: не удалось загрузить состояние")
	}
	connected := st.ConnectAll(ctx)
	logger.Info().Int("connected", connected).Int("accounts", len(st.Accounts())).Int("tasks", len(st.Tasks())).Msg("dispatcher: состояние загружено")

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: не удалось создать бота")
	}
	logger.Info().Str("bot", botAPI.Self.UserName).Msg("dispatcher: бот авторизован")

	sink, closeSink, err := openEventSink(cfg, infra.redis)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Events.Driver).Msg("dispatcher: не удалось настроить события")
	}
	defer closeSink()

	stager := telegram.NewStager(botAPI, &http.Client{Timeout: 2 * time.Minute}, cfg.Storage.MediaDir, logger)
	var senderOpts []sender.Option
	loopOpts := []dispatch.Option{
		dispatch.WithInterval(cfg.Dispatch.Interval),
		dispatch.WithPacing(cfg.Dispatch.Pacing),
	}
	if sink != nil {
		senderOpts = append(senderOpts, sender.WithEvents(sink))
		loopOpts = append(loopOpts, dispatch.WithEvents(sink))
	}
	executor := sender.NewExecutor(st, stager, logger, senderOpts...)
	resolver := assign.NewResolver(st, nil)

	loop := dispatch.NewLoop(st, resolver, executor, logger, loopOpts...)
	runner := dispatch.NewRunner("dispatch", loop.Run, logger)
	runner.Start(ctx)

	scheduler := schedule.NewService(st)
	broadcaster := broadcast.NewService(st, resolver, executor, dispatch.SystemClock{}, cfg.Dispatch.Pacing, logger)

	handler := bot.NewHandler(botAPI, logger, st, scheduler, broadcaster, loginStarter(factory.Sessions()), bot.Config{
		Operators:     domain.NewOperators(cfg.Operators),
		DisplayOffset: cfg.Dispatch.DisplayOffset,
	})

	srv := httpinfra.NewServer(logger)
	api.NewHandler(st, scheduler, cfg.Dispatch.DisplayOffset, logger).Mount(srv.Router, cfg.HTTP.AdminToken)

	updates := newUpdateSource(botAPI, handler, infra.redis, logger)
	if cfg.Telegram.WebhookURL != "" {
		srv.Router.With(httpinfra.WebhookSecret(cfg.Telegram.WebhookSecret)).Post("/bot/webhook", updates.ServeHTTP)
		if err := updates.SetWebhook(cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			logger.Fatal().Err(err).Msg("dispatcher: не удалось установить webhook")
		}
	} else {
		if err := updates.StartPolling(ctx); err != nil {
			logger.Fatal().Err(err).Msg("dispatcher: не удалось запустить long polling")
		}
	}

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("dispatcher: HTTP сервер остановлен")
		}
	}()
	if cfg.HTTP.MetricsAddr != "" {
		metrics.StartServer(ctx, logger, cfg.HTTP.MetricsAddr)
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn().Err(err).Msg("dispatcher: sd_notify READY не доставлен")
	}
	logger.Info().Msg("dispatcher: запущен")

	<-ctx.Done()
	logger.Info().Msg("dispatcher: остановка")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := updates.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("dispatcher: приём апдейтов не остановился вовремя")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("dispatcher: HTTP сервер остановлен с ошибкой")
	}
	if err := runner.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("dispatcher: планировщик не остановился вовремя")
	}
	handler.Wait()
	if err := st.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("dispatcher: не удалось сохранить состояние при остановке")
	}
	logger.Info().Msg("dispatcher: остановлен")
}
