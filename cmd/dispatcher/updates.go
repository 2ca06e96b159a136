package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-dispatch-bot/internal/adapters/bot"
	"tg-dispatch-bot/internal/infra/cache"
	httpinfra "tg-dispatch-bot/internal/infra/http"
)

const updateDedupeTTL = 24 * time.Hour

// updateSource доставляет апдейты бота обработчику через long polling или webhook.
type updateSource struct {
	api     *tgbotapi.BotAPI
	handler *bot.Handler
	dedupe  *cache.RedisCache
	log     zerolog.Logger

	done chan struct{}
}

func newUpdateSource(api *tgbotapi.BotAPI, handler *bot.Handler, client *redis.Client, logger zerolog.Logger) *updateSource {
	s := &updateSource{api: api, handler: handler, log: logger.With().Str("component", "updates").Logger()}
	if client != nil {
		s.dedupe = cache.NewRedis(client)
	}
	return s
}

// StartPolling снимает webhook и читает апдейты в фоне до Stop.
func (s *updateSource) StartPolling(ctx context.Context) error {
	if _, err := s.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("снятие webhook: %w", err)
	}
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := s.api.GetUpdatesChan(cfg)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		for upd := range updates {
			s.handler.HandleUpdate(ctx, upd)
		}
	}()
	s.log.Info().Msg("long polling запущен")
	return nil
}

// SetWebhook регистрирует адрес webhook вместе с секретом.
func (s *updateSource) SetWebhook(url, secret string) error {
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	if _, err := s.api.MakeRequest("setWebhook", params); err != nil {
		return err
	}
	s.log.Info().Str("url", url).Msg("webhook установлен")
	return nil
}

// ServeHTTP принимает апдейт webhook. Повторные доставки отсеиваются через Redis, если он настроен.
func (s *updateSource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var upd tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "некорректный апдейт")
		return
	}
	handle := func() error {
		s.handler.HandleUpdate(r.Context(), upd)
		return nil
	}
	if s.dedupe == nil {
		_ = handle()
	} else if err := s.dedupe.Once(r.Context(), fmt.Sprintf("dispatch:update:%d", upd.UpdateID), updateDedupeTTL, handle); err != nil {
		s.log.Warn().Err(err).Int("update", upd.UpdateID).Msg("redis недоступен, апдейт обработан без отсева")
		_ = handle()
	}
	w.WriteHeader(http.StatusOK)
}

// Stop останавливает long polling и ждёт обработки последнего апдейта.
func (s *updateSource) Stop(ctx context.Context) error {
	if s.done == nil {
		return nil
	}
	s.api.StopReceivingUpdates()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
