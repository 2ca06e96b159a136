package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/usecase/sender"
)

// Store часть хранилища, нужная немедленной рассылке.
type Store interface {
	Target(id string) (domain.Target, bool)
	Draft(id int) (domain.Draft, bool)
	Account(name string) (domain.Account, bool)
}

// Resolver выбирает аккаунты для получателя.
type Resolver interface {
	Resolve(explicit []string, target domain.Target) []string
}

// Sender выполняет одну попытку отправки.
type Sender interface {
	Deliver(ctx context.Context, d sender.Delivery) (bool, error)
}

// Sleeper выдерживает паузу между отправками.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Request немедленная отправка на несколько получателей.
type Request struct {
	TargetIDs []string
	Content   domain.Content
	Button    *domain.Button
	Accounts  []string
}

// Result итог по одному получателю.
type Result struct {
	TargetID string
	Display  string
	Accounts []string
	Sent     int
	Failed   int
	Err      error
}

// Report итог рассылки.
type Report struct {
	Results []Result
	Sent    int
	Failed  int
}

// Service отправляет сообщения сразу, с той же политикой выбора
// аккаунтов и паузами, что и планировщик.
type Service struct {
	store    Store
	resolver Resolver
	sender   Sender
	sleeper  Sleeper
	pacing   time.Duration
	log      zerolog.Logger
}

// NewService создаёт сервис немедленной рассылки.
func NewService(st Store, resolver Resolver, snd Sender, sleeper Sleeper, pacing time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		store:    st,
		resolver: resolver,
		sender:   snd,
		sleeper:  sleeper,
		pacing:   pacing,
		log:      logger.With().Str("component", "broadcast").Logger(),
	}
}

// SendNow отправляет содержимое всем получателям по порядку.
func (s *Service) SendNow(ctx context.Context, req Request) Report {
	var report Report
	for _, tid := range req.TargetIDs {
		res := s.sendTarget(ctx, tid, req)
		report.Sent += res.Sent
		report.Failed += res.Failed
		report.Results = append(report.Results, res)
	}
	s.log.Info().Int("targets", len(req.TargetIDs)).Int("sent", report.Sent).Int("failed", report.Failed).Msg("немедленная рассылка завершена")
	return report
}

// SendDraft отправляет черновик его получателям.
func (s *Service) SendDraft(ctx context.Context, id int) (Report, error) {
	draft, ok := s.store.Draft(id)
	if !ok {
		return Report{}, fmt.Errorf("черновик %d: %w", id, domain.ErrDraftNotFound)
	}
	if len(draft.TargetIDs) == 0 {
		return Report{}, fmt.Errorf("у черновика %d нет получателей: %w", id, domain.ErrTargetNotFound)
	}
	return s.SendNow(ctx, Request{TargetIDs: draft.TargetIDs, Content: draft.Content, Accounts: draft.Accounts}), nil
}

func (s *Service) sendTarget(ctx context.Context, tid string, req Request) Result {
	res := Result{TargetID: tid, Display: tid}
	target, ok := s.store.Target(tid)
	if !ok {
		res.Err = fmt.Errorf("получатель %s: %w", tid, domain.ErrTargetNotFound)
		return res
	}
	res.Display = target.Display()
	res.Accounts = s.resolver.Resolve(req.Accounts, target)
	if len(res.Accounts) == 0 {
		res.Err = domain.ErrNoEligibleAccount
		return res
	}
	for _, name := range res.Accounts {
		if _, exists := s.store.Account(name); !exists {
			res.Failed++
			continue
		}
		ok, _ := s.sender.Deliver(ctx, sender.Delivery{
			Source:  domain.SourceImmediate,
			Account: name,
			Target:  target,
			Content: req.Content,
			Button:  req.Button,
		})
		if ok {
			res.Sent++
		} else {
			res.Failed++
		}
		if err := s.sleeper.Sleep(ctx, s.pacing); err != nil {
			res.Err = err
			return res
		}
	}
	return res
}
