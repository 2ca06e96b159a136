package schedule

import (
	"context"
	"fmt"
	"time"

	"tg-dispatch-bot/internal/domain"
)

// Store часть хранилища, нужная планированию.
type Store interface {
	Target(id string) (domain.Target, bool)
	Draft(id int) (domain.Draft, bool)
	EnqueueTask(ctx context.Context, task domain.ScheduledTask) (domain.ScheduledTask, error)
}

// Request описывает отложенную отправку на несколько получателей.
// Пустой Accounts означает снимок закреплённых за получателем аккаунтов на момент планирования.
type Request struct {
	TargetIDs []string
	Content   domain.Content
	Button    *domain.Button
	Accounts  []string
	Due       time.Time
}

// Service ставит отложенные отправки в очередь.
type Service struct {
	store Store
}

// NewService создаёт сервис.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Schedule создаёт по задаче на каждого получателя.
func (s *Service) Schedule(ctx context.Context, req Request) ([]domain.ScheduledTask, error) {
	if len(req.TargetIDs) == 0 {
		return nil, fmt.Errorf("не выбраны получатели: %w", domain.ErrTargetNotFound)
	}
	if req.Content == nil {
		return nil, domain.ErrInvalidContent
	}
	if req.Due.IsZero() {
		return nil, fmt.Errorf("не задано время: %w", domain.ErrInvalidTime)
	}
	tasks := make([]domain.ScheduledTask, 0, len(req.TargetIDs))
	for _, tid := range req.TargetIDs {
		target, ok := s.store.Target(tid)
		if !ok {
			return tasks, fmt.Errorf("получатель %s: %w", tid, domain.ErrTargetNotFound)
		}
		accounts := req.Accounts
		if len(accounts) == 0 {
			accounts = target.AssignedAccounts
		}
		task, err := s.store.EnqueueTask(ctx, domain.ScheduledTask{
			Due:      req.Due,
			TargetID: tid,
			Content:  req.Content,
			Button:   req.Button,
			Accounts: append([]string(nil), accounts...),
		})
		if err != nil {
			return tasks, fmt.Errorf("постановка задачи для %s: %w", tid, err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// ScheduleDraft ставит в очередь черновик на всех его получателей.
func (s *Service) ScheduleDraft(ctx context.Context, draftID int, due time.Time) ([]domain.ScheduledTask, error) {
	draft, ok := s.store.Draft(draftID)
	if !ok {
		return nil, fmt.Errorf("черновик %d: %w", draftID, domain.ErrDraftNotFound)
	}
	return s.Schedule(ctx, Request{
		TargetIDs: draft.TargetIDs,
		Content:   draft.Content,
		Accounts:  draft.Accounts,
		Due:       due,
	})
}
