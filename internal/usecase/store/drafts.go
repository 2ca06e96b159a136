package store

import (
	"context"
	"fmt"

	"tg-dispatch-bot/internal/domain"
)

// Drafts возвращает черновики в порядке создания.
func (s *Store) Drafts() []domain.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Draft, len(s.drafts))
	for i, d := range s.drafts {
		out[i] = cloneDraft(d)
	}
	return out
}

// Draft возвращает черновик по номеру.
func (s *Store) Draft(id int) (domain.Draft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.draftIndexLocked(id)
	if idx < 0 {
		return domain.Draft{}, false
	}
	return cloneDraft(s.drafts[idx]), true
}

// CreateDraft создаёт черновик с номером на единицу больше максимального.
func (s *Store) CreateDraft(ctx context.Context, content domain.Content) (domain.Draft, error) {
	if content == nil {
		return domain.Draft{}, fmt.Errorf("черновик без содержимого: %w", domain.ErrInvalidContent)
	}
	s.mu.Lock()
	next := 1
	for _, d := range s.drafts {
		if d.ID >= next {
			next = d.ID + 1
		}
	}
	draft := domain.Draft{ID: next, Content: content}
	s.drafts = append(s.drafts, draft)
	snap, version := s.commitLocked()
	s.mu.Unlock()

	s.persistAfter(ctx, snap, version)
	return cloneDraft(draft), nil
}

// UpdateDraftContent заменяет содержимое черновика.
func (s *Store) UpdateDraftContent(ctx context.Context, id int, content domain.Content) error {
	if content == nil {
		return fmt.Errorf("черновик без содержимого: %w", domain.ErrInvalidContent)
	}
	return s.mutateDraft(ctx, id, func(d *domain.Draft) error {
		d.Content = content
		return nil
	})
}

// SetDraftTargets задаёт список получателей черновика. Все получатели должны существовать.
func (s *Store) SetDraftTargets(ctx context.Context, id int, targetIDs []string) error {
	return s.mutateDraft(ctx, id, func(d *domain.Draft) error {
		for _, tid := range targetIDs {
			if s.targetIndexLocked(tid) < 0 {
				return fmt.Errorf("получатель %s: %w", tid, domain.ErrTargetNotFound)
			}
		}
		d.TargetIDs = dedupe(targetIDs)
		return nil
	})
}

// SetDraftAccounts задаёт явный список аккаунтов черновика.
func (s *Store) SetDraftAccounts(ctx context.Context, id int, accounts []string) error {
	return s.mutateDraft(ctx, id, func(d *domain.Draft) error {
		for _, name := range accounts {
			if s.accountIndexLocked(name) < 0 {
				return fmt.Errorf("аккаунт %s: %w", name, domain.ErrAccountNotFound)
			}
		}
		d.Accounts = dedupe(accounts)
		return nil
	})
}

// RemoveDraft удаляет черновик.
func (s *Store) RemoveDraft(ctx context.Context, id int) error {
	s.mu.Lock()
	idx := s.draftIndexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("черновик %d: %w", id, domain.ErrDraftNotFound)
	}
	s.drafts = append(s.drafts[:idx:idx], s.drafts[idx+1:]...)
	snap, version := s.commitLocked()
	s.mu.Unlock()

	s.persistAfter(ctx, snap, version)
	return nil
}

func (s *Store) mutateDraft(ctx context.Context, id int, fn func(d *domain.Draft) error) error {
	s.mu.Lock()
	idx := s.draftIndexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("черновик %d: %w", id, domain.ErrDraftNotFound)
	}
	draft := cloneDraft(s.drafts[idx])
	if err := fn(&draft); err != nil {
		s.mu.Unlock()
		return err
	}
	s.drafts[idx] = draft
	snap, version := s.commitLocked()
	s.mu.Unlock()

	s.persistAfter(ctx, snap, version)
	return nil
}

func (s *Store) draftIndexLocked(id int) int {
	for i, d := range s.drafts {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func cloneDraft(d domain.Draft) domain.Draft {
	d.TargetIDs = append([]string(nil), d.TargetIDs...)
	d.Accounts = append([]string(nil), d.Accounts...)
	return d
}

func dedupe(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, item := range list {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
