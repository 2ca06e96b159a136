package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/usecase/sender"
)

type stubStore struct {
	targets  map[string]domain.Target
	drafts   map[int]domain.Draft
	accounts map[string]bool
}

func (s *stubStore) Target(id string) (domain.Target, bool) { t, ok := s.targets[id]; return t, ok }
func (s *stubStore) Draft(id int) (domain.Draft, bool)      { d, ok := s.drafts[id]; return d, ok }
func (s *stubStore) Account(name string) (domain.Account, bool) {
	return domain.Account{Name: name}, s.accounts[name]
}

type stubResolver struct{ pick []string }

func (r stubResolver) Resolve(explicit []string, target domain.Target) []string {
	if len(explicit) > 0 {
		return explicit
	}
	if len(target.AssignedAccounts) > 0 {
		return target.AssignedAccounts
	}
	return r.pick
}

type recordingSender struct {
	deliveries []sender.Delivery
	failFor    string
}

func (s *recordingSender) Deliver(_ context.Context, d sender.Delivery) (bool, error) {
	s.deliveries = append(s.deliveries, d)
	if d.Account == s.failFor {
		return false, errors.New("boom")
	}
	return true, nil
}

type countingSleeper struct{ calls int }

func (c *countingSleeper) Sleep(context.Context, time.Duration) error { c.calls++; return nil }

func TestSendNowFansOutAndPaces(t *testing.T) {
	alice := domain.UserTarget("alice")
	alice.AssignedAccounts = []string{"a1", "a2"}
	st := &stubStore{
		targets:  map[string]domain.Target{alice.ID(): alice},
		accounts: map[string]bool{"a1": true, "a2": true},
	}
	snd := &recordingSender{failFor: "a2"}
	sleeper := &countingSleeper{}
	svc := NewService(st, stubResolver{}, snd, sleeper, 2*time.Second, zerolog.Nop())

	button := &domain.Button{Label: "Go", URL: "https://example.com"}
	report := svc.SendNow(context.Background(), Request{
		TargetIDs: []string{alice.ID(), "user_missing"},
		Content:   domain.Text{Text: "hello"},
		Button:    button,
	})
	if report.Sent != 1 || report.Failed != 1 {
		t.Fatalf("неожиданный отчёт: %+v", report)
	}
	if sleeper.calls != 2 {
		t.Fatalf("ожидали паузу после каждой отправки, получили %d", sleeper.calls)
	}
	if snd.deliveries[0].Button != button || snd.deliveries[0].Source != domain.SourceImmediate {
		t.Fatalf("кнопка и источник должны передаваться исполнителю")
	}
	if !errors.Is(report.Results[1].Err, domain.ErrTargetNotFound) {
		t.Fatalf("ожидали ErrTargetNotFound для второго получателя")
	}
}

func TestSendNowWithoutAccounts(t *testing.T) {
	bob := domain.UserTarget("bob")
	st := &stubStore{targets: map[string]domain.Target{bob.ID(): bob}}
	snd := &recordingSender{}
	svc := NewService(st, stubResolver{}, snd, &countingSleeper{}, 0, zerolog.Nop())
	report := svc.SendNow(context.Background(), Request{TargetIDs: []string{bob.ID()}, Content: domain.Text{Text: "x"}})
	if !errors.Is(report.Results[0].Err, domain.ErrNoEligibleAccount) {
		t.Fatalf("ожидали ErrNoEligibleAccount, получили %v", report.Results[0].Err)
	}
	if len(snd.deliveries) != 0 {
		t.Fatalf("отправок быть не должно")
	}
}

func TestSendDraft(t *testing.T) {
	group := domain.GroupTarget(-42)
	st := &stubStore{
		targets:  map[string]domain.Target{group.ID(): group},
		drafts:   map[int]domain.Draft{1: {ID: 1, Content: domain.Text{Text: "draft"}, TargetIDs: []string{group.ID()}, Accounts: []string{"x"}}},
		accounts: map[string]bool{"x": true},
	}
	snd := &recordingSender{}
	svc := NewService(st, stubResolver{}, snd, &countingSleeper{}, 0, zerolog.Nop())
	report, err := svc.SendDraft(context.Background(), 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Sent != 1 || snd.deliveries[0].Account != "x" {
		t.Fatalf("ожидали отправку через явный аккаунт черновика: %+v", report)
	}
	if _, err := svc.SendDraft(context.Background(), 7); !errors.Is(err, domain.ErrDraftNotFound) {
		t.Fatalf("ожидали ErrDraftNotFound, получили %v", err)
	}
}
