package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/usecase/assign"
	"tg-dispatch-bot/internal/usecase/sender"
	"tg-dispatch-bot/internal/usecase/store"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	stopAt time.Time
	cancel context.CancelFunc
	slept  []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	stop := !c.stopAt.IsZero() && !c.now.Before(c.stopAt)
	c.mu.Unlock()
	if stop && c.cancel != nil {
		c.cancel()
		return context.Canceled
	}
	return nil
}

type memPersistence struct{ state domain.State }

func (m *memPersistence) Load(context.Context) (domain.State, error) { return m.state.Clone(), nil }
func (m *memPersistence) Save(_ context.Context, s domain.State) error {
	m.state = s.Clone()
	return nil
}

type okClient struct {
	connected bool
	sent      int
	fail      bool
}

func (c *okClient) Connect(context.Context) error { c.connected = true; return nil }
func (c *okClient) IsConnected() bool             { return c.connected }
func (c *okClient) SendText(context.Context, domain.Recipient, string, *domain.Button) error {
	if c.fail {
		return errors.New("send failed")
	}
	c.sent++
	return nil
}
func (c *okClient) SendMedia(context.Context, domain.Recipient, domain.MediaFile, *domain.Button) error {
	c.sent++
	return nil
}
func (c *okClient) Disconnect(context.Context) error { return nil }

type clientSet map[string]*okClient

func (s clientSet) NewClient(acc domain.Account) domain.PlatformClient { return s[acc.Name] }

type harness struct {
	store   *store.Store
	persist *memPersistence
	clients clientSet
	clock   *fakeClock
	loop    *Loop
}

func newHarness(t *testing.T, state domain.State, clients clientSet, now time.Time) *harness {
	t.Helper()
	p := &memPersistence{state: state}
	st := store.New(p, clients, zerolog.Nop())
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	clock := &fakeClock{now: now}
	exec := sender.NewExecutor(st, nil, zerolog.Nop(), sender.WithClock(clock.Now))
	loop := NewLoop(st, assign.NewResolver(st, nil), exec, zerolog.Nop(), WithClock(clock))
	return &harness{store: st, persist: p, clients: clients, clock: clock, loop: loop}
}

func textTask(id, target string, due time.Time, accounts ...string) domain.ScheduledTask {
	return domain.ScheduledTask{ID: id, Due: due, TargetID: target, Content: domain.Text{Text: id}, Accounts: accounts}
}

func TestPassRetiresDueAndKeepsFuture(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	target := domain.UserTarget("alice")
	h := newHarness(t, domain.State{
		Accounts: []domain.Account{{Name: "a1"}},
		Targets:  []domain.Target{target},
		Tasks: []domain.ScheduledTask{
			textTask("past", target.ID(), now.Add(-time.Minute)),
			textTask("exact", target.ID(), now),
			textTask("future", target.ID(), now.Add(time.Second)),
		},
	}, clientSet{"a1": &okClient{connected: true}}, now)

	report := h.loop.Pass(context.Background())
	if report.Due != 2 || report.Retired != 2 || report.Sent != 2 {
		t.Fatalf("неожиданный отчёт: %+v", report)
	}
	tasks := h.store.Tasks()
	if len(tasks) != 1 || tasks[0].ID != "future" {
		t.Fatalf("будущая задача должна остаться в очереди: %+v", tasks)
	}
	if len(h.persist.state.Tasks) != 1 {
		t.Fatalf("снятие задач должно быть сохранено")
	}
}

func TestScenarioTwoAccountsAfterOnePoll(t *testing.T) {
	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	target := domain.GroupTarget(-100123)
	target.AssignedAccounts = []string{"a1", "a2"}
	clients := clientSet{"a1": &okClient{connected: true}, "a2": &okClient{connected: true}}
	h := newHarness(t, domain.State{
		Accounts: []domain.Account{{Name: "a1"}, {Name: "a2"}},
		Targets:  []domain.Target{target},
		Tasks:    []domain.ScheduledTask{textTask("t", target.ID(), start.Add(-5*time.Minute))},
	}, clients, start)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.clock.stopAt = start.Add(35 * time.Second)
	h.clock.cancel = cancel
	if err := h.loop.Run(ctx); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	for _, name := range []string{"a1", "a2"} {
		acc, ok := h.store.AccountStats(name)
		if !ok || len(acc.History) != 1 {
			t.Fatalf("у %s ожидали одну запись, получили %+v", name, acc)
		}
	}
	if len(h.store.Tasks()) != 0 {
		t.Fatalf("задача должна быть снята")
	}
	if h.clock.slept[0] != DefaultInterval || h.clock.slept[1] != DefaultPacing || h.clock.slept[2] != DefaultPacing {
		t.Fatalf("неожиданные паузы: %v", h.clock.slept)
	}
}

func TestNoAccountsRetiresWithoutStats(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	target := domain.UserTarget("bob")
	h := newHarness(t, domain.State{
		Targets: []domain.Target{target},
		Tasks:   []domain.ScheduledTask{textTask("t", target.ID(), now.Add(-time.Minute))},
	}, clientSet{}, now)

	report := h.loop.Pass(context.Background())
	if report.NoAccount != 1 || report.Retired != 1 || report.Sent != 0 {
		t.Fatalf("неожиданный отчёт: %+v", report)
	}
	if total, _ := h.store.Aggregate(); total != 0 {
		t.Fatalf("статистика не должна меняться")
	}
	if len(h.store.Stats().Accounts) != 0 {
		t.Fatalf("не должно появиться статистики аккаунтов")
	}
	if len(h.store.Tasks()) != 0 {
		t.Fatalf("задача должна быть снята")
	}
}

func TestStaleTargetRetired(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, domain.State{
		Accounts: []domain.Account{{Name: "a1"}},
		Tasks:    []domain.ScheduledTask{textTask("t", "user_gone", now)},
	}, clientSet{"a1": &okClient{connected: true}}, now)

	report := h.loop.Pass(context.Background())
	if report.Stale != 1 || report.Retired != 1 {
		t.Fatalf("неожиданный отчёт: %+v", report)
	}
	if h.clients["a1"].sent != 0 {
		t.Fatalf("отправки быть не должно")
	}
}

func TestFailedSendIsNotRetried(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	target := domain.UserTarget("dan")
	h := newHarness(t, domain.State{
		Accounts: []domain.Account{{Name: "bad"}, {Name: "good"}},
		Targets:  []domain.Target{target},
		Tasks:    []domain.ScheduledTask{textTask("t", target.ID(), now, "bad", "good")},
	}, clientSet{"bad": &okClient{connected: true, fail: true}, "good": &okClient{connected: true}}, now)

	report := h.loop.Pass(context.Background())
	if report.Sent != 1 || report.Failed != 1 || report.Retired != 1 {
		t.Fatalf("неожиданный отчёт: %+v", report)
	}
	if again := h.loop.Pass(context.Background()); again.Due != 0 {
		t.Fatalf("задача не должна повторяться: %+v", again)
	}
}

type panicSender struct{ calls int }

func (p *panicSender) Deliver(_ context.Context, d sender.Delivery) (bool, error) {
	p.calls++
	if d.TaskID == "boom" {
		panic("broken content")
	}
	return true, nil
}

func TestPanicIsIsolatedPerTask(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	target := domain.UserTarget("erin")
	p := &memPersistence{state: domain.State{
		Accounts: []domain.Account{{Name: "a1"}},
		Targets:  []domain.Target{target},
		Tasks: []domain.ScheduledTask{
			textTask("boom", target.ID(), now),
			textTask("fine", target.ID(), now),
		},
	}}
	st := store.New(p, clientSet{"a1": &okClient{}}, zerolog.Nop())
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	snd := &panicSender{}
	loop := NewLoop(st, assign.NewResolver(st, nil), snd, zerolog.Nop(), WithClock(&fakeClock{now: now}))

	report := loop.Pass(context.Background())
	if report.Panicked != 1 || report.Sent != 1 || report.Retired != 2 {
		t.Fatalf("неожиданный отчёт: %+v", report)
	}
	if snd.calls != 2 {
		t.Fatalf("вторая задача должна обработаться после паники первой")
	}
}

func TestPassFinishesAfterCancelDuringPacing(t *testing.T) {
	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	target := domain.GroupTarget(-100777)
	clients := clientSet{
		"a1": &okClient{connected: true},
		"a2": &okClient{connected: true},
		"a3": &okClient{connected: true},
	}
	h := newHarness(t, domain.State{
		Accounts: []domain.Account{{Name: "a1"}, {Name: "a2"}, {Name: "a3"}},
		Targets:  []domain.Target{target},
		Tasks:    []domain.ScheduledTask{textTask("t", target.ID(), start, "a1", "a2", "a3")},
	}, clients, start)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// отмена приходит на первой паузе между аккаунтами
	h.clock.stopAt = start.Add(DefaultInterval + DefaultPacing)
	h.clock.cancel = cancel
	if err := h.loop.Run(ctx); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if ctx.Err() == nil {
		t.Fatalf("ожидали отмену контекста во время прохода")
	}

	for name, c := range clients {
		if c.sent != 1 {
			t.Fatalf("аккаунт %s должен был отправить сообщение, отправок: %d", name, c.sent)
		}
	}
	if len(h.store.Tasks()) != 0 {
		t.Fatalf("задача должна быть снята несмотря на отмену")
	}
	if len(h.persist.state.Tasks) != 0 {
		t.Fatalf("снятие задачи должно быть сохранено")
	}
}
