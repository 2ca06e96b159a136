package sender

import (
	"context"
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"

	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/infra/metrics"
	"tg-dispatch-bot/internal/usecase/store"
)

type nopPersistence struct{ state domain.State }

func (p *nopPersistence) Load(context.Context) (domain.State, error) { return p.state, nil }
func (p *nopPersistence) Save(context.Context, domain.State) error   { return nil }

type fakeClient struct {
	connected  bool
	connectErr error
	sendErr    error
	connects   int
	texts      []string
	media      []domain.MediaFile
	buttons    []*domain.Button
}

func (c *fakeClient) Connect(context.Context) error {
	c.connects++
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}
func (c *fakeClient) IsConnected() bool { return c.connected }
func (c *fakeClient) SendText(_ context.Context, _ domain.Recipient, text string, b *domain.Button) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.texts = append(c.texts, text)
	c.buttons = append(c.buttons, b)
	return nil
}
func (c *fakeClient) SendMedia(_ context.Context, _ domain.Recipient, f domain.MediaFile, _ *domain.Button) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.media = append(c.media, f)
	return nil
}
func (c *fakeClient) Disconnect(context.Context) error { c.connected = false; return nil }

type fakeFactory map[string]*fakeClient

func (f fakeFactory) NewClient(acc domain.Account) domain.PlatformClient { return f[acc.Name] }

type fakeStager struct {
	staged   int
	released int
	err      error
}

func (s *fakeStager) Stage(context.Context, domain.Media) (string, func(), error) {
	if s.err != nil {
		return "", nil, s.err
	}
	s.staged++
	return "/tmp/staged.bin", func() { s.released++ }, nil
}

type recordingSink struct{ events []domain.DeliveryEvent }

func (s *recordingSink) Publish(_ context.Context, e domain.DeliveryEvent) error {
	s.events = append(s.events, e)
	return nil
}

func setup(t *testing.T, clients fakeFactory) *store.Store {
	t.Helper()
	var accounts []domain.Account
	for name := range clients {
		accounts = append(accounts, domain.Account{Name: name})
	}
	st := store.New(&nopPersistence{state: domain.State{Accounts: accounts}}, clients, zerolog.Nop())
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	return st
}

func TestSendTextRecordsStats(t *testing.T) {
	client := &fakeClient{connected: true}
	st := setup(t, fakeFactory{"main": client})
	sink := &recordingSink{}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	exec := NewExecutor(st, nil, zerolog.Nop(), WithEvents(sink), WithClock(func() time.Time { return at }))
	button := &domain.Button{Label: "Открыть", URL: "https://example.com"}

	ok, err := exec.Send(context.Background(), "main", domain.UserTarget("alice"), domain.Text{Text: "привет"}, button)
	if !ok || err != nil {
		t.Fatalf("ожидали успех, получили %v %v", ok, err)
	}
	if len(client.texts) != 1 || client.buttons[0] != button {
		t.Fatalf("кнопка должна передаваться клиенту")
	}
	total, last := st.Aggregate()
	if total != 1 || !last.Equal(at) {
		t.Fatalf("неверная агрегированная статистика: %d %v", total, last)
	}
	acc, _ := st.AccountStats("main")
	if acc.Sent != 1 || acc.History[0].Target != "@alice" || acc.History[0].Text != "привет" {
		t.Fatalf("неверная история: %+v", acc)
	}
	if len(sink.events) != 1 || sink.events[0].Status != domain.DeliverySent {
		t.Fatalf("ожидали событие sent, получили %+v", sink.events)
	}
}

func TestSendReconnectsOnce(t *testing.T) {
	client := &fakeClient{}
	st := setup(t, fakeFactory{"main": client})
	exec := NewExecutor(st, nil, zerolog.Nop())
	if ok, err := exec.Send(context.Background(), "main", domain.GroupTarget(-1), domain.Text{Text: "x"}, nil); !ok {
		t.Fatalf("ожидали успех после переподключения: %v", err)
	}
	if client.connects != 1 {
		t.Fatalf("ожидали одно подключение, получили %d", client.connects)
	}
}

func TestReconnectUpdatesConnectedGauge(t *testing.T) {
	client := &fakeClient{}
	st := setup(t, fakeFactory{"main": client})
	metrics.ConnectedAccounts.Set(0)
	exec := NewExecutor(st, nil, zerolog.Nop())
	if ok, err := exec.Send(context.Background(), "main", domain.GroupTarget(-1), domain.Text{Text: "x"}, nil); !ok {
		t.Fatalf("ожидали успех после переподключения: %v", err)
	}
	var m dto.Metric
	if err := metrics.ConnectedAccounts.Write(&m); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 1 {
		t.Fatalf("после переподключения ожидали 1 подключённый аккаунт, получили %v", got)
	}
}

func TestSendReconnectFailureLeavesStatsUntouched(t *testing.T) {
	client := &fakeClient{connectErr: errors.New("network down")}
	st := setup(t, fakeFactory{"main": client})
	sink := &recordingSink{}
	exec := NewExecutor(st, nil, zerolog.Nop(), WithEvents(sink))
	ok, err := exec.Send(context.Background(), "main", domain.GroupTarget(-1), domain.Text{Text: "x"}, nil)
	if ok || err == nil {
		t.Fatalf("ожидали неудачу")
	}
	if client.connects != 1 {
		t.Fatalf("ожидали ровно одну попытку переподключения, получили %d", client.connects)
	}
	if total, _ := st.Aggregate(); total != 0 {
		t.Fatalf("статистика не должна меняться при ошибке")
	}
	if len(sink.events) != 1 || sink.events[0].Status != domain.DeliveryFailed {
		t.Fatalf("ожидали событие failed")
	}
}

func TestSendMediaAlwaysReleasesStagedFile(t *testing.T) {
	cases := []struct {
		name    string
		sendErr error
		wantOK  bool
	}{
		{"успех", nil, true},
		{"ошибка отправки", errors.New("flood"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeClient{connected: true, sendErr: tc.sendErr}
			st := setup(t, fakeFactory{"main": client})
			stager := &fakeStager{}
			exec := NewExecutor(st, stager, zerolog.Nop())
			ok, _ := exec.Send(context.Background(), "main", domain.UserTarget("bob"), domain.Photo{Ref: "file-1", Caption: "фото"}, nil)
			if ok != tc.wantOK {
				t.Fatalf("ожидали ok=%v", tc.wantOK)
			}
			if stager.staged != 1 || stager.released != 1 {
				t.Fatalf("файл должен быть подготовлен и удалён ровно один раз: %d/%d", stager.staged, stager.released)
			}
			if tc.wantOK {
				if client.media[0].Path != "/tmp/staged.bin" || client.media[0].Caption != "фото" {
					t.Fatalf("неверный файл: %+v", client.media[0])
				}
				acc, _ := st.AccountStats("main")
				if acc.History[0].Text != "[PHOTO] фото" {
					t.Fatalf("неверное превью: %q", acc.History[0].Text)
				}
			}
		})
	}
}

func TestSendMediaWithoutStagerFails(t *testing.T) {
	st := setup(t, fakeFactory{"main": &fakeClient{connected: true}})
	exec := NewExecutor(st, nil, zerolog.Nop())
	_, err := exec.Send(context.Background(), "main", domain.UserTarget("bob"), domain.Video{Ref: "v"}, nil)
	if !errors.Is(err, ErrNoStager) {
		t.Fatalf("ожидали ErrNoStager, получили %v", err)
	}
}

func TestSendUnknownAccount(t *testing.T) {
	st := setup(t, fakeFactory{})
	exec := NewExecutor(st, nil, zerolog.Nop())
	_, err := exec.Send(context.Background(), "ghost", domain.UserTarget("bob"), domain.Text{Text: "x"}, nil)
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("ожидали ErrAccountNotFound, получили %v", err)
	}
}
