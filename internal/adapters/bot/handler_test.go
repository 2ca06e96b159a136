package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/usecase/broadcast"
	"tg-dispatch-bot/internal/usecase/schedule"
	"tg-dispatch-bot/internal/usecase/sender"
	"tg-dispatch-bot/internal/usecase/store"
)

const operatorID = 7

type recordingMessenger struct {
	mu    sync.Mutex
	texts []string
}

func (m *recordingMessenger) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.texts = append(m.texts, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

func (m *recordingMessenger) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *recordingMessenger) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.texts) == 0 {
		return ""
	}
	return m.texts[len(m.texts)-1]
}

type memPersistence struct{}

func (memPersistence) Load(context.Context) (domain.State, error) { return domain.State{}, nil }
func (memPersistence) Save(context.Context, domain.State) error   { return nil }

type nopClient struct{ connected bool }

func (c *nopClient) Connect(context.Context) error { c.connected = true; return nil }
func (c *nopClient) IsConnected() bool             { return c.connected }
func (c *nopClient) SendText(context.Context, domain.Recipient, string, *domain.Button) error {
	return nil
}
func (c *nopClient) SendMedia(context.Context, domain.Recipient, domain.MediaFile, *domain.Button) error {
	return nil
}
func (c *nopClient) Disconnect(context.Context) error { c.connected = false; return nil }

type nopFactory struct{}

func (nopFactory) NewClient(domain.Account) domain.PlatformClient { return &nopClient{} }

type recordingSender struct {
	mu         sync.Mutex
	deliveries []sender.Delivery
}

func (s *recordingSender) Deliver(_ context.Context, d sender.Delivery) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, d)
	return true, nil
}

type firstResolver struct{}

func (firstResolver) Resolve(explicit []string, target domain.Target) []string {
	if len(explicit) > 0 {
		return explicit
	}
	return target.AssignedAccounts
}

type nopSleeper struct{}

func (nopSleeper) Sleep(context.Context, time.Duration) error { return nil }

type stubLogin struct {
	needPassword bool
	codes        []string
	password     string
	cancelled    bool
}

func (l *stubLogin) SubmitCode(_ context.Context, code string) error {
	l.codes = append(l.codes, code)
	if l.needPassword {
		return ErrPasswordNeeded
	}
	return nil
}

func (l *stubLogin) SubmitPassword(_ context.Context, password string) error {
	l.password = password
	return nil
}

func (l *stubLogin) Cancel() { l.cancelled = true }

type fixture struct {
	h      *Handler
	bot    *recordingMessenger
	store  *store.Store
	sender *recordingSender
	login  *stubLogin
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.New(memPersistence{}, nopFactory{}, zerolog.Nop())
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	f := &fixture{
		bot:    &recordingMessenger{},
		store:  st,
		sender: &recordingSender{},
		login:  &stubLogin{},
		now:    time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	bc := broadcast.NewService(st, firstResolver{}, f.sender, nopSleeper{}, 0, zerolog.Nop())
	starter := func(_ context.Context, acc domain.Account) (LoginSession, error) { return f.login, nil }
	f.h = NewHandler(f.bot, zerolog.Nop(), st, schedule.NewService(st), bc, starter, Config{
		Operators:     domain.NewOperators([]int64{operatorID}),
		DisplayOffset: 2 * time.Hour,
		Now:           func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) text(from int64, text string) {
	msg := &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: 100},
		From: &tgbotapi.User{ID: from},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	f.h.HandleUpdate(context.Background(), tgbotapi.Update{Message: msg})
}

func TestHandlerRejectsStrangers(t *testing.T) {
	f := newFixture(t)
	f.text(999, "/targets")
	if !strings.Contains(f.bot.last(), "Нет доступа") {
		t.Fatalf("ожидали отказ, получили %q", f.bot.last())
	}
}

func TestHandlerTargetsCommands(t *testing.T) {
	f := newFixture(t)
	f.text(operatorID, "/add_user @bob")
	f.text(operatorID, "/add_group -100500")
	f.text(operatorID, "/add_user @bob")
	if !strings.Contains(f.bot.last(), "уже есть") {
		t.Fatalf("ожидали сообщение о дубликате, получили %q", f.bot.last())
	}
	f.text(operatorID, "/targets")
	list := f.bot.last()
	if !strings.Contains(list, "@bob") || !strings.Contains(list, "group_-100500") {
		t.Fatalf("ожидали обоих получателей в списке, получили %q", list)
	}
	f.text(operatorID, "/del_target 2")
	if got := len(f.store.Targets()); got != 1 {
		t.Fatalf("ожидали одного получателя, осталось %d", got)
	}
}

func TestHandlerScheduleFlow(t *testing.T) {
	f := newFixture(t)
	f.text(operatorID, "/add_user bob")

	f.text(operatorID, "/schedule")
	f.text(operatorID, "1")
	f.text(operatorID, "-")
	f.text(operatorID, "привет")
	f.text(operatorID, "Сайт | ftp://bad")
	if !strings.Contains(f.bot.last(), "Кнопка") {
		t.Fatalf("ожидали подсказку по кнопке, получили %q", f.bot.last())
	}
	f.text(operatorID, "Сайт | https://example.com")
	f.text(operatorID, "когда-нибудь")
	if !strings.Contains(f.bot.last(), "время") {
		t.Fatalf("ожидали подсказку по времени, получили %q", f.bot.last())
	}
	f.text(operatorID, "+1h")

	tasks := f.store.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("ожидали одну задачу, получили %d", len(tasks))
	}
	task := tasks[0]
	if !task.Due.Equal(f.now.Add(time.Hour)) {
		t.Fatalf("ожидали срок %v, получили %v", f.now.Add(time.Hour), task.Due)
	}
	if task.Button == nil || task.Button.URL != "https://example.com" || task.Content.Body() != "привет" {
		t.Fatalf("неожиданная задача %+v", task)
	}
	if !strings.Contains(f.bot.last(), "01.03.2025 13:00") {
		t.Fatalf("ожидали время оператора в ответе, получили %q", f.bot.last())
	}

	f.text(operatorID, "/unschedule 1")
	if len(f.store.Tasks()) != 0 {
		t.Fatal("ожидали пустую очередь после отмены")
	}
}

func TestHandlerSendFlow(t *testing.T) {
	f := newFixture(t)
	if err := f.store.AddAccount(context.Background(), domain.Account{Name: "main"}, nil); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	f.text(operatorID, "/add_user bob")

	f.text(operatorID, "/send")
	f.text(operatorID, "все")
	f.text(operatorID, "main")
	f.text(operatorID, "hello")
	f.text(operatorID, "-")
	f.h.Wait()

	if len(f.sender.deliveries) != 1 {
		t.Fatalf("ожидали одну отправку, получили %d", len(f.sender.deliveries))
	}
	d := f.sender.deliveries[0]
	if d.Account != "main" || d.Target.ID() != "user_bob" || d.Source != domain.SourceImmediate || d.Button != nil {
		t.Fatalf("неожиданная отправка %+v", d)
	}
	if !strings.Contains(f.bot.last(), "успешно 1") {
		t.Fatalf("ожидали отчёт, получили %q", f.bot.last())
	}
}

func TestHandlerAddAccountWithPassword(t *testing.T) {
	f := newFixture(t)
	f.login.needPassword = true

	f.text(operatorID, "/add_account")
	f.text(operatorID, "bad name")
	f.text(operatorID, "main")
	f.text(operatorID, "abc")
	f.text(operatorID, "12345")
	f.text(operatorID, "hash")
	f.text(operatorID, "+79990000000")
	f.text(operatorID, "1 2 3 4 5")
	if !strings.Contains(f.bot.last(), "пароль") {
		t.Fatalf("ожидали запрос пароля, получили %q", f.bot.last())
	}
	f.text(operatorID, "secret")

	if len(f.login.codes) != 1 || f.login.codes[0] != "12345" {
		t.Fatalf("ожидали код без пробелов, получили %v", f.login.codes)
	}
	if f.login.password != "secret" {
		t.Fatalf("ожидали пароль, получили %q", f.login.password)
	}
	acc, ok := f.store.Account("main")
	if !ok || acc.APIID != 12345 || acc.APIHash != "hash" || acc.Phone != "+79990000000" {
		t.Fatalf("неожиданный аккаунт %+v", acc)
	}
	if !f.store.Connected("main") {
		t.Fatal("ожидали подключение после входа")
	}
}

func TestHandlerCancelStopsLogin(t *testing.T) {
	f := newFixture(t)
	f.text(operatorID, "/add_account")
	f.text(operatorID, "main")
	f.text(operatorID, "1")
	f.text(operatorID, "hash")
	f.text(operatorID, "+79990000000")
	f.text(operatorID, "/cancel")
	if !f.login.cancelled {
		t.Fatal("ожидали отмену входа")
	}
	if _, ok := f.store.Account("main"); ok {
		t.Fatal("не ожидали аккаунт после отмены")
	}
}

func TestHandlerDraftFlow(t *testing.T) {
	f := newFixture(t)
	f.text(operatorID, "/add_user bob")
	f.text(operatorID, "/draft_new")
	f.text(operatorID, "черновик")
	drafts := f.store.Drafts()
	if len(drafts) != 1 || drafts[0].ID != 1 {
		t.Fatalf("ожидали черновик #1, получили %+v", drafts)
	}
	f.text(operatorID, "/draft_targets 1")
	f.text(operatorID, "@bob")
	f.text(operatorID, "/draft_schedule 1 +2d")
	tasks := f.store.Tasks()
	if len(tasks) != 1 || !tasks[0].Due.Equal(f.now.Add(48*time.Hour)) {
		t.Fatalf("ожидали задачу через двое суток, получили %+v", tasks)
	}
	f.text(operatorID, "/draft_del 1")
	if len(f.store.Drafts()) != 0 {
		t.Fatal("ожидали удаление черновика")
	}
}

func TestSelectTargets(t *testing.T) {
	bob := domain.UserTarget("bob")
	group := domain.GroupTarget(-42)
	targets := []domain.Target{bob, group}

	cases := []struct {
		name  string
		input string
		want  []string
		err   bool
	}{
		{name: "все", input: "все", want: []string{"user_bob", "group_-42"}},
		{name: "номера", input: "2, 1", want: []string{"group_-42", "user_bob"}},
		{name: "id и username", input: "group_-42 @bob", want: []string{"group_-42", "user_bob"}},
		{name: "chat_id", input: "-42", want: []string{"group_-42"}},
		{name: "повтор", input: "1,1", want: []string{"user_bob"}},
		{name: "неизвестный", input: "3", err: true},
		{name: "пусто", input: " ", err: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := selectTargets(tc.input, targets)
			if tc.err {
				if err == nil {
					t.Fatalf("ожидали ошибку, получили %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			if strings.Join(got, ",") != strings.Join(tc.want, ",") {
				t.Fatalf("ожидали %v, получили %v", tc.want, got)
			}
		})
	}
}

func TestContentFromMessage(t *testing.T) {
	photo := &tgbotapi.Message{Photo: []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "big"}}, Caption: "cap"}
	c, err := contentFromMessage(photo)
	if err != nil || domain.FileRefOf(c) != "big" || c.Body() != "cap" {
		t.Fatalf("ожидали крупнейшее фото, получили %#v %v", c, err)
	}
	if _, err := contentFromMessage(&tgbotapi.Message{Sticker: &tgbotapi.Sticker{FileID: "s"}}); err == nil {
		t.Fatal("ожидали ошибку для стикера")
	}
}
