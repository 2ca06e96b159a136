package bot

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-dispatch-bot/internal/adapters/telegram"
	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/infra/metrics"
	"tg-dispatch-bot/internal/usecase/broadcast"
	"tg-dispatch-bot/internal/usecase/schedule"
)

// Messenger отправляет сообщения от имени бота. Реализуется *tgbotapi.BotAPI.
type Messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Store часть хранилища, которой управляет оператор.
type Store interface {
	Accounts() []domain.Account
	Account(name string) (domain.Account, bool)
	AddAccount(ctx context.Context, acc domain.Account, client domain.PlatformClient) error
	RemoveAccount(ctx context.Context, name string) error
	ConnectAccount(ctx context.Context, name string) error
	Connected(name string) bool

	Targets() []domain.Target
	Target(id string) (domain.Target, bool)
	AddTarget(ctx context.Context, t domain.Target) error
	RemoveTarget(ctx context.Context, id string) error
	AssignAccount(ctx context.Context, targetID, account string) error
	UnassignAccount(ctx context.Context, targetID, account string) error

	Tasks() []domain.ScheduledTask
	DequeueTask(ctx context.Context, id string) error

	Drafts() []domain.Draft
	Draft(id int) (domain.Draft, bool)
	CreateDraft(ctx context.Context, content domain.Content) (domain.Draft, error)
	SetDraftTargets(ctx context.Context, id int, targetIDs []string) error
	SetDraftAccounts(ctx context.Context, id int, accounts []string) error
	RemoveDraft(ctx context.Context, id int) error

	Stats() domain.Stats
	AccountStats(name string) (domain.AccountStats, bool)
}

// Scheduler ставит отложенные отправки.
type Scheduler interface {
	Schedule(ctx context.Context, req schedule.Request) ([]domain.ScheduledTask, error)
	ScheduleDraft(ctx context.Context, draftID int, due time.Time) ([]domain.ScheduledTask, error)
}

// Broadcaster выполняет немедленные рассылки.
type Broadcaster interface {
	SendNow(ctx context.Context, req broadcast.Request) broadcast.Report
	SendDraft(ctx context.Context, id int) (broadcast.Report, error)
}

// LoginSession незавершённый вход аккаунта.
type LoginSession interface {
	SubmitCode(ctx context.Context, code string) error
	SubmitPassword(ctx context.Context, password string) error
	Cancel()
}

// LoginStarter начинает вход аккаунта и отправляет код на его телефон.
type LoginStarter func(ctx context.Context, acc domain.Account) (LoginSession, error)

// Config параметры обработчика.
type Config struct {
	Operators     domain.Operators
	DisplayOffset time.Duration
	Now           func() time.Time
}

// Handler обслуживает апдейты бота оператора.
type Handler struct {
	bot       Messenger
	log       zerolog.Logger
	store     Store
	scheduler Scheduler
	broadcast Broadcaster
	login     LoginStarter
	cfg       Config

	mu       sync.Mutex
	sessions map[int64]*session

	jobs sync.WaitGroup
}

// NewHandler создаёт обработчик.
func NewHandler(bot Messenger, log zerolog.Logger, store Store, scheduler Scheduler, broadcaster Broadcaster, login LoginStarter, cfg Config) *Handler {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{
		bot:       bot,
		log:       log.With().Str("component", "bot").Logger(),
		store:     store,
		scheduler: scheduler,
		broadcast: broadcaster,
		login:     login,
		cfg:       cfg,
		sessions:  make(map[int64]*session),
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.Message != nil:
		if upd.Message.From == nil || !h.cfg.Operators.Allowed(upd.Message.From.ID) {
			h.reply(upd.Message.Chat.ID, "⛔ Нет доступа", nil)
			return
		}
		h.handleMessage(ctx, upd.Message)
	case upd.CallbackQuery != nil:
		cb := upd.CallbackQuery
		h.answerCallback(cb.ID)
		if cb.Message == nil || !h.cfg.Operators.Allowed(cb.From.ID) {
			return
		}
		h.handleCallback(ctx, cb)
	}
}

// Wait дожидается фоновых рассылок, запущенных из чата.
func (h *Handler) Wait() {
	h.jobs.Wait()
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if msg.IsCommand() {
		h.dropSession(chatID)
		h.runCommand(ctx, chatID, msg.Command(), strings.TrimSpace(msg.CommandArguments()))
		return
	}
	if h.continueSession(ctx, msg) {
		return
	}
	h.reply(chatID, "Неизвестная команда. Используйте /help", h.mainKeyboard())
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID
	data := cb.Data
	switch {
	case strings.HasPrefix(data, "cmd:"):
		h.dropSession(chatID)
		h.runCommand(ctx, chatID, strings.TrimPrefix(data, "cmd:"), "")
	case strings.HasPrefix(data, "unschedule:"):
		h.handleUnschedule(ctx, chatID, strings.TrimPrefix(data, "unschedule:"))
	case strings.HasPrefix(data, "draft_send:"):
		h.handleDraftSend(ctx, chatID, strings.TrimPrefix(data, "draft_send:"))
	case strings.HasPrefix(data, "draft_del:"):
		h.handleDraftDelete(ctx, chatID, strings.TrimPrefix(data, "draft_del:"))
	default:
		h.log.Debug().Str("data", data).Msg("неизвестный callback")
	}
}

func (h *Handler) runCommand(ctx context.Context, chatID int64, cmd, args string) {
	switch cmd {
	case "start", "help":
		h.reply(chatID, helpMessage, h.mainKeyboard())
	case "cancel":
		h.reply(chatID, "Действие отменено", h.mainKeyboard())
	case "accounts":
		h.handleAccounts(chatID)
	case "add_account":
		h.startAddAccount(chatID)
	case "del_account":
		h.handleDelAccount(ctx, chatID, args)
	case "targets":
		h.handleTargets(chatID)
	case "add_user":
		h.handleAddUser(ctx, chatID, args)
	case "add_group":
		h.handleAddGroup(ctx, chatID, args)
	case "del_target":
		h.handleDelTarget(ctx, chatID, args)
	case "assign":
		h.handleAssign(ctx, chatID, args, true)
	case "unassign":
		h.handleAssign(ctx, chatID, args, false)
	case "send":
		h.startSend(chatID, false)
	case "schedule":
		h.startSend(chatID, true)
	case "scheduled":
		h.handleScheduled(chatID)
	case "unschedule":
		h.handleUnschedule(ctx, chatID, args)
	case "drafts":
		h.handleDrafts(chatID)
	case "draft_new":
		h.startDraftNew(chatID)
	case "draft_targets":
		h.startDraftTargets(chatID, args)
	case "draft_accounts":
		h.startDraftAccounts(chatID, args)
	case "draft_send":
		h.handleDraftSend(ctx, chatID, args)
	case "draft_schedule":
		h.handleDraftSchedule(ctx, chatID, args)
	case "draft_del":
		h.handleDraftDelete(ctx, chatID, args)
	case "stats":
		h.handleStats(chatID)
	case "account_stats":
		h.handleAccountStats(chatID, args)
	default:
		h.reply(chatID, "Неизвестная команда. Используйте /help", nil)
	}
}

// background запускает рассылку вне цикла апдейтов.
func (h *Handler) background(ctx context.Context, fn func(ctx context.Context)) {
	h.jobs.Add(1)
	go func() {
		defer h.jobs.Done()
		fn(context.WithoutCancel(ctx))
	}()
}

func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	parts := telegram.SplitMessage(text)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		if i == len(parts)-1 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		start := time.Now()
		_, err := h.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			h.log.Error().Err(err).Int64("chat", chatID).Msg("не удалось отправить сообщение")
			return
		}
	}
}

func (h *Handler) answerCallback(id string) {
	if _, err := h.bot.Request(tgbotapi.NewCallback(id, "")); err != nil {
		h.log.Debug().Err(err).Msg("не удалось ответить на callback")
	}
}

func (h *Handler) mainKeyboard() *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👤 Аккаунты", "cmd:accounts"),
			tgbotapi.NewInlineKeyboardButtonData("🎯 Получатели", "cmd:targets"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📨 Отправить", "cmd:send"),
			tgbotapi.NewInlineKeyboardButtonData("⏰ Запланировать", "cmd:schedule"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗓 Очередь", "cmd:scheduled"),
			tgbotapi.NewInlineKeyboardButtonData("📝 Черновики", "cmd:drafts"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📊 Статистика", "cmd:stats"),
		),
	)
	return &kb
}

const helpMessage = `🤖 Бот рассылок от пользовательских аккаунтов

Аккаунты:
/accounts - список аккаунтов
/add_account - добавить аккаунт (вход по коду)
/del_account <имя> - удалить аккаунт

Получатели:
/targets - список получателей
/add_user @username - добавить пользователя
/add_group <chat_id> - добавить группу
/del_target <id> - удалить получателя
/assign <id> <аккаунт> - закрепить аккаунт
/unassign <id> <аккаунт> - открепить аккаунт

Рассылки:
/send - отправить сейчас
/schedule - запланировать
/scheduled - очередь задач
/unschedule <номер|id> - отменить задачу

Черновики:
/drafts, /draft_new, /draft_targets <id>, /draft_accounts <id>
/draft_send <id>, /draft_schedule <id> <время>, /draft_del <id>

/stats, /account_stats <имя> - статистика
/cancel - отменить текущее действие

Время: ДД.ММ.ГГГГ ЧЧ:ММ или +30m, +2h, +1d (+30м, +2ч, +1д).`
