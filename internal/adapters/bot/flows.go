package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/usecase/broadcast"
	"tg-dispatch-bot/internal/usecase/schedule"
)

// Ошибки LoginSession, на которые диалог входа реагирует отдельно.
var (
	ErrPasswordNeeded = errors.New("требуется пароль 2FA")
	ErrCodeExpired    = errors.New("код истёк, отправлен новый")
)

type step int

const (
	stepAccountName step = iota
	stepAPIID
	stepAPIHash
	stepPhone
	stepCode
	stepPassword
	stepTargets
	stepAccounts
	stepContent
	stepButton
	stepTime
	stepDraftContent
	stepDraftTargets
	stepDraftAccounts
)

// session состояние многошагового диалога в одном чате.
type session struct {
	step      step
	scheduled bool
	acc       domain.Account
	login     LoginSession
	targets   []string
	accounts  []string
	content   domain.Content
	button    *domain.Button
	draftID   int
}

func (h *Handler) setSession(chatID int64, s *session) {
	h.mu.Lock()
	prev := h.sessions[chatID]
	h.sessions[chatID] = s
	h.mu.Unlock()
	if prev != nil && prev != s && prev.login != nil {
		prev.login.Cancel()
	}
}

func (h *Handler) getSession(chatID int64) *session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[chatID]
}

func (h *Handler) dropSession(chatID int64) {
	h.mu.Lock()
	s := h.sessions[chatID]
	delete(h.sessions, chatID)
	h.mu.Unlock()
	if s != nil && s.login != nil {
		s.login.Cancel()
	}
}

func (h *Handler) continueSession(ctx context.Context, msg *tgbotapi.Message) bool {
	s := h.getSession(msg.Chat.ID)
	if s == nil {
		return false
	}
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	switch s.step {
	case stepAccountName:
		h.onAccountName(chatID, s, text)
	case stepAPIID:
		id, err := strconv.Atoi(text)
		if err != nil || id <= 0 {
			h.reply(chatID, "api_id должен быть положительным числом", nil)
			return true
		}
		s.acc.APIID = id
		s.step = stepAPIHash
		h.reply(chatID, "Введите api_hash", nil)
	case stepAPIHash:
		if text == "" {
			h.reply(chatID, "Введите api_hash", nil)
			return true
		}
		s.acc.APIHash = text
		s.step = stepPhone
		h.reply(chatID, "Введите номер телефона в международном формате, например +79991234567", nil)
	case stepPhone:
		h.onPhone(ctx, chatID, s, text)
	case stepCode:
		h.onCode(ctx, chatID, s, text)
	case stepPassword:
		h.onPassword(ctx, chatID, s, text)
	case stepTargets:
		h.onTargets(chatID, s, text)
	case stepAccounts:
		h.onAccounts(chatID, s, text)
	case stepContent:
		content, err := contentFromMessage(msg)
		if err != nil {
			h.replyError(chatID, err)
			return true
		}
		s.content = content
		s.step = stepButton
		h.reply(chatID, "Добавить кнопку-ссылку? Отправьте «Текст | https://ссылка» или «-»", nil)
	case stepButton:
		button, err := parseButton(text)
		if err != nil {
			h.replyError(chatID, err)
			return true
		}
		s.button = button
		if s.scheduled {
			s.step = stepTime
			h.reply(chatID, fmt.Sprintf("Когда отправить? ДД.ММ.ГГГГ ЧЧ:ММ (UTC%+d) или +30m, +2h, +1d", int(h.cfg.DisplayOffset.Hours())), nil)
			return true
		}
		h.dropSession(chatID)
		h.runSend(ctx, chatID, broadcast.Request{TargetIDs: s.targets, Content: s.content, Button: s.button, Accounts: s.accounts})
	case stepTime:
		h.onTime(ctx, chatID, s, text)
	case stepDraftContent:
		content, err := contentFromMessage(msg)
		if err != nil {
			h.replyError(chatID, err)
			return true
		}
		h.dropSession(chatID)
		draft, err := h.store.CreateDraft(ctx, content)
		if err != nil {
			h.replyError(chatID, err)
			return true
		}
		h.reply(chatID, fmt.Sprintf("📝 Черновик #%d создан. Получатели: /draft_targets %d", draft.ID, draft.ID), nil)
	case stepDraftTargets:
		ids, err := selectTargets(text, h.store.Targets())
		if err != nil {
			h.replyError(chatID, err)
			return true
		}
		h.dropSession(chatID)
		if err := h.store.SetDraftTargets(ctx, s.draftID, ids); err != nil {
			h.replyError(chatID, err)
			return true
		}
		h.reply(chatID, fmt.Sprintf("Получателей у черновика #%d: %d", s.draftID, len(ids)), nil)
	case stepDraftAccounts:
		accounts, err := selectAccounts(text, h.store.Accounts())
		if err != nil {
			h.replyError(chatID, err)
			return true
		}
		h.dropSession(chatID)
		if err := h.store.SetDraftAccounts(ctx, s.draftID, accounts); err != nil {
			h.replyError(chatID, err)
			return true
		}
		h.reply(chatID, "Аккаунты черновика обновлены", nil)
	}
	return true
}

func (h *Handler) startAddAccount(chatID int64) {
	if h.login == nil {
		h.reply(chatID, "Добавление аккаунтов недоступно", nil)
		return
	}
	h.setSession(chatID, &session{step: stepAccountName})
	h.reply(chatID, "Введите имя аккаунта (латиница, без пробелов)", nil)
}

func (h *Handler) onAccountName(chatID int64, s *session, name string) {
	if !validAccountName(name) {
		h.reply(chatID, "Имя должно состоять из латинских букв, цифр, _ или -", nil)
		return
	}
	if _, exists := h.store.Account(name); exists {
		h.replyError(chatID, domain.ErrAccountExists)
		return
	}
	s.acc.Name = name
	s.step = stepAPIID
	h.reply(chatID, "Введите api_id (my.telegram.org)", nil)
}

func (h *Handler) onPhone(ctx context.Context, chatID int64, s *session, phone string) {
	phone = strings.ReplaceAll(phone, " ", "")
	if len(phone) < 8 || !strings.HasPrefix(phone, "+") {
		h.reply(chatID, "Номер должен начинаться с +", nil)
		return
	}
	s.acc.Phone = phone
	login, err := h.login(ctx, s.acc)
	if err != nil {
		h.dropSession(chatID)
		h.log.Error().Err(err).Str("account", s.acc.Name).Msg("не удалось начать вход")
		h.reply(chatID, fmt.Sprintf("⚠️ Не удалось отправить код: %v", err), nil)
		return
	}
	s.login = login
	s.step = stepCode
	h.reply(chatID, "Код отправлен в Telegram. Введите его с пробелами между цифрами, например 1 2 3 4 5", nil)
}

func (h *Handler) onCode(ctx context.Context, chatID int64, s *session, raw string) {
	code := digitsOnly(raw)
	if code == "" {
		h.reply(chatID, "Введите код из Telegram", nil)
		return
	}
	err := s.login.SubmitCode(ctx, code)
	switch {
	case err == nil:
		h.finishLogin(ctx, chatID, s)
	case errors.Is(err, ErrPasswordNeeded):
		s.step = stepPassword
		h.reply(chatID, "Включена двухфакторная защита. Введите пароль", nil)
	case errors.Is(err, ErrCodeExpired):
		h.reply(chatID, "Код истёк, отправлен новый. Введите его", nil)
	default:
		h.log.Warn().Err(err).Str("account", s.acc.Name).Msg("вход по коду не удался")
		h.reply(chatID, fmt.Sprintf("⚠️ Код не принят: %v. Попробуйте ещё раз или /cancel", err), nil)
	}
}

func (h *Handler) onPassword(ctx context.Context, chatID int64, s *session, password string) {
	if err := s.login.SubmitPassword(ctx, password); err != nil {
		h.log.Warn().Err(err).Str("account", s.acc.Name).Msg("вход по паролю не удался")
		h.reply(chatID, "⚠️ Пароль не подошёл. Попробуйте ещё раз или /cancel", nil)
		return
	}
	h.finishLogin(ctx, chatID, s)
}

func (h *Handler) finishLogin(ctx context.Context, chatID int64, s *session) {
	s.login = nil
	h.dropSession(chatID)
	if err := h.store.AddAccount(ctx, s.acc, nil); err != nil {
		h.replyError(chatID, err)
		return
	}
	if err := h.store.ConnectAccount(ctx, s.acc.Name); err != nil {
		h.log.Warn().Err(err).Str("account", s.acc.Name).Msg("аккаунт добавлен, но не подключён")
		h.reply(chatID, fmt.Sprintf("Аккаунт %s добавлен, подключение повторится при отправке", s.acc.Name), nil)
		return
	}
	h.reply(chatID, fmt.Sprintf("✅ Аккаунт %s добавлен и подключён", s.acc.Name), h.mainKeyboard())
}

func (h *Handler) startSend(chatID int64, scheduled bool) {
	targets := h.store.Targets()
	if len(targets) == 0 {
		h.reply(chatID, "Сначала добавьте получателей: /add_user или /add_group", nil)
		return
	}
	h.setSession(chatID, &session{step: stepTargets, scheduled: scheduled})
	h.reply(chatID, "Кому отправить? Номера или id через запятую, либо «все»\n\n"+listTargets(targets), nil)
}

func (h *Handler) onTargets(chatID int64, s *session, text string) {
	ids, err := selectTargets(text, h.store.Targets())
	if err != nil || len(ids) == 0 {
		h.replyError(chatID, domain.ErrTargetNotFound)
		return
	}
	s.targets = ids
	s.step = stepAccounts
	h.reply(chatID, "С каких аккаунтов? Имена через запятую или «-» для автоматического выбора\n\n"+listAccounts(h.store.Accounts()), nil)
}

func (h *Handler) onAccounts(chatID int64, s *session, text string) {
	accounts, err := selectAccounts(text, h.store.Accounts())
	if err != nil {
		h.replyError(chatID, err)
		return
	}
	s.accounts = accounts
	s.step = stepContent
	h.reply(chatID, "Отправьте сообщение: текст, фото, видео или файл с подписью", nil)
}

func (h *Handler) onTime(ctx context.Context, chatID int64, s *session, text string) {
	due, err := schedule.ParseWhen(text, h.cfg.Now(), h.cfg.DisplayOffset)
	if err != nil {
		h.replyError(chatID, err)
		return
	}
	h.dropSession(chatID)
	tasks, err := h.scheduler.Schedule(ctx, schedule.Request{
		TargetIDs: s.targets,
		Content:   s.content,
		Button:    s.button,
		Accounts:  s.accounts,
		Due:       due,
	})
	if err != nil {
		h.replyError(chatID, err)
		return
	}
	h.reply(chatID, fmt.Sprintf("⏰ Запланировано задач: %d на %s", len(tasks), schedule.FormatDisplay(due, h.cfg.DisplayOffset)), h.mainKeyboard())
}

func (h *Handler) runSend(ctx context.Context, chatID int64, req broadcast.Request) {
	h.reply(chatID, fmt.Sprintf("⏳ Отправляю на %d получателей", len(req.TargetIDs)), nil)
	h.background(ctx, func(ctx context.Context) {
		h.reply(chatID, formatReport(h.broadcast.SendNow(ctx, req)), h.mainKeyboard())
	})
}

func (h *Handler) startDraftNew(chatID int64) {
	h.setSession(chatID, &session{step: stepDraftContent})
	h.reply(chatID, "Отправьте содержимое черновика: текст, фото, видео или файл", nil)
}

func (h *Handler) startDraftTargets(chatID int64, arg string) {
	id, ok := h.draftArg(chatID, arg, "/draft_targets")
	if !ok {
		return
	}
	h.setSession(chatID, &session{step: stepDraftTargets, draftID: id})
	h.reply(chatID, "Получатели черновика: номера или id через запятую, либо «все»\n\n"+listTargets(h.store.Targets()), nil)
}

func (h *Handler) startDraftAccounts(chatID int64, arg string) {
	id, ok := h.draftArg(chatID, arg, "/draft_accounts")
	if !ok {
		return
	}
	h.setSession(chatID, &session{step: stepDraftAccounts, draftID: id})
	h.reply(chatID, "Аккаунты черновика через запятую или «-» для автоматического выбора\n\n"+listAccounts(h.store.Accounts()), nil)
}

func (h *Handler) draftArg(chatID int64, arg, cmd string) (int, bool) {
	id, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		h.reply(chatID, fmt.Sprintf("Отправьте %s <id>", cmd), nil)
		return 0, false
	}
	if _, ok := h.store.Draft(id); !ok {
		h.replyError(chatID, domain.ErrDraftNotFound)
		return 0, false
	}
	return id, true
}
