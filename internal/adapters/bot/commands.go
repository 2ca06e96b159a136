package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/usecase/schedule"
)

const historyShown = 10

func (h *Handler) handleAccounts(chatID int64) {
	accounts := h.store.Accounts()
	if len(accounts) == 0 {
		h.reply(chatID, "Аккаунтов пока нет. Добавьте: /add_account", nil)
		return
	}
	var b strings.Builder
	b.WriteString("👤 Аккаунты:\n")
	for i, acc := range accounts {
		status := "🔴"
		if h.store.Connected(acc.Name) {
			status = "🟢"
		}
		fmt.Fprintf(&b, "%d. %s %s (%s)\n", i+1, status, acc.Name, acc.Phone)
	}
	h.reply(chatID, b.String(), nil)
}

func (h *Handler) handleDelAccount(ctx context.Context, chatID int64, name string) {
	if name == "" {
		h.reply(chatID, "Отправьте /del_account <имя>", nil)
		return
	}
	if err := h.store.RemoveAccount(ctx, name); err != nil {
		h.replyError(chatID, err)
		return
	}
	h.reply(chatID, fmt.Sprintf("Аккаунт %s удалён", name), nil)
}

func (h *Handler) handleTargets(chatID int64) {
	targets := h.store.Targets()
	if len(targets) == 0 {
		h.reply(chatID, "Получателей пока нет. Добавьте: /add_user @username или /add_group <chat_id>", nil)
		return
	}
	var b strings.Builder
	b.WriteString("🎯 Получатели:\n")
	for i, t := range targets {
		assigned := "авто"
		if len(t.AssignedAccounts) > 0 {
			assigned = strings.Join(t.AssignedAccounts, ", ")
		}
		fmt.Fprintf(&b, "%d. %s [%s] аккаунты: %s\n", i+1, t.Display(), t.ID(), assigned)
	}
	h.reply(chatID, b.String(), nil)
}

func (h *Handler) handleAddUser(ctx context.Context, chatID int64, username string) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" || strings.ContainsAny(username, " \t") {
		h.reply(chatID, "Отправьте /add_user @username", nil)
		return
	}
	h.addTarget(ctx, chatID, domain.UserTarget(username))
}

func (h *Handler) handleAddGroup(ctx context.Context, chatID int64, raw string) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		h.reply(chatID, "Отправьте /add_group <chat_id>, например /add_group -1001234567890", nil)
		return
	}
	h.addTarget(ctx, chatID, domain.GroupTarget(id))
}

func (h *Handler) addTarget(ctx context.Context, chatID int64, t domain.Target) {
	if err := h.store.AddTarget(ctx, t); err != nil {
		h.replyError(chatID, err)
		return
	}
	h.reply(chatID, fmt.Sprintf("Готово: %s [%s]", t.Display(), t.ID()), nil)
}

func (h *Handler) handleDelTarget(ctx context.Context, chatID int64, ref string) {
	ids, err := selectTargets(ref, h.store.Targets())
	if err != nil || len(ids) != 1 {
		h.reply(chatID, "Отправьте /del_target <номер|id>", nil)
		return
	}
	if err := h.store.RemoveTarget(ctx, ids[0]); err != nil {
		h.replyError(chatID, err)
		return
	}
	h.reply(chatID, fmt.Sprintf("Получатель %s удалён вместе с задачами", ids[0]), nil)
}

func (h *Handler) handleAssign(ctx context.Context, chatID int64, args string, assign bool) {
	fields := strings.Fields(args)
	cmd := "/assign"
	if !assign {
		cmd = "/unassign"
	}
	if len(fields) != 2 {
		h.reply(chatID, fmt.Sprintf("Отправьте %s <номер|id получателя> <аккаунт>", cmd), nil)
		return
	}
	ids, err := selectTargets(fields[0], h.store.Targets())
	if err != nil || len(ids) != 1 {
		h.replyError(chatID, domain.ErrTargetNotFound)
		return
	}
	if assign {
		err = h.store.AssignAccount(ctx, ids[0], fields[1])
	} else {
		err = h.store.UnassignAccount(ctx, ids[0], fields[1])
	}
	if err != nil {
		h.replyError(chatID, err)
		return
	}
	h.reply(chatID, "Готово", nil)
}

func (h *Handler) handleScheduled(chatID int64) {
	tasks := h.store.Tasks()
	if len(tasks) == 0 {
		h.reply(chatID, "Очередь пуста", nil)
		return
	}
	var b strings.Builder
	b.WriteString("🗓 Запланировано:\n")
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(tasks))
	for i, task := range tasks {
		target := task.TargetID
		if t, ok := h.store.Target(task.TargetID); ok {
			target = t.Display()
		}
		accounts := "авто"
		if len(task.Accounts) > 0 {
			accounts = strings.Join(task.Accounts, ", ")
		}
		fmt.Fprintf(&b, "%d. %s → %s (%s)\n   %s\n", i+1, schedule.FormatDisplay(task.Due, h.cfg.DisplayOffset), target, accounts, preview(task.Content))
		if len(rows) < 20 {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("❌ %d", i+1), "unschedule:"+task.ID),
			))
		}
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	h.reply(chatID, b.String(), &kb)
}

func (h *Handler) handleUnschedule(ctx context.Context, chatID int64, ref string) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		h.reply(chatID, "Отправьте /unschedule <номер|id>", nil)
		return
	}
	id := ref
	if n, err := strconv.Atoi(ref); err == nil {
		tasks := h.store.Tasks()
		if n < 1 || n > len(tasks) {
			h.replyError(chatID, domain.ErrTaskNotFound)
			return
		}
		id = tasks[n-1].ID
	}
	if err := h.store.DequeueTask(ctx, id); err != nil {
		h.replyError(chatID, err)
		return
	}
	h.reply(chatID, "Задача отменена", nil)
}

func (h *Handler) handleDrafts(chatID int64) {
	drafts := h.store.Drafts()
	if len(drafts) == 0 {
		h.reply(chatID, "Черновиков нет. Создайте: /draft_new", nil)
		return
	}
	var b strings.Builder
	b.WriteString("📝 Черновики:\n")
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(drafts))
	for _, d := range drafts {
		accounts := "авто"
		if len(d.Accounts) > 0 {
			accounts = strings.Join(d.Accounts, ", ")
		}
		fmt.Fprintf(&b, "#%d %s\n   получатели: %d, аккаунты: %s\n", d.ID, preview(d.Content), len(d.TargetIDs), accounts)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("📨 #%d", d.ID), fmt.Sprintf("draft_send:%d", d.ID)),
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("🗑 #%d", d.ID), fmt.Sprintf("draft_del:%d", d.ID)),
		))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	h.reply(chatID, b.String(), &kb)
}

func (h *Handler) handleDraftSend(ctx context.Context, chatID int64, arg string) {
	id, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		h.reply(chatID, "Отправьте /draft_send <id>", nil)
		return
	}
	if _, ok := h.store.Draft(id); !ok {
		h.replyError(chatID, domain.ErrDraftNotFound)
		return
	}
	h.reply(chatID, fmt.Sprintf("⏳ Отправляю черновик #%d", id), nil)
	h.background(ctx, func(ctx context.Context) {
		report, err := h.broadcast.SendDraft(ctx, id)
		if err != nil {
			h.replyError(chatID, err)
			return
		}
		h.reply(chatID, formatReport(report), nil)
	})
}

func (h *Handler) handleDraftSchedule(ctx context.Context, chatID int64, args string) {
	idRaw, when, _ := strings.Cut(strings.TrimSpace(args), " ")
	id, err := strconv.Atoi(idRaw)
	if err != nil || strings.TrimSpace(when) == "" {
		h.reply(chatID, "Отправьте /draft_schedule <id> <время>", nil)
		return
	}
	due, err := schedule.ParseWhen(when, h.cfg.Now(), h.cfg.DisplayOffset)
	if err != nil {
		h.replyError(chatID, err)
		return
	}
	tasks, err := h.scheduler.ScheduleDraft(ctx, id, due)
	if err != nil {
		h.replyError(chatID, err)
		return
	}
	h.reply(chatID, fmt.Sprintf("⏰ Запланировано задач: %d на %s", len(tasks), schedule.FormatDisplay(due, h.cfg.DisplayOffset)), nil)
}

func (h *Handler) handleDraftDelete(ctx context.Context, chatID int64, arg string) {
	id, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		h.reply(chatID, "Отправьте /draft_del <id>", nil)
		return
	}
	if err := h.store.RemoveDraft(ctx, id); err != nil {
		h.replyError(chatID, err)
		return
	}
	h.reply(chatID, fmt.Sprintf("Черновик #%d удалён", id), nil)
}

func (h *Handler) handleStats(chatID int64) {
	stats := h.store.Stats()
	last := "никогда"
	if !stats.LastSend.IsZero() {
		last = schedule.FormatDisplay(stats.LastSend, h.cfg.DisplayOffset)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Статистика\nВсего отправлено: %d\nПоследняя отправка: %s\n", stats.Sent, last)
	if len(stats.Accounts) > 0 {
		b.WriteString("\nПо аккаунтам:\n")
		for _, acc := range h.store.Accounts() {
			if s, ok := stats.Accounts[acc.Name]; ok {
				fmt.Fprintf(&b, "• %s: %d\n", acc.Name, s.Sent)
			}
		}
	}
	h.reply(chatID, b.String(), nil)
}

func (h *Handler) handleAccountStats(chatID int64, name string) {
	if name == "" {
		h.reply(chatID, "Отправьте /account_stats <имя>", nil)
		return
	}
	stats, ok := h.store.AccountStats(name)
	if !ok {
		h.reply(chatID, fmt.Sprintf("По аккаунту %s отправок не было", name), nil)
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 %s: отправлено %d\n", name, stats.Sent)
	history := stats.History
	if len(history) > historyShown {
		history = history[len(history)-historyShown:]
	}
	for i := len(history) - 1; i >= 0; i-- {
		rec := history[i]
		fmt.Fprintf(&b, "• %s → %s: %s\n", schedule.FormatDisplay(rec.Time, h.cfg.DisplayOffset), rec.Target, rec.Text)
	}
	h.reply(chatID, b.String(), nil)
}

func (h *Handler) replyError(chatID int64, err error) {
	var text string
	switch {
	case errors.Is(err, domain.ErrAccountExists):
		text = "Аккаунт с таким именем уже есть"
	case errors.Is(err, domain.ErrAccountNotFound):
		text = "Аккаунт не найден"
	case errors.Is(err, domain.ErrTargetExists):
		text = "Такой получатель уже есть"
	case errors.Is(err, domain.ErrTargetNotFound):
		text = "Получатель не найден"
	case errors.Is(err, domain.ErrDraftNotFound):
		text = "Черновик не найден"
	case errors.Is(err, domain.ErrTaskNotFound):
		text = "Задача не найдена"
	case errors.Is(err, domain.ErrInvalidTime):
		text = "Не понял время. Формат: ДД.ММ.ГГГГ ЧЧ:ММ или +30m, +2h, +1d"
	case errors.Is(err, domain.ErrInvalidButton):
		text = "Кнопка: «Текст | https://ссылка» или «-», чтобы пропустить"
	case errors.Is(err, domain.ErrInvalidContent):
		text = "Этот тип сообщения не поддерживается. Отправьте текст, фото, видео или файл"
	default:
		h.log.Error().Err(err).Int64("chat", chatID).Msg("ошибка команды")
		text = fmt.Sprintf("Ошибка: %v", err)
	}
	h.reply(chatID, "⚠️ "+text, nil)
}
