package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/usecase/broadcast"
	"tg-dispatch-bot/internal/usecase/stats"
)

var allWords = map[string]struct{}{"все": {}, "всем": {}, "all": {}, "*": {}}

// selectTargets разбирает выбор получателей: номера из списка, id или «все».
func selectTargets(input string, targets []domain.Target) ([]string, error) {
	input = strings.TrimSpace(input)
	if _, ok := allWords[strings.ToLower(input)]; ok {
		ids := make([]string, 0, len(targets))
		for _, t := range targets {
			ids = append(ids, t.ID())
		}
		return ids, nil
	}
	var ids []string
	seen := make(map[string]struct{})
	for _, part := range splitList(input) {
		id, err := resolveTarget(part, targets)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, domain.ErrTargetNotFound
	}
	return ids, nil
}

func resolveTarget(ref string, targets []domain.Target) (string, error) {
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(targets) {
		return targets[n-1].ID(), nil
	}
	for _, t := range targets {
		if t.ID() == ref {
			return t.ID(), nil
		}
		if t.Type == domain.TargetUser && t.Username == strings.TrimPrefix(ref, "@") {
			return t.ID(), nil
		}
		if t.Type == domain.TargetGroup && strconv.FormatInt(t.ChatID, 10) == ref {
			return t.ID(), nil
		}
	}
	return "", fmt.Errorf("%s: %w", ref, domain.ErrTargetNotFound)
}

// selectAccounts разбирает выбор аккаунтов. «-» означает автоматический выбор.
func selectAccounts(input string, accounts []domain.Account) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "-" || input == "" {
		return nil, nil
	}
	known := make(map[string]struct{}, len(accounts))
	for _, acc := range accounts {
		known[acc.Name] = struct{}{}
	}
	var out []string
	for _, part := range splitList(input) {
		if n, err := strconv.Atoi(part); err == nil && n >= 1 && n <= len(accounts) {
			part = accounts[n-1].Name
		}
		if _, ok := known[part]; !ok {
			return nil, fmt.Errorf("%s: %w", part, domain.ErrAccountNotFound)
		}
		out = append(out, part)
	}
	return out, nil
}

// parseButton разбирает «Текст | URL». «-» означает сообщение без кнопки.
func parseButton(input string) (*domain.Button, error) {
	input = strings.TrimSpace(input)
	if input == "-" || input == "" {
		return nil, nil
	}
	label, rawURL, ok := strings.Cut(input, "|")
	if !ok {
		return nil, fmt.Errorf("нет разделителя |: %w", domain.ErrInvalidButton)
	}
	button, err := domain.NewButton(label, rawURL)
	if err != nil {
		return nil, err
	}
	return &button, nil
}

// contentFromMessage извлекает содержимое из сообщения оператора.
func contentFromMessage(msg *tgbotapi.Message) (domain.Content, error) {
	switch {
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		return domain.NewContent(domain.KindPhoto, msg.Caption, largest.FileID)
	case msg.Video != nil:
		return domain.NewContent(domain.KindVideo, msg.Caption, msg.Video.FileID)
	case msg.Document != nil:
		return domain.NewContent(domain.KindDocument, msg.Caption, msg.Document.FileID)
	case strings.TrimSpace(msg.Text) != "":
		return domain.NewContent(domain.KindText, msg.Text, "")
	}
	return nil, domain.ErrInvalidContent
}

func preview(c domain.Content) string {
	if c == nil {
		return ""
	}
	return stats.Preview(c)
}

func formatReport(report broadcast.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📨 Рассылка завершена: успешно %d, ошибок %d\n", report.Sent, report.Failed)
	for _, res := range report.Results {
		switch {
		case res.Err != nil && res.Sent == 0 && res.Failed == 0:
			fmt.Fprintf(&b, "• %s: %s\n", res.Display, describe(res.Err))
		default:
			fmt.Fprintf(&b, "• %s: %d/%d\n", res.Display, res.Sent, res.Sent+res.Failed)
		}
	}
	return b.String()
}

func describe(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoEligibleAccount):
		return "нет доступных аккаунтов"
	case errors.Is(err, domain.ErrTargetNotFound):
		return "получатель не найден"
	}
	return err.Error()
}

func listTargets(targets []domain.Target) string {
	var b strings.Builder
	for i, t := range targets {
		fmt.Fprintf(&b, "%d. %s [%s]\n", i+1, t.Display(), t.ID())
	}
	return b.String()
}

func listAccounts(accounts []domain.Account) string {
	if len(accounts) == 0 {
		return "Аккаунтов нет"
	}
	var b strings.Builder
	for i, acc := range accounts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, acc.Name)
	}
	return b.String()
}

func splitList(input string) []string {
	fields := strings.FieldsFunc(input, func(r rune) bool { return r == ',' || r == ';' || unicode.IsSpace(r) })
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func validAccountName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		if !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
