package stats

import (
	"fmt"
	"time"
	"unicode/utf8"

	"tg-dispatch-bot/internal/domain"
)

// PreviewLimit длина превью текста в истории.
const PreviewLimit = 50

// Ledger ведёт агрегированные счётчики и ограниченную историю по аккаунтам.
// Ledger не потокобезопасен: доступ сериализует владелец (store.Store).
type Ledger struct {
	limit    int
	sent     int
	lastSend time.Time
	accounts map[string]*domain.AccountStats
}

// NewLedger создаёт пустой журнал. limit <= 0 означает domain.HistoryLimit.
func NewLedger(limit int) *Ledger {
	if limit <= 0 {
		limit = domain.HistoryLimit
	}
	return &Ledger{limit: limit, accounts: make(map[string]*domain.AccountStats)}
}

// FromSnapshot восстанавливает журнал из сохранённой статистики.
func FromSnapshot(s domain.Stats, limit int) *Ledger {
	l := NewLedger(limit)
	l.sent = s.Sent
	l.lastSend = s.LastSend
	for name, acc := range s.Accounts {
		history := acc.History
		if len(history) > l.limit {
			history = history[len(history)-l.limit:]
		}
		l.accounts[name] = &domain.AccountStats{Sent: acc.Sent, History: append([]domain.SendRecord(nil), history...)}
	}
	return l
}

// Record учитывает успешную отправку.
func (l *Ledger) Record(account, target, preview string, at time.Time) {
	at = at.UTC()
	l.sent++
	l.lastSend = at
	acc, ok := l.accounts[account]
	if !ok {
		acc = &domain.AccountStats{}
		l.accounts[account] = acc
	}
	acc.Sent++
	acc.History = append(acc.History, domain.SendRecord{Time: at, Target: target, Text: preview})
	if over := len(acc.History) - l.limit; over > 0 {
		acc.History = append(acc.History[:0:0], acc.History[over:]...)
	}
}

// Aggregate возвращает общее число отправок и время последней.
func (l *Ledger) Aggregate() (int, time.Time) {
	return l.sent, l.lastSend
}

// AccountHistory возвращает копию истории аккаунта, последние записи в конце.
func (l *Ledger) AccountHistory(name string) []domain.SendRecord {
	acc, ok := l.accounts[name]
	if !ok {
		return nil
	}
	return append([]domain.SendRecord(nil), acc.History...)
}

// Account возвращает статистику аккаунта.
func (l *Ledger) Account(name string) (domain.AccountStats, bool) {
	acc, ok := l.accounts[name]
	if !ok {
		return domain.AccountStats{}, false
	}
	return domain.AccountStats{Sent: acc.Sent, History: append([]domain.SendRecord(nil), acc.History...)}, true
}

// Snapshot возвращает копию всей статистики.
func (l *Ledger) Snapshot() domain.Stats {
	out := domain.Stats{Sent: l.sent, LastSend: l.lastSend, Accounts: make(map[string]domain.AccountStats, len(l.accounts))}
	for name, acc := range l.accounts {
		out.Accounts[name] = domain.AccountStats{Sent: acc.Sent, History: append([]domain.SendRecord(nil), acc.History...)}
	}
	return out
}

// Preview обрезает текст до PreviewLimit символов и добавляет метку типа для медиа.
func Preview(c domain.Content) string {
	text := c.Body()
	if utf8.RuneCountInString(text) > PreviewLimit {
		runes := []rune(text)
		text = string(runes[:PreviewLimit]) + "..."
	}
	if c.Kind() != domain.KindText {
		text = fmt.Sprintf("[%s] %s", upperKind(c.Kind()), text)
	}
	return text
}

func upperKind(k domain.ContentKind) string {
	switch k {
	case domain.KindPhoto:
		return "PHOTO"
	case domain.KindVideo:
		return "VIDEO"
	case domain.KindDocument:
		return "DOCUMENT"
	}
	return "TEXT"
}
