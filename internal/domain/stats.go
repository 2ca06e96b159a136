package domain

import "time"

// HistoryLimit ограничивает историю отправок одного аккаунта.
const HistoryLimit = 100

// SendRecord запись об успешной отправке.
type SendRecord struct {
	Time   time.Time
	Target string
	Text   string
}

// AccountStats счётчик и история отправок аккаунта, последние записи в конце.
type AccountStats struct {
	Sent    int
	History []SendRecord
}

// Stats агрегированная статистика процесса.
// Нулевой LastSend означает, что отправок ещё не было.
type Stats struct {
	Sent     int
	LastSend time.Time
	Accounts map[string]AccountStats
}

// Clone возвращает глубокую копию.
func (s Stats) Clone() Stats {
	out := Stats{Sent: s.Sent, LastSend: s.LastSend, Accounts: make(map[string]AccountStats, len(s.Accounts))}
	for name, acc := range s.Accounts {
		out.Accounts[name] = AccountStats{Sent: acc.Sent, History: append([]SendRecord(nil), acc.History...)}
	}
	return out
}
