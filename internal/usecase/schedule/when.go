package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"tg-dispatch-bot/internal/domain"
)

// DefaultDisplayOffset сдвиг отображаемого времени оператора относительно UTC.
const DefaultDisplayOffset = 2 * time.Hour

const (
	displayLayout = "02.01.2006 15:04"
	maxRelative   = 366 * 24 * time.Hour
)

var relativeUnits = map[string]time.Duration{
	"m": time.Minute, "min": time.Minute, "м": time.Minute, "мин": time.Minute,
	"h": time.Hour, "ч": time.Hour,
	"d": 24 * time.Hour, "д": 24 * time.Hour,
}

// ParseWhen переводит ввод оператора в абсолютное время UTC.
// Поддерживаются "ДД.ММ.ГГГГ ЧЧ:ММ" (также "ЧЧ.ММ") во времени оператора
// и относительная форма "+<N><единица>", где единица m|h|d или м|ч|д.
func ParseWhen(input string, now time.Time, offset time.Duration) (time.Time, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return time.Time{}, fmt.Errorf("пустое время: %w", domain.ErrInvalidTime)
	}
	if strings.HasPrefix(raw, "+") {
		d, err := parseRelative(raw[1:])
		if err != nil {
			return time.Time{}, err
		}
		return now.UTC().Add(d).Truncate(time.Second), nil
	}

	fields := strings.Fields(raw)
	if len(fields) != 2 {
		return time.Time{}, fmt.Errorf("ожидали ДД.ММ.ГГГГ ЧЧ:ММ, получили %q: %w", raw, domain.ErrInvalidTime)
	}
	clock := strings.ReplaceAll(fields[1], ".", ":")
	local, err := time.ParseInLocation(displayLayout, fields[0]+" "+clock, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("разбор %q: %w", raw, domain.ErrInvalidTime)
	}
	return local.Add(-offset), nil
}

func parseRelative(raw string) (time.Duration, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	split := strings.IndexFunc(raw, func(r rune) bool { return !unicode.IsDigit(r) })
	if split <= 0 {
		return 0, fmt.Errorf("относительное время %q: %w", raw, domain.ErrInvalidTime)
	}
	amount, err := strconv.Atoi(raw[:split])
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("количество %q: %w", raw[:split], domain.ErrInvalidTime)
	}
	unit, ok := relativeUnits[strings.TrimSpace(raw[split:])]
	if !ok {
		return 0, fmt.Errorf("единица %q: %w", raw[split:], domain.ErrInvalidTime)
	}
	if time.Duration(amount) > maxRelative/unit {
		return 0, fmt.Errorf("слишком далеко: %w", domain.ErrInvalidTime)
	}
	return time.Duration(amount) * unit, nil
}

// FormatDisplay форматирует время UTC для оператора.
func FormatDisplay(t time.Time, offset time.Duration) string {
	return t.UTC().Add(offset).Format(displayLayout)
}
