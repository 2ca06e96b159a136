package telegram

import "strings"

// Лимиты Bot API в символах.
const (
	MessageLimit = 4096
	CaptionLimit = 1024
)

// SplitMessage режет текст на части не длиннее MessageLimit.
func SplitMessage(text string) []string {
	return SplitLimit(text, MessageLimit)
}

// SplitLimit режет текст на части не длиннее limit символов,
// по возможности по границе строки.
func SplitLimit(text string, limit int) []string {
	rest := []rune(strings.TrimSpace(text))
	if len(rest) == 0 {
		return nil
	}
	if limit <= 0 {
		return []string{string(rest)}
	}

	var parts []string
	for len(rest) > limit {
		cut := limit
		for i := limit; i > 0; i-- {
			if rest[i-1] == '\n' {
				cut = i
				break
			}
		}
		if chunk := strings.Trim(string(rest[:cut]), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		rest = trimLeadingNewlines(rest[cut:])
	}
	if chunk := strings.Trim(string(rest), "\n"); chunk != "" {
		parts = append(parts, chunk)
	}
	return parts
}

func trimLeadingNewlines(r []rune) []rune {
	for len(r) > 0 && r[0] == '\n' {
		r = r[1:]
	}
	return r
}
