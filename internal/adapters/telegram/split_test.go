package telegram

import (
	"strings"
	"testing"
)

func TestSplitMessagePrefersNewlines(t *testing.T) {
	text := strings.Repeat("а", 3000) + "\n\n" + strings.Repeat("б", 2000) + "\n" + strings.Repeat("в", 500)

	parts := SplitMessage(text)
	if len(parts) != 2 {
		t.Fatalf("ожидали 2 части, получили %d", len(parts))
	}
	for i, part := range parts {
		if n := len([]rune(part)); n > MessageLimit {
			t.Fatalf("часть %d длиннее лимита: %d", i, n)
		}
	}
	if parts[0] != strings.Repeat("а", 3000) {
		t.Fatal("неожиданная первая часть")
	}
	if !strings.HasPrefix(parts[1], "б") || !strings.HasSuffix(parts[1], strings.Repeat("в", 500)) {
		t.Fatal("неожиданная вторая часть")
	}
}

func TestSplitLimit(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{name: "короткий", text: "hello world", limit: 100, want: []string{"hello world"}},
		{name: "пустой", text: "   \n  ", limit: 100, want: nil},
		{name: "без переносов", text: "abcdefg", limit: 3, want: []string{"abc", "def", "g"}},
		{name: "по строкам", text: "ab\ncd\nef", limit: 6, want: []string{"ab\ncd", "ef"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitLimit(tc.text, tc.limit)
			if len(got) != len(tc.want) {
				t.Fatalf("ожидали %q, получили %q", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("ожидали %q, получили %q", tc.want, got)
				}
			}
		})
	}
}
