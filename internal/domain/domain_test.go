package domain

import (
	"errors"
	"testing"
	"time"
)

func TestOperatorsAllowed(t *testing.T) {
	if !NewOperators(nil).Allowed(42) {
		t.Fatal("ожидали доступ для всех при пустом списке")
	}
	ops := NewOperators([]int64{1, 2})
	if !ops.Allowed(2) || ops.Allowed(3) {
		t.Fatal("ожидали доступ только для 1 и 2")
	}
}

func TestTargetIdentity(t *testing.T) {
	cases := []struct {
		name    string
		target  Target
		id      string
		display string
	}{
		{name: "пользователь с @", target: UserTarget(" @bob "), id: "user_bob", display: "@bob"},
		{name: "группа", target: GroupTarget(-100500), id: "group_-100500", display: "Группа -100500"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.target.ID(); got != tc.id {
				t.Fatalf("ожидали id %s, получили %s", tc.id, got)
			}
			if got := tc.target.Display(); got != tc.display {
				t.Fatalf("ожидали %s, получили %s", tc.display, got)
			}
		})
	}
}

func TestNewContent(t *testing.T) {
	if c, err := NewContent("", "hi", ""); err != nil || c.Kind() != KindText {
		t.Fatalf("ожидали текст по умолчанию, получили %v %v", c, err)
	}
	if _, err := NewContent(KindPhoto, "cap", ""); !errors.Is(err, ErrInvalidContent) {
		t.Fatalf("ожидали ErrInvalidContent для фото без file_id, получили %v", err)
	}
	if _, err := NewContent("sticker", "", "x"); !errors.Is(err, ErrInvalidContent) {
		t.Fatalf("ожидали ErrInvalidContent для неизвестного типа, получили %v", err)
	}
	c, err := NewContent(KindVideo, "cap", "ref")
	if err != nil || FileRefOf(c) != "ref" || c.Body() != "cap" {
		t.Fatalf("неожиданное видео %#v %v", c, err)
	}
}

func TestNewButton(t *testing.T) {
	cases := []struct {
		label, url string
		ok         bool
	}{
		{"Сайт", "https://example.com/a", true},
		{"Сайт", "http://example.com", true},
		{"", "https://example.com", false},
		{"Сайт", "example.com", false},
		{"Сайт", "ftp://example.com", false},
		{"Сайт", "https://", false},
	}
	for _, tc := range cases {
		_, err := NewButton(tc.label, tc.url)
		if (err == nil) != tc.ok {
			t.Fatalf("%q %q: ожидали ok=%v, получили %v", tc.label, tc.url, tc.ok, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidButton) {
			t.Fatalf("ожидали ErrInvalidButton, получили %v", err)
		}
	}
}

func TestTaskIsDue(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	task := ScheduledTask{Due: now}
	if !task.IsDue(now) || task.IsDue(now.Add(-time.Second)) {
		t.Fatal("ожидали срок включительно")
	}
}

func TestStateCloneIsDeep(t *testing.T) {
	s := State{
		Targets: []Target{{Type: TargetUser, Username: "a", AssignedAccounts: []string{"x"}}},
		Tasks:   []ScheduledTask{{ID: "t", Accounts: []string{"x"}, Button: &Button{Label: "l"}}},
		Stats:   Stats{Accounts: map[string]AccountStats{"x": {Sent: 1}}},
	}
	c := s.Clone()
	c.Targets[0].AssignedAccounts[0] = "y"
	c.Tasks[0].Accounts[0] = "y"
	c.Tasks[0].Button.Label = "z"
	c.Stats.Accounts["x"] = AccountStats{Sent: 9}
	if s.Targets[0].AssignedAccounts[0] != "x" || s.Tasks[0].Accounts[0] != "x" || s.Tasks[0].Button.Label != "l" || s.Stats.Accounts["x"].Sent != 1 {
		t.Fatal("клон разделяет память с оригиналом")
	}
}
