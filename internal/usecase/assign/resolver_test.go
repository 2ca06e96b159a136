package assign

import (
	"math/rand"
	"reflect"
	"testing"

	"tg-dispatch-bot/internal/domain"
)

type staticAccounts []string

func (s staticAccounts) AccountNames() []string { return s }

func TestResolvePolicy(t *testing.T) {
	assigned := domain.UserTarget("alice")
	assigned.AssignedAccounts = []string{"a2", "a3"}
	bare := domain.UserTarget("bob")

	cases := []struct {
		name     string
		accounts staticAccounts
		task     domain.ScheduledTask
		target   domain.Target
		want     []string
	}{
		{"явный список важнее закреплённых", staticAccounts{"a1", "a2", "a3"}, domain.ScheduledTask{Accounts: []string{"a1"}}, assigned, []string{"a1"}},
		{"явный список берётся как есть", staticAccounts{"a1"}, domain.ScheduledTask{Accounts: []string{"ghost", "a1"}}, bare, []string{"ghost", "a1"}},
		{"закреплённые аккаунты получателя", staticAccounts{"a1", "a2", "a3"}, domain.ScheduledTask{}, assigned, []string{"a2", "a3"}},
		{"нет аккаунтов вовсе", nil, domain.ScheduledTask{}, bare, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewResolver(tc.accounts, rand.New(rand.NewSource(1)))
			got := r.ResolveTask(tc.task, tc.target)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ожидали %v, получили %v", tc.want, got)
			}
		})
	}
}

func TestResolveRandomPicksExactlyOne(t *testing.T) {
	all := staticAccounts{"a1", "a2", "a3"}
	r := NewResolver(all, rand.New(rand.NewSource(42)))
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		got := r.Resolve(nil, domain.GroupTarget(-1))
		if len(got) != 1 {
			t.Fatalf("ожидали ровно один аккаунт, получили %v", got)
		}
		seen[got[0]] = true
	}
	for _, name := range all {
		if !seen[name] {
			t.Fatalf("аккаунт %s ни разу не выбран", name)
		}
	}
}

func TestResolveDoesNotAliasInput(t *testing.T) {
	target := domain.UserTarget("carol")
	target.AssignedAccounts = []string{"x"}
	r := NewResolver(staticAccounts{"x"}, nil)
	got := r.Resolve(nil, target)
	got[0] = "mutated"
	if target.AssignedAccounts[0] != "x" {
		t.Fatalf("результат не должен разделять память с получателем")
	}
}
