package assign

import (
	"math/rand"
	"sync"
	"time"

	"tg-dispatch-bot/internal/domain"
)

// AccountLister отдаёт имена всех зарегистрированных аккаунтов.
type AccountLister interface {
	AccountNames() []string
}

// Resolver выбирает аккаунты для отправки.
type Resolver struct {
	accounts AccountLister
	mu       sync.Mutex
	rnd      *rand.Rand
}

// NewResolver создаёт резолвер. rnd == nil означает источник, засеянный временем.
func NewResolver(accounts AccountLister, rnd *rand.Rand) *Resolver {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Resolver{accounts: accounts, rnd: rnd}
}

// Resolve применяет политику по порядку: явный список задачи, закреплённые
// за получателем аккаунты, один случайный аккаунт. Пустой результат означает,
// что аккаунтов нет вовсе.
func (r *Resolver) Resolve(explicit []string, target domain.Target) []string {
	if len(explicit) > 0 {
		return append([]string(nil), explicit...)
	}
	if len(target.AssignedAccounts) > 0 {
		return append([]string(nil), target.AssignedAccounts...)
	}
	all := r.accounts.AccountNames()
	if len(all) == 0 {
		return nil
	}
	r.mu.Lock()
	idx := r.rnd.Intn(len(all))
	r.mu.Unlock()
	return []string{all[idx]}
}

// ResolveTask резолвит аккаунты для задачи.
func (r *Resolver) ResolveTask(task domain.ScheduledTask, target domain.Target) []string {
	return r.Resolve(task.Accounts, target)
}
