package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/infra/metrics"
	"tg-dispatch-bot/internal/usecase/stats"
)

// Store владеет каноническим состоянием в памяти: аккаунтами, получателями,
// черновиками, очередью задач и статистикой. Каждая мутация завершается
// сохранением снимка; ошибка сохранения логируется и не откатывает изменение.
type Store struct {
	persist domain.Persistence
	factory domain.ClientFactory
	log     zerolog.Logger

	mu       sync.Mutex
	accounts []domain.Account
	conns    map[string]*Conn
	targets  []domain.Target
	drafts   []domain.Draft
	tasks    []domain.ScheduledTask
	ledger   *stats.Ledger
	version  uint64

	flushMu sync.Mutex
	flushed uint64
}

// New создаёт пустое хранилище.
func New(persist domain.Persistence, factory domain.ClientFactory, logger zerolog.Logger) *Store {
	return &Store{
		persist: persist,
		factory: factory,
		log:     logger.With().Str("component", "store").Logger(),
		conns:   make(map[string]*Conn),
		ledger:  stats.NewLedger(domain.HistoryLimit),
	}
}

// Init загружает состояние и создаёт клиентов для всех аккаунтов.
func (s *Store) Init(ctx context.Context) error {
	state, err := s.persist.Load(ctx)
	if err != nil {
		return fmt.Errorf("загрузка состояния: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state = state.Clone()
	s.accounts = state.Accounts
	s.targets = state.Targets
	s.drafts = state.Drafts
	s.tasks = state.Tasks
	s.ledger = stats.FromSnapshot(state.Stats, domain.HistoryLimit)
	s.conns = make(map[string]*Conn, len(s.accounts))
	for _, acc := range s.accounts {
		s.conns[acc.Name] = newConn(acc.Name, s.factory.NewClient(acc))
	}
	metrics.PendingTasks.Set(float64(len(s.tasks)))
	s.log.Info().
		Int("accounts", len(s.accounts)).
		Int("targets", len(s.targets)).
		Int("drafts", len(s.drafts)).
		Int("tasks", len(s.tasks)).
		Msg("состояние загружено")
	return nil
}

// ConnectAll подключает все аккаунты и возвращает число успешных подключений.
// Ошибка одного аккаунта не мешает остальным.
func (s *Store) ConnectAll(ctx context.Context) int {
	connected := 0
	for _, conn := range s.connList() {
		err := conn.Do(func(c domain.PlatformClient) error {
			if c.IsConnected() {
				return nil
			}
			return c.Connect(ctx)
		})
		if err != nil {
			s.log.Error().Err(err).Str("account", conn.Name()).Msg("не удалось подключить аккаунт")
			continue
		}
		connected++
		s.log.Info().Str("account", conn.Name()).Msg("аккаунт подключён")
	}
	s.RefreshConnected()
	return connected
}

// RefreshConnected пересчитывает число подключённых аккаунтов и обновляет метрику.
func (s *Store) RefreshConnected() int {
	connected := 0
	for _, conn := range s.connList() {
		if conn.Connected() {
			connected++
		}
	}
	metrics.ConnectedAccounts.Set(float64(connected))
	return connected
}

// Shutdown сохраняет состояние и отключает все аккаунты.
func (s *Store) Shutdown(ctx context.Context) error {
	flushErr := s.Flush(ctx)
	for _, conn := range s.connList() {
		if err := conn.Do(func(c domain.PlatformClient) error { return c.Disconnect(ctx) }); err != nil {
			s.log.Warn().Err(err).Str("account", conn.Name()).Msg("ошибка отключения аккаунта")
		}
	}
	metrics.ConnectedAccounts.Set(0)
	return flushErr
}

// Flush принудительно сохраняет текущий снимок.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	snap, version := s.snapshotLocked(), s.version
	s.mu.Unlock()
	return s.save(ctx, snap, version)
}

// Snapshot возвращает копию всего состояния.
func (s *Store) Snapshot() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// commitLocked фиксирует мутацию и возвращает снимок для сохранения.
// Вызывается под s.mu.
func (s *Store) commitLocked() (domain.State, uint64) {
	s.version++
	metrics.PendingTasks.Set(float64(len(s.tasks)))
	return s.snapshotLocked(), s.version
}

func (s *Store) snapshotLocked() domain.State {
	state := domain.State{
		Accounts: s.accounts,
		Targets:  s.targets,
		Drafts:   s.drafts,
		Tasks:    s.tasks,
		Stats:    s.ledger.Snapshot(),
	}
	return state.Clone()
}

// save пишет снимок, если более новая версия ещё не сохранена.
func (s *Store) save(ctx context.Context, snap domain.State, version uint64) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	if version < s.flushed {
		return nil
	}
	if err := s.persist.Save(ctx, snap); err != nil {
		metrics.PersistFailures.Inc()
		s.log.Error().Err(err).Uint64("version", version).Msg("не удалось сохранить состояние")
		return fmt.Errorf("сохранение состояния: %w", err)
	}
	s.flushed = version
	return nil
}

func (s *Store) persistAfter(ctx context.Context, snap domain.State, version uint64) {
	// Ошибка уже залогирована и посчитана в save.
	_ = s.save(ctx, snap, version)
}

func (s *Store) connList() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.accounts))
	for _, acc := range s.accounts {
		if conn, ok := s.conns[acc.Name]; ok {
			out = append(out, conn)
		}
	}
	return out
}

// Accounts возвращает аккаунты в порядке добавления.
func (s *Store) Accounts() []domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Account(nil), s.accounts...)
}

// AccountNames возвращает имена аккаунтов в порядке добавления.
func (s *Store) AccountNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.accounts))
	for i, acc := range s.accounts {
		names[i] = acc.Name
	}
	return names
}

// Account возвращает аккаунт по имени.
func (s *Store) Account(name string) (domain.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.accountIndexLocked(name)
	if idx < 0 {
		return domain.Account{}, false
	}
	return s.accounts[idx], true
}

// Conn возвращает подключение аккаунта.
func (s *Store) Conn(name string) (*Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[name]
	return conn, ok
}

// ConnectAccount подключает один аккаунт, если он ещё не подключён.
func (s *Store) ConnectAccount(ctx context.Context, name string) error {
	conn, ok := s.Conn(name)
	if !ok {
		return fmt.Errorf("аккаунт %s: %w", name, domain.ErrAccountNotFound)
	}
	err := conn.Do(func(c domain.PlatformClient) error {
		if c.IsConnected() {
			return nil
		}
		return c.Connect(ctx)
	})
	s.RefreshConnected()
	return err
}

// Connected сообщает, подключён ли аккаунт.
func (s *Store) Connected(name string) bool {
	conn, ok := s.Conn(name)
	return ok && conn.Connected()
}

// AddAccount регистрирует аккаунт. Если client равен nil, клиент создаёт фабрика.
func (s *Store) AddAccount(ctx context.Context, acc domain.Account, client domain.PlatformClient) error {
	if acc.Name == "" {
		return fmt.Errorf("пустое имя аккаунта: %w", domain.ErrAccountNotFound)
	}
	s.mu.Lock()
	if s.accountIndexLocked(acc.Name) >= 0 {
		s.mu.Unlock()
		return fmt.Errorf("аккаунт %s: %w", acc.Name, domain.ErrAccountExists)
	}
	if client == nil {
		client = s.factory.NewClient(acc)
	}
	s.accounts = append(s.accounts, acc)
	s.conns[acc.Name] = newConn(acc.Name, client)
	snap, version := s.commitLocked()
	s.mu.Unlock()

	s.log.Info().Str("account", acc.Name).Msg("аккаунт добавлен")
	s.RefreshConnected()
	s.persistAfter(ctx, snap, version)
	return nil
}

// RemoveAccount удаляет аккаунт, отключает его клиента и вычищает имя
// из списков закреплённых аккаунтов всех получателей.
func (s *Store) RemoveAccount(ctx context.Context, name string) error {
	s.mu.Lock()
	idx := s.accountIndexLocked(name)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("аккаунт %s: %w", name, domain.ErrAccountNotFound)
	}
	s.accounts = append(s.accounts[:idx:idx], s.accounts[idx+1:]...)
	conn := s.conns[name]
	delete(s.conns, name)
	for i := range s.targets {
		s.targets[i].AssignedAccounts = without(s.targets[i].AssignedAccounts, name)
	}
	snap, version := s.commitLocked()
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Do(func(c domain.PlatformClient) error { return c.Disconnect(ctx) }); err != nil {
			s.log.Warn().Err(err).Str("account", name).Msg("ошибка отключения удалённого аккаунта")
		}
	}
	s.log.Info().Str("account", name).Msg("аккаунт удалён")
	s.RefreshConnected()
	s.persistAfter(ctx, snap, version)
	return nil
}

func (s *Store) accountIndexLocked(name string) int {
	for i, acc := range s.accounts {
		if acc.Name == name {
			return i
		}
	}
	return -1
}

// Targets возвращает получателей в порядке добавления.
func (s *Store) Targets() []domain.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Target, len(s.targets))
	for i, t := range s.targets {
		t.AssignedAccounts = append([]string(nil), t.AssignedAccounts...)
		out[i] = t
	}
	return out
}

// Target возвращает получателя по идентификатору.
func (s *Store) Target(id string) (domain.Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.targetIndexLocked(id)
	if idx < 0 {
		return domain.Target{}, false
	}
	t := s.targets[idx]
	t.AssignedAccounts = append([]string(nil), t.AssignedAccounts...)
	return t, true
}

// AddTarget добавляет получателя.
func (s *Store) AddTarget(ctx context.Context, t domain.Target) error {
	s.mu.Lock()
	if s.targetIndexLocked(t.ID()) >= 0 {
		s.mu.Unlock()
		return fmt.Errorf("получатель %s: %w", t.ID(), domain.ErrTargetExists)
	}
	t.AssignedAccounts = append([]string(nil), t.AssignedAccounts...)
	s.targets = append(s.targets, t)
	snap, version := s.commitLocked()
	s.mu.Unlock()

	s.persistAfter(ctx, snap, version)
	return nil
}

// RemoveTarget удаляет получателя, убирает его из черновиков
// и удаляет все задачи, которые на него ссылаются.
func (s *Store) RemoveTarget(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := s.targetIndexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("получатель %s: %w", id, domain.ErrTargetNotFound)
	}
	s.targets = append(s.targets[:idx:idx], s.targets[idx+1:]...)
	for i := range s.drafts {
		s.drafts[i].TargetIDs = without(s.drafts[i].TargetIDs, id)
	}
	kept := s.tasks[:0:0]
	dropped := 0
	for _, task := range s.tasks {
		if task.TargetID == id {
			dropped++
			continue
		}
		kept = append(kept, task)
	}
	s.tasks = kept
	snap, version := s.commitLocked()
	s.mu.Unlock()

	s.log.Info().Str("target", id).Int("tasks_dropped", dropped).Msg("получатель удалён")
	s.persistAfter(ctx, snap, version)
	return nil
}

// AssignAccount закрепляет аккаунт за получателем. Повторное закрепление не меняет порядок.
func (s *Store) AssignAccount(ctx context.Context, targetID, account string) error {
	s.mu.Lock()
	idx := s.targetIndexLocked(targetID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("получатель %s: %w", targetID, domain.ErrTargetNotFound)
	}
	if s.accountIndexLocked(account) < 0 {
		s.mu.Unlock()
		return fmt.Errorf("аккаунт %s: %w", account, domain.ErrAccountNotFound)
	}
	if s.targets[idx].HasAccount(account) {
		s.mu.Unlock()
		return nil
	}
	s.targets[idx].AssignedAccounts = append(s.targets[idx].AssignedAccounts, account)
	snap, version := s.commitLocked()
	s.mu.Unlock()

	s.persistAfter(ctx, snap, version)
	return nil
}

// UnassignAccount открепляет аккаунт от получателя.
func (s *Store) UnassignAccount(ctx context.Context, targetID, account string) error {
	s.mu.Lock()
	idx := s.targetIndexLocked(targetID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("получатель %s: %w", targetID, domain.ErrTargetNotFound)
	}
	s.targets[idx].AssignedAccounts = without(s.targets[idx].AssignedAccounts, account)
	snap, version := s.commitLocked()
	s.mu.Unlock()

	s.persistAfter(ctx, snap, version)
	return nil
}

func (s *Store) targetIndexLocked(id string) int {
	for i, t := range s.targets {
		if t.ID() == id {
			return i
		}
	}
	return -1
}

// EnqueueTask ставит задачу в очередь. Пустой ID заменяется на UUID.
func (s *Store) EnqueueTask(ctx context.Context, task domain.ScheduledTask) (domain.ScheduledTask, error) {
	if task.Content == nil {
		return domain.ScheduledTask{}, fmt.Errorf("задача без содержимого: %w", domain.ErrInvalidContent)
	}
	task = task.Clone()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Due = task.Due.UTC().Truncate(time.Second)

	s.mu.Lock()
	if s.targetIndexLocked(task.TargetID) < 0 {
		s.mu.Unlock()
		return domain.ScheduledTask{}, fmt.Errorf("получатель %s: %w", task.TargetID, domain.ErrTargetNotFound)
	}
	s.tasks = append(s.tasks, task)
	snap, version := s.commitLocked()
	s.mu.Unlock()

	s.log.Debug().Str("task", task.ID).Str("target", task.TargetID).Time("due", task.Due).Msg("задача поставлена в очередь")
	s.persistAfter(ctx, snap, version)
	return task.Clone(), nil
}

// DequeueTask удаляет одну задачу.
func (s *Store) DequeueTask(ctx context.Context, id string) error {
	if s.RemoveTasks(ctx, []string{id}) == 0 {
		return fmt.Errorf("задача %s: %w", id, domain.ErrTaskNotFound)
	}
	return nil
}

// RemoveTasks удаляет задачи пакетом и сохраняет состояние один раз.
// Отсутствующие идентификаторы игнорируются. Возвращает число удалённых задач.
func (s *Store) RemoveTasks(ctx context.Context, ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	s.mu.Lock()
	kept := s.tasks[:0:0]
	for _, task := range s.tasks {
		if _, ok := drop[task.ID]; ok {
			continue
		}
		kept = append(kept, task)
	}
	removed := len(s.tasks) - len(kept)
	if removed == 0 {
		s.mu.Unlock()
		return 0
	}
	s.tasks = kept
	snap, version := s.commitLocked()
	s.mu.Unlock()

	s.persistAfter(ctx, snap, version)
	return removed
}

// ListDueTasks возвращает задачи со временем <= now в порядке постановки.
func (s *Store) ListDueTasks(now time.Time) []domain.ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.ScheduledTask
	for _, task := range s.tasks {
		if task.IsDue(now) {
			due = append(due, task.Clone())
		}
	}
	return due
}

// Tasks возвращает все задачи в порядке постановки.
func (s *Store) Tasks() []domain.ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ScheduledTask, len(s.tasks))
	for i, task := range s.tasks {
		out[i] = task.Clone()
	}
	return out
}

// Task возвращает задачу по идентификатору.
func (s *Store) Task(id string) (domain.ScheduledTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if task.ID == id {
			return task.Clone(), true
		}
	}
	return domain.ScheduledTask{}, false
}

// RecordSend учитывает успешную отправку в статистике и сохраняет её.
func (s *Store) RecordSend(ctx context.Context, account, target, preview string, at time.Time) {
	s.mu.Lock()
	s.ledger.Record(account, target, preview, at)
	snap, version := s.commitLocked()
	s.mu.Unlock()

	s.persistAfter(ctx, snap, version)
}

// Aggregate возвращает общее число отправок и время последней.
func (s *Store) Aggregate() (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Aggregate()
}

// AccountStats возвращает статистику аккаунта.
func (s *Store) AccountStats(name string) (domain.AccountStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Account(name)
}

// Stats возвращает копию всей статистики.
func (s *Store) Stats() domain.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Snapshot()
}

func without(list []string, value string) []string {
	out := list[:0:0]
	for _, item := range list {
		if item != value {
			out = append(out, item)
		}
	}
	return out
}
