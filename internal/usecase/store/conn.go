package store

import (
	"sync"
	"sync/atomic"

	"tg-dispatch-bot/internal/domain"
)

// Conn владеет клиентом одного аккаунта и сериализует все обращения к нему.
type Conn struct {
	name   string
	mu     sync.Mutex
	client domain.PlatformClient
	// последнее известное состояние, читается без блокировки
	connected atomic.Bool
}

func newConn(name string, client domain.PlatformClient) *Conn {
	return &Conn{name: name, client: client}
}

// Name возвращает имя аккаунта.
func (c *Conn) Name() string { return c.name }

// Do выполняет fn с эксклюзивным доступом к клиенту.
func (c *Conn) Do(fn func(client domain.PlatformClient) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() { c.connected.Store(c.client.IsConnected()) }()
	return fn(c.client)
}

// Connected сообщает состояние подключения без ожидания текущей операции.
// Пока клиент занят, возвращается состояние на конец предыдущей операции.
func (c *Conn) Connected() bool {
	if !c.mu.TryLock() {
		return c.connected.Load()
	}
	defer c.mu.Unlock()
	state := c.client.IsConnected()
	c.connected.Store(state)
	return state
}
