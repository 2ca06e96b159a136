package repo

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"tg-dispatch-bot/internal/domain"
)

// Backend хранит документы коллекций как непрозрачные байты.
type Backend interface {
	Read(ctx context.Context, names []string) (map[string][]byte, error)
	Write(ctx context.Context, docs map[string][]byte) error
}

// Repository реализует domain.Persistence поверх Backend.
// Записываются только изменившиеся коллекции.
type Repository struct {
	backend Backend
	log     zerolog.Logger

	mu   sync.Mutex
	last map[string][]byte
}

var _ domain.Persistence = (*Repository)(nil)

// NewRepository создаёт репозиторий состояния.
func NewRepository(backend Backend, logger zerolog.Logger) *Repository {
	return &Repository{backend: backend, log: logger, last: map[string][]byte{}}
}

// Load читает все коллекции.
func (r *Repository) Load(ctx context.Context) (domain.State, error) {
	docs, err := r.backend.Read(ctx, Collections)
	if err != nil {
		return domain.State{}, fmt.Errorf("чтение состояния: %w", err)
	}
	state, err := Decode(docs, r.log)
	if err != nil {
		return domain.State{}, err
	}
	r.mu.Lock()
	for name, data := range docs {
		r.last[name] = append([]byte(nil), data...)
	}
	r.mu.Unlock()
	return state, nil
}

// Save сохраняет снимок.
func (r *Repository) Save(ctx context.Context, state domain.State) error {
	docs, err := Encode(state)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := make(map[string][]byte, len(docs))
	for name, data := range docs {
		if prev, ok := r.last[name]; ok && bytes.Equal(prev, data) {
			continue
		}
		changed[name] = data
	}
	if len(changed) == 0 {
		return nil
	}
	if err := r.backend.Write(ctx, changed); err != nil {
		return fmt.Errorf("запись состояния: %w", err)
	}
	for name, data := range changed {
		r.last[name] = data
	}
	return nil
}
