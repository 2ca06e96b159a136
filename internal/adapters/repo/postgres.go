package repo

import (
	"context"
	"errors"
	"time"

	"github.com/gotd/td/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-dispatch-bot/internal/infra/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS dispatch_state (
	collection TEXT PRIMARY KEY,
	data JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS mtproto_sessions (
	name TEXT PRIMARY KEY,
	data BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Postgres хранит коллекции в таблице dispatch_state.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// Migrate создаёт таблицы, если их нет.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, schema)
	metrics.ObserveNetworkRequest("postgres", "migrate", "dispatch_state", start, err)
	return err
}

func (p *Postgres) Read(ctx context.Context, names []string) (map[string][]byte, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT collection, data::text FROM dispatch_state WHERE collection = ANY($1)`, names)
	metrics.ObserveNetworkRequest("postgres", "state_load", "dispatch_state", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte, len(names))
	for rows.Next() {
		var (
			name string
			data string
		)
		if err := rows.Scan(&name, &data); err != nil {
			return nil, err
		}
		out[name] = []byte(data)
	}
	return out, rows.Err()
}

func (p *Postgres) Write(ctx context.Context, docs map[string][]byte) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		for name, data := range docs {
			if _, err := tx.Exec(ctx, `
INSERT INTO dispatch_state (collection, data, updated_at)
VALUES ($1, $2::jsonb, now())
ON CONFLICT (collection) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
`, name, string(data)); err != nil {
				return err
			}
		}
		return nil
	})
	metrics.ObserveNetworkRequest("postgres", "state_store", "dispatch_state", start, err)
	return err
}

// LoadMTProtoSession загружает сохранённую MTProto-сессию.
func (p *Postgres) LoadMTProtoSession(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var data []byte
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT data FROM mtproto_sessions WHERE name = $1`, name).Scan(&data)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_load", "mtproto_sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}

// StoreMTProtoSession сохраняет MTProto-сессию.
func (p *Postgres) StoreMTProtoSession(ctx context.Context, name string, data []byte) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO mtproto_sessions (name, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
`, name, append([]byte(nil), data...))
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_store", "mtproto_sessions", start, err)
	return err
}

// SessionStorage возвращает хранилище сессии gotd для аккаунта.
func (p *Postgres) SessionStorage(name string) session.Storage {
	return &pgSession{db: p, name: name}
}

type pgSession struct {
	db   *Postgres
	name string
}

func (s *pgSession) LoadSession(ctx context.Context) ([]byte, error) {
	return s.db.LoadMTProtoSession(ctx, s.name)
}

func (s *pgSession) StoreSession(ctx context.Context, data []byte) error {
	return s.db.StoreMTProtoSession(ctx, s.name, data)
}
