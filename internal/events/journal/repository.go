package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/mt-route-daemon/internal/events"
	"github.com/Sh00ty/mt-route-daemon/internal/pgerror"
)

const (
	eventsTable = "cycle_events"
)

const schema = `
create table if not exists cycle_events (
	id              text not null,
	kind            text not null,
	at              timestamptz not null,
	outcome         text not null,
	effective_state smallint not null,
	duration_ms     bigint not null default 0,
	payload         jsonb not null,
	primary key (id, kind)
);
create index if not exists cycle_events_at_idx on cycle_events (at desc);
`

type Config struct {
	User     string
	Password string
	Host     string
	Port     uint16
	Name     string
	MaxConns int32
}

// Repository journals daemon events into Postgres.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepo(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.Name == "" {
		cfg.Name = "postgres"
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 4
	}
	pgCfg, err := pgxpool.ParseConfig(
		fmt.Sprintf(
			"user=%s password=%s host=%s port=%d dbname=%s sslmode=disable",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name,
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pgx config: %w", err)
	}
	pgCfg.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return &Repository{
		db: pool,
	}, nil
}

func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

func (r *Repository) Close() {
	r.db.Close()
}

// SaveEvents inserts events in one batch. Events already journaled are skipped.
func (r *Repository) SaveEvents(ctx context.Context, evs []events.CycleEvent) (int, error) {
	if len(evs) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	for _, e := range evs {
		sql, args, err := insertQuery(e)
		if err != nil {
			return 0, err
		}
		b.Queue(sql, args...)
	}

	result := r.db.SendBatch(ctx, b)
	defer result.Close()

	for i, e := range evs {
		tag, err := result.Exec()
		if err != nil {
			if constraint, ok := pgerror.GetConstraintName(err); ok {
				return i, fmt.Errorf("event %s violates %s: %w", e.ID, constraint, err)
			}
			return i, fmt.Errorf("failed to journal event %s: %w", e.ID, err)
		}
		if tag.RowsAffected() == 0 {
			log.Debug().Msgf("event %s already journaled, skip", e.ID)
		}
	}
	return len(evs), nil
}

func insertQuery(e events.CycleEvent) (string, []any, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode event %s: %w", e.ID, err)
	}
	return squirrel.Insert(eventsTable).
		Columns("id", "kind", "at", "outcome", "effective_state", "duration_ms", "payload").
		Values(e.ID, string(e.Kind), e.At, string(e.Outcome), int(e.State()), e.Duration.Milliseconds(), payload).
		Suffix("on conflict (id, kind) do nothing").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
}

// Entry is a journaled event as stored.
type Entry struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	At       time.Time       `json:"at"`
	Outcome  string          `json:"outcome"`
	State    int             `json:"effective_state"`
	Duration time.Duration   `json:"duration"`
	Payload  json.RawMessage `json:"payload"`
}

// Recent returns up to limit latest events, newest first. Empty kinds means any kind.
func (r *Repository) Recent(ctx context.Context, limit uint64, kinds ...events.Kind) ([]Entry, error) {
	sql, args, err := recentQuery(limit, kinds)
	if err != nil {
		return nil, fmt.Errorf("failed to create db request: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	result := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			entry      Entry
			durationMs int64
		)
		err = rows.Scan(&entry.ID, &entry.Kind, &entry.At, &entry.Outcome, &entry.State, &durationMs, &entry.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		result = append(result, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return result, nil
}

func recentQuery(limit uint64, kinds []events.Kind) (string, []any, error) {
	q := squirrel.Select("id", "kind", "at", "outcome", "effective_state", "duration_ms", "payload").
		From(eventsTable).
		OrderBy("at desc").
		Limit(limit).
		PlaceholderFormat(squirrel.Dollar)
	if len(kinds) > 0 {
		names := make([]string, 0, len(kinds))
		for _, k := range kinds {
			names = append(names, string(k))
		}
		q = q.Where(squirrel.Eq{"kind": names})
	}
	return q.ToSql()
}
