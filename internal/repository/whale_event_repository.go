package repository

import (
	"context"
	"strings"
	"time"

	"whalepulse/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/trace"
)

const createWhaleEventsTable = `
CREATE TABLE IF NOT EXISTS whale_events (
    id            BIGSERIAL   PRIMARY KEY,
    symbol        TEXT        NOT NULL,
    event_type    TEXT        NOT NULL,
    side          TEXT        NOT NULL,
    usd_value     NUMERIC     NOT NULL,
    price         NUMERIC     NOT NULL,
    event_time    TIMESTAMPTZ NOT NULL,
    anomaly_score DOUBLE PRECISION,
    anomalous     BOOLEAN     NOT NULL DEFAULT FALSE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_whale_events_dedup
    ON whale_events (symbol, event_time, event_type, side, usd_value);

CREATE INDEX IF NOT EXISTS idx_whale_events_symbol_time
    ON whale_events (symbol, event_time DESC);
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type WhaleEventRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewWhaleEventRepository(pool PgxPool, tracer trace.Tracer) *WhaleEventRepository {
	return &WhaleEventRepository{pool: pool, tracer: tracer}
}

func (r *WhaleEventRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "whale-event-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createWhaleEventsTable)
	return err
}

// InsertEvents stores a batch of feed events, skipping rows already seen.
// The feed is polled with overlapping windows, so duplicates are routine.
// Returns the number of rows actually inserted.
func (r *WhaleEventRepository) InsertEvents(ctx context.Context, events []domain.WhaleEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	_, span := r.tracer.Start(ctx, "whale-event-repo.insert-events")
	defer span.End()

	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(
			`INSERT INTO whale_events (symbol, event_type, side, usd_value, price, event_time)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (symbol, event_time, event_type, side, usd_value) DO NOTHING`,
			normalizeSymbol(ev.Symbol), ev.EventType, ev.Side, ev.USDValue, ev.Price, ev.Time.UTC(),
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range events {
		tag, err := br.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListEventsInRange returns a symbol's events inside [from, to], oldest
// first, ready for windowed metric computation.
func (r *WhaleEventRepository) ListEventsInRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.AnnotatedWhaleEvent, error) {
	_, span := r.tracer.Start(ctx, "whale-event-repo.list-events-in-range")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT id, symbol, event_type, side, usd_value, price, event_time, anomaly_score, anomalous
		 FROM whale_events
		 WHERE symbol = $1 AND event_time >= $2 AND event_time <= $3
		 ORDER BY event_time ASC`,
		normalizeSymbol(symbol), from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWhaleEventRows(rows)
}

// ListRecent returns a symbol's newest events, newest first.
func (r *WhaleEventRepository) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.AnnotatedWhaleEvent, error) {
	_, span := r.tracer.Start(ctx, "whale-event-repo.list-recent")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, symbol, event_type, side, usd_value, price, event_time, anomaly_score, anomalous
		 FROM whale_events
		 WHERE symbol = $1
		 ORDER BY event_time DESC
		 LIMIT $2`,
		normalizeSymbol(symbol), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWhaleEventRows(rows)
}

// UpdateAnomalyScores writes detector output back onto stored rows.
// Events without an ID are skipped.
func (r *WhaleEventRepository) UpdateAnomalyScores(ctx context.Context, events []domain.AnnotatedWhaleEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	_, span := r.tracer.Start(ctx, "whale-event-repo.update-anomaly-scores")
	defer span.End()

	batch := &pgx.Batch{}
	queued := 0
	for _, ev := range events {
		if ev.ID <= 0 {
			continue
		}
		batch.Queue(
			`UPDATE whale_events SET anomaly_score = $2, anomalous = $3 WHERE id = $1`,
			ev.ID, ev.AnomalyScore, ev.Anomalous,
		)
		queued++
	}
	if queued == 0 {
		return 0, nil
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	updated := 0
	for i := 0; i < queued; i++ {
		tag, err := br.Exec()
		if err != nil {
			return updated, err
		}
		updated += int(tag.RowsAffected())
	}
	return updated, nil
}

// DeleteOlderThan trims aged events and returns the number removed.
func (r *WhaleEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	_, span := r.tracer.Start(ctx, "whale-event-repo.delete-older-than")
	defer span.End()

	tag, err := r.pool.Exec(ctx, `DELETE FROM whale_events WHERE event_time < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanWhaleEventRows(rows pgx.Rows) ([]domain.AnnotatedWhaleEvent, error) {
	var events []domain.AnnotatedWhaleEvent
	for rows.Next() {
		var ev domain.AnnotatedWhaleEvent
		var score pgtype.Float8
		if err := rows.Scan(&ev.ID, &ev.Symbol, &ev.EventType, &ev.Side, &ev.USDValue, &ev.Price, &ev.Time, &score, &ev.Anomalous); err != nil {
			return nil, err
		}
		ev.Time = ev.Time.UTC()
		if score.Valid {
			ev.AnomalyScore = score.Float64
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
