package repository

import (
	"context"
	"time"

	"whalepulse/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

const createPricePointsTable = `
CREATE TABLE IF NOT EXISTS price_points (
    symbol      TEXT        NOT NULL,
    interval    TEXT        NOT NULL,
    bucket_time TIMESTAMPTZ NOT NULL,
    value       NUMERIC     NOT NULL,
    volume      NUMERIC     NOT NULL,
    PRIMARY KEY (symbol, interval, bucket_time)
);

CREATE INDEX IF NOT EXISTS idx_price_points_symbol_interval_time
    ON price_points (symbol, interval, bucket_time DESC);
`

type PriceRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewPriceRepository(pool PgxPool, tracer trace.Tracer) *PriceRepository {
	return &PriceRepository{pool: pool, tracer: tracer}
}

func (r *PriceRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "price-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createPricePointsTable)
	return err
}

// UpsertPoints stores one downsampled series. The interval identifies the
// series resolution; re-polled buckets overwrite their previous sample.
func (r *PriceRepository) UpsertPoints(ctx context.Context, interval string, points []domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	_, span := r.tracer.Start(ctx, "price-repo.upsert-points")
	defer span.End()

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(
			`INSERT INTO price_points (symbol, interval, bucket_time, value, volume)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (symbol, interval, bucket_time) DO UPDATE SET
			     value = EXCLUDED.value,
			     volume = EXCLUDED.volume`,
			normalizeSymbol(p.Symbol), interval, p.Time.UTC(), p.Value, p.Volume,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range points {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// GetSeries returns the newest points for a symbol/interval, newest first.
func (r *PriceRepository) GetSeries(ctx context.Context, symbol, interval string, limit int) ([]domain.PricePoint, error) {
	_, span := r.tracer.Start(ctx, "price-repo.get-series")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT symbol, bucket_time, value, volume
		 FROM price_points
		 WHERE symbol = $1 AND interval = $2
		 ORDER BY bucket_time DESC
		 LIMIT $3`,
		normalizeSymbol(symbol), interval, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPricePointRows(rows)
}

// GetSeriesInRange returns the points inside [from, to], oldest first.
func (r *PriceRepository) GetSeriesInRange(ctx context.Context, symbol, interval string, from, to time.Time) ([]domain.PricePoint, error) {
	_, span := r.tracer.Start(ctx, "price-repo.get-series-in-range")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT symbol, bucket_time, value, volume
		 FROM price_points
		 WHERE symbol = $1 AND interval = $2 AND bucket_time >= $3 AND bucket_time <= $4
		 ORDER BY bucket_time ASC`,
		normalizeSymbol(symbol), interval, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPricePointRows(rows)
}

func scanPricePointRows(rows pgx.Rows) ([]domain.PricePoint, error) {
	var points []domain.PricePoint
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.Symbol, &p.Time, &p.Value, &p.Volume); err != nil {
			return nil, err
		}
		p.Time = p.Time.UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}
