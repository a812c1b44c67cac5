package features

import (
	"context"
	"fmt"
	"time"

	"whalepulse/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/trace"
)

const createMLFeatureRowsTable = `
CREATE TABLE IF NOT EXISTS ml_feature_rows (
	symbol TEXT NOT NULL,
	interval TEXT NOT NULL,
	open_time TIMESTAMPTZ NOT NULL,
	ret_1 DOUBLE PRECISION NOT NULL,
	ret_4 DOUBLE PRECISION NOT NULL,
	ret_12 DOUBLE PRECISION NOT NULL,
	volatility DOUBLE PRECISION NOT NULL,
	sentiment DOUBLE PRECISION NOT NULL,
	pressure DOUBLE PRECISION NOT NULL,
	liquidity_change DOUBLE PRECISION NOT NULL,
	coordination DOUBLE PRECISION NOT NULL,
	whale_volume_z DOUBLE PRECISION NOT NULL,
	event_count_z DOUBLE PRECISION NOT NULL,
	target_up_next BOOLEAN,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (symbol, interval, open_time)
);
`

// featureColumns keeps every SELECT aligned with scanFeatureRows.
const featureColumns = `symbol, interval, open_time,
       ret_1, ret_4, ret_12,
       volatility, sentiment, pressure,
       liquidity_change, coordination,
       whale_volume_z, event_count_z,
       target_up_next, created_at, updated_at`

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

func (r *Repository) RunMigrations(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createMLFeatureRowsTable); err != nil {
		return fmt.Errorf("create ml_feature_rows table: %w", err)
	}
	return nil
}

func (r *Repository) UpsertRows(ctx context.Context, rows []domain.MLFeatureRow) error {
	if len(rows) == 0 {
		return nil
	}
	_, span := r.tracer.Start(ctx, "ml-feature-repo.upsert")
	defer span.End()

	for i := range rows {
		row := rows[i]
		_, err := r.pool.Exec(ctx, `
INSERT INTO ml_feature_rows (
    symbol, interval, open_time,
    ret_1, ret_4, ret_12,
    volatility, sentiment, pressure,
    liquidity_change, coordination,
    whale_volume_z, event_count_z,
    target_up_next, updated_at
) VALUES (
    $1, $2, $3,
    $4, $5, $6,
    $7, $8, $9,
    $10, $11,
    $12, $13,
    $14, NOW()
)
ON CONFLICT (symbol, interval, open_time) DO UPDATE SET
    ret_1 = EXCLUDED.ret_1,
    ret_4 = EXCLUDED.ret_4,
    ret_12 = EXCLUDED.ret_12,
    volatility = EXCLUDED.volatility,
    sentiment = EXCLUDED.sentiment,
    pressure = EXCLUDED.pressure,
    liquidity_change = EXCLUDED.liquidity_change,
    coordination = EXCLUDED.coordination,
    whale_volume_z = EXCLUDED.whale_volume_z,
    event_count_z = EXCLUDED.event_count_z,
    target_up_next = EXCLUDED.target_up_next,
    updated_at = NOW()`,
			row.Symbol,
			row.Interval,
			row.OpenTime.UTC(),
			row.Ret1,
			row.Ret4,
			row.Ret12,
			row.Volatility,
			row.Sentiment,
			row.Pressure,
			row.LiquidityChange,
			row.Coordination,
			row.WhaleVolumeZ,
			row.EventCountZ,
			row.TargetUpNext,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListLabeledRows returns rows inside the window whose forward target is
// already resolved, oldest first.
func (r *Repository) ListLabeledRows(ctx context.Context, interval string, from, to time.Time) ([]domain.MLFeatureRow, error) {
	return r.selectRows(ctx, "ml-feature-repo.list-labeled", `
SELECT `+featureColumns+`
FROM ml_feature_rows
WHERE interval = $1
  AND open_time >= $2
  AND open_time <= $3
  AND target_up_next IS NOT NULL
ORDER BY open_time ASC`, interval, from.UTC(), to.UTC())
}

func (r *Repository) ListRows(ctx context.Context, interval string, from, to time.Time) ([]domain.MLFeatureRow, error) {
	return r.selectRows(ctx, "ml-feature-repo.list", `
SELECT `+featureColumns+`
FROM ml_feature_rows
WHERE interval = $1
  AND open_time >= $2
  AND open_time <= $3
ORDER BY open_time ASC`, interval, from.UTC(), to.UTC())
}

// ListLatestByInterval returns each symbol's freshest feature row.
func (r *Repository) ListLatestByInterval(ctx context.Context, interval string) ([]domain.MLFeatureRow, error) {
	return r.selectRows(ctx, "ml-feature-repo.list-latest", `
SELECT DISTINCT ON (symbol)
       `+featureColumns+`
FROM ml_feature_rows
WHERE interval = $1
ORDER BY symbol, open_time DESC`, interval)
}

func (r *Repository) selectRows(ctx context.Context, spanName, sql string, args ...any) ([]domain.MLFeatureRow, error) {
	_, span := r.tracer.Start(ctx, spanName)
	defer span.End()

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFeatureRows(rows)
}

func scanFeatureRows(rows pgx.Rows) ([]domain.MLFeatureRow, error) {
	result := make([]domain.MLFeatureRow, 0)
	for rows.Next() {
		var row domain.MLFeatureRow
		var target pgtype.Bool
		if err := rows.Scan(
			&row.Symbol,
			&row.Interval,
			&row.OpenTime,
			&row.Ret1,
			&row.Ret4,
			&row.Ret12,
			&row.Volatility,
			&row.Sentiment,
			&row.Pressure,
			&row.LiquidityChange,
			&row.Coordination,
			&row.WhaleVolumeZ,
			&row.EventCountZ,
			&target,
			&row.CreatedAt,
			&row.UpdatedAt,
		); err != nil {
			return nil, err
		}
		row.OpenTime = row.OpenTime.UTC()
		row.CreatedAt = row.CreatedAt.UTC()
		row.UpdatedAt = row.UpdatedAt.UTC()
		if target.Valid {
			v := target.Bool
			row.TargetUpNext = &v
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
