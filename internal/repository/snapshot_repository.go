package repository

import (
	"context"
	"encoding/json"
	"time"

	"whalepulse/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

const createMetricSnapshotsTable = `
CREATE TABLE IF NOT EXISTS metric_snapshots (
    id                   BIGSERIAL   PRIMARY KEY,
    symbol               TEXT        NOT NULL,
    interval             TEXT        NOT NULL,
    bucket_time          TIMESTAMPTZ NOT NULL,
    price_change_pct     DOUBLE PRECISION NOT NULL DEFAULT 0,
    sentiment_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
    sentiment_label      TEXT        NOT NULL DEFAULT '',
    pressure_value       DOUBLE PRECISION NOT NULL DEFAULT 0,
    pressure_label       TEXT        NOT NULL DEFAULT '',
    liquidity_added      DOUBLE PRECISION NOT NULL DEFAULT 0,
    liquidity_removed    DOUBLE PRECISION NOT NULL DEFAULT 0,
    liquidity_net        DOUBLE PRECISION NOT NULL DEFAULT 0,
    liquidity_change_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
    volatility_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
    volatility_label     TEXT        NOT NULL DEFAULT '',
    coordination_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
    coordination_label   TEXT        NOT NULL DEFAULT '',
    whale_count          INT         NOT NULL DEFAULT 0,
    whale_volume_usd     DOUBLE PRECISION NOT NULL DEFAULT 0,
    details_json         JSONB       NOT NULL DEFAULT '{}'::JSONB,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (symbol, interval, bucket_time)
);

CREATE INDEX IF NOT EXISTS idx_metric_snapshots_symbol_interval_time
    ON metric_snapshots (symbol, interval, bucket_time DESC);
`

type SnapshotRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewSnapshotRepository(pool PgxPool, tracer trace.Tracer) *SnapshotRepository {
	return &SnapshotRepository{pool: pool, tracer: tracer}
}

func (r *SnapshotRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "snapshot-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createMetricSnapshotsTable)
	return err
}

// UpsertSnapshot writes one computed bucket, replacing the previous pass for
// the same (symbol, interval, bucket_time). The stored row comes back with
// its ID and creation time filled in.
func (r *SnapshotRepository) UpsertSnapshot(ctx context.Context, snap domain.MetricSnapshot) (*domain.MetricSnapshot, error) {
	_, span := r.tracer.Start(ctx, "snapshot-repo.upsert-snapshot")
	defer span.End()

	err := r.pool.QueryRow(ctx, `
INSERT INTO metric_snapshots (
    symbol, interval, bucket_time,
    price_change_pct, sentiment_score, sentiment_label,
    pressure_value, pressure_label,
    liquidity_added, liquidity_removed, liquidity_net, liquidity_change_pct,
    volatility_score, volatility_label,
    coordination_score, coordination_label,
    whale_count, whale_volume_usd, details_json
) VALUES (
    $1, $2, $3,
    $4, $5, $6,
    $7, $8,
    $9, $10, $11, $12,
    $13, $14,
    $15, $16,
    $17, $18, $19
)
ON CONFLICT (symbol, interval, bucket_time) DO UPDATE SET
    price_change_pct = EXCLUDED.price_change_pct,
    sentiment_score = EXCLUDED.sentiment_score,
    sentiment_label = EXCLUDED.sentiment_label,
    pressure_value = EXCLUDED.pressure_value,
    pressure_label = EXCLUDED.pressure_label,
    liquidity_added = EXCLUDED.liquidity_added,
    liquidity_removed = EXCLUDED.liquidity_removed,
    liquidity_net = EXCLUDED.liquidity_net,
    liquidity_change_pct = EXCLUDED.liquidity_change_pct,
    volatility_score = EXCLUDED.volatility_score,
    volatility_label = EXCLUDED.volatility_label,
    coordination_score = EXCLUDED.coordination_score,
    coordination_label = EXCLUDED.coordination_label,
    whale_count = EXCLUDED.whale_count,
    whale_volume_usd = EXCLUDED.whale_volume_usd,
    details_json = EXCLUDED.details_json
RETURNING id, created_at`,
		normalizeSymbol(snap.Symbol), snap.Interval, snap.BucketTime.UTC(),
		snap.PriceChangePct, snap.SentimentScore, snap.SentimentLabel,
		snap.PressureValue, snap.PressureLabel,
		snap.LiquidityAdded, snap.LiquidityRemoved, snap.LiquidityNet, snap.LiquidityChange,
		snap.VolatilityScore, snap.VolatilityLabel,
		snap.CoordScore, snap.CoordLabel,
		snap.WhaleCount, snap.WhaleVolumeUSD, ensureJSON(snap.DetailsJSON),
	).Scan(&snap.ID, &snap.CreatedAt)
	if err != nil {
		return nil, err
	}
	snap.BucketTime = snap.BucketTime.UTC()
	snap.CreatedAt = snap.CreatedAt.UTC()
	return &snap, nil
}

// GetLatest returns the newest stored bucket for a symbol/interval, or nil
// when nothing has been computed yet.
func (r *SnapshotRepository) GetLatest(ctx context.Context, symbol, interval string) (*domain.MetricSnapshot, error) {
	_, span := r.tracer.Start(ctx, "snapshot-repo.get-latest")
	defer span.End()

	row := r.pool.QueryRow(ctx, selectSnapshotColumns+`
		 WHERE symbol = $1 AND interval = $2
		 ORDER BY bucket_time DESC
		 LIMIT 1`,
		normalizeSymbol(symbol), interval,
	)
	snap, err := scanSnapshotRow(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ListRecent returns the newest buckets for a symbol/interval, newest first.
func (r *SnapshotRepository) ListRecent(ctx context.Context, symbol, interval string, limit int) ([]domain.MetricSnapshot, error) {
	_, span := r.tracer.Start(ctx, "snapshot-repo.list-recent")
	defer span.End()

	if limit <= 0 {
		limit = 48
	}

	rows, err := r.pool.Query(ctx, selectSnapshotColumns+`
		 WHERE symbol = $1 AND interval = $2
		 ORDER BY bucket_time DESC
		 LIMIT $3`,
		normalizeSymbol(symbol), interval, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []domain.MetricSnapshot
	for rows.Next() {
		snap, err := scanSnapshotRow(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

// DeleteOlderThan trims aged buckets and returns the number removed.
func (r *SnapshotRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	_, span := r.tracer.Start(ctx, "snapshot-repo.delete-older-than")
	defer span.End()

	tag, err := r.pool.Exec(ctx, `DELETE FROM metric_snapshots WHERE bucket_time < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const selectSnapshotColumns = `
		SELECT id, symbol, interval, bucket_time,
		       price_change_pct, sentiment_score, sentiment_label,
		       pressure_value, pressure_label,
		       liquidity_added, liquidity_removed, liquidity_net, liquidity_change_pct,
		       volatility_score, volatility_label,
		       coordination_score, coordination_label,
		       whale_count, whale_volume_usd, details_json, created_at
		 FROM metric_snapshots`

func scanSnapshotRow(s interface{ Scan(dest ...any) error }) (*domain.MetricSnapshot, error) {
	var snap domain.MetricSnapshot
	if err := s.Scan(
		&snap.ID, &snap.Symbol, &snap.Interval, &snap.BucketTime,
		&snap.PriceChangePct, &snap.SentimentScore, &snap.SentimentLabel,
		&snap.PressureValue, &snap.PressureLabel,
		&snap.LiquidityAdded, &snap.LiquidityRemoved, &snap.LiquidityNet, &snap.LiquidityChange,
		&snap.VolatilityScore, &snap.VolatilityLabel,
		&snap.CoordScore, &snap.CoordLabel,
		&snap.WhaleCount, &snap.WhaleVolumeUSD, &snap.DetailsJSON, &snap.CreatedAt,
	); err != nil {
		return nil, err
	}
	snap.BucketTime = snap.BucketTime.UTC()
	snap.CreatedAt = snap.CreatedAt.UTC()
	return &snap, nil
}

func ensureJSON(raw string) string {
	if raw == "" {
		return "{}"
	}
	if json.Valid([]byte(raw)) {
		return raw
	}
	encoded, err := json.Marshal(map[string]string{"raw": raw})
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
