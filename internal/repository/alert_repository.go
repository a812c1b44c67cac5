package repository

import (
	"context"
	"time"

	"whalepulse/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const createAlertsTable = `
CREATE TABLE IF NOT EXISTS alerts (
    id         BIGSERIAL   PRIMARY KEY,
    symbol     TEXT        NOT NULL,
    interval   TEXT        NOT NULL,
    source     TEXT        NOT NULL,
    alert_time TIMESTAMPTZ NOT NULL,
    risk       SMALLINT    NOT NULL,
    direction  TEXT        NOT NULL,
    details    TEXT        NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (symbol, interval, source, alert_time)
);

CREATE INDEX IF NOT EXISTS idx_alerts_symbol_time
    ON alerts (symbol, alert_time DESC);
`

type AlertRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewAlertRepository(pool PgxPool, tracer trace.Tracer) *AlertRepository {
	return &AlertRepository{pool: pool, tracer: tracer}
}

func (r *AlertRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "alert-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createAlertsTable)
	return err
}

// InsertAlert stores one alert and returns its ID. Re-running a cycle over
// the same bucket updates the existing row instead of duplicating it.
func (r *AlertRepository) InsertAlert(ctx context.Context, alert *domain.Alert) (int64, error) {
	_, span := r.tracer.Start(ctx, "alert-repo.insert-alert")
	defer span.End()

	var id int64
	err := r.pool.QueryRow(ctx, `
INSERT INTO alerts (symbol, interval, source, alert_time, risk, direction, details)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (symbol, interval, source, alert_time) DO UPDATE SET
    risk = EXCLUDED.risk,
    direction = EXCLUDED.direction,
    details = EXCLUDED.details
RETURNING id`,
		normalizeSymbol(alert.Symbol), alert.Interval, alert.Source, alert.Timestamp.UTC(),
		int16(alert.Risk), string(alert.Direction), alert.Details,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	alert.ID = id
	return id, nil
}

// ListRecent returns alerts newest first, narrowed by the filter's optional
// symbol and source.
func (r *AlertRepository) ListRecent(ctx context.Context, filter domain.AlertFilter) ([]domain.Alert, error) {
	_, span := r.tracer.Start(ctx, "alert-repo.list-recent")
	defer span.End()

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, symbol, interval, source, alert_time, risk, direction, details
FROM alerts
WHERE ($1 = '' OR symbol = $1)
  AND ($2 = '' OR source = $2)
ORDER BY alert_time DESC
LIMIT $3`,
		normalizeSymbol(filter.Symbol), filter.Source, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var risk int16
		var direction string
		if err := rows.Scan(&a.ID, &a.Symbol, &a.Interval, &a.Source, &a.Timestamp, &risk, &direction, &a.Details); err != nil {
			return nil, err
		}
		a.Timestamp = a.Timestamp.UTC()
		a.Risk = domain.RiskLevel(risk)
		a.Direction = domain.AlertDirection(direction)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// DeleteOlderThan trims aged alerts and returns the number removed.
func (r *AlertRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	_, span := r.tracer.Start(ctx, "alert-repo.delete-older-than")
	defer span.End()

	tag, err := r.pool.Exec(ctx, `DELETE FROM alerts WHERE alert_time < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
