// Package predictions stores model outputs per bucket and records their
// outcomes once the target bucket closes.
package predictions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"whalepulse/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/trace"
)

const createMLPredictionsTable = `
CREATE TABLE IF NOT EXISTS ml_predictions (
	id BIGSERIAL PRIMARY KEY,
	symbol TEXT NOT NULL,
	interval TEXT NOT NULL,
	open_time TIMESTAMPTZ NOT NULL,
	target_time TIMESTAMPTZ NOT NULL,
	model_key TEXT NOT NULL,
	model_version INT NOT NULL,
	prob_up DOUBLE PRECISION NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	direction TEXT NOT NULL,
	risk SMALLINT NOT NULL,
	alert_id BIGINT,
	details_json JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	resolved_at TIMESTAMPTZ,
	actual_up BOOLEAN,
	is_correct BOOLEAN,
	realized_return DOUBLE PRECISION,
	UNIQUE (symbol, interval, open_time, model_key, model_version)
);
CREATE INDEX IF NOT EXISTS idx_ml_predictions_unresolved
	ON ml_predictions (target_time) WHERE resolved_at IS NULL;
`

// predictionColumns keeps every SELECT and RETURNING clause aligned with
// scanPredictionRow.
const predictionColumns = `id, symbol, interval, open_time, target_time,
       model_key, model_version,
       prob_up, confidence, direction, risk,
       alert_id, details_json,
       created_at, resolved_at, actual_up, is_correct, realized_return`

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

func (r *Repository) RunMigrations(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createMLPredictionsTable); err != nil {
		return fmt.Errorf("create ml_predictions table: %w", err)
	}
	return nil
}

func (r *Repository) UpsertPrediction(ctx context.Context, prediction domain.MLPrediction) (*domain.MLPrediction, error) {
	_, span := r.tracer.Start(ctx, "ml-predictions.upsert")
	defer span.End()

	row := r.pool.QueryRow(ctx, `
INSERT INTO ml_predictions (
    symbol, interval, open_time, target_time,
    model_key, model_version,
    prob_up, confidence, direction, risk,
    alert_id, details_json
) VALUES (
    $1, $2, $3, $4,
    $5, $6,
    $7, $8, $9, $10,
    $11, $12
)
ON CONFLICT (symbol, interval, open_time, model_key, model_version) DO UPDATE SET
    prob_up = EXCLUDED.prob_up,
    confidence = EXCLUDED.confidence,
    direction = EXCLUDED.direction,
    risk = EXCLUDED.risk,
    details_json = EXCLUDED.details_json,
    target_time = EXCLUDED.target_time
RETURNING `+predictionColumns,
		prediction.Symbol,
		prediction.Interval,
		prediction.OpenTime.UTC(),
		prediction.TargetTime.UTC(),
		prediction.ModelKey,
		prediction.ModelVersion,
		prediction.ProbUp,
		prediction.Confidence,
		string(prediction.Direction),
		int16(prediction.Risk),
		prediction.AlertID,
		sanitizeDetails(prediction.DetailsJSON),
	)
	return scanPredictionRow(row)
}

// AttachAlertID links a prediction to the alert it spawned.
func (r *Repository) AttachAlertID(ctx context.Context, predictionID, alertID int64) error {
	return r.execOne(ctx, "ml-predictions.attach-alert",
		`UPDATE ml_predictions SET alert_id = $2 WHERE id = $1`, predictionID, alertID)
}

// ListUnresolvedDue returns predictions whose target bucket has closed but
// whose outcome has not been recorded yet, oldest first.
func (r *Repository) ListUnresolvedDue(ctx context.Context, cutoff time.Time, limit int) ([]domain.MLPrediction, error) {
	if limit <= 0 {
		limit = 200
	}
	return r.selectPredictions(ctx, "ml-predictions.list-unresolved-due", `
SELECT `+predictionColumns+`
FROM ml_predictions
WHERE resolved_at IS NULL
  AND target_time <= $1
ORDER BY target_time ASC
LIMIT $2`, cutoff.UTC(), limit)
}

// ListRecent returns a symbol's newest predictions for one model key. Empty
// modelKey matches all models.
func (r *Repository) ListRecent(ctx context.Context, symbol, modelKey string, limit int) ([]domain.MLPrediction, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.selectPredictions(ctx, "ml-predictions.list-recent", `
SELECT `+predictionColumns+`
FROM ml_predictions
WHERE symbol = $1
  AND ($2 = '' OR model_key = $2)
ORDER BY open_time DESC
LIMIT $3`, symbol, modelKey, limit)
}

// ResolvePrediction records the realized outcome. A prediction resolves at
// most once; an already-resolved or missing id reports pgx.ErrNoRows.
func (r *Repository) ResolvePrediction(ctx context.Context, predictionID int64, actualUp bool, isCorrect bool, realizedReturn float64) error {
	return r.execOne(ctx, "ml-predictions.resolve", `
UPDATE ml_predictions
SET resolved_at = NOW(),
    actual_up = $2,
    is_correct = $3,
    realized_return = $4
WHERE id = $1
  AND resolved_at IS NULL`, predictionID, actualUp, isCorrect, realizedReturn)
}

func (r *Repository) selectPredictions(ctx context.Context, spanName, sql string, args ...any) ([]domain.MLPrediction, error) {
	_, span := r.tracer.Start(ctx, spanName)
	defer span.End()

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.MLPrediction, 0)
	for rows.Next() {
		p, err := scanPredictionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// execOne runs an UPDATE that must touch exactly one row.
func (r *Repository) execOne(ctx context.Context, spanName, sql string, args ...any) error {
	_, span := r.tracer.Start(ctx, spanName)
	defer span.End()

	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func sanitizeDetails(details string) string {
	if details == "" {
		return "{}"
	}
	if !json.Valid([]byte(details)) {
		return `{"raw":"invalid"}`
	}
	return details
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPredictionRow(s scanner) (*domain.MLPrediction, error) {
	var out domain.MLPrediction
	var direction string
	var risk int16
	var alertID pgtype.Int8
	var resolvedAt pgtype.Timestamptz
	var actualUp pgtype.Bool
	var isCorrect pgtype.Bool
	var realizedReturn pgtype.Float8

	if err := s.Scan(
		&out.ID,
		&out.Symbol,
		&out.Interval,
		&out.OpenTime,
		&out.TargetTime,
		&out.ModelKey,
		&out.ModelVersion,
		&out.ProbUp,
		&out.Confidence,
		&direction,
		&risk,
		&alertID,
		&out.DetailsJSON,
		&out.CreatedAt,
		&resolvedAt,
		&actualUp,
		&isCorrect,
		&realizedReturn,
	); err != nil {
		return nil, err
	}
	out.Direction = domain.AlertDirection(direction)
	out.Risk = domain.RiskLevel(risk)
	out.OpenTime = out.OpenTime.UTC()
	out.TargetTime = out.TargetTime.UTC()
	out.CreatedAt = out.CreatedAt.UTC()

	if alertID.Valid {
		v := alertID.Int64
		out.AlertID = &v
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		out.ResolvedAt = &t
	}
	if actualUp.Valid {
		v := actualUp.Bool
		out.ActualUp = &v
	}
	if isCorrect.Valid {
		v := isCorrect.Bool
		out.IsCorrect = &v
	}
	if realizedReturn.Valid {
		v := realizedReturn.Float64
		out.RealizedReturn = &v
	}
	return &out, nil
}
