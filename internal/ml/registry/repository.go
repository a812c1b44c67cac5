// Package registry stores versioned model artifacts and tracks which version
// serves inference for each model key.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whalepulse/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

const createMLModelVersionsTable = `
CREATE TABLE IF NOT EXISTS ml_model_versions (
	id BIGSERIAL PRIMARY KEY,
	model_key TEXT NOT NULL,
	version INT NOT NULL,
	feature_spec_version TEXT NOT NULL,
	trained_from TIMESTAMPTZ NOT NULL,
	trained_to TIMESTAMPTZ NOT NULL,
	trained_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	hyperparams_json JSONB NOT NULL DEFAULT '{}',
	metrics_json JSONB NOT NULL DEFAULT '{}',
	artifact_format TEXT NOT NULL,
	artifact_blob BYTEA NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT FALSE,
	activated_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (model_key, version)
);
CREATE INDEX IF NOT EXISTS idx_ml_model_versions_active
	ON ml_model_versions (model_key, is_active);
`

// modelColumns keeps every SELECT/RETURNING in scan order with scanModel.
const modelColumns = `id, model_key, version, feature_spec_version,
	trained_from, trained_to, trained_at,
	hyperparams_json, metrics_json,
	artifact_format, artifact_blob,
	is_active, activated_at, created_at`

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

func (r *Repository) RunMigrations(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createMLModelVersionsTable); err != nil {
		return fmt.Errorf("create ml_model_versions table: %w", err)
	}
	return nil
}

// NextVersion allocates the next version number for a model key. Versions
// are dense per key, starting at 1.
func (r *Repository) NextVersion(ctx context.Context, modelKey string) (int, error) {
	_, span := r.tracer.Start(ctx, "ml-model-registry.next-version")
	defer span.End()

	var version int
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM ml_model_versions WHERE model_key = $1`,
		modelKey,
	).Scan(&version)
	return version, err
}

func (r *Repository) InsertModelVersion(ctx context.Context, model domain.MLModelVersion) (*domain.MLModelVersion, error) {
	_, span := r.tracer.Start(ctx, "ml-model-registry.insert")
	defer span.End()

	if model.ModelKey == "" || model.Version <= 0 {
		return nil, errors.New("invalid model version payload")
	}

	query := `
INSERT INTO ml_model_versions (
	model_key, version, feature_spec_version,
	trained_from, trained_to, trained_at,
	hyperparams_json, metrics_json,
	artifact_format, artifact_blob,
	is_active, activated_at
) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()), $7, $8, $9, $10, $11, $12)
RETURNING ` + modelColumns

	row := r.pool.QueryRow(ctx, query,
		model.ModelKey,
		model.Version,
		model.FeatureSpecVersion,
		model.TrainedFrom.UTC(),
		model.TrainedTo.UTC(),
		timeOrNull(model.TrainedAt),
		jsonOrEmpty(model.HyperparamsJSON),
		jsonOrEmpty(model.MetricsJSON),
		model.ArtifactFormat,
		model.ArtifactBlob,
		model.IsActive,
		ptrTimeOrNull(model.ActivatedAt),
	)
	return scanModel(row)
}

func (r *Repository) GetActiveModel(ctx context.Context, modelKey string) (*domain.MLModelVersion, error) {
	_, span := r.tracer.Start(ctx, "ml-model-registry.get-active")
	defer span.End()

	row := r.pool.QueryRow(ctx, `
SELECT `+modelColumns+`
FROM ml_model_versions
WHERE model_key = $1 AND is_active = TRUE
ORDER BY version DESC
LIMIT 1`, modelKey)
	return scanModel(row)
}

func (r *Repository) GetLatestModel(ctx context.Context, modelKey string) (*domain.MLModelVersion, error) {
	_, span := r.tracer.Start(ctx, "ml-model-registry.get-latest")
	defer span.End()

	row := r.pool.QueryRow(ctx, `
SELECT `+modelColumns+`
FROM ml_model_versions
WHERE model_key = $1
ORDER BY version DESC
LIMIT 1`, modelKey)
	return scanModel(row)
}

// ActivateModel flips the active flag to the given version inside one
// transaction so inference never observes two active versions.
func (r *Repository) ActivateModel(ctx context.Context, modelKey string, version int) error {
	_, span := r.tracer.Start(ctx, "ml-model-registry.activate")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE ml_model_versions SET is_active = FALSE, activated_at = NULL WHERE model_key = $1`,
		modelKey,
	); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE ml_model_versions SET is_active = TRUE, activated_at = NOW() WHERE model_key = $1 AND version = $2`,
		modelKey, version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return tx.Commit(ctx)
}

func scanModel(row pgx.Row) (*domain.MLModelVersion, error) {
	var m domain.MLModelVersion
	err := row.Scan(
		&m.ID,
		&m.ModelKey,
		&m.Version,
		&m.FeatureSpecVersion,
		&m.TrainedFrom,
		&m.TrainedTo,
		&m.TrainedAt,
		&m.HyperparamsJSON,
		&m.MetricsJSON,
		&m.ArtifactFormat,
		&m.ArtifactBlob,
		&m.IsActive,
		&m.ActivatedAt,
		&m.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	m.TrainedFrom = m.TrainedFrom.UTC()
	m.TrainedTo = m.TrainedTo.UTC()
	m.TrainedAt = m.TrainedAt.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	if m.ActivatedAt != nil {
		t := m.ActivatedAt.UTC()
		m.ActivatedAt = &t
	}
	return &m, nil
}

func jsonOrEmpty(v string) string {
	if v == "" {
		return "{}"
	}
	return v
}

func timeOrNull(v time.Time) any {
	if v.IsZero() {
		return nil
	}
	return v.UTC()
}

func ptrTimeOrNull(v *time.Time) any {
	if v == nil || v.IsZero() {
		return nil
	}
	return v.UTC()
}
