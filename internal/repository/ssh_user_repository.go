package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/trace"
)

const createSSHUsersTable = `
CREATE TABLE IF NOT EXISTS ssh_users (
    id          BIGSERIAL   PRIMARY KEY,
    username    TEXT        NOT NULL UNIQUE,
    fingerprint TEXT        NOT NULL UNIQUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_login  TIMESTAMPTZ
);
`

// SSHUser is an operator allowed into the terminal dashboard, identified by
// their public key fingerprint.
type SSHUser struct {
	ID          int64
	Username    string
	Fingerprint string
	CreatedAt   time.Time
	LastLogin   *time.Time
}

type SSHUserRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewSSHUserRepository(pool PgxPool, tracer trace.Tracer) *SSHUserRepository {
	return &SSHUserRepository{pool: pool, tracer: tracer}
}

func (r *SSHUserRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "ssh-user-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createSSHUsersTable)
	return err
}

// FindByFingerprint returns the user owning a key fingerprint, or nil when
// the key is unknown.
func (r *SSHUserRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*SSHUser, error) {
	_, span := r.tracer.Start(ctx, "ssh-user-repo.find-by-fingerprint")
	defer span.End()

	var user SSHUser
	var lastLogin pgtype.Timestamptz
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, fingerprint, created_at, last_login
		 FROM ssh_users
		 WHERE fingerprint = $1`,
		fingerprint,
	).Scan(&user.ID, &user.Username, &user.Fingerprint, &user.CreatedAt, &lastLogin)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	if lastLogin.Valid {
		v := lastLogin.Time.UTC()
		user.LastLogin = &v
	}
	return &user, nil
}

// UpdateLastLogin stamps a successful login.
func (r *SSHUserRepository) UpdateLastLogin(ctx context.Context, userID int64) error {
	_, span := r.tracer.Start(ctx, "ssh-user-repo.update-last-login")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`UPDATE ssh_users SET last_login = NOW() WHERE id = $1`,
		userID,
	)
	return err
}

// CreateUser registers a key fingerprint. Used by operators via psql or a
// future admin surface; kept here so the schema owner also owns writes.
func (r *SSHUserRepository) CreateUser(ctx context.Context, username, fingerprint string) (*SSHUser, error) {
	_, span := r.tracer.Start(ctx, "ssh-user-repo.create-user")
	defer span.End()

	var user SSHUser
	err := r.pool.QueryRow(ctx,
		`INSERT INTO ssh_users (username, fingerprint)
		 VALUES ($1, $2)
		 RETURNING id, username, fingerprint, created_at`,
		username, fingerprint,
	).Scan(&user.ID, &user.Username, &user.Fingerprint, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}
