package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"govconsent/internal/identity/models"
	"govconsent/pkg/domain"
	"govconsent/pkg/platform/sentinel"
	txcontext "govconsent/pkg/platform/tx"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, identity *models.Identity) error {
	_, err := txcontext.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO identities (id, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		identity.ID.String(), identity.Role.String(), identity.Status.String(),
		identity.CreatedAt, identity.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("identity %s: %w", identity.ID, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.IdentityID) (*models.Identity, error) {
	row := txcontext.Execer(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, role, status, created_at, updated_at
		FROM identities WHERE id = $1`, id.String())
	return scanIdentity(row)
}

// Execute locks the row with SELECT ... FOR UPDATE for the duration of the
// validate and mutate callbacks.
func (s *PostgresStore) Execute(ctx context.Context, id domain.IdentityID, validate func(*models.Identity) error, mutate func(*models.Identity)) (*models.Identity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin identity tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	identity, err := scanIdentity(tx.QueryRowContext(ctx, `
		SELECT id, role, status, created_at, updated_at
		FROM identities WHERE id = $1 FOR UPDATE`, id.String()))
	if err != nil {
		return nil, err
	}
	if err := validate(identity); err != nil {
		return nil, err
	}
	mutate(identity)

	if _, err := tx.ExecContext(ctx, `
		UPDATE identities SET status = $2, updated_at = $3 WHERE id = $1`,
		identity.ID.String(), identity.Status.String(), identity.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update identity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit identity tx: %w", err)
	}
	return identity, nil
}

func scanIdentity(row *sql.Row) (*models.Identity, error) {
	var (
		identity models.Identity
		id       string
		role     string
		status   string
	)
	if err := row.Scan(&id, &role, &status, &identity.CreatedAt, &identity.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("identity: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	identity.ID = domain.IdentityID(id)
	identity.Role = domain.Role(role)
	identity.Status = models.Status(status)
	return &identity, nil
}
