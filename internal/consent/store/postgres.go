package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"govconsent/internal/consent/models"
	"govconsent/pkg/domain"
	"govconsent/pkg/platform/sentinel"
	txcontext "govconsent/pkg/platform/tx"
)

const grantColumns = `id, owner_id, requester_id, purpose, attributes, status, service_type,
	requested_duration_days, valid_from, valid_until, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, grant *models.Grant) error {
	_, err := txcontext.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO consent_grants (`+grantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		uuid.UUID(grant.ID), grant.OwnerID.String(), grant.RequesterID.String(),
		grant.Purpose, pq.Array(grant.Attributes), grant.Status.String(), grant.ServiceType,
		nullInt(grant.RequestedDurationDays), grant.ValidFrom, grant.ValidUntil,
		grant.CreatedAt, grant.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("grant %s: %w", grant.ID, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.GrantID) (*models.Grant, error) {
	row := txcontext.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM consent_grants WHERE id = $1`, uuid.UUID(id))
	return scanGrant(row)
}

// Execute holds a row lock from the read through the update, so concurrent
// approve and revoke calls on one grant serialize.
func (s *PostgresStore) Execute(ctx context.Context, id domain.GrantID, validate func(*models.Grant) error, mutate func(*models.Grant)) (*models.Grant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin grant tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	grant, err := scanGrant(tx.QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM consent_grants WHERE id = $1 FOR UPDATE`, uuid.UUID(id)))
	if err != nil {
		return nil, err
	}
	if err := validate(grant); err != nil {
		return nil, err
	}
	mutate(grant)

	if _, err := tx.ExecContext(ctx, `
		UPDATE consent_grants
		SET status = $2, valid_from = $3, valid_until = $4, updated_at = $5
		WHERE id = $1`,
		uuid.UUID(grant.ID), grant.Status.String(), grant.ValidFrom, grant.ValidUntil, grant.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update grant: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit grant tx: %w", err)
	}
	return grant, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID domain.IdentityID, status models.Status) ([]*models.Grant, error) {
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, `
		SELECT `+grantColumns+` FROM consent_grants
		WHERE owner_id = $1 AND status = $2
		ORDER BY created_at DESC`, ownerID.String(), status.String())
	if err != nil {
		return nil, fmt.Errorf("list grants by owner: %w", err)
	}
	return collectGrants(rows)
}

func (s *PostgresStore) ListByRequester(ctx context.Context, requesterID domain.IdentityID) ([]*models.Grant, error) {
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, `
		SELECT `+grantColumns+` FROM consent_grants
		WHERE requester_id = $1
		ORDER BY created_at DESC`, requesterID.String())
	if err != nil {
		return nil, fmt.Errorf("list grants by requester: %w", err)
	}
	return collectGrants(rows)
}

// FindValid applies the validity predicate in SQL. Inside a transaction the
// row is read FOR SHARE so a concurrent revoke waits for the caller to commit.
func (s *PostgresStore) FindValid(ctx context.Context, ownerID, requesterID domain.IdentityID, now time.Time) (*models.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM consent_grants
		WHERE owner_id = $1 AND requester_id = $2 AND status = 'active' AND valid_until > $3
		ORDER BY valid_from DESC
		LIMIT 1`
	if _, inTx := txcontext.From(ctx); inTx {
		query += ` FOR SHARE`
	}
	row := txcontext.Execer(ctx, s.db).QueryRowContext(ctx, query,
		ownerID.String(), requesterID.String(), now)
	return scanGrant(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGrant(row scanner) (*models.Grant, error) {
	var (
		g           models.Grant
		id          uuid.UUID
		ownerID     string
		requesterID string
		status      string
		days        sql.NullInt32
		validFrom   sql.NullTime
		validUntil  sql.NullTime
	)
	err := row.Scan(&id, &ownerID, &requesterID, &g.Purpose, pq.Array(&g.Attributes), &status,
		&g.ServiceType, &days, &validFrom, &validUntil, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("grant: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan grant: %w", err)
	}
	g.ID = domain.GrantID(id)
	g.OwnerID = domain.IdentityID(ownerID)
	g.RequesterID = domain.IdentityID(requesterID)
	g.Status = models.Status(status)
	if days.Valid {
		d := int(days.Int32)
		g.RequestedDurationDays = &d
	}
	if validFrom.Valid {
		t := validFrom.Time
		g.ValidFrom = &t
	}
	if validUntil.Valid {
		t := validUntil.Time
		g.ValidUntil = &t
	}
	return &g, nil
}

func collectGrants(rows *sql.Rows) ([]*models.Grant, error) {
	defer rows.Close()
	out := make([]*models.Grant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return out, nil
}

func nullInt(v *int) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*v), Valid: true}
}
