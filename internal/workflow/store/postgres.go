package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"govconsent/internal/workflow/models"
	"govconsent/pkg/domain"
	"govconsent/pkg/platform/sentinel"
	txcontext "govconsent/pkg/platform/tx"
)

const caseColumns = `id, case_type, domain, citizen_id, service_id, government_id, status,
	purpose, required_attributes, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create joins the transaction in ctx when there is one, so the consent
// lookup and the insert commit together.
func (s *PostgresStore) Create(ctx context.Context, c *models.Case) error {
	_, err := txcontext.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO workflow_cases (`+caseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.UUID(c.ID), c.Type, c.Domain, c.CitizenID.String(),
		nullID(c.ServiceID), nullID(c.GovernmentID), c.Status.String(),
		c.Purpose, pq.Array(c.RequiredAttributes), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.CaseID) (*models.Case, error) {
	return scanCase(txcontext.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM workflow_cases WHERE id = $1`, uuid.UUID(id)))
}

func (s *PostgresStore) Execute(ctx context.Context, id domain.CaseID, validate func(*models.Case) error, mutate func(*models.Case)) (*models.Case, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin case tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	c, err := scanCase(tx.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM workflow_cases WHERE id = $1 FOR UPDATE`, uuid.UUID(id)))
	if err != nil {
		return nil, err
	}
	if err := validate(c); err != nil {
		return nil, err
	}
	mutate(c)

	if _, err := tx.ExecContext(ctx, `
		UPDATE workflow_cases SET status = $2, government_id = $3, updated_at = $4
		WHERE id = $1`,
		uuid.UUID(c.ID), c.Status.String(), nullID(c.GovernmentID), c.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update case: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit case tx: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListByCitizen(ctx context.Context, citizenID domain.IdentityID) ([]*models.Case, error) {
	return s.query(ctx, `SELECT `+caseColumns+` FROM workflow_cases
		WHERE citizen_id = $1 ORDER BY created_at DESC`, citizenID.String())
}

func (s *PostgresStore) ListByService(ctx context.Context, serviceID domain.IdentityID) ([]*models.Case, error) {
	return s.query(ctx, `SELECT `+caseColumns+` FROM workflow_cases
		WHERE service_id = $1 ORDER BY created_at DESC`, serviceID.String())
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*models.Case, error) {
	return s.query(ctx, `SELECT `+caseColumns+` FROM workflow_cases ORDER BY created_at DESC`)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*models.Case, error) {
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()
	out := make([]*models.Case, 0)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCase(row scanner) (*models.Case, error) {
	var (
		c            models.Case
		id           uuid.UUID
		citizenID    string
		serviceID    sql.NullString
		governmentID sql.NullString
		status       string
	)
	err := row.Scan(&id, &c.Type, &c.Domain, &citizenID, &serviceID, &governmentID, &status,
		&c.Purpose, pq.Array(&c.RequiredAttributes), &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("case: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan case: %w", err)
	}
	c.ID = domain.CaseID(id)
	c.CitizenID = domain.IdentityID(citizenID)
	c.ServiceID = domain.IdentityID(serviceID.String)
	c.GovernmentID = domain.IdentityID(governmentID.String)
	c.Status = models.Status(status)
	return &c, nil
}

func nullID(id domain.IdentityID) sql.NullString {
	return sql.NullString{String: id.String(), Valid: !id.IsNil()}
}
