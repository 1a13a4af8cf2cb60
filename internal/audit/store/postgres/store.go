package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"govconsent/internal/audit"
	"govconsent/pkg/domain"
)

// Store persists audit entries through a native pgx pool. The table rejects
// UPDATE and DELETE with a trigger, so Append is the only write path.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const selectColumns = `
	SELECT id::text, actor_id, actor_role, target_id, action,
	       accessed_attributes, purpose, metadata, request_id, created_at
	FROM audit_log`

// Append inserts one entry. ON CONFLICT DO NOTHING keeps replays of the same
// entry id idempotent.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (
			id, actor_id, actor_role, target_id, action,
			accessed_attributes, purpose, metadata, request_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		entry.ID.String(),
		entry.ActorID.String(),
		entry.ActorRole.String(),
		entry.TargetID.String(),
		entry.Action.String(),
		entry.AccessedAttributes,
		entry.Purpose,
		metadata,
		entry.RequestID,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) ListByActor(ctx context.Context, actorID domain.IdentityID) ([]audit.Entry, error) {
	return s.query(ctx, selectColumns+` WHERE actor_id = $1 ORDER BY created_at DESC`, actorID.String())
}

func (s *Store) ListByTarget(ctx context.Context, targetID domain.IdentityID) ([]audit.Entry, error) {
	return s.query(ctx, selectColumns+` WHERE target_id = $1 ORDER BY created_at DESC`, targetID.String())
}

func (s *Store) ListAll(ctx context.Context) ([]audit.Entry, error) {
	return s.query(ctx, selectColumns+` ORDER BY created_at DESC`)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]audit.Entry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("scan audit entries: %w", err)
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return entries, nil
}

func scanEntry(row pgx.CollectableRow) (audit.Entry, error) {
	var (
		e         audit.Entry
		id        string
		actorID   string
		actorRole string
		targetID  string
		action    string
	)
	if err := row.Scan(
		&id,
		&actorID,
		&actorRole,
		&targetID,
		&action,
		&e.AccessedAttributes,
		&e.Purpose,
		&e.Metadata,
		&e.RequestID,
		&e.Timestamp,
	); err != nil {
		return audit.Entry{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("parse audit entry id: %w", err)
	}
	e.ID = domain.AuditEntryID(parsed)
	e.ActorID = domain.IdentityID(actorID)
	e.ActorRole = domain.Role(actorRole)
	e.TargetID = domain.IdentityID(targetID)
	e.Action = audit.Action(action)
	return e, nil
}
