package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"govconsent/pkg/domain"
	"govconsent/pkg/platform/sentinel"
	txcontext "govconsent/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Put(ctx context.Context, ownerID domain.IdentityID, values map[string]string, now time.Time) error {
	payload, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	_, err = txcontext.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO citizen_records (owner_id, profile, updated_at)
		VALUES ($1, $2::jsonb, $3)
		ON CONFLICT (owner_id) DO UPDATE
		SET profile = citizen_records.profile || EXCLUDED.profile,
		    updated_at = EXCLUDED.updated_at`,
		ownerID.String(), string(payload), now,
	)
	if err != nil {
		return fmt.Errorf("upsert citizen record: %w", err)
	}
	return nil
}

// Project filters inside Postgres so attributes outside the list never leave
// the database. A record with no matching keys yields a single NULL row.
func (s *PostgresStore) Project(ctx context.Context, ownerID domain.IdentityID, attributes []string) (map[string]string, error) {
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, `
		SELECT kv.key, kv.value
		FROM citizen_records r
		LEFT JOIN LATERAL jsonb_each_text(r.profile) AS kv ON kv.key = ANY($2)
		WHERE r.owner_id = $1`,
		ownerID.String(), pq.Array(attributes),
	)
	if err != nil {
		return nil, fmt.Errorf("project citizen record: %w", err)
	}
	defer rows.Close()

	var (
		found bool
		out   = make(map[string]string, len(attributes))
	)
	for rows.Next() {
		found = true
		var key, value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan citizen attribute: %w", err)
		}
		if key.Valid {
			out[key.String] = value.String
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate citizen attributes: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("record %s: %w", ownerID, sentinel.ErrNotFound)
	}
	return out, nil
}
