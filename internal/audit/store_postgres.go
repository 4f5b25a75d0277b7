package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	// Registers the postgres driver used by the sql.DB handed to New.
	_ "github.com/lib/pq"
)

// PostgresStore appends audit events to the audit_events table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const insertEvent = `
INSERT INTO audit_events (id, action, occurred_at, account_id, user_type, user_structure, client_id, reason, request_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, insertEvent,
		uuid.NewString(),
		string(event.Action),
		event.Timestamp.UTC(),
		event.AccountID,
		event.UserType,
		event.UserStructure,
		event.ClientID,
		event.Reason,
		event.RequestID,
	)
	return err
}
