package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresRepository implements Repository on PostgreSQL. The audit_log
// table is append-only: this type exposes no update or delete operation,
// and the schema enforces the same.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new Postgres-backed audit repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append records one audit event.
func (r *PostgresRepository) Append(ctx context.Context, content EntryContent) (*Entry, error) {
	id := uuid.New().String()
	details, err := detailsJSON(content.Details)
	if err != nil {
		return nil, fmt.Errorf("failed to encode details: %w", err)
	}

	var createdAt time.Time
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO audit_log (id, document_id, recipient_id, action, action_details, actor_email, actor_name, correlation_id, ip_address, user_agent, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING created_at
	`, id, content.DocumentID, content.RecipientID, content.Action, details,
		content.ActorEmail, content.ActorName, content.CorrelationID,
		content.IPAddress, content.UserAgent,
	).Scan(&createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}

	return &Entry{
		ID:            id,
		DocumentID:    content.DocumentID,
		RecipientID:   content.RecipientID,
		Action:        content.Action,
		Details:       content.Details,
		ActorEmail:    content.ActorEmail,
		ActorName:     content.ActorName,
		CreatedAt:     createdAt,
		CorrelationID: content.CorrelationID,
		IPAddress:     content.IPAddress,
		UserAgent:     content.UserAgent,
	}, nil
}

// QueryByDocument retrieves audit entries for a document, newest first.
func (r *PostgresRepository) QueryByDocument(ctx context.Context, documentID string, limit int) ([]*Entry, error) {
	query := `
		SELECT id, document_id, COALESCE(recipient_id::text, ''), action, action_details,
		       COALESCE(actor_email, ''), COALESCE(actor_name, ''),
		       COALESCE(correlation_id, ''), COALESCE(ip_address::text, ''), COALESCE(user_agent, ''),
		       created_at
		FROM audit_log
		WHERE document_id = $1
		ORDER BY created_at DESC`
	args := []any{documentID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var details []byte
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.RecipientID, &e.Action, &details,
			&e.ActorEmail, &e.ActorName, &e.CorrelationID, &e.IPAddress, &e.UserAgent,
			&e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("failed to decode details: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
