package signing

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// PostgresStore implements Store on PostgreSQL with full transaction
// support. The write path commits the field fills, the recipient's terminal
// transition, and the document counter update as one unit, and the counter
// increment happens inside a single conditional UPDATE so concurrent
// signers can never lose updates.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

const documentColumns = `id, title, COALESCE(description, ''), status, COALESCE(original_file_url, ''), total_signers, signed_count, completed_at, created_at, updated_at`

const recipientColumns = `id, document_id, name, email, access_token, token_expires_at, status, viewed_at, signed_at, COALESCE(ip_address, ''), COALESCE(user_agent, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var completedAt sql.NullTime
	err := row.Scan(
		&doc.ID, &doc.Title, &doc.Description, &doc.Status, &doc.OriginalFileURL,
		&doc.TotalSigners, &doc.SignedCount, &completedAt, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		doc.CompletedAt = &completedAt.Time
	}
	return &doc, nil
}

func scanRecipient(row rowScanner) (*Recipient, error) {
	var r Recipient
	var viewedAt, signedAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.DocumentID, &r.Name, &r.Email, &r.AccessToken, &r.TokenExpiresAt,
		&r.Status, &viewedAt, &signedAt, &r.IPAddress, &r.UserAgent,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if viewedAt.Valid {
		r.ViewedAt = &viewedAt.Time
	}
	if signedAt.Valid {
		r.SignedAt = &signedAt.Time
	}
	return &r, nil
}

// CreateDocument provisions the document aggregate in one transaction.
func (s *PostgresStore) CreateDocument(ctx context.Context, doc *Document, recipients []*Recipient, fields []*Field) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.logger.Warn("failed to rollback transaction", slog.String("error", err.Error()))
		}
	}()

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Status == "" {
		doc.Status = DocumentSent
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, title, description, status, original_file_url, total_signers, signed_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, NOW(), NOW())
	`, doc.ID, doc.Title, doc.Description, doc.Status, doc.OriginalFileURL, doc.TotalSigners)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	for _, r := range recipients {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.DocumentID = doc.ID
		if r.Status == "" {
			r.Status = RecipientPending
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO recipients (id, document_id, name, email, access_token, token_expires_at, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		`, r.ID, r.DocumentID, r.Name, r.Email, r.AccessToken, r.TokenExpiresAt, r.Status)
		if err != nil {
			return fmt.Errorf("failed to insert recipient: %w", err)
		}
	}

	for _, f := range fields {
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		f.DocumentID = doc.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO fields (id, document_id, recipient_id, type, label, required)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, f.ID, f.DocumentID, f.RecipientID, f.Type, f.Label, f.Required)
		if err != nil {
			return fmt.Errorf("failed to insert field: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// GetDocument fetches a document by id.
func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// GetRecipientByToken fetches the recipient matching (document, token).
func (s *PostgresStore) GetRecipientByToken(ctx context.Context, documentID, token string) (*Recipient, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recipientColumns+` FROM recipients
		WHERE document_id = $1 AND access_token = $2
	`, documentID, token)
	r, err := scanRecipient(row)
	if err == sql.ErrNoRows {
		return nil, ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}
	return r, nil
}

// ListRecipientFields returns the fields bound to one recipient.
func (s *PostgresStore) ListRecipientFields(ctx context.Context, documentID, recipientID string) ([]*Field, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, recipient_id, type, COALESCE(label, ''), required, value, filled_at
		FROM fields
		WHERE document_id = $1 AND recipient_id = $2
		ORDER BY id
	`, documentID, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	defer rows.Close()

	var fields []*Field
	for rows.Next() {
		var f Field
		var value sql.NullString
		var filledAt sql.NullTime
		if err := rows.Scan(&f.ID, &f.DocumentID, &f.RecipientID, &f.Type, &f.Label, &f.Required, &value, &filledAt); err != nil {
			return nil, fmt.Errorf("failed to scan field: %w", err)
		}
		if value.Valid {
			f.Value = &value.String
		}
		if filledAt.Valid {
			f.FilledAt = &filledAt.Time
		}
		fields = append(fields, &f)
	}
	return fields, rows.Err()
}

// MarkRecipientViewed advances a pending/sent recipient to viewed. The
// status guard in the UPDATE makes the transition fire at most once; any
// later status returns the current row unchanged.
func (s *PostgresStore) MarkRecipientViewed(ctx context.Context, recipientID string, now time.Time, meta ClientMeta) (*Recipient, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE recipients
		SET status = $2, viewed_at = $3, ip_address = $4, user_agent = $5, updated_at = $3
		WHERE id = $1 AND status IN ($6, $7)
		RETURNING `+recipientColumns,
		recipientID, RecipientViewed, now, meta.IPAddress, meta.UserAgent,
		RecipientPending, RecipientSent,
	)
	r, err := scanRecipient(row)
	if err == nil {
		return r, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to mark viewed: %w", err)
	}

	// Already viewed or terminal: return the current row, no transition.
	row = s.db.QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE id = $1`, recipientID)
	r, err = scanRecipient(row)
	if err == sql.ErrNoRows {
		return nil, false, ErrRecipientNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get recipient: %w", err)
	}
	return r, false, nil
}

// CompleteSigning performs the full write path in one transaction: fill the
// supplied values, flip the recipient to signed (single-use guard in the
// UPDATE), and bump the document counter with a conditional increment
// computed in SQL rather than from a prior read.
func (s *PostgresStore) CompleteSigning(ctx context.Context, documentID, recipientID string, values map[string]string, now time.Time, meta ClientMeta) (*SignOutcome, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.logger.Warn("failed to rollback transaction", slog.String("error", err.Error()))
		}
	}()

	// Lock the document row so the voided check and the increment are
	// consistent for concurrent signers of the same document.
	var docStatus DocumentStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1 FOR UPDATE`, documentID).Scan(&docStatus)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock document: %w", err)
	}
	if docStatus == DocumentVoided {
		return nil, ErrDocumentVoided
	}
	if docStatus == DocumentCompleted {
		return nil, ErrDocumentTerminal
	}

	// Single-use per recipient: the status guard means exactly one
	// concurrent attempt can win this UPDATE.
	row := tx.QueryRowContext(ctx, `
		UPDATE recipients
		SET status = $2, signed_at = $3, ip_address = $4, user_agent = $5, updated_at = $3
		WHERE id = $1 AND status NOT IN ($6, $7)
		RETURNING `+recipientColumns,
		recipientID, RecipientSigned, now, meta.IPAddress, meta.UserAgent,
		RecipientSigned, RecipientDeclined,
	)
	recipient, err := scanRecipient(row)
	if err == sql.ErrNoRows {
		return nil, s.terminalRecipientError(ctx, tx, recipientID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark signed: %w", err)
	}

	// Fill supplied values. The ownership predicate means values for fields
	// belonging to other recipients are never applied.
	fieldsSigned := 0
	for id, value := range values {
		res, err := tx.ExecContext(ctx, `
			UPDATE fields SET value = $4, filled_at = $5
			WHERE id = $1 AND document_id = $2 AND recipient_id = $3
		`, id, documentID, recipientID, value, now)
		if err != nil {
			return nil, fmt.Errorf("failed to fill field: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			fieldsSigned++
		}
	}

	// Atomic increment plus derived status, all in SQL.
	row = tx.QueryRowContext(ctx, `
		UPDATE documents
		SET signed_count = signed_count + 1,
		    status = CASE WHEN signed_count + 1 >= total_signers THEN $2 ELSE $3 END,
		    completed_at = CASE WHEN signed_count + 1 >= total_signers THEN $4 ELSE completed_at END,
		    updated_at = $4
		WHERE id = $1 AND status NOT IN ($5, $6)
		RETURNING `+documentColumns,
		documentID, DocumentCompleted, DocumentInProgress, now,
		DocumentVoided, DocumentCompleted,
	)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		// The FOR UPDATE lock above should make this unreachable; treat it
		// as a void race to stay safe.
		return nil, ErrDocumentVoided
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update document counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return &SignOutcome{
		Document:     doc,
		Recipient:    recipient,
		FieldsSigned: fieldsSigned,
	}, nil
}

// terminalRecipientError maps a lost single-use race to the proper conflict
// error by reading the recipient's current status.
func (s *PostgresStore) terminalRecipientError(ctx context.Context, tx *sql.Tx, recipientID string) error {
	var status RecipientStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM recipients WHERE id = $1`, recipientID).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrRecipientNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get recipient status: %w", err)
	}
	if status == RecipientDeclined {
		return ErrAlreadyDeclined
	}
	return ErrAlreadySigned
}

// DeclineRecipient transitions the recipient to declined without touching
// the document counter.
func (s *PostgresStore) DeclineRecipient(ctx context.Context, documentID, recipientID string, now time.Time, meta ClientMeta) (*Recipient, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.logger.Warn("failed to rollback transaction", slog.String("error", err.Error()))
		}
	}()

	var docStatus DocumentStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1`, documentID).Scan(&docStatus)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if docStatus == DocumentVoided {
		return nil, ErrDocumentVoided
	}
	if docStatus == DocumentCompleted {
		return nil, ErrDocumentTerminal
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE recipients
		SET status = $2, ip_address = $3, user_agent = $4, updated_at = $5
		WHERE id = $1 AND status NOT IN ($6, $7)
		RETURNING `+recipientColumns,
		recipientID, RecipientDeclined, meta.IPAddress, meta.UserAgent, now,
		RecipientSigned, RecipientDeclined,
	)
	recipient, err := scanRecipient(row)
	if err == sql.ErrNoRows {
		return nil, s.terminalRecipientError(ctx, tx, recipientID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark declined: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return recipient, nil
}

// VoidDocument moves a non-terminal document to voided.
func (s *PostgresStore) VoidDocument(ctx context.Context, documentID string, now time.Time) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE documents
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status NOT IN ($2, $4)
		RETURNING `+documentColumns,
		documentID, DocumentVoided, now, DocumentCompleted,
	)
	doc, err := scanDocument(row)
	if err == nil {
		return doc, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to void document: %w", err)
	}

	// No row updated: distinguish missing from already terminal.
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE id = $1)`, documentID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check document: %w", err)
	}
	if !exists {
		return nil, ErrDocumentNotFound
	}
	return nil, ErrDocumentTerminal
}
