package signing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db, nil), mock
}

func documentRow(id string, status DocumentStatus, total, signed int, completedAt any) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "title", "description", "status", "original_file_url",
		"total_signers", "signed_count", "completed_at", "created_at", "updated_at",
	}).AddRow(id, "MSA", "", string(status), "", total, signed, completedAt, now, now)
}

func recipientRow(id, documentID string, status RecipientStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "document_id", "name", "email", "access_token", "token_expires_at",
		"status", "viewed_at", "signed_at", "ip_address", "user_agent", "created_at", "updated_at",
	}).AddRow(id, documentID, "Jane", "jane@example.com", "tok", now.Add(time.Hour),
		string(status), nil, nil, "", "", now, now)
}

func TestPostgresCompleteSigningAtomicIncrement(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM documents WHERE id = \$1 FOR UPDATE`).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("in_progress"))
	mock.ExpectQuery(`UPDATE recipients`).
		WithArgs("rec-1", string(RecipientSigned), now, "1.2.3.4", "ua",
			string(RecipientSigned), string(RecipientDeclined)).
		WillReturnRows(recipientRow("rec-1", "doc-1", RecipientSigned))
	mock.ExpectExec(`UPDATE fields SET value = \$4, filled_at = \$5`).
		WithArgs("field-1", "doc-1", "rec-1", "signature-data", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The counter increment and status derivation live in the UPDATE itself,
	// never in a read-modify-write round trip.
	mock.ExpectQuery(`UPDATE documents\s+SET signed_count = signed_count \+ 1`).
		WithArgs("doc-1", string(DocumentCompleted), string(DocumentInProgress), now,
			string(DocumentVoided), string(DocumentCompleted)).
		WillReturnRows(documentRow("doc-1", DocumentCompleted, 2, 2, now))
	mock.ExpectCommit()

	outcome, err := store.CompleteSigning(context.Background(), "doc-1", "rec-1",
		map[string]string{"field-1": "signature-data"}, now, ClientMeta{IPAddress: "1.2.3.4", UserAgent: "ua"})
	if err != nil {
		t.Fatalf("CompleteSigning failed: %v", err)
	}
	if outcome.Document.Status != DocumentCompleted {
		t.Errorf("document status = %s, want completed", outcome.Document.Status)
	}
	if outcome.FieldsSigned != 1 {
		t.Errorf("fields_signed = %d, want 1", outcome.FieldsSigned)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresCompleteSigningVoidedDocument(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM documents WHERE id = \$1 FOR UPDATE`).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("voided"))
	mock.ExpectRollback()

	_, err := store.CompleteSigning(context.Background(), "doc-1", "rec-1", nil, now, ClientMeta{})
	if !errors.Is(err, ErrDocumentVoided) {
		t.Errorf("expected ErrDocumentVoided, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresCompleteSigningCompletedDocument(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM documents WHERE id = \$1 FOR UPDATE`).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
	mock.ExpectRollback()

	_, err := store.CompleteSigning(context.Background(), "doc-1", "rec-1", nil, now, ClientMeta{})
	if !errors.Is(err, ErrDocumentTerminal) {
		t.Errorf("expected ErrDocumentTerminal, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresDeclineRecipientCompletedDocument(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM documents WHERE id = \$1`).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
	mock.ExpectRollback()

	_, err := store.DeclineRecipient(context.Background(), "doc-1", "rec-1", now, ClientMeta{})
	if !errors.Is(err, ErrDocumentTerminal) {
		t.Errorf("expected ErrDocumentTerminal, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresCompleteSigningLostRace(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM documents WHERE id = \$1 FOR UPDATE`).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("in_progress"))
	// The single-use UPDATE matches no rows: another submit already won.
	mock.ExpectQuery(`UPDATE recipients`).
		WillReturnRows(sqlmock.NewRows([]string{}))
	mock.ExpectQuery(`SELECT status FROM recipients WHERE id = \$1`).
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("signed"))
	mock.ExpectRollback()

	_, err := store.CompleteSigning(context.Background(), "doc-1", "rec-1", nil, now, ClientMeta{})
	if !errors.Is(err, ErrAlreadySigned) {
		t.Errorf("expected ErrAlreadySigned, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresGetDocumentNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM documents WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{}))

	if _, err := store.GetDocument(context.Background(), "missing"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresMarkRecipientViewedAlreadyViewed(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	// Conditional UPDATE misses (status already viewed), fallback SELECT
	// returns the current row with transitioned=false.
	mock.ExpectQuery(`UPDATE recipients`).
		WillReturnRows(sqlmock.NewRows([]string{}))
	mock.ExpectQuery(`SELECT .+ FROM recipients WHERE id = \$1`).
		WithArgs("rec-1").
		WillReturnRows(recipientRow("rec-1", "doc-1", RecipientViewed))

	r, transitioned, err := store.MarkRecipientViewed(context.Background(), "rec-1", now, ClientMeta{})
	if err != nil {
		t.Fatalf("MarkRecipientViewed failed: %v", err)
	}
	if transitioned {
		t.Error("expected no transition for already-viewed recipient")
	}
	if r.Status != RecipientViewed {
		t.Errorf("status = %s, want viewed", r.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresVoidDocumentTerminal(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE documents`).
		WillReturnRows(sqlmock.NewRows([]string{}))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if _, err := store.VoidDocument(context.Background(), "doc-1", now); !errors.Is(err, ErrDocumentTerminal) {
		t.Errorf("expected ErrDocumentTerminal, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
