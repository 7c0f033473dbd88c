package signing

import (
	"context"
	"log/slog"
	"time"

	"github.com/inkseal/inkseal/internal/audit"
)

// URLSigner produces short-lived signed download URLs for the stored
// original file. Implemented by the storage service; tests supply a stub.
type URLSigner interface {
	SignedDownloadURL(ctx context.Context, fileURL string) (string, error)
}

// Service is the signing core: it gates every external operation on the
// recipient's bearer token, drives the document and recipient state
// machines, and records the audit trail as a best-effort side effect.
type Service struct {
	store    Store
	recorder *audit.Recorder
	signer   URLSigner
	logger   *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewService creates a signing service. signer may be nil, in which case
// the read path returns the raw original_file_url (dev mode without object
// storage).
func NewService(store Store, recorder *audit.Recorder, signer URLSigner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		recorder: recorder,
		signer:   signer,
		logger:   logger,
		now:      time.Now,
	}
}

// Authorize is the access gateway: it resolves the (document, token) pair
// to a recipient and enforces token expiry. Every external operation must
// pass through here first; no other component may bypass it.
//
// A missing recipient and an unknown token are indistinguishable to the
// caller (both ErrUnauthorized) so the response does not leak which part
// failed. Denied attempts leave an access_denied audit entry.
func (s *Service) Authorize(ctx context.Context, documentID, token string, meta ClientMeta) (*Recipient, error) {
	recipient, err := s.store.GetRecipientByToken(ctx, documentID, token)
	if err != nil {
		if err == ErrRecipientNotFound {
			s.recordAccessDenied(ctx, documentID, "", "no matching recipient", meta)
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	if recipient.TokenExpired(s.now().UTC()) {
		s.recordAccessDenied(ctx, documentID, recipient.ID, "token expired", meta)
		return nil, ErrTokenExpired
	}

	return recipient, nil
}

func (s *Service) recordAccessDenied(ctx context.Context, documentID, recipientID, reason string, meta ClientMeta) {
	s.recorder.Record(ctx, audit.EntryContent{
		DocumentID:  documentID,
		RecipientID: recipientID,
		Action:      audit.ActionAccessDenied,
		Details:     map[string]any{"reason": reason},
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
	})
}

// View is the read path: it returns the document, the recipient's own
// fields, and a short-lived download URL for the original file. The first
// read after dispatch advances the recipient to viewed and records the
// "opened" evidence; later reads are idempotent and re-fire nothing.
func (s *Service) View(ctx context.Context, documentID, token string, meta ClientMeta) (*ViewResult, error) {
	recipient, err := s.Authorize(ctx, documentID, token, meta)
	if err != nil {
		return nil, err
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	// Voiding takes precedence over the recipient's own state.
	if doc.Status == DocumentVoided {
		return nil, ErrDocumentVoided
	}

	// Completed documents expose no further editing.
	if doc.Status == DocumentCompleted {
		return &ViewResult{
			Document:   doc,
			Recipient:  recipient,
			Fields:     []*Field{},
			IsComplete: true,
		}, nil
	}

	now := s.now().UTC()
	updated, transitioned, err := s.store.MarkRecipientViewed(ctx, recipient.ID, now, meta)
	if err != nil {
		return nil, err
	}
	recipient = updated

	// The viewed audit entry fires at most once per pending/sent -> viewed
	// edge; repeated reads must not re-append "opened" evidence.
	if transitioned {
		s.recorder.Record(ctx, audit.EntryContent{
			DocumentID:  doc.ID,
			RecipientID: recipient.ID,
			Action:      audit.ActionDocumentViewed,
			ActorEmail:  recipient.Email,
			ActorName:   recipient.Name,
			IPAddress:   meta.IPAddress,
			UserAgent:   meta.UserAgent,
		})
	}

	fields, err := s.store.ListRecipientFields(ctx, doc.ID, recipient.ID)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		fields = []*Field{}
	}

	downloadURL := doc.OriginalFileURL
	if s.signer != nil && doc.OriginalFileURL != "" {
		signed, err := s.signer.SignedDownloadURL(ctx, doc.OriginalFileURL)
		if err != nil {
			// A stalled or broken storage backend must not block viewing;
			// the caller just gets no download link this time.
			s.logger.ErrorContext(ctx, "failed to sign download URL",
				"error", err, "document_id", doc.ID)
			downloadURL = ""
		} else {
			downloadURL = signed
		}
	}

	return &ViewResult{
		Document:    doc,
		Recipient:   recipient,
		Fields:      fields,
		DownloadURL: downloadURL,
		IsComplete:  false,
	}, nil
}

// Sign is the write path: it validates required-field coverage, fills the
// supplied values, transitions the recipient to signed, and lets the
// completion coordinator decide whether the whole document is done.
// A validation failure mutates nothing.
func (s *Service) Sign(ctx context.Context, documentID, token string, values map[string]string, meta ClientMeta) (*SignResult, error) {
	recipient, err := s.Authorize(ctx, documentID, token, meta)
	if err != nil {
		return nil, err
	}

	// Single-use per recipient: a terminal status always fails before any
	// write happens.
	switch recipient.Status {
	case RecipientSigned:
		return nil, ErrAlreadySigned
	case RecipientDeclined:
		return nil, ErrAlreadyDeclined
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status == DocumentVoided {
		return nil, ErrDocumentVoided
	}
	if doc.Status == DocumentCompleted {
		return nil, ErrDocumentTerminal
	}

	fields, err := s.store.ListRecipientFields(ctx, doc.ID, recipient.ID)
	if err != nil {
		return nil, err
	}

	// All required fields must have a value supplied now or filled earlier.
	var missing []string
	for _, f := range fields {
		if !f.Required {
			continue
		}
		if v, ok := values[f.ID]; ok && v != "" {
			continue
		}
		if f.Filled() {
			continue
		}
		missing = append(missing, f.ID)
	}
	if len(missing) > 0 {
		return nil, &MissingFieldsError{FieldIDs: missing}
	}

	now := s.now().UTC()
	outcome, err := s.store.CompleteSigning(ctx, doc.ID, recipient.ID, values, now, meta)
	if err != nil {
		return nil, err
	}

	isComplete := outcome.Document.Status == DocumentCompleted

	s.recorder.Record(ctx, audit.EntryContent{
		DocumentID:  doc.ID,
		RecipientID: recipient.ID,
		Action:      audit.ActionDocumentSigned,
		Details: map[string]any{
			"fields_signed": outcome.FieldsSigned,
			"is_complete":   isComplete,
		},
		ActorEmail: recipient.Email,
		ActorName:  recipient.Name,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})

	return &SignResult{
		IsComplete:   isComplete,
		SignedCount:  outcome.Document.SignedCount,
		TotalSigners: outcome.Document.TotalSigners,
	}, nil
}

// Decline is the terminal refusal path. It follows the same single-use and
// void-check discipline as signing but never touches the document counter.
func (s *Service) Decline(ctx context.Context, documentID, token string, meta ClientMeta) error {
	recipient, err := s.Authorize(ctx, documentID, token, meta)
	if err != nil {
		return err
	}

	switch recipient.Status {
	case RecipientSigned:
		return ErrAlreadySigned
	case RecipientDeclined:
		return ErrAlreadyDeclined
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status == DocumentVoided {
		return ErrDocumentVoided
	}
	if doc.Status == DocumentCompleted {
		return ErrDocumentTerminal
	}

	now := s.now().UTC()
	declined, err := s.store.DeclineRecipient(ctx, doc.ID, recipient.ID, now, meta)
	if err != nil {
		return err
	}

	s.recorder.Record(ctx, audit.EntryContent{
		DocumentID:  doc.ID,
		RecipientID: declined.ID,
		Action:      audit.ActionDocumentDeclined,
		ActorEmail:  declined.Email,
		ActorName:   declined.Name,
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
	})

	return nil
}

// Void is the internal back-office operation that withdraws a document from
// circulation. Voided is absorbing: it blocks every further read/write
// acceptance except metadata viewing.
func (s *Service) Void(ctx context.Context, documentID, actorEmail, actorName string, meta ClientMeta) (*Document, error) {
	doc, err := s.store.VoidDocument(ctx, documentID, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.EntryContent{
		DocumentID: doc.ID,
		Action:     audit.ActionDocumentVoided,
		ActorEmail: actorEmail,
		ActorName:  actorName,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})

	return doc, nil
}
