package signing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SignOutcome is returned by Store.CompleteSigning with the post-signature
// state of the document and recipient.
type SignOutcome struct {
	Document     *Document
	Recipient    *Recipient
	FieldsSigned int
}

// Store defines the persistence operations the signing core depends on.
// CompleteSigning is atomic: the field writes, the recipient's terminal
// transition, and the document counter update either all commit or none do.
type Store interface {
	// CreateDocument provisions a document together with its recipients and
	// fields. Dispatch (upload, email) happens outside this core; the store
	// only persists the already-prepared aggregate.
	CreateDocument(ctx context.Context, doc *Document, recipients []*Recipient, fields []*Field) error

	// GetDocument fetches a document by id. Returns ErrDocumentNotFound.
	GetDocument(ctx context.Context, id string) (*Document, error)

	// GetRecipientByToken fetches the unique recipient matching the
	// (document, token) pair. Returns ErrRecipientNotFound when no such
	// pair exists.
	GetRecipientByToken(ctx context.Context, documentID, token string) (*Recipient, error)

	// ListRecipientFields returns the fields bound to one recipient of a
	// document, never another recipient's.
	ListRecipientFields(ctx context.Context, documentID, recipientID string) ([]*Field, error)

	// MarkRecipientViewed advances a pending/sent recipient to viewed,
	// stamping viewed_at and client metadata. The second return value
	// reports whether the transition actually fired; any later status
	// leaves the recipient untouched.
	MarkRecipientViewed(ctx context.Context, recipientID string, now time.Time, meta ClientMeta) (*Recipient, bool, error)

	// CompleteSigning fills the supplied field values (ignoring ids not
	// owned by the recipient), transitions the recipient to signed, and
	// atomically increments the document's signed_count, deriving the new
	// document status. Returns ErrAlreadySigned/ErrAlreadyDeclined when the
	// recipient is terminal, ErrDocumentVoided when the document was voided
	// concurrently, and ErrDocumentTerminal when it already completed.
	CompleteSigning(ctx context.Context, documentID, recipientID string, values map[string]string, now time.Time, meta ClientMeta) (*SignOutcome, error)

	// DeclineRecipient transitions the recipient to declined without
	// touching the document counter. Same single-use and terminal-document
	// discipline as signing.
	DeclineRecipient(ctx context.Context, documentID, recipientID string, now time.Time, meta ClientMeta) (*Recipient, error)

	// VoidDocument moves a non-terminal document to voided. Returns
	// ErrDocumentTerminal when it is already completed or voided.
	VoidDocument(ctx context.Context, documentID string, now time.Time) (*Document, error)
}

// MemoryStore is an in-memory Store used for tests and dev mode.
// Thread-safe via a single mutex, which also gives CompleteSigning its
// atomicity.
type MemoryStore struct {
	mu         sync.Mutex
	documents  map[string]*Document
	recipients map[string]*Recipient
	fields     map[string]*Field
	// (documentID, token) -> recipient id
	tokens map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents:  make(map[string]*Document),
		recipients: make(map[string]*Recipient),
		fields:     make(map[string]*Field),
		tokens:     make(map[string]string),
	}
}

func tokenKey(documentID, token string) string {
	return documentID + "\x00" + token
}

// CreateDocument provisions a document with its recipients and fields.
func (s *MemoryStore) CreateDocument(ctx context.Context, doc *Document, recipients []*Recipient, fields []*Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Status == "" {
		doc.Status = DocumentSent
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now
	docCopy := *doc
	s.documents[doc.ID] = &docCopy

	for _, r := range recipients {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.DocumentID = doc.ID
		if r.Status == "" {
			r.Status = RecipientPending
		}
		r.CreatedAt = now
		r.UpdatedAt = now
		rCopy := *r
		s.recipients[r.ID] = &rCopy
		s.tokens[tokenKey(doc.ID, r.AccessToken)] = r.ID
	}

	for _, f := range fields {
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		f.DocumentID = doc.ID
		fCopy := *f
		s.fields[f.ID] = &fCopy
	}

	return nil
}

// GetDocument fetches a document by id.
func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	docCopy := *doc
	return &docCopy, nil
}

// GetRecipientByToken fetches the recipient matching (document, token).
func (s *MemoryStore) GetRecipientByToken(ctx context.Context, documentID, token string) (*Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.tokens[tokenKey(documentID, token)]
	if !ok {
		return nil, ErrRecipientNotFound
	}
	rCopy := *s.recipients[id]
	return &rCopy, nil
}

// ListRecipientFields returns the fields bound to one recipient.
func (s *MemoryStore) ListRecipientFields(ctx context.Context, documentID, recipientID string) ([]*Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Field
	for _, f := range s.fields {
		if f.DocumentID == documentID && f.RecipientID == recipientID {
			fCopy := *f
			out = append(out, &fCopy)
		}
	}
	return out, nil
}

// MarkRecipientViewed advances a pending/sent recipient to viewed.
func (s *MemoryStore) MarkRecipientViewed(ctx context.Context, recipientID string, now time.Time, meta ClientMeta) (*Recipient, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.recipients[recipientID]
	if !ok {
		return nil, false, ErrRecipientNotFound
	}

	if r.Status != RecipientPending && r.Status != RecipientSent {
		rCopy := *r
		return &rCopy, false, nil
	}

	r.Status = RecipientViewed
	viewedAt := now
	r.ViewedAt = &viewedAt
	r.IPAddress = meta.IPAddress
	r.UserAgent = meta.UserAgent
	r.UpdatedAt = now

	rCopy := *r
	return &rCopy, true, nil
}

// CompleteSigning performs the full write path under the store mutex.
func (s *MemoryStore) CompleteSigning(ctx context.Context, documentID, recipientID string, values map[string]string, now time.Time, meta ClientMeta) (*SignOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[documentID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	if doc.Status == DocumentVoided {
		return nil, ErrDocumentVoided
	}
	if doc.Status == DocumentCompleted {
		return nil, ErrDocumentTerminal
	}

	r, ok := s.recipients[recipientID]
	if !ok {
		return nil, ErrRecipientNotFound
	}
	switch r.Status {
	case RecipientSigned:
		return nil, ErrAlreadySigned
	case RecipientDeclined:
		return nil, ErrAlreadyDeclined
	}

	// Fill supplied values; ids not owned by this recipient are ignored.
	fieldsSigned := 0
	for id, value := range values {
		f, ok := s.fields[id]
		if !ok || f.DocumentID != documentID || f.RecipientID != recipientID {
			continue
		}
		v := value
		filledAt := now
		f.Value = &v
		f.FilledAt = &filledAt
		fieldsSigned++
	}

	r.Status = RecipientSigned
	signedAt := now
	r.SignedAt = &signedAt
	r.IPAddress = meta.IPAddress
	r.UserAgent = meta.UserAgent
	r.UpdatedAt = now

	doc.SignedCount++
	if doc.SignedCount >= doc.TotalSigners {
		doc.Status = DocumentCompleted
		completedAt := now
		doc.CompletedAt = &completedAt
	} else {
		doc.Status = DocumentInProgress
	}
	doc.UpdatedAt = now

	docCopy := *doc
	rCopy := *r
	return &SignOutcome{
		Document:     &docCopy,
		Recipient:    &rCopy,
		FieldsSigned: fieldsSigned,
	}, nil
}

// DeclineRecipient transitions the recipient to declined.
func (s *MemoryStore) DeclineRecipient(ctx context.Context, documentID, recipientID string, now time.Time, meta ClientMeta) (*Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[documentID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	if doc.Status == DocumentVoided {
		return nil, ErrDocumentVoided
	}
	if doc.Status == DocumentCompleted {
		return nil, ErrDocumentTerminal
	}

	r, ok := s.recipients[recipientID]
	if !ok {
		return nil, ErrRecipientNotFound
	}
	switch r.Status {
	case RecipientSigned:
		return nil, ErrAlreadySigned
	case RecipientDeclined:
		return nil, ErrAlreadyDeclined
	}

	r.Status = RecipientDeclined
	r.IPAddress = meta.IPAddress
	r.UserAgent = meta.UserAgent
	r.UpdatedAt = now

	rCopy := *r
	return &rCopy, nil
}

// VoidDocument moves a non-terminal document to voided.
func (s *MemoryStore) VoidDocument(ctx context.Context, documentID string, now time.Time) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[documentID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	if !CanTransitionDocument(doc.Status, DocumentVoided) {
		return nil, ErrDocumentTerminal
	}

	doc.Status = DocumentVoided
	doc.UpdatedAt = now

	docCopy := *doc
	return &docCopy, nil
}
