package signing

import "time"

// FieldType identifies the kind of fillable element bound to a recipient.
type FieldType string

// Supported field types.
const (
	FieldSignature FieldType = "signature"
	FieldInitials  FieldType = "initials"
	FieldDate      FieldType = "date"
	FieldText      FieldType = "text"
)

// Document is a signable document with aggregate signer counters.
type Document struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	Status          DocumentStatus `json:"status"`
	OriginalFileURL string         `json:"original_file_url,omitempty"`
	TotalSigners    int            `json:"total_signers"`
	SignedCount     int            `json:"signed_count"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Recipient is a single external signer of one document, identified solely
// by its bearer access token.
type Recipient struct {
	ID             string          `json:"id"`
	DocumentID     string          `json:"document_id"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	AccessToken    string          `json:"-"`
	TokenExpiresAt time.Time       `json:"token_expires_at"`
	Status         RecipientStatus `json:"status"`
	ViewedAt       *time.Time      `json:"viewed_at,omitempty"`
	SignedAt       *time.Time      `json:"signed_at,omitempty"`
	IPAddress      string          `json:"-"`
	UserAgent      string          `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TokenExpired reports whether the recipient's access token is past its
// expiry at the given instant. A zero expiry means the token never expires.
func (r *Recipient) TokenExpired(now time.Time) bool {
	return !r.TokenExpiresAt.IsZero() && now.After(r.TokenExpiresAt)
}

// Field is one fillable element bound to exactly one recipient within a
// document. Value is nil until filled.
type Field struct {
	ID          string     `json:"id"`
	DocumentID  string     `json:"document_id"`
	RecipientID string     `json:"recipient_id"`
	Type        FieldType  `json:"type"`
	Label       string     `json:"label,omitempty"`
	Required    bool       `json:"required"`
	Value       *string    `json:"value,omitempty"`
	FilledAt    *time.Time `json:"filled_at,omitempty"`
}

// Filled reports whether the field has a non-empty value.
func (f *Field) Filled() bool {
	return f.Value != nil && *f.Value != ""
}

// ClientMeta carries the request metadata captured on viewing and terminal
// transitions for the audit trail.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// SignResult is the outcome of a successful signature submission.
type SignResult struct {
	IsComplete   bool `json:"isComplete"`
	SignedCount  int  `json:"signedCount"`
	TotalSigners int  `json:"totalSigners"`
}

// ViewResult is what a gateway-validated recipient sees on the read path.
// Fields is empty once the document is complete; DownloadURL is a
// short-lived signed URL for the original file.
type ViewResult struct {
	Document    *Document  `json:"document"`
	Recipient   *Recipient `json:"recipient"`
	Fields      []*Field   `json:"fields"`
	DownloadURL string     `json:"downloadUrl,omitempty"`
	IsComplete  bool       `json:"isComplete"`
}
