package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/inkseal/inkseal/internal/audit"
	"github.com/inkseal/inkseal/internal/middleware"
	"github.com/inkseal/inkseal/internal/signing"
	"github.com/inkseal/inkseal/internal/validate"
)

// SignRequest is the request body for POST /sign.
type SignRequest struct {
	DocumentID  string            `json:"documentId"`
	Token       string            `json:"token"`
	FieldValues map[string]string `json:"fieldValues,omitempty"`
}

// DeclineRequest is the request body for POST /sign/decline.
type DeclineRequest struct {
	DocumentID string `json:"documentId"`
	Token      string `json:"token"`
}

// SignResponse is the success payload for POST /sign.
type SignResponse struct {
	IsComplete   bool `json:"isComplete"`
	SignedCount  int  `json:"signedCount"`
	TotalSigners int  `json:"totalSigners"`
}

// SignHandlers holds dependencies for the external signer endpoints.
type SignHandlers struct {
	svc *signing.Service
}

// NewSignHandlers creates a new SignHandlers instance.
func NewSignHandlers(svc *signing.Service) *SignHandlers {
	return &SignHandlers{svc: svc}
}

// validCredentials checks the format of the credential pair shared by all
// signer endpoints, writing a 400 response on malformed input. Whether the
// pair matches a recipient is the service's call.
func validCredentials(w http.ResponseWriter, r *http.Request, documentID, token string) (string, string, bool) {
	id, err := validate.DocumentID(documentID)
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "documentId must be a valid UUID")
		return "", "", false
	}
	tok, err := validate.AccessToken(token)
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "token has an invalid format")
		return "", "", false
	}
	return id, tok, true
}

// clientMeta captures the request metadata stamped on viewing and terminal
// transitions.
func clientMeta(r *http.Request) signing.ClientMeta {
	return signing.ClientMeta{
		IPAddress: audit.ExtractIPAddress(r),
		UserAgent: r.UserAgent(),
	}
}

// Sign handles /sign. GET fetches the document, fields, and recipient state
// for viewing; POST submits a signature; OPTIONS answers preflight.
func (h *SignHandlers) Sign(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		h.view(w, r)
	case http.MethodPost:
		h.submit(w, r)
	default:
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
	}
}

// view handles GET /sign?documentId=<uuid>&token=<string>.
func (h *SignHandlers) view(w http.ResponseWriter, r *http.Request) {
	documentID := strings.TrimSpace(r.URL.Query().Get("documentId"))
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if documentID == "" || token == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "documentId and token are required")
		return
	}
	documentID, token, ok := validCredentials(w, r, documentID, token)
	if !ok {
		return
	}

	result, err := h.svc.View(r.Context(), documentID, token, clientMeta(r))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	// Make the validated recipient visible to the logging middleware.
	ctx := middleware.SetSignerID(r.Context(), result.Recipient.ID)
	middleware.UpdateResponseContext(w, ctx)

	WriteSuccess(w, ctx, http.StatusOK, result)
}

// submit handles POST /sign with {documentId, token, fieldValues?}.
func (h *SignHandlers) submit(w http.ResponseWriter, r *http.Request) {
	var req SignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Invalid JSON in request body", err.Error())
		return
	}
	if req.DocumentID == "" || req.Token == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "documentId and token are required")
		return
	}
	documentID, token, ok := validCredentials(w, r, req.DocumentID, req.Token)
	if !ok {
		return
	}

	values := make(map[string]string, len(req.FieldValues))
	for fieldID, raw := range req.FieldValues {
		value, err := validate.FieldValue(raw)
		if err != nil {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Invalid value for field "+fieldID, err.Error())
			return
		}
		values[fieldID] = value
	}

	result, err := h.svc.Sign(r.Context(), documentID, token, values, clientMeta(r))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	WriteSuccess(w, r.Context(), http.StatusOK, SignResponse{
		IsComplete:   result.IsComplete,
		SignedCount:  result.SignedCount,
		TotalSigners: result.TotalSigners,
	})
}

// Decline handles POST /sign/decline: the terminal refusal path, subject to
// the same token gateway and single-use discipline as signing.
func (h *SignHandlers) Decline(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req DeclineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Invalid JSON in request body", err.Error())
		return
	}
	if req.DocumentID == "" || req.Token == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "documentId and token are required")
		return
	}
	documentID, token, ok := validCredentials(w, r, req.DocumentID, req.Token)
	if !ok {
		return
	}

	if err := h.svc.Decline(r.Context(), documentID, token, clientMeta(r)); err != nil {
		WriteDomainError(w, r, err)
		return
	}

	WriteSuccess(w, r.Context(), http.StatusOK, map[string]bool{"declined": true})
}
