package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/inkseal/inkseal/internal/audit"
	"github.com/inkseal/inkseal/internal/auth"
	"github.com/inkseal/inkseal/internal/signing"
	"github.com/inkseal/inkseal/internal/validate"
)

// AdminHandlers holds dependencies for the internal staff endpoints. These
// routes require a staff JWT and are never reached by external signers.
type AdminHandlers struct {
	svc      *signing.Service
	auditLog audit.Repository
	jwt      *auth.JWTService
}

// NewAdminHandlers creates a new AdminHandlers instance.
func NewAdminHandlers(svc *signing.Service, auditLog audit.Repository, jwt *auth.JWTService) *AdminHandlers {
	return &AdminHandlers{svc: svc, auditLog: auditLog, jwt: jwt}
}

// authenticate validates the bearer token and returns the staff claims.
// Writes the error response itself and returns nil when validation fails.
func (h *AdminHandlers) authenticate(w http.ResponseWriter, r *http.Request) *auth.Claims {
	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeUnauthorized, "Missing bearer token")
		return nil
	}

	claims, err := h.jwt.ValidateToken(tokenString)
	if err != nil {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid or expired token")
		return nil
	}
	return claims
}

// documentIDFromPath extracts the {id} segment of /documents/{id}/<action>.
func documentIDFromPath(path, action string) string {
	rest, ok := strings.CutPrefix(path, "/documents/")
	if !ok {
		return ""
	}
	id, ok := strings.CutSuffix(rest, "/"+action)
	if !ok || id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}

// Void handles POST /documents/{id}/void. Voiding is idempotent at the API
// surface only in the sense that a repeat call reports the terminal state.
func (h *AdminHandlers) Void(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	claims := h.authenticate(w, r)
	if claims == nil {
		return
	}

	documentID, err := validate.DocumentID(documentIDFromPath(r.URL.Path, "void"))
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Document ID must be a valid UUID")
		return
	}

	doc, err := h.svc.Void(r.Context(), documentID, claims.Email, claims.Name, clientMeta(r))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	WriteSuccess(w, r.Context(), http.StatusOK, doc)
}

// AuditTrail handles GET /documents/{id}/audit, returning the audit entries
// for a document newest first. An optional limit query parameter caps the
// result set.
func (h *AdminHandlers) AuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	if claims := h.authenticate(w, r); claims == nil {
		return
	}

	documentID, err := validate.DocumentID(documentIDFromPath(r.URL.Path, "audit"))
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Document ID must be a valid UUID")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	entries, err := h.auditLog.QueryByDocument(r.Context(), documentID, limit)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	WriteSuccess(w, r.Context(), http.StatusOK, map[string]any{
		"documentId": documentID,
		"entries":    entries,
		"count":      len(entries),
	})
}
