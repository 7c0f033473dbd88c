package signing

import "testing"

func TestCanTransitionDocument(t *testing.T) {
	tests := []struct {
		name string
		from DocumentStatus
		to   DocumentStatus
		want bool
	}{
		{"draft to sent", DocumentDraft, DocumentSent, true},
		{"draft to voided", DocumentDraft, DocumentVoided, true},
		{"draft to completed", DocumentDraft, DocumentCompleted, false},
		{"sent to in_progress", DocumentSent, DocumentInProgress, true},
		{"sent to completed single signer", DocumentSent, DocumentCompleted, true},
		{"sent to voided", DocumentSent, DocumentVoided, true},
		{"sent to draft", DocumentSent, DocumentDraft, false},
		{"in_progress to in_progress", DocumentInProgress, DocumentInProgress, true},
		{"in_progress to completed", DocumentInProgress, DocumentCompleted, true},
		{"in_progress to voided", DocumentInProgress, DocumentVoided, true},
		{"completed is terminal", DocumentCompleted, DocumentVoided, false},
		{"voided is absorbing", DocumentVoided, DocumentSent, false},
		{"unknown from", DocumentStatus("bogus"), DocumentSent, false},
		{"unknown to", DocumentSent, DocumentStatus("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransitionDocument(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransitionDocument(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestCanTransitionRecipient(t *testing.T) {
	tests := []struct {
		name string
		from RecipientStatus
		to   RecipientStatus
		want bool
	}{
		{"pending to sent", RecipientPending, RecipientSent, true},
		{"pending to viewed", RecipientPending, RecipientViewed, true},
		{"pending to signed without viewing", RecipientPending, RecipientSigned, true},
		{"sent to viewed", RecipientSent, RecipientViewed, true},
		{"sent to signed without viewing", RecipientSent, RecipientSigned, true},
		{"sent to declined without viewing", RecipientSent, RecipientDeclined, true},
		{"viewed to signed", RecipientViewed, RecipientSigned, true},
		{"viewed to declined", RecipientViewed, RecipientDeclined, true},
		{"viewed back to sent", RecipientViewed, RecipientSent, false},
		{"signed is terminal", RecipientSigned, RecipientDeclined, false},
		{"declined is terminal", RecipientDeclined, RecipientSigned, false},
		{"unknown status", RecipientStatus("bogus"), RecipientSigned, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransitionRecipient(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransitionRecipient(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTerminalStatuses(t *testing.T) {
	if !DocumentCompleted.Terminal() {
		t.Error("completed should be terminal")
	}
	if !DocumentVoided.Terminal() {
		t.Error("voided should be terminal")
	}
	if DocumentInProgress.Terminal() {
		t.Error("in_progress should not be terminal")
	}
	if DocumentStatus("bogus").Terminal() {
		t.Error("unknown status should not report terminal")
	}

	if !RecipientSigned.Terminal() {
		t.Error("signed should be terminal")
	}
	if !RecipientDeclined.Terminal() {
		t.Error("declined should be terminal")
	}
	if RecipientViewed.Terminal() {
		t.Error("viewed should not be terminal")
	}
}

func TestCheckDocumentTransition(t *testing.T) {
	if err := CheckDocumentTransition(DocumentSent, DocumentInProgress); err != nil {
		t.Errorf("expected valid transition, got %v", err)
	}
	if err := CheckDocumentTransition(DocumentCompleted, DocumentSent); err == nil {
		t.Error("expected error for transition out of completed")
	}
}

func TestCheckRecipientTransition(t *testing.T) {
	if err := CheckRecipientTransition(RecipientViewed, RecipientSigned); err != nil {
		t.Errorf("expected valid transition, got %v", err)
	}
	if err := CheckRecipientTransition(RecipientSigned, RecipientViewed); err == nil {
		t.Error("expected error for transition out of signed")
	}
}
