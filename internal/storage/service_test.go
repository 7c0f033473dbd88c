package storage

import (
	"context"
	"strings"
	"testing"
	"time"
)

func validConfig() ServiceConfig {
	return ServiceConfig{
		BucketName:      "documents",
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
		Endpoint:        "https://storage.example.com",
	}
}

func TestNewServiceValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ServiceConfig)
	}{
		{"missing bucket", func(c *ServiceConfig) { c.BucketName = "" }},
		{"missing access key", func(c *ServiceConfig) { c.AccessKeyID = "" }},
		{"missing secret key", func(c *ServiceConfig) { c.SecretAccessKey = "" }},
		{"missing endpoint", func(c *ServiceConfig) { c.Endpoint = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			if _, err := NewService(cfg); err == nil {
				t.Error("NewService() should fail")
			}
		})
	}
}

func TestNewServiceDefaultExpiry(t *testing.T) {
	svc, err := NewService(validConfig())
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}
	if svc.urlExpiry != DefaultURLExpiry {
		t.Errorf("urlExpiry = %v, want %v", svc.urlExpiry, DefaultURLExpiry)
	}
}

func TestNewServiceCustomExpiry(t *testing.T) {
	cfg := validConfig()
	cfg.URLExpiry = 15 * time.Minute

	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}
	if svc.urlExpiry != 15*time.Minute {
		t.Errorf("urlExpiry = %v, want 15m", svc.urlExpiry)
	}
}

func TestObjectKey(t *testing.T) {
	svc, err := NewService(validConfig())
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}

	tests := []struct {
		in   string
		want string
	}{
		{"contracts/2026/nda.pdf", "contracts/2026/nda.pdf"},
		{"/contracts/2026/nda.pdf", "contracts/2026/nda.pdf"},
		{"documents/contracts/nda.pdf", "contracts/nda.pdf"},
		{"/documents/contracts/nda.pdf", "contracts/nda.pdf"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := svc.ObjectKey(tt.in); got != tt.want {
			t.Errorf("ObjectKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSignedDownloadURL(t *testing.T) {
	svc, err := NewService(validConfig())
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}

	// Presigning is local key signing, no network round trip needed.
	url, err := svc.SignedDownloadURL(context.Background(), "contracts/nda.pdf")
	if err != nil {
		t.Fatalf("SignedDownloadURL() failed: %v", err)
	}

	if !strings.Contains(url, "documents") {
		t.Errorf("url %q does not reference the bucket", url)
	}
	if !strings.Contains(url, "contracts/nda.pdf") {
		t.Errorf("url %q does not reference the object key", url)
	}
	if !strings.Contains(url, "X-Amz-Signature") {
		t.Errorf("url %q is not presigned", url)
	}
}

func TestSignedDownloadURLEmptyKey(t *testing.T) {
	svc, err := NewService(validConfig())
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}

	if _, err := svc.SignedDownloadURL(context.Background(), ""); err == nil {
		t.Error("SignedDownloadURL() should fail for empty key")
	}
}
