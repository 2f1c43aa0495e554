package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBodyTooLargeError(t *testing.T) {
	err := &BodyTooLargeError{Limit: 1024}
	expected := "body exceeds limit of 1024 bytes"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNormalizeScanTargetURL(t *testing.T) {
	t.Run("valid https URL", func(t *testing.T) {
		baseURL, parsed, err := NormalizeScanTargetURL("https://example.com/api/", false)
		if err != nil {
			t.Fatalf("NormalizeScanTargetURL() error = %v", err)
		}
		if baseURL != "https://example.com/api" {
			t.Errorf("baseURL = %s, want https://example.com/api", baseURL)
		}
		if parsed == nil {
			t.Error("parsed URL should not be nil")
		}
	})

	t.Run("rejects loopback by default", func(t *testing.T) {
		if _, _, err := NormalizeScanTargetURL("http://127.0.0.1:8080", false); err == nil {
			t.Error("expected error for loopback host")
		}
	})

	t.Run("allows loopback when internal targets are allowed", func(t *testing.T) {
		baseURL, _, err := NormalizeScanTargetURL("http://127.0.0.1:8080", true)
		if err != nil {
			t.Fatalf("NormalizeScanTargetURL() error = %v", err)
		}
		if baseURL != "http://127.0.0.1:8080" {
			t.Errorf("baseURL = %s, want http://127.0.0.1:8080", baseURL)
		}
	})
}

func TestConflict(t *testing.T) {
	t.Run("with message", func(t *testing.T) {
		w := httptest.NewRecorder()
		Conflict(w, "resource already exists")
		if w.Code != http.StatusConflict {
			t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
		}
	})

	t.Run("empty message uses default", func(t *testing.T) {
		w := httptest.NewRecorder()
		Conflict(w, "")
		if w.Code != http.StatusConflict {
			t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
		}
	})
}

func TestNormalizeBaseURLEdgeCases(t *testing.T) {
	t.Run("empty URL", func(t *testing.T) {
		_, _, err := NormalizeBaseURL("", BaseURLOptions{})
		if err == nil {
			t.Error("expected error for empty URL")
		}
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, _, err := NormalizeBaseURL("://invalid", BaseURLOptions{})
		if err == nil {
			t.Error("expected error for invalid URL")
		}
	})

	t.Run("trailing slash removed", func(t *testing.T) {
		baseURL, _, err := NormalizeBaseURL("http://example.com/api/", BaseURLOptions{})
		if err != nil {
			t.Fatalf("NormalizeBaseURL() error = %v", err)
		}
		if baseURL != "http://example.com/api" {
			t.Errorf("baseURL = %s, want http://example.com/api", baseURL)
		}
	})

	t.Run("requires https when configured", func(t *testing.T) {
		_, _, err := NormalizeBaseURL("http://example.com", BaseURLOptions{RequireHTTPS: true})
		if err == nil {
			t.Error("expected error for non-https URL")
		}
	})
}

func TestClientIPEdgeCases(t *testing.T) {
	t.Run("RemoteAddr parsing", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		// httptest.NewRequest sets RemoteAddr to "192.0.2.1:1234" by default
		ip := ClientIP(req)
		if ip == "" {
			t.Error("ClientIP() should return non-empty string")
		}
	})

	t.Run("nil request", func(t *testing.T) {
		ip := ClientIP(nil)
		if ip != "" {
			t.Errorf("ClientIP(nil) = %s, want empty", ip)
		}
	})
}
