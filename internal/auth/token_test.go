package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueAndValidate(t *testing.T) {
	issuer := NewIssuer("test-secret", 15*time.Minute, 24*time.Hour)
	pair, err := issuer.Issue("u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	userID, err := issuer.Validate(pair.Access, KindAccess)
	if err != nil {
		t.Fatalf("validate access: %v", err)
	}
	if userID != "u1" {
		t.Fatalf("want u1, got %q", userID)
	}

	// A refresh token is not an access token.
	if _, err := issuer.Validate(pair.Refresh, KindAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh-as-access: want ErrTokenInvalid, got %v", err)
	}
}

func TestExpiredTokenDistinct(t *testing.T) {
	base := time.Now()
	clock := base
	issuer := NewIssuer("test-secret", 15*time.Minute, 24*time.Hour).
		WithClock(func() time.Time { return clock })

	pair, err := issuer.Issue("u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	clock = base.Add(16 * time.Minute)
	if _, err := issuer.Validate(pair.Access, KindAccess); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("want ErrTokenExpired, got %v", err)
	}

	// The refresh token outlives the access token.
	fresh, err := issuer.Refresh(pair.Refresh)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := issuer.Validate(fresh.Access, KindAccess); err != nil {
		t.Fatalf("validate refreshed: %v", err)
	}
}

func TestTamperedTokenInvalid(t *testing.T) {
	issuer := NewIssuer("test-secret", 15*time.Minute, 24*time.Hour)
	other := NewIssuer("other-secret", 15*time.Minute, 24*time.Hour)

	pair, err := other.Issue("u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.Validate(pair.Access, KindAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("want ErrTokenInvalid, got %v", err)
	}
}

func TestSharedSecretMiddleware(t *testing.T) {
	handler := SharedSecretMiddleware("s3cret", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/sweep", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret: want 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/sweep", nil)
	req.Header.Set("Authorization", "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: want 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/sweep", nil)
	req.Header.Set("Authorization", "s3cret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("correct secret: want 204, got %d", rec.Code)
	}
}
