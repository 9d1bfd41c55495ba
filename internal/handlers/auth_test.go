package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/absensi-app/apiserver/types"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	user := types.User{ID: "3f1c2a4e-0000-4000-8000-000000000001", Role: types.RoleEmployee}

	token, err := issueToken(user, secret, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	subject, err := parseTokenSubject(token, secret)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if subject != user.ID {
		t.Fatalf("unexpected subject: %q", subject)
	}

	if _, err := parseTokenSubject(token, []byte("other")); err == nil {
		t.Fatalf("expected signature error")
	}

	expired, err := issueToken(user, secret, -time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := parseTokenSubject(expired, secret); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestRequestTokenPrefersCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "cookie-token"})

	token, err := requestToken(req, "access_token")
	if err != nil || token != "cookie-token" {
		t.Fatalf("got %q, %v", token, err)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer header-token")
	token, err = requestToken(req, "access_token")
	if err != nil || token != "header-token" {
		t.Fatalf("got %q, %v", token, err)
	}
}

func TestBearerTokenRejectsMalformedHeader(t *testing.T) {
	for _, header := range []string{"", "Bearer", "Basic abc", "Bearer   "} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if _, err := bearerToken(req); err == nil {
			t.Fatalf("expected error for %q", header)
		}
	}
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	called := false
	handler := requireAuth([]byte("secret"), "access_token")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized || called {
		t.Fatalf("status %d, called %v", rec.Code, called)
	}
}
