package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeCreds(t *testing.T, token string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials")
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHTTPRefresherExchangesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/refresh" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.RefreshToken != "stored-refresh" {
			t.Errorf("refresh_token = %q", req.RefreshToken)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh-access",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	r := NewHTTPRefresher(srv.URL, writeCreds(t, "stored-refresh"))
	token, expiresAt, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if token != "fresh-access" {
		t.Errorf("token = %q", token)
	}
	if until := time.Until(expiresAt); until < 59*time.Minute || until > 61*time.Minute {
		t.Errorf("expiry %v not ~1h out", until)
	}
}

func TestHTTPRefresherMissingCredentials(t *testing.T) {
	r := NewHTTPRefresher("http://localhost:0", filepath.Join(t.TempDir(), "nope"))
	if _, _, err := r.Refresh(context.Background()); err == nil {
		t.Fatal("expected an error without credentials")
	}
}

func TestHTTPRefresherServerRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "revoked", http.StatusUnauthorized)
	}))
	defer srv.Close()

	r := NewHTTPRefresher(srv.URL, writeCreds(t, "revoked-refresh"))
	if _, _, err := r.Refresh(context.Background()); err == nil {
		t.Fatal("expected an error on 401")
	}
}
