package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"google.golang.org/api/tasks/v1"
)

const credentials = `{"installed":{
  "client_id":"id.apps.googleusercontent.com",
  "client_secret":"secret",
  "auth_uri":"https://accounts.google.com/o/oauth2/auth",
  "token_uri":"https://oauth2.googleapis.com/token",
  "redirect_uris":["http://localhost"]
}}`

func TestGetXdgHomeOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TASKLINK_HOME", dir)

	got, err := GetXdgHome()
	if err != nil {
		t.Fatalf("GetXdgHome failed: %v", err)
	}
	if got != dir {
		t.Errorf("Expected %s, got %s", dir, got)
	}
}

func TestGetConfigFixesRedirectPort(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TASKLINK_HOME", dir)
	if err := os.WriteFile(filepath.Join(dir, ClientSecretsFile), []byte(credentials), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := GetConfig([]string{tasks.TasksScope}, zerolog.Nop())
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if cfg.RedirectURL != "http://localhost:6789" {
		t.Errorf("Expected redirect on the auth port, got %s", cfg.RedirectURL)
	}
	if len(cfg.Scopes) != 1 || cfg.Scopes[0] != tasks.TasksScope {
		t.Errorf("Expected tasks scope, got %v", cfg.Scopes)
	}
}

func TestGetConfigMissingFile(t *testing.T) {
	t.Setenv("TASKLINK_HOME", t.TempDir())
	if _, err := GetConfig([]string{tasks.TasksScope}, zerolog.Nop()); err == nil {
		t.Error("expected error for missing credentials file")
	}
}

func TestRedirectURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"urn:ietf:wg:oauth:2.0:oob", "http://localhost:6789/oauth2callback"},
		{"http://localhost", "http://localhost:6789"},
		{"http://127.0.0.1:8000/cb", "http://127.0.0.1:6789/cb"},
		{"https://example.com/cb", "https://example.com/cb"},
	}
	for _, tt := range tests {
		if got := redirectURL(tt.in, zerolog.Nop()); got != tt.want {
			t.Errorf("redirectURL(%q): Expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", TokenFile)
	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)}

	if err := saveToken(path, tok); err != nil {
		t.Fatalf("saveToken failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}

	got, err := tokenFromFile(path)
	if err != nil {
		t.Fatalf("tokenFromFile failed: %v", err)
	}
	if got.AccessToken != "a" || got.RefreshToken != "r" || !got.Expiry.Equal(tok.Expiry) {
		t.Errorf("Expected %+v, got %+v", tok, got)
	}
}
