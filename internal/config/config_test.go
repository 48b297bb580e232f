package config

import (
	"os"
	"path/filepath"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_DSN", "postgres://localhost/manutencao")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("OIDC_ISSUER_URL", "https://accounts.example.com")
	t.Setenv("OIDC_CLIENT_ID", "client")
	t.Setenv("CLASSIFIER_PROVIDER", "none")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ADMIN_EMAILS", " Admin@Example.com, ops@example.com ,admin@example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port, got %d", cfg.Port)
	}
	if len(cfg.AdminEmails) != 2 || cfg.AdminEmails[0] != "admin@example.com" {
		t.Fatalf("unexpected admin emails: %v", cfg.AdminEmails)
	}
	if cfg.Classifier.Threshold != 0.7 {
		t.Fatalf("expected threshold 0.7, got %v", cfg.Classifier.Threshold)
	}
	if cfg.Classifier.DefaultCategory != "General" {
		t.Fatalf("unexpected default category %q", cfg.Classifier.DefaultCategory)
	}
	if len(cfg.Categories) != len(DefaultCategories) {
		t.Fatalf("expected default catalog, got %v", cfg.Categories)
	}
	if cfg.LiveBackend != "redis" {
		t.Fatalf("unexpected live backend %q", cfg.LiveBackend)
	}
}

func TestLoadRejectsShortSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("JWT_SECRET", "curto")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestLoadRequiresAnthropicKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CLASSIFIER_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestLoadRejectsInvalidThreshold(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CLASSIFIER_THRESHOLD", "1.5")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for threshold out of range")
	}
}

func TestLoadCategoriesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "categories.yaml")
	content := "categories:\n  - Plumbing\n  - Electrical\n  - Plumbing\n  - \"  \"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cats, err := LoadCategories(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cats) != 2 || cats[0] != "Plumbing" || cats[1] != "Electrical" {
		t.Fatalf("unexpected categories: %v", cats)
	}
}

func TestParseCategoriesEmpty(t *testing.T) {
	if _, err := ParseCategories([]byte("categories: []\n")); err == nil {
		t.Fatal("expected error for empty catalog")
	}
}
