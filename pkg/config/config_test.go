package config

import (
	"testing"
	"time"
)

func TestLoadAndWatchDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	if err := LoadAndWatch(); err != nil {
		t.Fatalf("LoadAndWatch() error = %v", err)
	}

	got := Get()

	if got.Addr != ":8443" {
		t.Errorf("Addr = %q, want %q", got.Addr, ":8443")
	}
	if got.JWTSecret != "test-secret" {
		t.Errorf("JWTSecret = %q, want %q", got.JWTSecret, "test-secret")
	}
	if got.TokenHardLifetime != 5*time.Minute {
		t.Errorf("TokenHardLifetime = %v, want %v", got.TokenHardLifetime, 5*time.Minute)
	}
	if got.Database.Port != 5432 {
		t.Errorf("Database.Port = %d, want 5432", got.Database.Port)
	}
	if got.Database.SSLMode != "disable" {
		t.Errorf("Database.SSLMode = %q, want %q", got.Database.SSLMode, "disable")
	}
}

func TestLoadAndWatchEnvOverridesDatabase(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_NAME", "canvaslink")

	if err := LoadAndWatch(); err != nil {
		t.Fatalf("LoadAndWatch() error = %v", err)
	}

	got := Get()
	if got.Database.Host != "db.internal" {
		t.Errorf("Database.Host = %q, want %q", got.Database.Host, "db.internal")
	}
	if got.Database.Name != "canvaslink" {
		t.Errorf("Database.Name = %q, want %q", got.Database.Name, "canvaslink")
	}
}
