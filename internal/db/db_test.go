package db

import (
	"net/url"
	"testing"

	"github.com/absensi-app/apiserver/config"
)

func TestDSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "db.internal",
		Port:     6543,
		User:     "absensi",
		Password: "p@ss/word",
		DBName:   "absensi_db",
	}

	u, err := url.Parse(DSN(cfg))
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	if u.Scheme != "postgres" || u.Host != "db.internal:6543" || u.Path != "/absensi_db" {
		t.Fatalf("unexpected dsn: %s", u)
	}
	if pw, _ := u.User.Password(); pw != "p@ss/word" {
		t.Fatalf("password not preserved: %q", pw)
	}
	if got := u.Query().Get("sslmode"); got != "disable" {
		t.Fatalf("unexpected sslmode: %q", got)
	}

	cfg.UseSSL = true
	u, _ = url.Parse(DSN(cfg))
	if got := u.Query().Get("sslmode"); got != "require" {
		t.Fatalf("unexpected sslmode with ssl: %q", got)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(entries) == 0 || len(entries)%2 != 0 {
		t.Fatalf("expected paired up/down migrations, got %d files", len(entries))
	}
}
