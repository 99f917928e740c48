package config

import (
	"strings"
	"testing"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://app:pw@db:5432/backoffice")
	t.Setenv("POS_BASE_URL", "https://pos.example.com")
	t.Setenv("POS_LOGIN", "bot")
	t.Setenv("POS_PASSWORD_SHA1", "deadbeef")
	t.Setenv("FINANCE_TOKEN", "ft-token")
	t.Setenv("BOT_TOKEN", "12345:abc")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timezone != "Europe/Kaliningrad" {
		t.Errorf("Timezone default = %q", cfg.Timezone)
	}
	if cfg.PermissionsFrom != PermissionsSheet {
		t.Errorf("PermissionsFrom default = %q", cfg.PermissionsFrom)
	}
	if len(cfg.TransferTargetPrefix) != 2 {
		t.Errorf("TransferTargetPrefix = %v", cfg.TransferTargetPrefix)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("POS_LOGIN", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "POS_LOGIN") {
		t.Fatalf("expected missing POS_LOGIN error, got %v", err)
	}
}

func TestLoad_BadPermissionsSource(t *testing.T) {
	setRequired(t)
	t.Setenv("PERMISSIONS_SOURCE", "both")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for PERMISSIONS_SOURCE=both")
	}
}

func TestLoad_BadTimezone(t *testing.T) {
	setRequired(t)
	t.Setenv("TIMEZONE", "Mars/Olympus")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestMaskSecrets(t *testing.T) {
	in := "https://pos.example.com/resto/api/suppliers?key=abc123&rootType=Account"
	out := MaskSecrets(in)
	if strings.Contains(out, "abc123") {
		t.Errorf("secret leaked: %s", out)
	}
	if !strings.Contains(out, "key=***") {
		t.Errorf("mask missing: %s", out)
	}
	if !strings.Contains(out, "rootType=Account") {
		t.Errorf("non-secret param mangled: %s", out)
	}
}
