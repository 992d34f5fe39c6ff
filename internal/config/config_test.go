package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FISCAL_PROVIDER", "")
	t.Setenv("FISCAL_TIMEOUT_SECONDS", "")
	t.Setenv("RECEIPT_WIDTH", "")
	t.Setenv("DEFAULT_TIMEZONE", "")

	cfg := Load()
	if cfg.FiscalProvider != "mock" {
		t.Fatalf("expected mock provider by default, got %q", cfg.FiscalProvider)
	}
	if cfg.FiscalTimeout != 45*time.Second {
		t.Fatalf("expected 45s fiscal timeout, got %s", cfg.FiscalTimeout)
	}
	if cfg.ReceiptWidth != 48 {
		t.Fatalf("expected width 48, got %d", cfg.ReceiptWidth)
	}
	if cfg.DefaultTimezone != "America/Sao_Paulo" {
		t.Fatalf("unexpected timezone %q", cfg.DefaultTimezone)
	}
}

func TestLoadClampsFiscalTimeout(t *testing.T) {
	cases := map[string]time.Duration{
		"5":   30 * time.Second,
		"50":  50 * time.Second,
		"600": 60 * time.Second,
		"abc": 45 * time.Second,
	}
	for raw, want := range cases {
		t.Setenv("FISCAL_TIMEOUT_SECONDS", raw)
		if got := Load().FiscalTimeout; got != want {
			t.Fatalf("FISCAL_TIMEOUT_SECONDS=%s: expected %s, got %s", raw, want, got)
		}
	}
}

func TestLoadNormalizesProvider(t *testing.T) {
	t.Setenv("FISCAL_PROVIDER", "FocusNFe")
	if got := Load().FiscalProvider; got != "focusnfe" {
		t.Fatalf("expected lower-cased provider, got %q", got)
	}
}
