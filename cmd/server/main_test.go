package main

import (
	"testing"

	"caixafacil/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", FiscalEnvironment: "homologacao"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigRejectsUnknownEnvironment(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", FiscalEnvironment: "teste"})
	if err == nil {
		t.Fatalf("expected unknown fiscal environment to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", FiscalEnvironment: "producao"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
