package jwt

import (
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	token, err := m.GenerateToken("desktop-client")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "desktop-client" {
		t.Errorf("subject = %q, want desktop-client", claims.Subject)
	}
	if claims.Issuer != "recap" {
		t.Errorf("issuer = %q, want recap", claims.Issuer)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := NewManager("secret-a", time.Hour).GenerateToken("client")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewManager("secret-b", time.Hour).ValidateToken(token); err == nil {
		t.Error("token signed with another secret validated")
	}
}

func TestValidateExpiredToken(t *testing.T) {
	m := NewManager("test-secret", -time.Minute)
	token, err := m.GenerateToken("client")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := m.ValidateToken(token); err == nil {
		t.Error("expired token validated")
	}
}

func TestValidateGarbageToken(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	if _, err := m.ValidateToken("not.a.token"); err == nil {
		t.Error("garbage token validated")
	}
}
