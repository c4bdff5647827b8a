package jwt

import (
	"errors"
	"testing"
	"time"

	"workday-reconcile/backend/config"
)

func newTestManager(ttl time.Duration) *Manager {
	return NewManager(&config.AuthConfig{
		JWTSecret:      "test-secret-key-for-unit-testing-2026",
		AccessTokenTTL: ttl,
	})
}

func TestGenerateAndParseAccessToken(t *testing.T) {
	m := newTestManager(15 * time.Minute)

	token, err := m.GenerateAccessToken("op-1", "operator")
	if err != nil {
		t.Fatalf("GenerateAccessToken 失败: %v", err)
	}

	claims, err := m.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken 失败: %v", err)
	}
	if claims.OperatorID != "op-1" {
		t.Errorf("期望 OperatorID=op-1，实际=%s", claims.OperatorID)
	}
	if claims.Role != "operator" {
		t.Errorf("期望 Role=operator，实际=%s", claims.Role)
	}
	if claims.Issuer != issuer {
		t.Errorf("期望 Issuer=%s，实际=%s", issuer, claims.Issuer)
	}
	if claims.ID == "" {
		t.Error("JTI 不应为空")
	}
}

func TestParseToken_Expired(t *testing.T) {
	m := newTestManager(-time.Minute)

	token, err := m.GenerateAccessToken("op-1", "admin")
	if err != nil {
		t.Fatalf("GenerateAccessToken 失败: %v", err)
	}

	if _, err := m.ParseToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("期望 ErrTokenExpired，实际: %v", err)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	m := newTestManager(time.Minute)
	other := NewManager(&config.AuthConfig{JWTSecret: "another-secret-key-000000", AccessTokenTTL: time.Minute})

	token, _ := other.GenerateAccessToken("op-1", "admin")
	if _, err := m.ParseToken(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("期望 ErrTokenInvalid，实际: %v", err)
	}
}

func TestParseToken_Garbage(t *testing.T) {
	m := newTestManager(time.Minute)
	if _, err := m.ParseToken("not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("期望 ErrTokenInvalid，实际: %v", err)
	}
}
