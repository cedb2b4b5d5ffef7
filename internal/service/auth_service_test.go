package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/util"
)

func TestAuthServiceIssueToken(t *testing.T) {
	svc, err := NewAuthService("factory-floor-key", "jwt-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}

	token, expiresAt, err := svc.IssueToken(context.Background(), "factory-floor-key", "tanaka")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiry, got %v", expiresAt)
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Principal != "tanaka" {
		t.Errorf("principal = %q, want %q", claims.Principal, "tanaka")
	}
	if claims.Role != util.RoleOperator {
		t.Errorf("role = %q, want %q", claims.Role, util.RoleOperator)
	}
}

func TestAuthServiceDefaultPrincipal(t *testing.T) {
	svc, err := NewAuthService("factory-floor-key", "jwt-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}

	token, _, err := svc.IssueToken(context.Background(), "factory-floor-key", "   ")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Principal != "operator" {
		t.Errorf("principal = %q, want %q", claims.Principal, "operator")
	}
}

func TestAuthServiceRejectsWrongKey(t *testing.T) {
	svc, err := NewAuthService("factory-floor-key", "jwt-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}

	if _, _, err := svc.IssueToken(context.Background(), "guessed-key", "tanaka"); !errors.Is(err, ErrInvalidOperatorKey) {
		t.Fatalf("expected ErrInvalidOperatorKey, got %v", err)
	}
}

func TestAuthServiceRequiresKey(t *testing.T) {
	if _, err := NewAuthService("   ", "jwt-secret", time.Hour); err == nil {
		t.Fatal("expected error for empty operator key")
	}
}

func TestAuthServiceRejectsForeignToken(t *testing.T) {
	svc, err := NewAuthService("factory-floor-key", "jwt-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	other, err := NewAuthService("factory-floor-key", "different-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}

	token, _, err := other.IssueToken(context.Background(), "factory-floor-key", "tanaka")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := svc.Verify(token); err == nil {
		t.Fatal("expected verification to fail for token signed with another secret")
	}
}
