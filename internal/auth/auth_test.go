package auth

import (
	"context"
	"slices"
	"testing"
	"time"
)

func TestGenerateAndValidate(t *testing.T) {
	t.Setenv("KNOCKSTER_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	token, err := GenerateToken("guard-42", []string{"Guard", "guard"}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "guard-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if !slices.Contains(claims.Roles, RoleGuard) {
		t.Fatalf("roles were not preserved: %v", claims.Roles)
	}
	if len(claims.Roles) != 1 {
		t.Fatalf("expected deduplicated roles, got %v", claims.Roles)
	}
	if !claims.HasRole("guard") || claims.HasRole("orgadmin") {
		t.Fatalf("unexpected role membership: %v", claims.Roles)
	}
}

func TestParseAndValidateRejectsTampering(t *testing.T) {
	t.Setenv("KNOCKSTER_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	token, err := GenerateToken("guest-1", []string{RoleGuest}, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if _, err := ParseAndValidate(token + "x"); err == nil {
		t.Fatal("expected tampered token to fail")
	}
	if _, err := ParseAndValidate(""); err == nil {
		t.Fatal("expected empty token to fail")
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	t.Setenv("KNOCKSTER_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("", []string{RoleGuest}, time.Minute); err == nil {
		t.Fatal("expected error for empty subject")
	}
	if _, err := GenerateToken("guest-1", []string{RoleGuest}, 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithUser(ctx, "admin-7", []string{"OrgAdmin", "orgadmin", "guard"})
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "admin-7" {
		t.Fatalf("unexpected user id: %s, ok=%v", id, ok)
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", roles)
	}
	if !HasRole(ctx, "guard") || !HasRole(ctx, "orgadmin") {
		t.Fatalf("HasRole missing expected roles: %v", roles)
	}
	if HasRole(ctx, "guest") {
		t.Fatal("unexpected role found")
	}
}
