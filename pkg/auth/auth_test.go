package auth

import (
	"context"
	"testing"
)

func TestClaims_ClaimValue(t *testing.T) {
	claims := &Claims{
		Subject: "user-1",
		Email:   "user@example.com",
		Role:    "admin",
		Custom:  map[string]any{"device_id": "edge-7", "count": 3},
	}

	tests := []struct {
		name string
		want string
	}{
		{name: "sub", want: "user-1"},
		{name: "email", want: "user@example.com"},
		{name: "role", want: "admin"},
		{name: "device_id", want: "edge-7"},
		{name: "count", want: ""},
		{name: "missing", want: ""},
	}

	for _, tt := range tests {
		if got := claims.ClaimValue(tt.name); got != tt.want {
			t.Errorf("ClaimValue(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestClaims_Roles(t *testing.T) {
	claims := &Claims{Role: "operator"}

	if !claims.HasRole("operator") {
		t.Error("HasRole(operator) = false")
	}
	if claims.HasRole("admin") {
		t.Error("HasRole(admin) = true")
	}
	if !claims.HasAnyRole("admin", "operator") {
		t.Error("HasAnyRole(admin, operator) = false")
	}
	if claims.HasAnyRole() {
		t.Error("HasAnyRole() with no roles = true")
	}
}

func TestClaimsContext(t *testing.T) {
	if got := ClaimsFromContext(context.Background()); got != nil {
		t.Errorf("ClaimsFromContext on empty context = %+v, want nil", got)
	}

	claims := &Claims{Subject: "user-1"}
	ctx := ContextWithClaims(context.Background(), claims)
	if got := ClaimsFromContext(ctx); got != claims {
		t.Errorf("ClaimsFromContext = %+v, want the stored claims", got)
	}
}
