package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHasAtLeast(t *testing.T) {
	tests := []struct {
		name     string
		roles    []string
		required string
		want     bool
	}{
		{name: "admin covers editor", roles: []string{"admin"}, required: RoleEditor, want: true},
		{name: "viewer cannot edit", roles: []string{"viewer"}, required: RoleEditor, want: false},
		{name: "mixed case", roles: []string{" Editor "}, required: RoleViewer, want: true},
		{name: "unknown required", roles: []string{"admin"}, required: "owner", want: false},
		{name: "no roles", roles: nil, required: RoleViewer, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasAtLeast(tc.roles, tc.required); got != tc.want {
				t.Fatalf("HasAtLeast(%v, %q) = %v, want %v", tc.roles, tc.required, got, tc.want)
			}
		})
	}
}

func TestRequiredRoleForRequest(t *testing.T) {
	get := httptest.NewRequest(http.MethodGet, "/api/runs/", nil)
	if got := RequiredRoleForRequest(get); got != RoleViewer {
		t.Fatalf("GET role = %q", got)
	}
	post := httptest.NewRequest(http.MethodPost, "/api/reduce/", nil)
	if got := RequiredRoleForRequest(post); got != RoleEditor {
		t.Fatalf("POST role = %q", got)
	}
}
