package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "moderator review", role: RoleModerator, action: ActionReview, allow: true},
		{name: "moderator delete", role: RoleModerator, action: ActionDelete, allow: false},
		{name: "moderator bulk", role: RoleModerator, action: ActionBulk, allow: false},
		{name: "admin delete", role: RoleAdmin, action: ActionDelete, allow: true},
		{name: "admin bulk", role: RoleAdmin, action: ActionBulk, allow: true},
		{name: "unknown review", role: Role("guest"), action: ActionReview, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("admin"); got != RoleAdmin {
		t.Fatalf("Normalize(admin) = %q", got)
	}
	if got := Normalize("owner"); got != RoleModerator {
		t.Fatalf("Normalize(owner) = %q, want moderator", got)
	}
	if Valid("owner") {
		t.Fatal("Valid(owner) = true")
	}
}
