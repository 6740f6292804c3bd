package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleAdmin, ActionManage, true},
		{RoleAdmin, ActionWrite, true},
		{RoleProducer, ActionWrite, true},
		{RoleProducer, ActionManage, false},
		{RoleArtist, ActionWrite, true},
		{RoleArtist, ActionManage, false},
		{RoleViewer, ActionRead, true},
		{RoleViewer, ActionWrite, false},
		{Role("unknown"), ActionRead, false},
	}
	for _, tc := range cases {
		if got := Can(tc.role, tc.action); got != tc.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("producer") != RoleProducer {
		t.Fatalf("expected producer to survive normalization")
	}
	if Normalize("superuser") != RoleViewer {
		t.Fatalf("expected unknown role to normalize to viewer")
	}
	if Normalize("") != RoleViewer {
		t.Fatalf("expected empty role to normalize to viewer")
	}
}
