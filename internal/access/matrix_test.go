package access

import (
	"testing"

	"github.com/roomcall/intercom/internal/auth"
)

func TestCanJoin(t *testing.T) {
	tests := []struct {
		name  string
		actor auth.Actor
		room  int
		want  bool
	}{
		{"manager any room", auth.Actor{Role: RoleManager}, 6, true},
		{"manager audience", auth.Actor{Role: RoleManager}, SupervisorRoom, true},
		{"deputy tech own room", auth.Actor{Role: RoleDeputyTech, Room: 5}, 5, true},
		{"deputy tech paired office", auth.Actor{Role: RoleDeputyTech, Room: 5}, 6, true},
		{"deputy tech audience", auth.Actor{Role: RoleDeputyTech, Room: 5}, SupervisorRoom, true},
		{"deputy tech other wing", auth.Actor{Role: RoleDeputyTech, Room: 5}, 7, false},
		{"deputy admin own room", auth.Actor{Role: RoleDeputyAdmin, Room: 7}, 7, true},
		{"deputy admin paired office", auth.Actor{Role: RoleDeputyAdmin, Room: 7}, 8, true},
		{"office tech own room only", auth.Actor{Role: RoleOfficeTech, Room: 6}, 6, true},
		{"office tech deputy room", auth.Actor{Role: RoleOfficeTech, Room: 6}, 5, false},
		{"office tech audience", auth.Actor{Role: RoleOfficeTech, Room: 6}, SupervisorRoom, false},
		{"office admin other office", auth.Actor{Role: RoleOfficeAdmin, Room: 8}, 6, false},
		{"unknown role own room", auth.Actor{Role: "visitor", Room: 3}, 3, true},
		{"unknown role other room", auth.Actor{Role: "visitor", Room: 3}, 4, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanJoin(tt.actor, tt.room); got != tt.want {
				t.Errorf("CanJoin(%s, %d) = %v, want %v", tt.actor.Role, tt.room, got, tt.want)
			}
		})
	}
}

func TestCanSend(t *testing.T) {
	// Anyone can target the supervisor audience, even when they may not join.
	officeTech := auth.Actor{Role: RoleOfficeTech, Room: 6}
	if !CanSend(officeTech, SupervisorRoom) {
		t.Error("office tech should be able to send to the supervisor audience")
	}
	if CanSend(officeTech, 8) {
		t.Error("office tech should not be able to send to another office")
	}

	deputy := auth.Actor{Role: RoleDeputyAdmin, Room: 7}
	if !CanSend(deputy, 8) {
		t.Error("deputy admin should be able to send to its paired office")
	}
	if CanSend(deputy, 6) {
		t.Error("deputy admin should not be able to send to the tech office")
	}
}

func TestSupervisorClass(t *testing.T) {
	for _, role := range []string{RoleManager, RoleDeputyTech, RoleDeputyAdmin} {
		if !SupervisorClass(role) {
			t.Errorf("SupervisorClass(%q) = false, want true", role)
		}
	}
	for _, role := range []string{RoleOfficeTech, RoleOfficeAdmin, "visitor", ""} {
		if SupervisorClass(role) {
			t.Errorf("SupervisorClass(%q) = true, want false", role)
		}
	}
}

func TestHomeRoom(t *testing.T) {
	manager := auth.Actor{Role: RoleManager, Room: 9}
	if got := HomeRoom(manager); got != SupervisorRoom {
		t.Errorf("manager home room = %d, want %d", got, SupervisorRoom)
	}

	office := auth.Actor{Role: RoleOfficeTech, Room: 6}
	if got := HomeRoom(office); got != 6 {
		t.Errorf("office tech home room = %d, want 6", got)
	}
}

func TestRoomLabel(t *testing.T) {
	tests := []struct {
		room int
		want string
	}{
		{SupervisorRoom, "management"},
		{5, "deputy-tech"},
		{6, "office-tech"},
		{7, "deputy-admin"},
		{8, "office-admin"},
		{13, "room-13"},
	}
	for _, tt := range tests {
		if got := RoomLabel(tt.room); got != tt.want {
			t.Errorf("RoomLabel(%d) = %q, want %q", tt.room, got, tt.want)
		}
	}
}
