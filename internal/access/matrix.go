// Package access holds the role→room authorization matrix. It is a pure
// mapping with no state: given an actor's role and assigned room, it answers
// which rooms that actor may join or target.
package access

import (
	"fmt"

	"github.com/roomcall/intercom/internal/auth"
)

// SupervisorRoom is the reserved audience room observed by the manager and
// the deputies. Every status change and presence transition is mirrored here.
const SupervisorRoom = 0

// Known role strings, as issued by the auth service.
const (
	RoleManager     = "manager"
	RoleDeputyTech  = "deputy-tech"
	RoleDeputyAdmin = "deputy-admin"
	RoleOfficeTech  = "office-tech"
	RoleOfficeAdmin = "office-admin"
)

// Fixed room assignments for the deputy and office roles. These mirror the
// organizational layout: each deputy has an escalation room and a paired
// office room.
const (
	roomDeputyTech  = 5
	roomOfficeTech  = 6
	roomDeputyAdmin = 7
	roomOfficeAdmin = 8
)

// allowedRooms returns the set of rooms an actor may join or target, or nil
// when the actor may reach any room (manager).
func allowedRooms(actor auth.Actor) []int {
	switch actor.Role {
	case RoleManager:
		return nil
	case RoleDeputyTech:
		return []int{SupervisorRoom, roomDeputyTech, roomOfficeTech}
	case RoleDeputyAdmin:
		return []int{SupervisorRoom, roomDeputyAdmin, roomOfficeAdmin}
	case RoleOfficeTech:
		return []int{roomOfficeTech}
	case RoleOfficeAdmin:
		return []int{roomOfficeAdmin}
	default:
		return []int{actor.Room}
	}
}

// CanJoin reports whether the actor may join the live audience of room.
func CanJoin(actor auth.Actor, room int) bool {
	rooms := allowedRooms(actor)
	if rooms == nil {
		return true
	}
	for _, r := range rooms {
		if r == room {
			return true
		}
	}
	return false
}

// CanSend reports whether the actor may target room with a notification.
// Sending to the supervisor audience is open to every authenticated actor;
// the join matrix otherwise applies unchanged.
func CanSend(actor auth.Actor, room int) bool {
	if room == SupervisorRoom {
		return true
	}
	return CanJoin(actor, room)
}

// SupervisorClass reports whether the role belongs to the room-0 audience
// that observes all rooms (manager and deputies).
func SupervisorClass(role string) bool {
	switch role {
	case RoleManager, RoleDeputyTech, RoleDeputyAdmin:
		return true
	}
	return false
}

// HomeRoom resolves the room an actor's own devices listen on: the supervisor
// audience for the manager, the assigned room for everyone else.
func HomeRoom(actor auth.Actor) int {
	if actor.Role == RoleManager {
		return SupervisorRoom
	}
	return actor.Room
}

// RoomLabel returns the display label for a room number, used on notification
// records and status announcements.
func RoomLabel(room int) string {
	switch room {
	case SupervisorRoom:
		return "management"
	case roomDeputyTech:
		return "deputy-tech"
	case roomOfficeTech:
		return "office-tech"
	case roomDeputyAdmin:
		return "deputy-admin"
	case roomOfficeAdmin:
		return "office-admin"
	}
	return fmt.Sprintf("room-%d", room)
}
