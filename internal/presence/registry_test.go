package presence

import (
	"sync"
	"testing"
	"time"
)

// recorder collects transition events in order.
type recorder struct {
	mu     sync.Mutex
	events []event
}

type event struct {
	room   int
	online bool
}

func (r *recorder) record(room int, online bool) {
	r.mu.Lock()
	r.events = append(r.events, event{room: room, online: online})
	r.mu.Unlock()
}

func (r *recorder) all() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event, len(r.events))
	copy(out, r.events)
	return out
}

func testConfig() Config {
	return Config{
		GraceDelay:    20 * time.Millisecond,
		AuditInterval: time.Hour, // sweeps are driven manually in tests
		OnlineWindow:  15 * time.Minute,
		EvictAfter:    24 * time.Hour,
	}
}

func TestJoin_EmitsOnlineOnce(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(testConfig(), rec.record)

	r.Join(6, "conn-a")
	r.Join(6, "conn-b")
	r.Join(6, "conn-a")

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d: %v", len(events), events)
	}
	if events[0].room != 6 || !events[0].online {
		t.Errorf("expected {6 online}, got %+v", events[0])
	}

	members := r.Members(6)
	if len(members) != 2 {
		t.Errorf("expected 2 members, got %d", len(members))
	}
}

func TestLeave_GracePeriodThenOffline(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig()
	r := NewRegistry(cfg, rec.record)

	r.Join(6, "conn-a")
	r.Leave("conn-a")

	// Inside the grace window nothing has been reported yet.
	if events := rec.all(); len(events) != 1 {
		t.Fatalf("expected only the online event before grace expiry, got %v", events)
	}

	time.Sleep(3 * cfg.GraceDelay)

	events := rec.all()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %v", len(events), events)
	}
	if events[1].room != 6 || events[1].online {
		t.Errorf("expected {6 offline}, got %+v", events[1])
	}
}

func TestLeave_ReconnectWithinGraceNoFlap(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig()
	r := NewRegistry(cfg, rec.record)

	r.Join(6, "conn-a")
	r.Leave("conn-a")
	r.Join(6, "conn-a2") // same room, new device, inside the grace window

	time.Sleep(3 * cfg.GraceDelay)

	// The reconnect must cancel the pending offline: one online event total.
	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d: %v", len(events), events)
	}
	if !r.Snapshot()[6] {
		t.Error("room 6 should still be reported online")
	}
}

func TestLeave_HeartbeatDuringGraceKeepsOnline(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig()
	r := NewRegistry(cfg, rec.record)

	r.Join(6, "conn-a")
	r.Leave("conn-a")
	time.Sleep(cfg.GraceDelay / 4)
	r.Touch(6) // activity without a socket, e.g. an HTTP heartbeat

	time.Sleep(3 * cfg.GraceDelay)

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("expected no offline event after heartbeat, got %v", events)
	}
	if !r.Snapshot()[6] {
		t.Error("room 6 should still be reported online")
	}
}

func TestSweep_ActivityWindow(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig()
	r := NewRegistry(cfg, rec.record)

	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	// A heartbeat from a room with no socket counts as activity.
	r.Touch(3)
	r.sweep()

	events := rec.all()
	if len(events) != 1 || !events[0].online {
		t.Fatalf("expected online event from sweep, got %v", events)
	}

	// Repeated sweeps without a state change are silent.
	r.sweep()
	r.sweep()
	if events := rec.all(); len(events) != 1 {
		t.Fatalf("sweep is not idempotent: %v", events)
	}

	// Once the activity window has passed, one offline event.
	now = now.Add(cfg.OnlineWindow + time.Minute)
	r.sweep()
	events = rec.all()
	if len(events) != 2 || events[1].online {
		t.Fatalf("expected offline event after window expiry, got %v", events)
	}

	r.sweep()
	if events := rec.all(); len(events) != 2 {
		t.Fatalf("sweep emitted a duplicate offline event: %v", events)
	}
}

func TestSweep_EvictsLongSilentRooms(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig()
	r := NewRegistry(cfg, rec.record)

	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.Touch(3)
	r.sweep() // online

	now = now.Add(cfg.OnlineWindow + time.Minute)
	r.sweep() // offline

	if _, ok := r.Snapshot()[3]; !ok {
		t.Fatal("room 3 should still be tracked while offline")
	}

	now = now.Add(cfg.EvictAfter + time.Minute)
	r.sweep()

	if _, ok := r.Snapshot()[3]; ok {
		t.Error("room 3 should have been evicted after long silence")
	}
}

func TestSnapshot_ReflectsReportedState(t *testing.T) {
	r := NewRegistry(testConfig(), func(int, bool) {})

	r.Join(5, "conn-a")
	r.Touch(7) // activity only, not yet swept into online

	snap := r.Snapshot()
	if !snap[5] {
		t.Error("room 5 should be reported online")
	}
	if snap[7] {
		t.Error("room 7 should not be reported online before a sweep")
	}
}

func TestSetEventFunc(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(testConfig(), nil)

	// No sink registered yet: transitions are dropped, not panicking.
	r.Join(6, "conn-a")

	r.SetEventFunc(rec.record)
	r.Join(4, "conn-b")

	events := rec.all()
	if len(events) != 1 || events[0].room != 4 {
		t.Fatalf("expected only room 4 event after sink registration, got %v", events)
	}
}
