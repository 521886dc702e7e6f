package ws

import (
	"testing"
	"time"
)

func newSweepServer() *Server {
	return &Server{
		config: DefaultServerConfig(),
		conns:  NewConnectionManager(),
		done:   make(chan struct{}),
	}
}

func TestSweep_EvictsStaleAndReportsLive(t *testing.T) {
	s := newSweepServer()

	fresh := newTestConnection("fresh", 1)
	stale := newTestConnection("stale", 2)
	stale.LastPing = time.Now().Add(-2 * time.Minute)
	s.conns.Add(fresh)
	s.conns.Add(stale)

	var alive []string
	config := DefaultHeartbeatConfig()
	config.OnAlive = func(c *Connection) { alive = append(alive, c.ID) }

	sweepConnections(s, config)

	if s.conns.Get("stale") != nil {
		t.Error("expected the stale connection to be evicted")
	}
	if s.conns.Get("fresh") == nil {
		t.Error("expected the fresh connection to survive")
	}
	if len(alive) != 1 || alive[0] != "fresh" {
		t.Errorf("expected alive report for the fresh connection only, got %v", alive)
	}
}

func TestSweep_EvictionNotifiesDisconnect(t *testing.T) {
	s := newSweepServer()

	var gone []string
	s.SetOnDisconnect(func(c *Connection) { gone = append(gone, c.ID) })

	stale := newTestConnection("stale", 2)
	stale.LastPing = time.Now().Add(-2 * time.Minute)
	s.conns.Add(stale)

	sweepConnections(s, DefaultHeartbeatConfig())

	// The disconnect hook starts the room's offline grace window, so a
	// heartbeat eviction must fire it like any other close.
	if len(gone) != 1 || gone[0] != "stale" {
		t.Errorf("expected disconnect callback for stale, got %v", gone)
	}
}
