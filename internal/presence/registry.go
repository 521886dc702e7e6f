// Package presence tracks which rooms currently have someone behind them.
// Connection-level liveness is a poor proxy for that on mobile, where the OS
// suspends background sockets aggressively, so the registry treats any recent
// activity (socket traffic or an HTTP heartbeat) as equivalent to an open
// connection and only reports a room offline once both signals are stale.
//
// Each room runs a small state machine:
//
//	Unknown -> Online -> PendingOffline -> Offline
//	                ^---------|
//
// A room enters PendingOffline when its last live connection drops; a short
// grace timer absorbs transient reconnects (network handoff) before the
// offline transition is reported. A periodic audit sweep reconciles the
// reported state against the activity window and evicts rooms that have been
// silent for a very long time.
package presence

import (
	"context"
	"log"
	"sync"
	"time"
)

// State is the lifecycle state of a room within the registry.
type State int

const (
	StateUnknown State = iota
	StateOnline
	StatePendingOffline
	StateOffline
)

// Config holds the registry timing parameters.
type Config struct {
	GraceDelay    time.Duration // wait after the last connection drops before reporting offline
	AuditInterval time.Duration // how often the audit sweep runs
	OnlineWindow  time.Duration // how long after the last activity a room still counts as online
	EvictAfter    time.Duration // how long a silent room is kept before eviction
}

// DefaultConfig returns the production timing parameters.
func DefaultConfig() Config {
	return Config{
		GraceDelay:    8 * time.Second,
		AuditInterval: 60 * time.Second,
		OnlineWindow:  15 * time.Minute,
		EvictAfter:    24 * time.Hour,
	}
}

// EventFunc receives idempotent online/offline transitions. It is invoked
// without the registry lock held, so implementations may call back into the
// registry.
type EventFunc func(room int, online bool)

// roomState is the per-room bookkeeping. All fields are guarded by the
// registry mutex.
type roomState struct {
	conns          map[string]struct{} // live connection IDs
	lastActivity   time.Time           // zero once the grace period has written the room off
	disconnectedAt time.Time           // when the live set last became empty
	offlineSince   time.Time           // when the room was last reported offline
	reportedOnline bool                // last state broadcast, suppresses duplicates
	state          State
	graceTimer     *time.Timer
}

// Registry is the in-memory membership and activity tracker for all rooms.
// Presence is process-local by design: a restart resets it to empty and
// clients re-establish it as they reconnect.
type Registry struct {
	mu      sync.Mutex
	rooms   map[int]*roomState
	config  Config
	onEvent EventFunc
	now     func() time.Time // injectable for tests
}

// NewRegistry creates a Registry that reports transitions through onEvent.
func NewRegistry(config Config, onEvent EventFunc) *Registry {
	return &Registry{
		rooms:   make(map[int]*roomState),
		config:  config,
		onEvent: onEvent,
		now:     time.Now,
	}
}

// SetEventFunc assigns the transition sink. This supports the initialization
// pattern where the registry is created before its consumer, since the
// consumer needs the registry to route events.
func (r *Registry) SetEventFunc(onEvent EventFunc) {
	r.onEvent = onEvent
}

// room returns the state for a room, creating it on first sight.
func (r *Registry) room(id int) *roomState {
	st, ok := r.rooms[id]
	if !ok {
		st = &roomState{conns: make(map[string]struct{})}
		r.rooms[id] = st
	}
	return st
}

// Join adds a live connection to a room and refreshes its activity. If this
// moves the room from not-recently-active to active, a single online event is
// emitted; rejoining an already-online room emits nothing. A pending grace
// timer for the room is cancelled, so a reconnect within the grace window
// produces no offline/online flap.
func (r *Registry) Join(roomID int, connID string) {
	r.mu.Lock()
	st := r.room(roomID)
	st.conns[connID] = struct{}{}
	st.lastActivity = r.now()

	if st.graceTimer != nil {
		st.graceTimer.Stop()
		st.graceTimer = nil
	}

	emit := !st.reportedOnline
	st.reportedOnline = true
	st.state = StateOnline
	r.mu.Unlock()

	if emit && r.onEvent != nil {
		r.onEvent(roomID, true)
	}
}

// Touch refreshes a room's activity timestamp without emitting events. It is
// called on every inbound message from a member of the room, including HTTP
// heartbeats from clients whose socket is currently suspended. The audit
// sweep reconciles the reported state within one interval.
func (r *Registry) Touch(roomID int) {
	r.mu.Lock()
	st := r.room(roomID)
	st.lastActivity = r.now()
	if st.state == StateUnknown {
		st.state = StateOffline
	}
	r.mu.Unlock()
}

// Leave removes a connection from every room it had joined. Rooms whose live
// set becomes empty enter PendingOffline and re-evaluate after the grace
// period.
func (r *Registry) Leave(connID string) {
	r.mu.Lock()
	for roomID, st := range r.rooms {
		if _, ok := st.conns[connID]; !ok {
			continue
		}
		delete(st.conns, connID)
		if len(st.conns) == 0 && st.state == StateOnline {
			st.state = StatePendingOffline
			st.disconnectedAt = r.now()
			if st.graceTimer != nil {
				st.graceTimer.Stop()
			}
			id := roomID
			st.graceTimer = time.AfterFunc(r.config.GraceDelay, func() {
				r.graceExpired(id)
			})
		}
	}
	r.mu.Unlock()
}

// graceExpired runs when a room's grace timer fires. If the room is still
// empty and saw no activity during the grace window, the activity record is
// cleared (so the audit sweep cannot flip it back) and offline is reported.
func (r *Registry) graceExpired(roomID int) {
	r.mu.Lock()
	st, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	st.graceTimer = nil

	if st.state != StatePendingOffline {
		r.mu.Unlock()
		return
	}
	if len(st.conns) > 0 {
		st.state = StateOnline
		r.mu.Unlock()
		return
	}
	// A heartbeat that arrived during the grace window keeps the room online.
	if st.lastActivity.After(st.disconnectedAt) {
		st.state = StateOnline
		r.mu.Unlock()
		return
	}

	st.lastActivity = time.Time{}
	st.state = StateOffline
	st.offlineSince = r.now()
	emit := st.reportedOnline
	st.reportedOnline = false
	r.mu.Unlock()

	if emit && r.onEvent != nil {
		log.Printf("presence: room %d went offline after grace period", roomID)
		r.onEvent(roomID, false)
	}
}

// sweep recomputes every room's online state from live connections and the
// activity window, emits transitions that differ from the last report, and
// evicts rooms that have been silent longer than EvictAfter.
func (r *Registry) sweep() {
	now := r.now()

	type event struct {
		room   int
		online bool
	}
	var events []event

	r.mu.Lock()
	for roomID, st := range r.rooms {
		// Rooms inside their grace window are decided by the grace timer.
		if st.state == StatePendingOffline {
			continue
		}

		recentlyActive := !st.lastActivity.IsZero() && now.Sub(st.lastActivity) < r.config.OnlineWindow
		online := len(st.conns) > 0 || recentlyActive

		if online != st.reportedOnline {
			st.reportedOnline = online
			if online {
				st.state = StateOnline
			} else {
				st.state = StateOffline
				st.offlineSince = now
			}
			events = append(events, event{room: roomID, online: online})
		}

		if !online {
			silentSince := st.offlineSince
			if !st.lastActivity.IsZero() {
				silentSince = st.lastActivity
			}
			if !silentSince.IsZero() && now.Sub(silentSince) > r.config.EvictAfter {
				delete(r.rooms, roomID)
			}
		}
	}
	r.mu.Unlock()

	if r.onEvent != nil {
		for _, e := range events {
			r.onEvent(e.room, e.online)
		}
	}
}

// Run executes the audit sweep loop until the context is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.AuditInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("presence: audit sweep stopped")
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// Members returns a snapshot of the live connection IDs joined to a room.
func (r *Registry) Members(roomID int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(st.conns))
	for id := range st.conns {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns the currently reported online state for every known room.
// It feeds the one-shot all_presence message sent to supervisor connections.
func (r *Registry) Snapshot() map[int]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := make(map[int]bool, len(r.rooms))
	for roomID, st := range r.rooms {
		snap[roomID] = st.reportedOnline
	}
	return snap
}
