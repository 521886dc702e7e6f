// Package gateway implements the intercom's application logic on top of the
// WebSocket transport: room membership, notification routing, lifecycle
// acknowledgements, the manager's busy flag, and the presence mirror for the
// supervisor audience.
package gateway

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/roomcall/intercom/internal/access"
	"github.com/roomcall/intercom/internal/auth"
	"github.com/roomcall/intercom/internal/delivery"
	"github.com/roomcall/intercom/internal/ledger"
	"github.com/roomcall/intercom/internal/metrics"
	"github.com/roomcall/intercom/internal/presence"
	"github.com/roomcall/intercom/internal/protocol"
	"github.com/roomcall/intercom/internal/push"
	"github.com/roomcall/intercom/internal/ratelimit"
	"github.com/roomcall/intercom/internal/ws"
)

// opTimeout bounds database and Redis calls made from message handlers.
const opTimeout = 3 * time.Second

// ClientConn is the slice of a WebSocket connection the handlers need:
// identity, session id, and a way to reply directly.
type ClientConn interface {
	SessionID() string
	Identity() auth.Actor
	Send(data []byte) error
}

// NotificationStore is the ledger surface the gateway writes through.
// *ledger.Store satisfies it.
type NotificationStore interface {
	Create(ctx context.Context, n *ledger.Notification) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status string) (int, bool, error)
}

// SendLimiter throttles send commands per room. *ratelimit.Limiter satisfies
// it; a nil limiter disables throttling.
type SendLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Broadcaster pushes a frame to every live connection regardless of room.
// *ws.ConnectionManager satisfies it.
type Broadcaster interface {
	Broadcast(data []byte)
}

// PresencePublisher mirrors presence transitions onto the message bus for
// consumers outside the gateway process. *messaging.NATSClient satisfies it.
type PresencePublisher interface {
	PublishPresence(data []byte) error
}

// Gateway routes client messages between the presence registry, the
// notification ledger, and the delivery fan-out.
type Gateway struct {
	registry  *presence.Registry
	fanout    *delivery.Fanout
	store     NotificationStore
	limiter   SendLimiter
	broadcast Broadcaster
	presence  PresencePublisher

	busy atomic.Bool // manager availability flag, process-wide
}

// New creates a Gateway. The limiter, broadcaster, and presence publisher may
// be nil; the corresponding feature is then disabled.
func New(registry *presence.Registry, fanout *delivery.Fanout, store NotificationStore,
	limiter SendLimiter, broadcast Broadcaster, publisher PresencePublisher) *Gateway {
	return &Gateway{
		registry:  registry,
		fanout:    fanout,
		store:     store,
		limiter:   limiter,
		broadcast: broadcast,
		presence:  publisher,
	}
}

// Register wires the gateway's handlers into the message dispatcher and hooks
// the server's connect/disconnect callbacks.
func (g *Gateway) Register(server *ws.Server, d *ws.MessageDispatcher) {
	server.SetOnConnect(func(c *ws.Connection) {
		g.Connect(wsConn{c})
	})
	server.SetOnDisconnect(func(c *ws.Connection) {
		g.Disconnect(wsConn{c})
	})

	// Any inbound frame counts as room activity, including pings and
	// protocol-level keepalives answered by backgrounded clients.
	touch := func(c *ws.Connection) {
		g.registry.Touch(access.HomeRoom(c.Actor))
	}
	d.SetActivityFunc(touch)
	server.SetOnAlive(touch)

	d.Register(protocol.TypeJoin, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.JoinMsg); ok {
			g.Join(wsConn{c}, m)
		}
	})
	d.Register(protocol.TypeSend, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.SendMsg); ok {
			g.Send(wsConn{c}, m)
		}
	})
	d.Register(protocol.TypeUpdateStatus, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.UpdateStatusMsg); ok {
			g.UpdateStatus(wsConn{c}, m)
		}
	})
	d.Register(protocol.TypeSetBusy, func(c *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.SetBusyMsg); ok {
			g.SetBusy(wsConn{c}, m)
		}
	})
}

// wsConn adapts *ws.Connection to the ClientConn interface.
type wsConn struct {
	c *ws.Connection
}

func (w wsConn) SessionID() string      { return w.c.ID }
func (w wsConn) Identity() auth.Actor   { return w.c.Actor }
func (w wsConn) Send(data []byte) error { return w.c.WriteMessage(data) }

// Connect places a freshly authenticated connection into its home room.
// Supervisor-class actors additionally join the audience room and receive the
// presence snapshot and the current busy flag, so their dashboard is complete
// before any live event arrives.
func (g *Gateway) Connect(c ClientConn) {
	actor := c.Identity()
	home := access.HomeRoom(actor)
	g.registry.Join(home, c.SessionID())

	if !access.SupervisorClass(actor.Role) {
		return
	}
	if home != access.SupervisorRoom {
		g.registry.Join(access.SupervisorRoom, c.SessionID())
	}

	if frame, err := protocol.NewServerMessage(protocol.TypeAllPresence, protocol.AllPresenceMsg{
		Rooms: g.registry.Snapshot(),
	}); err == nil {
		if err := c.Send(frame); err != nil {
			log.Printf("gateway: send all_presence session=%s: %v", c.SessionID(), err)
		}
	}
	if frame, err := protocol.NewServerMessage(protocol.TypeBusyStatus, protocol.BusyStatusMsg{
		Busy: g.busy.Load(),
	}); err == nil {
		if err := c.Send(frame); err != nil {
			log.Printf("gateway: send busy_status session=%s: %v", c.SessionID(), err)
		}
	}
}

// Disconnect removes the connection from every room it joined, which may
// start a room's offline grace window.
func (g *Gateway) Disconnect(c ClientConn) {
	g.registry.Leave(c.SessionID())
}

// Join adds the connection to a room's live audience. An unauthorized room is
// a silent no-op so clients can not probe the room layout. Supervisor-class
// actors joining the audience room receive a fresh presence snapshot.
func (g *Gateway) Join(c ClientConn, msg protocol.JoinMsg) {
	actor := c.Identity()
	if !access.CanJoin(actor, msg.Room) {
		log.Printf("gateway: join denied actor=%d role=%s room=%d", actor.ID, actor.Role, msg.Room)
		return
	}

	g.registry.Join(msg.Room, c.SessionID())

	if msg.Room == access.SupervisorRoom && access.SupervisorClass(actor.Role) {
		if frame, err := protocol.NewServerMessage(protocol.TypeAllPresence, protocol.AllPresenceMsg{
			Rooms: g.registry.Snapshot(),
		}); err == nil {
			if err := c.Send(frame); err != nil {
				log.Printf("gateway: send all_presence session=%s: %v", c.SessionID(), err)
			}
		}
	}
}

// Send validates, persists, and fans out a notification. The busy flag gates
// only notifications targeting the supervisor audience from non-supervisor
// actors; everything else flows regardless.
func (g *Gateway) Send(c ClientConn, msg protocol.SendMsg) {
	actor := c.Identity()
	fromRoom := access.HomeRoom(actor)
	g.registry.Touch(fromRoom)

	if msg.ToRoom == access.SupervisorRoom && g.busy.Load() && !access.SupervisorClass(actor.Role) {
		g.sendError(c, "manager_busy", "the manager is currently unavailable")
		return
	}
	// Unauthorized targets are dropped without a reply, same as join: the
	// actor is already authenticated, so a misrouted send is not worth a
	// protocol error.
	if !access.CanSend(actor, msg.ToRoom) {
		log.Printf("gateway: send denied actor=%d role=%s to_room=%d", actor.ID, actor.Role, msg.ToRoom)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if g.limiter != nil {
		allowed, _ := g.limiter.Allow(ctx, strconv.Itoa(fromRoom), ratelimit.RuleSend)
		if !allowed {
			g.sendError(c, "rate_limited", "too many notifications, slow down")
			return
		}
	}

	fromLabel := msg.FromLabel
	if fromLabel == "" {
		fromLabel = access.RoomLabel(fromRoom)
	}

	n := &ledger.Notification{
		FromRoom:  fromRoom,
		FromLabel: fromLabel,
		ToRoom:    msg.ToRoom,
		ToLabel:   access.RoomLabel(msg.ToRoom),
		Message:   msg.Message,
		AudioRef:  msg.AudioRef,
	}
	if _, err := g.store.Create(ctx, n); err != nil {
		if errors.Is(err, ledger.ErrEmptyMessage) {
			g.sendError(c, "empty_message", "a notification needs a message")
			return
		}
		log.Printf("gateway: create notification actor=%d: %v", actor.ID, err)
		g.sendError(c, "internal", "could not store the notification")
		return
	}
	metrics.NotificationsTotal.WithLabelValues(ledger.StatusPending).Inc()

	receiveFrame, err := protocol.NewServerMessage(protocol.TypeReceive, protocol.ReceiveMsg{
		ID:        n.ID,
		FromRoom:  n.FromRoom,
		FromLabel: n.FromLabel,
		ToRoom:    n.ToRoom,
		Message:   n.Message,
		AudioRef:  n.AudioRef,
		SentAt:    n.SentAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("gateway: build receive frame id=%d: %v", n.ID, err)
		return
	}
	reached := g.fanout.DeliverWithPush(n.ToRoom, receiveFrame, push.Payload{
		Title:  n.FromLabel,
		Body:   n.Message,
		ToRoom: n.ToRoom,
	})
	log.Printf("gateway: notification id=%d from=%d to=%d live=%d", n.ID, n.FromRoom, n.ToRoom, reached)

	// Echo to every device in the sender's room so all of them show the send.
	sentFrame, err := protocol.NewServerMessage(protocol.TypeSent, protocol.SentMsg{
		ID:      n.ID,
		Message: n.Message,
	})
	if err != nil {
		log.Printf("gateway: build sent frame id=%d: %v", n.ID, err)
		return
	}
	g.fanout.Deliver(fromRoom, sentFrame)
}

// UpdateStatus advances a notification's lifecycle and announces the
// transition to the supervisor audience and the originating room. Updates on
// a completed notification are rejected; a repeated "received" ack succeeds
// silently without a second announcement.
func (g *Gateway) UpdateStatus(c ClientConn, msg protocol.UpdateStatusMsg) {
	actor := c.Identity()
	g.registry.Touch(access.HomeRoom(actor))

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	fromRoom, changed, err := g.store.UpdateStatus(ctx, msg.ID, msg.Status)
	switch {
	case errors.Is(err, ledger.ErrInvalidStatus):
		g.sendError(c, "invalid_status", "unknown lifecycle status")
		return
	case errors.Is(err, ledger.ErrNotFound):
		g.sendError(c, "not_found", "no such notification")
		return
	case errors.Is(err, ledger.ErrCompleted):
		g.sendError(c, "already_completed", "notification is already completed")
		return
	case err != nil:
		log.Printf("gateway: update status id=%d: %v", msg.ID, err)
		g.sendError(c, "internal", "could not update the notification")
		return
	}
	if !changed {
		// Repeated "received" ack: nothing moved, so nobody is told again.
		log.Printf("gateway: repeated %s ack id=%d ignored", msg.Status, msg.ID)
		return
	}
	metrics.NotificationsTotal.WithLabelValues(msg.Status).Inc()

	frame, err := protocol.NewServerMessage(protocol.TypeStatusUpdated, protocol.StatusUpdatedMsg{
		ID:         msg.ID,
		Status:     msg.Status,
		ActorLabel: access.RoomLabel(access.HomeRoom(actor)),
		Room:       access.HomeRoom(actor),
	})
	if err != nil {
		log.Printf("gateway: build status_updated frame id=%d: %v", msg.ID, err)
		return
	}
	g.fanout.DeliverStatus(fromRoom, frame)
}

// SetBusy toggles the process-wide availability flag. Only the manager may
// flip it; the new state is broadcast to every connection.
func (g *Gateway) SetBusy(c ClientConn, msg protocol.SetBusyMsg) {
	actor := c.Identity()
	if actor.Role != access.RoleManager {
		g.sendError(c, "forbidden", "only the manager can change availability")
		return
	}
	g.registry.Touch(access.SupervisorRoom)

	g.busy.Store(msg.Busy)
	log.Printf("gateway: busy flag set to %v by actor=%d", msg.Busy, actor.ID)

	frame, err := protocol.NewServerMessage(protocol.TypeBusyStatus, protocol.BusyStatusMsg{
		Busy: msg.Busy,
	})
	if err != nil {
		log.Printf("gateway: build busy_status frame: %v", err)
		return
	}
	if g.broadcast != nil {
		g.broadcast.Broadcast(frame)
	}
}

// Busy reports the current availability flag.
func (g *Gateway) Busy() bool {
	return g.busy.Load()
}

// PresenceChanged is the presence registry's event sink. Transitions are
// mirrored to the supervisor audience over WebSocket and onto the message bus
// for external consumers. The audience room's own transitions are noise and
// are dropped.
func (g *Gateway) PresenceChanged(room int, online bool) {
	if room == access.SupervisorRoom {
		return
	}
	if online {
		metrics.RoomsOnline.Inc()
	} else {
		metrics.RoomsOnline.Dec()
	}

	frame, err := protocol.NewServerMessage(protocol.TypePresence, protocol.PresenceMsg{
		Room:   room,
		Online: online,
	})
	if err != nil {
		log.Printf("gateway: build presence frame room=%d: %v", room, err)
		return
	}
	g.fanout.Deliver(access.SupervisorRoom, frame)

	if g.presence != nil {
		if err := g.presence.PublishPresence(frame); err != nil {
			log.Printf("gateway: publish presence room=%d: %v", room, err)
		}
	}
}

// sendError sends a structured error reply on the connection.
func (g *Gateway) sendError(c ClientConn, code, message string) {
	frame, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("gateway: build error frame session=%s: %v", c.SessionID(), err)
		return
	}
	if err := c.Send(frame); err != nil {
		log.Printf("gateway: send error frame session=%s: %v", c.SessionID(), err)
	}
}
