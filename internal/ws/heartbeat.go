package ws

import (
	"log"
	"time"

	"github.com/gobwas/ws"
)

// HeartbeatConfig holds liveness tuning parameters. Intercom clients are
// mostly wall panels and phones behind office proxies, so the ping interval
// stays under the usual idle-connection cutoffs.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 25s)
	Timeout  time.Duration // max time to wait for activity after ping (default: 10s)

	// OnAlive is invoked for every connection that passes the liveness check.
	// The gateway feeds it into presence room activity, since a backgrounded
	// client still answers protocol pings without sending any commands.
	OnAlive func(conn *Connection)
}

// DefaultHeartbeatConfig returns the liveness defaults for intercom clients.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 25 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat begins a background goroutine that periodically sweeps all
// connections: stale ones (no successful reads within Interval + Timeout) are
// evicted, which starts their rooms' offline grace windows, and live ones are
// pinged and reported through OnAlive. It returns immediately; the goroutine
// exits when the server's done channel is closed.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				sweepConnections(server, config)
			}
		}
	}()
}

// sweepConnections iterates over all active connections. Connections that have
// not had a successful read within Interval + Timeout are considered dead and
// are removed. All other connections count as alive for presence and receive a
// WebSocket-level ping frame (opcode 0x9) which the browser answers
// automatically with a pong.
func sweepConnections(server *Server, config HeartbeatConfig) {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	for _, c := range server.Connections().All() {
		if now.Sub(c.LastPing) > deadline {
			log.Printf("ws: heartbeat timeout session=%s actor=%d last_activity=%s ago",
				c.ID, c.Actor.ID, now.Sub(c.LastPing).Round(time.Second))
			server.RemoveConnection(c)
			continue
		}

		if config.OnAlive != nil {
			config.OnAlive(c)
		}

		// Send a WebSocket protocol-level ping frame. The write mutex on the
		// connection serializes this with any concurrent application writes.
		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed session=%s: %v", c.ID, err)
			server.RemoveConnection(c)
		}
	}
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9) on the
// connection. The write mutex ensures this does not interleave with other
// outbound frames.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}
