package ws

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/roomcall/intercom/internal/auth"
	"github.com/roomcall/intercom/internal/protocol"
)

// discardConn is a net.Conn that swallows writes, so frame output from the
// dispatcher and heartbeat does not block the tests.
type discardConn struct{}

func (discardConn) Read(b []byte) (int, error)         { return 0, io.EOF }
func (discardConn) Write(b []byte) (int, error)        { return len(b), nil }
func (discardConn) Close() error                       { return nil }
func (discardConn) LocalAddr() net.Addr                { return &net.TCPAddr{} }
func (discardConn) RemoteAddr() net.Addr               { return &net.TCPAddr{} }
func (discardConn) SetDeadline(t time.Time) error      { return nil }
func (discardConn) SetReadDeadline(t time.Time) error  { return nil }
func (discardConn) SetWriteDeadline(t time.Time) error { return nil }

func newTestConnection(id string, fd int) *Connection {
	return &Connection{
		ID:       id,
		Actor:    auth.Actor{ID: 3, Role: "office-tech", Room: 6},
		Conn:     discardConn{},
		Fd:       fd,
		LastPing: time.Now(),
	}
}

func TestDispatch_ActivityFiresForEveryMessage(t *testing.T) {
	d := NewMessageDispatcher(nil)
	conn := newTestConnection("sess-1", 1)

	var touched []string
	d.SetActivityFunc(func(c *Connection) { touched = append(touched, c.ID) })

	handled := false
	d.Register(protocol.TypeJoin, func(c *Connection, msg interface{}) { handled = true })

	// A registered command and a built-in ping both count as activity.
	d.Dispatch(conn, []byte(`{"type":"join","room":6}`))
	d.Dispatch(conn, []byte(`{"type":"ping"}`))

	if !handled {
		t.Error("expected the join handler to run")
	}
	if len(touched) != 2 {
		t.Fatalf("expected 2 activity callbacks, got %d", len(touched))
	}
	if touched[0] != "sess-1" {
		t.Errorf("expected activity for sess-1, got %q", touched[0])
	}
}

func TestDispatch_MalformedMessageIsNotActivity(t *testing.T) {
	d := NewMessageDispatcher(nil)
	conn := newTestConnection("sess-1", 1)

	touched := 0
	d.SetActivityFunc(func(c *Connection) { touched++ })

	d.Dispatch(conn, []byte(`not json`))
	d.Dispatch(conn, []byte(`{"room":6}`)) // missing type

	if touched != 0 {
		t.Errorf("expected no activity for malformed messages, got %d", touched)
	}
}
