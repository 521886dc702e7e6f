// Package protocol defines the WebSocket message types and structures used for
// communication between intercom clients and the gateway. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoin         = "join"
	TypeSend         = "send"
	TypeUpdateStatus = "update_status"
	TypeSetBusy      = "set_busy"
	TypePing         = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated = "session_created"
	TypeReceive        = "receive"
	TypeSent           = "sent"
	TypeStatusUpdated  = "status_updated"
	TypePresence       = "presence"
	TypeAllPresence    = "all_presence"
	TypeBusyStatus     = "busy_status"
	TypeError          = "error"
	TypePong           = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinMsg is sent by the client to join a room's live audience. An
// unauthorized room yields no membership and no response.
type JoinMsg struct {
	Type string `json:"type"`
	Room int    `json:"room"`
}

// SendMsg is sent by the client to route a notification to a target room.
// AudioRef is an optional reference to a previously uploaded voice clip.
type SendMsg struct {
	Type      string `json:"type"`
	ToRoom    int    `json:"to_room"`
	Message   string `json:"message"`
	AudioRef  string `json:"audio_ref,omitempty"`
	FromLabel string `json:"from_label,omitempty"`
}

// UpdateStatusMsg is sent by the receiving room to advance a notification
// through its lifecycle ("received" or "completed").
type UpdateStatusMsg struct {
	Type   string `json:"type"`
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// SetBusyMsg toggles the process-wide availability flag. Manager only.
type SetBusyMsg struct {
	Type string `json:"type"`
	Busy bool   `json:"busy"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a connection is established
// and its actor identity has been verified.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Room      int    `json:"room"`
	Role      string `json:"role"`
}

// ReceiveMsg delivers a notification to the target room's live connections.
type ReceiveMsg struct {
	Type      string `json:"type"`
	ID        int64  `json:"id"`
	FromRoom  int    `json:"from_room"`
	FromLabel string `json:"from_label"`
	ToRoom    int    `json:"to_room"`
	Message   string `json:"message"`
	AudioRef  string `json:"audio_ref,omitempty"`
	SentAt    string `json:"sent_at"`
}

// SentMsg is the multi-device echo confirming a send succeeded; it is
// delivered to every connection in the sender's own room.
type SentMsg struct {
	Type    string `json:"type"`
	ID      int64  `json:"id"`
	Message string `json:"message"`
}

// StatusUpdatedMsg announces a lifecycle transition to the supervisor
// audience and the originating room.
type StatusUpdatedMsg struct {
	Type       string `json:"type"`
	ID         int64  `json:"id"`
	Status     string `json:"status"`
	ActorLabel string `json:"actor_label"`
	Room       int    `json:"room"`
}

// PresenceMsg reports a single room's online transition to the supervisor
// audience.
type PresenceMsg struct {
	Type   string `json:"type"`
	Room   int    `json:"room"`
	Online bool   `json:"online"`
}

// AllPresenceMsg is the one-shot registry snapshot sent to a supervisor
// connection immediately after it joins the audience room.
type AllPresenceMsg struct {
	Type  string       `json:"type"`
	Rooms map[int]bool `json:"rooms"`
}

// BusyStatusMsg broadcasts the availability flag to all connections.
type BusyStatusMsg struct {
	Type string `json:"type"`
	Busy bool   `json:"busy"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoin:
		var m JoinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSend:
		var m SendMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUpdateStatus:
		var m UpdateStatusMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSetBusy:
		var m SetBusyMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the Server*Msg structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
