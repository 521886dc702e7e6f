package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid join message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Join(t *testing.T) {
	input := []byte(`{"type":"join","room":5}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoin {
		t.Fatalf("expected type %q, got %q", TypeJoin, msgType)
	}

	jm, ok := msg.(JoinMsg)
	if !ok {
		t.Fatalf("expected JoinMsg, got %T", msg)
	}
	if jm.Room != 5 {
		t.Errorf("expected room 5, got %d", jm.Room)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid send message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Send(t *testing.T) {
	input := []byte(`{"type":"send","to_room":0,"message":"coffee please","audio_ref":"clip-9"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSend {
		t.Fatalf("expected type %q, got %q", TypeSend, msgType)
	}

	sm, ok := msg.(SendMsg)
	if !ok {
		t.Fatalf("expected SendMsg, got %T", msg)
	}
	if sm.ToRoom != 0 {
		t.Errorf("expected to_room 0, got %d", sm.ToRoom)
	}
	if sm.Message != "coffee please" {
		t.Errorf("expected message %q, got %q", "coffee please", sm.Message)
	}
	if sm.AudioRef != "clip-9" {
		t.Errorf("expected audio_ref %q, got %q", "clip-9", sm.AudioRef)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid update_status message
// ---------------------------------------------------------------------------

func TestParseClientMessage_UpdateStatus(t *testing.T) {
	input := []byte(`{"type":"update_status","id":42,"status":"completed"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeUpdateStatus {
		t.Fatalf("expected type %q, got %q", TypeUpdateStatus, msgType)
	}

	um, ok := msg.(UpdateStatusMsg)
	if !ok {
		t.Fatalf("expected UpdateStatusMsg, got %T", msg)
	}
	if um.ID != 42 {
		t.Errorf("expected id 42, got %d", um.ID)
	}
	if um.Status != "completed" {
		t.Errorf("expected status %q, got %q", "completed", um.Status)
	}
}

// ---------------------------------------------------------------------------
// Test: Error cases for malformed or unknown messages
// ---------------------------------------------------------------------------

func TestParseClientMessage_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"invalid json", `{not json`},
		{"missing type", `{"room":5}`},
		{"empty type", `{"type":""}`},
		{"unknown type", `{"type":"dance"}`},
		{"server-only type", `{"type":"receive","id":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseClientMessage([]byte(tt.input))
			if err == nil {
				t.Fatalf("expected error for input %q, got nil", tt.input)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a receive server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_Receive(t *testing.T) {
	payload := ReceiveMsg{
		ID:        7,
		FromRoom:  6,
		FromLabel: "office-tech",
		ToRoom:    0,
		Message:   "visitor at the door",
		SentAt:    "2026-08-30T10:00:00Z",
	}

	data, err := NewServerMessage(TypeReceive, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if decoded["type"] != TypeReceive {
		t.Errorf("expected type %q, got %v", TypeReceive, decoded["type"])
	}
	if decoded["message"] != "visitor at the door" {
		t.Errorf("expected message %q, got %v", "visitor at the door", decoded["message"])
	}
	if decoded["from_room"] != float64(6) {
		t.Errorf("expected from_room 6, got %v", decoded["from_room"])
	}
}

// ---------------------------------------------------------------------------
// Test: The type field always reflects the declared type
// ---------------------------------------------------------------------------

func TestNewServerMessage_TypeOverride(t *testing.T) {
	// The payload carries a stale Type field; NewServerMessage must win.
	payload := ErrorMsg{Type: "receive", Code: "forbidden", Message: "no"}

	data, err := NewServerMessage(TypeError, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != TypeError {
		t.Errorf("expected type %q, got %q", TypeError, env.Type)
	}
}
