package delivery

import (
	"encoding/json"
	"testing"

	"github.com/roomcall/intercom/internal/push"
)

type fakeSender struct {
	sent map[string][][]byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[string][][]byte)}
}

func (f *fakeSender) SendMessage(connID string, data []byte) error {
	f.sent[connID] = append(f.sent[connID], data)
	return nil
}

type fakeRooms map[int][]string

func (f fakeRooms) Members(room int) []string { return f[room] }

type fakePublisher struct {
	published [][]byte
}

func (f *fakePublisher) PublishPushRequest(data []byte) error {
	f.published = append(f.published, data)
	return nil
}

func TestDeliver(t *testing.T) {
	sender := newFakeSender()
	rooms := fakeRooms{6: {"conn-a", "conn-b"}}
	f := NewFanout(sender, rooms, nil)

	n := f.Deliver(6, []byte(`{"type":"receive"}`))
	if n != 2 {
		t.Fatalf("expected 2 reached, got %d", n)
	}
	if len(sender.sent["conn-a"]) != 1 || len(sender.sent["conn-b"]) != 1 {
		t.Errorf("expected one frame per member, got %v", sender.sent)
	}
}

func TestDeliver_EmptyRoom(t *testing.T) {
	sender := newFakeSender()
	f := NewFanout(sender, fakeRooms{}, nil)

	if n := f.Deliver(9, []byte(`{}`)); n != 0 {
		t.Fatalf("expected 0 reached for an empty room, got %d", n)
	}
	if len(sender.sent) != 0 {
		t.Errorf("expected no frames, got %v", sender.sent)
	}
}

func TestDeliverWithPush(t *testing.T) {
	sender := newFakeSender()
	pub := &fakePublisher{}
	f := NewFanout(sender, fakeRooms{0: {"conn-m"}}, pub)

	payload := push.Payload{Title: "office-tech", Body: "visitor", ToRoom: 0}
	n := f.DeliverWithPush(0, []byte(`{"type":"receive"}`), payload)
	if n != 1 {
		t.Fatalf("expected 1 reached, got %d", n)
	}

	// The push request goes out even though a live connection was reached.
	if len(pub.published) != 1 {
		t.Fatalf("expected 1 push request, got %d", len(pub.published))
	}
	var got push.Payload
	if err := json.Unmarshal(pub.published[0], &got); err != nil {
		t.Fatalf("push payload is not valid JSON: %v", err)
	}
	if got != payload {
		t.Errorf("expected payload %+v, got %+v", payload, got)
	}
}

func TestDeliverWithPush_NilPublisher(t *testing.T) {
	sender := newFakeSender()
	f := NewFanout(sender, fakeRooms{0: {"conn-m"}}, nil)

	// Must not panic without a publisher.
	if n := f.DeliverWithPush(0, []byte(`{}`), push.Payload{}); n != 1 {
		t.Fatalf("expected 1 reached, got %d", n)
	}
}

func TestDeliverStatus_DedupesOverlap(t *testing.T) {
	sender := newFakeSender()
	// conn-d is a deputy joined to both the audience room and the origin room.
	rooms := fakeRooms{
		0: {"conn-m", "conn-d"},
		6: {"conn-d", "conn-o"},
	}
	f := NewFanout(sender, rooms, nil)

	f.DeliverStatus(6, []byte(`{"type":"status_updated"}`))

	for _, connID := range []string{"conn-m", "conn-d", "conn-o"} {
		if len(sender.sent[connID]) != 1 {
			t.Errorf("expected exactly 1 frame for %s, got %d", connID, len(sender.sent[connID]))
		}
	}
}
