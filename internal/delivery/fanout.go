// Package delivery fans server messages out to the live connections of a
// room, and queues the web-push fallback for devices without an open socket.
// It sits between the gateway's message handlers and the transport so that
// routing decisions stay independent of how frames reach a client.
package delivery

import (
	"encoding/json"
	"log"

	"github.com/roomcall/intercom/internal/access"
	"github.com/roomcall/intercom/internal/metrics"
	"github.com/roomcall/intercom/internal/push"
)

// Sender writes a raw frame to the connection identified by connID.
type Sender interface {
	SendMessage(connID string, data []byte) error
}

// RoomIndex exposes the live membership of a room as connection IDs.
type RoomIndex interface {
	Members(room int) []string
}

// PushPublisher queues a push-delivery request for the background worker.
type PushPublisher interface {
	PublishPushRequest(data []byte) error
}

// Fanout routes frames to room audiences. Send errors on individual
// connections are ignored; dead connections are reaped by the heartbeat.
type Fanout struct {
	sender Sender
	rooms  RoomIndex
	push   PushPublisher // nil disables the push fallback
}

// NewFanout creates a Fanout over the given transport and room index.
func NewFanout(sender Sender, rooms RoomIndex, publisher PushPublisher) *Fanout {
	return &Fanout{sender: sender, rooms: rooms, push: publisher}
}

// Deliver sends frame to every live connection of room and returns how many
// connections were reached. Membership is snapshotted before sending so a
// concurrent join or leave cannot corrupt the iteration.
func (f *Fanout) Deliver(room int, frame []byte) int {
	members := f.rooms.Members(room)
	for _, connID := range members {
		if err := f.sender.SendMessage(connID, frame); err != nil {
			log.Printf("delivery: send failed room=%d session=%s: %v", room, connID, err)
		}
	}
	metrics.FanoutSize.Observe(float64(len(members)))
	return len(members)
}

// DeliverWithPush sends frame to room's live connections and queues a push
// request for the room's subscribed devices. The push fallback is published
// unconditionally: a device with the page open receives both, and its service
// worker drops the duplicate.
func (f *Fanout) DeliverWithPush(room int, frame []byte, payload push.Payload) int {
	n := f.Deliver(room, frame)

	if f.push == nil {
		return n
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("delivery: marshal push payload room=%d: %v", room, err)
		return n
	}
	if err := f.push.PublishPushRequest(data); err != nil {
		log.Printf("delivery: publish push request room=%d: %v", room, err)
	}
	return n
}

// DeliverStatus sends a lifecycle announcement to the supervisor audience and
// to the originating room. A connection present in both audiences receives
// the frame once.
func (f *Fanout) DeliverStatus(originRoom int, frame []byte) {
	seen := make(map[string]struct{})
	for _, room := range []int{access.SupervisorRoom, originRoom} {
		for _, connID := range f.rooms.Members(room) {
			if _, dup := seen[connID]; dup {
				continue
			}
			seen[connID] = struct{}{}
			if err := f.sender.SendMessage(connID, frame); err != nil {
				log.Printf("delivery: send failed room=%d session=%s: %v", room, connID, err)
			}
		}
	}
}
