package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// ErrSubscriptionGone indicates the push provider reported the endpoint as
// expired or unknown. Callers should delete the subscription and move on;
// the failure is never surfaced to the original sender.
var ErrSubscriptionGone = errors.New("push: subscription gone")

// Payload is the schema handed to the external push collaborator. ToRoom is
// always populated so a backgrounded client can locally filter notifications
// not meant for its currently active room identity.
type Payload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	ToRoom int    `json:"to_room"`
}

// SenderConfig holds the VAPID credentials for Web Push delivery.
type SenderConfig struct {
	Subscriber      string // contact address reported to push providers
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTL             time.Duration // how long providers may queue the message
}

// DefaultSenderConfig returns production defaults; the VAPID keys must be
// supplied from the environment.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Subscriber: "mailto:ops@roomcall.local",
		TTL:        5 * time.Minute,
	}
}

// Sender performs Web Push deliveries with VAPID authentication.
type Sender struct {
	config SenderConfig
}

// NewSender creates a Sender with the given configuration.
func NewSender(config SenderConfig) *Sender {
	return &Sender{config: config}
}

// Send delivers a payload to a single subscription. A provider response of
// 404 or 410 yields ErrSubscriptionGone.
func (s *Sender) Send(sub *Subscription, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("push: marshal payload: %w", err)
	}

	target := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}

	resp, err := webpush.SendNotification(body, target, &webpush.Options{
		Subscriber:      s.config.Subscriber,
		VAPIDPublicKey:  s.config.VAPIDPublicKey,
		VAPIDPrivateKey: s.config.VAPIDPrivateKey,
		TTL:             int(s.config.TTL.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("push: send: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return ErrSubscriptionGone
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push: provider returned %d", resp.StatusCode)
	}
	return nil
}
