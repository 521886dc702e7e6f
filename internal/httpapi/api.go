// Package httpapi exposes the REST side of the intercom: the reconciliation
// endpoint clients poll after waking up, the heartbeat beacon, push
// subscription registration, and the supervisor history view. All endpoints
// require the same bearer token as the WebSocket upgrade.
package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/roomcall/intercom/internal/access"
	"github.com/roomcall/intercom/internal/auth"
	"github.com/roomcall/intercom/internal/ledger"
	"github.com/roomcall/intercom/internal/push"
	"github.com/roomcall/intercom/internal/ratelimit"
)

// defaultHistoryLimit caps the supervisor history page size.
const defaultHistoryLimit = 50

// LedgerReader is the read surface of the notification store.
// *ledger.Store satisfies it.
type LedgerReader interface {
	ListPending(ctx context.Context, room int) ([]ledger.Notification, error)
	PendingCount(ctx context.Context, room int) (int, error)
	ListRecent(ctx context.Context, limit, offset int, search string) ([]ledger.Notification, error)
}

// SubscriptionSaver persists push subscriptions. *push.Store satisfies it.
type SubscriptionSaver interface {
	Save(ctx context.Context, sub *push.Subscription) error
}

// ActivityTracker receives heartbeat activity. *presence.Registry satisfies it.
type ActivityTracker interface {
	Touch(room int)
}

// HeartbeatLimiter throttles heartbeat beacons per actor. *ratelimit.Limiter
// satisfies it; nil disables throttling.
type HeartbeatLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// API holds the HTTP handlers and their collaborators.
type API struct {
	verifier *auth.Verifier
	store    LedgerReader
	subs     SubscriptionSaver
	tracker  ActivityTracker
	limiter  HeartbeatLimiter
}

// New creates an API over the given collaborators.
func New(verifier *auth.Verifier, store LedgerReader, subs SubscriptionSaver,
	tracker ActivityTracker, limiter HeartbeatLimiter) *API {
	return &API{
		verifier: verifier,
		store:    store,
		subs:     subs,
		tracker:  tracker,
		limiter:  limiter,
	}
}

// Routes returns a mux with all API endpoints mounted.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /notifications/{room}", a.handleListPending)
	mux.HandleFunc("POST /heartbeat", a.handleHeartbeat)
	mux.HandleFunc("POST /push/subscribe", a.handleSubscribe)
	mux.HandleFunc("GET /logs", a.handleLogs)
	return mux
}

// notificationJSON is the wire shape of a ledger record.
type notificationJSON struct {
	ID          int64   `json:"id"`
	FromRoom    int     `json:"from_room"`
	FromLabel   string  `json:"from_label"`
	ToRoom      int     `json:"to_room"`
	ToLabel     string  `json:"to_label"`
	Message     string  `json:"message"`
	AudioRef    string  `json:"audio_ref,omitempty"`
	Status      string  `json:"status"`
	SentAt      string  `json:"sent_at"`
	ReceivedAt  *string `json:"received_at,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

func toJSON(n ledger.Notification) notificationJSON {
	out := notificationJSON{
		ID:        n.ID,
		FromRoom:  n.FromRoom,
		FromLabel: n.FromLabel,
		ToRoom:    n.ToRoom,
		ToLabel:   n.ToLabel,
		Message:   n.Message,
		AudioRef:  n.AudioRef,
		Status:    n.Status,
		SentAt:    n.SentAt.UTC().Format(time.RFC3339),
	}
	if n.ReceivedAt.Valid {
		s := n.ReceivedAt.Time.UTC().Format(time.RFC3339)
		out.ReceivedAt = &s
	}
	if n.CompletedAt.Valid {
		s := n.CompletedAt.Time.UTC().Format(time.RFC3339)
		out.CompletedAt = &s
	}
	return out
}

// handleListPending returns every non-completed notification addressed to the
// room, oldest first. Clients call it on page load and on wake-up to repair
// anything their socket missed; reading never changes lifecycle state.
func (a *API) handleListPending(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.authenticate(w, r)
	if !ok {
		return
	}

	room, err := strconv.Atoi(r.PathValue("room"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_room", "room must be a number")
		return
	}
	if !access.CanJoin(actor, room) {
		writeError(w, http.StatusForbidden, "forbidden", "room not accessible")
		return
	}

	list, err := a.store.ListPending(r.Context(), room)
	if err != nil {
		log.Printf("httpapi: list pending room=%d: %v", room, err)
		writeError(w, http.StatusInternalServerError, "internal", "could not load notifications")
		return
	}

	out := make([]notificationJSON, 0, len(list))
	for _, n := range list {
		out = append(out, toJSON(n))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": out})
}

// handleHeartbeat records activity for the actor's home room and answers with
// the number of open notifications waiting there. Suspended clients beacon
// here so their room stays online without a socket.
func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.authenticate(w, r)
	if !ok {
		return
	}

	if a.limiter != nil {
		allowed, _ := a.limiter.Allow(r.Context(), strconv.FormatInt(actor.ID, 10), ratelimit.RuleHeartbeat)
		if !allowed {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many heartbeats")
			return
		}
	}

	room := access.HomeRoom(actor)
	a.tracker.Touch(room)

	count, err := a.store.PendingCount(r.Context(), room)
	if err != nil {
		log.Printf("httpapi: pending count room=%d: %v", room, err)
		writeError(w, http.StatusInternalServerError, "internal", "could not count notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pending_count": count})
}

// subscribeRequest mirrors the browser PushSubscription JSON shape.
type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// handleSubscribe registers a Web Push subscription for the actor's home
// room. Re-subscribing the same endpoint rebinds it to the current actor.
func (a *API) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.authenticate(w, r)
	if !ok {
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "invalid subscription payload")
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "bad_body", "endpoint and keys are required")
		return
	}

	sub := &push.Subscription{
		ActorID:  actor.ID,
		Room:     access.HomeRoom(actor),
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	}
	if err := a.subs.Save(r.Context(), sub); err != nil {
		log.Printf("httpapi: save subscription actor=%d: %v", actor.ID, err)
		writeError(w, http.StatusInternalServerError, "internal", "could not save subscription")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"ok": true})
}

// handleLogs returns the notification history, newest first, with optional
// substring search. Manager only.
func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	if actor.Role != access.RoleManager {
		writeError(w, http.StatusForbidden, "forbidden", "history is manager only")
		return
	}

	limit := defaultHistoryLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	offset := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	search := r.URL.Query().Get("q")

	list, err := a.store.ListRecent(r.Context(), limit, offset, search)
	if err != nil {
		log.Printf("httpapi: list recent: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not load history")
		return
	}

	out := make([]notificationJSON, 0, len(list))
	for _, n := range list {
		out = append(out, toJSON(n))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": out})
}

// authenticate resolves the actor behind the request, writing a 401 and
// returning false when the token is missing or invalid.
func (a *API) authenticate(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	actor, err := a.verifier.FromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
		return auth.Actor{}, false
	}
	return actor, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
