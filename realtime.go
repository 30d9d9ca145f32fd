package drift

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Event Payload Types
// ============================================================================

// AuthenticatedPayload is sent when a real-time connection is authenticated.
type AuthenticatedPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// MessagesStatePayload carries the full live message list for one watched
// conversation. The backend re-pushes it whenever the underlying query result
// changes; it is the reactive input the reconciler runs against.
type MessagesStatePayload struct {
	UserID   string    `json:"userId,omitempty"` // direct peer
	GroupID  string    `json:"groupId,omitempty"`
	Messages []Message `json:"messages"`
}

// Target returns the conversation target the payload belongs to.
func (p *MessagesStatePayload) Target() Target {
	return Target{UserID: p.UserID, GroupID: p.GroupID}
}

// TypingIndicatorPayload is sent when a user starts or stops typing.
type TypingIndicatorPayload struct {
	UserID   string `json:"userId"`
	GroupID  string `json:"groupId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// PresenceChangedPayload is sent when a contact's presence status changes.
type PresenceChangedPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// PongPayload is the response to a ping command.
type PongPayload struct {
	RequestID string `json:"requestId"`
}

// RealtimeErrorPayload is sent when a server-side error occurs.
type RealtimeErrorPayload struct {
	Message string `json:"message"`
}

// RealtimeEnvelope is the wire format for all real-time events.
type RealtimeEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RealtimeCommand is a client-to-server command.
type RealtimeCommand struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	RequestID string      `json:"requestId,omitempty"`
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures real-time clients.
type RealtimeConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HTTPClient           *http.Client
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// RealtimeEventHandler is the generic event callback type.
type RealtimeEventHandler func(eventType string, payload json.RawMessage)

type eventDispatcher struct {
	mu              sync.RWMutex
	generic         map[string][]RealtimeEventHandler
	onAuthenticated []func(AuthenticatedPayload)
	onMessagesState []func(MessagesStatePayload)
	onTyping        []func(TypingIndicatorPayload)
	onPresence      []func(PresenceChangedPayload)
	onError         []func(RealtimeErrorPayload)
	onConnected     []func()
	onDisconnected  []func(int, string)
	onReconnecting  []func(int, time.Duration)
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{
		generic: make(map[string][]RealtimeEventHandler),
	}
}

func (d *eventDispatcher) dispatch(env RealtimeEnvelope) {
	// State frames are last-write-wins snapshots, so their handlers run
	// inline on the read loop; goroutine dispatch could apply an older
	// frame after a newer one. Discrete events keep goroutine dispatch.
	if env.Type == "messages.state" {
		var p MessagesStatePayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		d.mu.RLock()
		typed := append([]func(MessagesStatePayload){}, d.onMessagesState...)
		generic := append([]RealtimeEventHandler{}, d.generic[env.Type]...)
		d.mu.RUnlock()
		for _, h := range typed {
			h(p)
		}
		for _, h := range generic {
			h(env.Type, env.Payload)
		}
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	// Typed handlers
	switch env.Type {
	case "authenticated":
		var p AuthenticatedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onAuthenticated {
				go h(p)
			}
		}
	case "typing.indicator":
		var p TypingIndicatorPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onTyping {
				go h(p)
			}
		}
	case "presence.changed":
		var p PresenceChangedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onPresence {
				go h(p)
			}
		}
	case "error":
		var p RealtimeErrorPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onError {
				go h(p)
			}
		}
	}

	// Generic handlers
	for _, h := range d.generic[env.Type] {
		go h(env.Type, env.Payload)
	}
}

func (d *eventDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h()
	}
}

func (d *eventDispatcher) emitDisconnected(code int, reason string) {
	d.mu.RLock()
	handlers := append([]func(int, string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(code, reason)
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient is a WebSocket client for the live query feed, with
// auto-reconnect and heartbeat. Watched conversations receive messages.state
// pushes carrying the full reactive message list.
type RealtimeClient struct {
	baseURL          string
	config           *RealtimeConfig
	conn             *websocket.Conn
	mu               sync.Mutex
	state            RealtimeState
	intentionalClose bool
	dispatcher       *eventDispatcher
	recon            *reconnector
	cancelFn         context.CancelFunc
	reqCounter       int
	watched          []Target // re-subscribed after reconnect
	pendingPings     map[string]chan PongPayload
	pendingMu        sync.Mutex
}

// OnAuthenticated registers a handler for the authenticated event.
func (rt *RealtimeClient) OnAuthenticated(h func(AuthenticatedPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onAuthenticated = append(rt.dispatcher.onAuthenticated, h)
	rt.dispatcher.mu.Unlock()
}

// OnMessagesState registers a handler for live message-list pushes.
func (rt *RealtimeClient) OnMessagesState(h func(MessagesStatePayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onMessagesState = append(rt.dispatcher.onMessagesState, h)
	rt.dispatcher.mu.Unlock()
}

// OnTypingIndicator registers a handler for typing indicators.
func (rt *RealtimeClient) OnTypingIndicator(h func(TypingIndicatorPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onTyping = append(rt.dispatcher.onTyping, h)
	rt.dispatcher.mu.Unlock()
}

// OnPresenceChanged registers a handler for presence changes.
func (rt *RealtimeClient) OnPresenceChanged(h func(PresenceChangedPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onPresence = append(rt.dispatcher.onPresence, h)
	rt.dispatcher.mu.Unlock()
}

// OnError registers a handler for server errors.
func (rt *RealtimeClient) OnError(h func(RealtimeErrorPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onError = append(rt.dispatcher.onError, h)
	rt.dispatcher.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event.
func (rt *RealtimeClient) OnConnected(h func()) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onConnected = append(rt.dispatcher.onConnected, h)
	rt.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (rt *RealtimeClient) OnDisconnected(h func(code int, reason string)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onDisconnected = append(rt.dispatcher.onDisconnected, h)
	rt.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (rt *RealtimeClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onReconnecting = append(rt.dispatcher.onReconnecting, h)
	rt.dispatcher.mu.Unlock()
}

// On registers a generic event handler.
func (rt *RealtimeClient) On(eventType string, h RealtimeEventHandler) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.generic[eventType] = append(rt.dispatcher.generic[eventType], h)
	rt.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (rt *RealtimeClient) State() RealtimeState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// Connect establishes the WebSocket connection.
func (rt *RealtimeClient) Connect(ctx context.Context) error {
	rt.mu.Lock()
	if rt.state == StateConnected || rt.state == StateConnecting {
		rt.mu.Unlock()
		return nil
	}
	rt.state = StateConnecting
	rt.intentionalClose = false
	rt.mu.Unlock()

	wsURL := strings.Replace(rt.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + rt.config.Token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		rt.mu.Lock()
		rt.state = StateDisconnected
		rt.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	// Read first message (should be "authenticated")
	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		rt.mu.Lock()
		rt.state = StateDisconnected
		rt.mu.Unlock()
		return fmt.Errorf("read auth message: %w", err)
	}

	var env RealtimeEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != "authenticated" {
		conn.Close(websocket.StatusNormalClosure, "")
		rt.mu.Lock()
		rt.state = StateDisconnected
		rt.mu.Unlock()
		return fmt.Errorf("expected 'authenticated', got '%s'", env.Type)
	}

	rt.mu.Lock()
	rt.conn = conn
	rt.state = StateConnected
	watched := append([]Target(nil), rt.watched...)
	rt.mu.Unlock()
	rt.recon.markConnected()

	rt.dispatcher.dispatch(env)
	rt.dispatcher.emitConnected()

	connCtx, cancel := context.WithCancel(ctx)
	rt.mu.Lock()
	rt.cancelFn = cancel
	rt.mu.Unlock()

	go rt.readLoop(connCtx)
	go rt.heartbeatLoop(connCtx)

	// Re-issue live query subscriptions lost with the previous connection.
	for _, target := range watched {
		if err := rt.sendSubscribe(ctx, target); err != nil {
			break
		}
	}

	return nil
}

// Disconnect gracefully closes the connection.
func (rt *RealtimeClient) Disconnect() error {
	rt.mu.Lock()
	rt.intentionalClose = true
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	conn := rt.conn
	rt.conn = nil
	rt.state = StateDisconnected
	rt.mu.Unlock()

	rt.clearPendingPings()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	rt.dispatcher.emitDisconnected(1000, "client disconnect")
	return nil
}

// WatchMessages subscribes to the live message list for a conversation
// target. The subscription survives reconnects until UnwatchMessages.
func (rt *RealtimeClient) WatchMessages(ctx context.Context, target Target) error {
	if !target.Valid() {
		return fmt.Errorf("target must be exactly one of peer or group")
	}
	rt.mu.Lock()
	rt.watched = append(rt.watched, target)
	rt.mu.Unlock()
	return rt.sendSubscribe(ctx, target)
}

// UnwatchMessages cancels a live message-list subscription.
func (rt *RealtimeClient) UnwatchMessages(ctx context.Context, target Target) error {
	rt.mu.Lock()
	for i, t := range rt.watched {
		if t == target {
			rt.watched = append(rt.watched[:i], rt.watched[i+1:]...)
			break
		}
	}
	rt.mu.Unlock()
	return rt.Send(ctx, &RealtimeCommand{
		Type:    "query.unsubscribe",
		Payload: targetPayload(target),
	})
}

func (rt *RealtimeClient) sendSubscribe(ctx context.Context, target Target) error {
	return rt.Send(ctx, &RealtimeCommand{
		Type:    "query.subscribe",
		Payload: targetPayload(target),
	})
}

func targetPayload(target Target) map[string]string {
	p := map[string]string{}
	if target.UserID != "" {
		p["userId"] = target.UserID
	}
	if target.GroupID != "" {
		p["groupId"] = target.GroupID
	}
	return p
}

// StartTyping sends a typing start indicator.
func (rt *RealtimeClient) StartTyping(ctx context.Context, target Target) error {
	return rt.Send(ctx, &RealtimeCommand{
		Type:    "typing.start",
		Payload: targetPayload(target),
	})
}

// StopTyping sends a typing stop indicator.
func (rt *RealtimeClient) StopTyping(ctx context.Context, target Target) error {
	return rt.Send(ctx, &RealtimeCommand{
		Type:    "typing.stop",
		Payload: targetPayload(target),
	})
}

// UpdatePresence updates the user's presence status.
func (rt *RealtimeClient) UpdatePresence(ctx context.Context, status string) error {
	return rt.Send(ctx, &RealtimeCommand{
		Type:    "presence.update",
		Payload: map[string]string{"status": status},
	})
}

// Send sends a raw command over the WebSocket.
func (rt *RealtimeClient) Send(ctx context.Context, cmd *RealtimeCommand) error {
	rt.mu.Lock()
	conn := rt.conn
	rt.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Ping sends a ping and waits for pong.
func (rt *RealtimeClient) Ping(ctx context.Context) (*PongPayload, error) {
	rt.mu.Lock()
	rt.reqCounter++
	requestID := fmt.Sprintf("ping-%d", rt.reqCounter)
	rt.mu.Unlock()

	ch := make(chan PongPayload, 1)
	rt.pendingMu.Lock()
	rt.pendingPings[requestID] = ch
	rt.pendingMu.Unlock()

	err := rt.Send(ctx, &RealtimeCommand{
		Type:    "ping",
		Payload: map[string]string{"requestId": requestID},
	})
	if err != nil {
		rt.pendingMu.Lock()
		delete(rt.pendingPings, requestID)
		rt.pendingMu.Unlock()
		return nil, err
	}

	select {
	case pong := <-ch:
		return &pong, nil
	case <-time.After(10 * time.Second):
		rt.pendingMu.Lock()
		delete(rt.pendingPings, requestID)
		rt.pendingMu.Unlock()
		return nil, fmt.Errorf("ping timeout")
	case <-ctx.Done():
		rt.pendingMu.Lock()
		delete(rt.pendingPings, requestID)
		rt.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

func (rt *RealtimeClient) readLoop(ctx context.Context) {
	for {
		rt.mu.Lock()
		conn := rt.conn
		rt.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.mu.Lock()
			intentional := rt.intentionalClose
			rt.mu.Unlock()
			if intentional {
				return
			}

			rt.mu.Lock()
			rt.state = StateDisconnected
			rt.conn = nil
			rt.mu.Unlock()

			rt.dispatcher.emitDisconnected(0, err.Error())

			if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
				rt.scheduleReconnect(ctx)
			}
			return
		}

		var env RealtimeEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}

		// Resolve pending pings
		if env.Type == "pong" {
			var p PongPayload
			if json.Unmarshal(env.Payload, &p) == nil && p.RequestID != "" {
				rt.pendingMu.Lock()
				ch, ok := rt.pendingPings[p.RequestID]
				if ok {
					delete(rt.pendingPings, p.RequestID)
				}
				rt.pendingMu.Unlock()
				if ok {
					ch <- p
				}
			}
		}

		rt.dispatcher.dispatch(env)
	}
}

func (rt *RealtimeClient) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(rt.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.mu.Lock()
			s := rt.state
			rt.mu.Unlock()
			if s != StateConnected {
				return
			}

			_, err := rt.Ping(ctx)
			if err != nil {
				// Heartbeat failed, force close
				rt.mu.Lock()
				conn := rt.conn
				rt.mu.Unlock()
				if conn != nil {
					conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
		}
	}
}

func (rt *RealtimeClient) scheduleReconnect(ctx context.Context) {
	delay := rt.recon.nextDelay()
	rt.mu.Lock()
	rt.state = StateReconnecting
	rt.mu.Unlock()

	rt.dispatcher.emitReconnecting(rt.recon.attempt, delay)

	time.Sleep(delay)

	if err := rt.Connect(ctx); err != nil {
		if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
			rt.scheduleReconnect(ctx)
		} else {
			rt.mu.Lock()
			rt.state = StateDisconnected
			rt.mu.Unlock()
		}
	}
}

func (rt *RealtimeClient) clearPendingPings() {
	rt.pendingMu.Lock()
	for k, ch := range rt.pendingPings {
		close(ch)
		delete(rt.pendingPings, k)
	}
	rt.pendingMu.Unlock()
}
