package drift

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ============================================================================
// Webhook Types
// ============================================================================

// Webhook event kinds.
const (
	WebhookEventMessageNew     = "message.new"
	WebhookEventContactRequest = "contact.request"
	WebhookEventGroupInvite    = "group.invite"
)

// WebhookPayload represents a Drift webhook payload (POST to the configured
// endpoint).
type WebhookPayload struct {
	Source    string          `json:"source"`
	Event     string          `json:"event"`
	Timestamp int64           `json:"timestamp"`
	Message   *WebhookMessage `json:"message,omitempty"`
	Sender    WebhookSender   `json:"sender"`
	Group     *WebhookGroup   `json:"group,omitempty"`
}

// WebhookMessage represents the message in a message.new payload.
type WebhookMessage struct {
	ID         string      `json:"id"`
	Content    string      `json:"content"`
	Kind       MessageKind `json:"kind"`
	SenderID   string      `json:"senderId"`
	ReceiverID string      `json:"receiverId,omitempty"`
	GroupID    string      `json:"groupId,omitempty"`
	CreatedAt  int64       `json:"createdAt"`
}

// WebhookSender represents sender information in a webhook payload.
type WebhookSender struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// WebhookGroup represents group information in a group.invite payload.
type WebhookGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WebhookHandlerFunc is the callback signature for handling webhook payloads.
type WebhookHandlerFunc func(payload *WebhookPayload) error

// ============================================================================
// Standalone Functions
// ============================================================================

// VerifyWebhookSignature verifies a Drift webhook signature using HMAC-SHA256.
// Uses constant-time comparison to prevent timing attacks.
func VerifyWebhookSignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}

	sig := signature
	if strings.HasPrefix(sig, "sha256=") {
		sig = sig[7:]
	}
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParseWebhookPayload parses a raw webhook body into a typed WebhookPayload.
func ParseWebhookPayload(body string) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON in webhook body: %w", err)
	}

	if payload.Source != "drift" {
		return nil, fmt.Errorf("unknown webhook source: %s", payload.Source)
	}
	if payload.Sender.ID == "" {
		return nil, fmt.Errorf("missing sender field in webhook payload")
	}

	switch payload.Event {
	case WebhookEventMessageNew:
		if payload.Message == nil || payload.Message.ID == "" {
			return nil, fmt.Errorf("missing message field in message.new payload")
		}
	case WebhookEventContactRequest:
		// sender alone is enough
	case WebhookEventGroupInvite:
		if payload.Group == nil || payload.Group.ID == "" {
			return nil, fmt.Errorf("missing group field in group.invite payload")
		}
	case "":
		return nil, fmt.Errorf("missing event field in webhook payload")
	default:
		return nil, fmt.Errorf("unknown webhook event: %s", payload.Event)
	}

	return &payload, nil
}

// ============================================================================
// DriftWebhook
// ============================================================================

// DriftWebhook handles Drift webhook verification, parsing, and dispatch.
type DriftWebhook struct {
	secret   string
	handlers map[string]WebhookHandlerFunc
	fallback WebhookHandlerFunc
}

// NewDriftWebhook creates a new webhook handler. fallback receives payloads
// with no event-specific handler registered; it may be nil.
func NewDriftWebhook(secret string, fallback WebhookHandlerFunc) (*DriftWebhook, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &DriftWebhook{
		secret:   secret,
		handlers: make(map[string]WebhookHandlerFunc),
		fallback: fallback,
	}, nil
}

// OnEvent registers a handler for one event kind, replacing any previous one.
func (w *DriftWebhook) OnEvent(event string, h WebhookHandlerFunc) {
	w.handlers[event] = h
}

// Verify verifies an HMAC-SHA256 signature.
func (w *DriftWebhook) Verify(body, signature string) bool {
	return VerifyWebhookSignature(body, signature, w.secret)
}

// Parse parses a raw body into a typed WebhookPayload.
func (w *DriftWebhook) Parse(body string) (*WebhookPayload, error) {
	return ParseWebhookPayload(body)
}

// Handle processes a webhook request (verify + parse + dispatch).
// Returns the status code and response body for the caller to write.
func (w *DriftWebhook) Handle(body, signature string) (int, any) {
	if !w.Verify(body, signature) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	payload, err := w.Parse(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	handler := w.handlers[payload.Event]
	if handler == nil {
		handler = w.fallback
	}
	if handler != nil {
		if err := handler(payload); err != nil {
			return http.StatusInternalServerError, map[string]string{"error": err.Error()}
		}
	}

	return http.StatusOK, map[string]bool{"ok": true}
}

// HTTPHandler returns an http.Handler that processes webhook requests.
//
// Example:
//
//	wh, _ := drift.NewDriftWebhook("secret", handler)
//	http.Handle("/webhook", wh.HTTPHandler())
func (w *DriftWebhook) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusMethodNotAllowed)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Method not allowed"})
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Failed to read body"})
			return
		}
		defer r.Body.Close()

		body := string(bodyBytes)
		signature := r.Header.Get("X-Drift-Signature")

		statusCode, data := w.Handle(body, signature)

		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(statusCode)
		json.NewEncoder(rw).Encode(data)
	})
}

// HTTPHandlerFunc returns an http.HandlerFunc for convenience.
func (w *DriftWebhook) HTTPHandlerFunc() http.HandlerFunc {
	return w.HTTPHandler().ServeHTTP
}
