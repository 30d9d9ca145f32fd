package drift

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// Notification Settings
// ============================================================================

// NotificationSettings controls if and how incoming events are surfaced as
// desktop notifications. Quiet hours use local wall-clock "HH:MM" strings and
// may span midnight (start later than end).
type NotificationSettings struct {
	Enabled             bool   `json:"enabled" toml:"enabled"`
	SoundEnabled        bool   `json:"soundEnabled" toml:"sound_enabled"`
	ShowPreview         bool   `json:"showPreview" toml:"show_preview"`
	SuppressWhenFocused bool   `json:"suppressWhenFocused" toml:"suppress_when_focused"`
	QuietHoursEnabled   bool   `json:"quietHoursEnabled" toml:"quiet_hours_enabled"`
	QuietHoursStart     string `json:"quietHoursStart" toml:"quiet_hours_start"`
	QuietHoursEnd       string `json:"quietHoursEnd" toml:"quiet_hours_end"`
}

// DefaultNotificationSettings returns the out-of-the-box settings.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		Enabled:             true,
		SoundEnabled:        true,
		ShowPreview:         true,
		SuppressWhenFocused: true,
		QuietHoursEnabled:   false,
		QuietHoursStart:     "22:00",
		QuietHoursEnd:       "08:00",
	}
}

// ShouldDisplay reports whether a notification should be shown right now.
// focused is whether the app window currently has focus.
func (s NotificationSettings) ShouldDisplay(focused bool, now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if focused && s.SuppressWhenFocused {
		return false
	}
	if s.QuietHoursEnabled && s.inQuietHours(now) {
		return false
	}
	return true
}

func (s NotificationSettings) inQuietHours(now time.Time) bool {
	start, ok := parseClock(s.QuietHoursStart)
	if !ok {
		return false
	}
	end, ok := parseClock(s.QuietHoursEnd)
	if !ok {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if start == end {
		return false
	}
	if start < end {
		return cur >= start && cur < end
	}
	// Overnight range, e.g. 22:00 to 08:00.
	return cur >= start || cur < end
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// ============================================================================
// Notification Events
// ============================================================================

// Notification event kinds.
const (
	NotifyKindMessage        = "message"
	NotifyKindContactRequest = "contact_request"
	NotifyKindGroupInvite    = "group_invite"
)

// NotificationEvent is a displayable notification derived from an incoming
// message or webhook payload.
type NotificationEvent struct {
	ID        string
	Kind      string
	Title     string
	Body      string
	ChatID    string
	SenderID  string
	Timestamp time.Time
}

// Body returns the notification body for an event, redacting message content
// when previews are disabled.
func (s NotificationSettings) Body(event NotificationEvent) string {
	if event.Kind == NotifyKindMessage && !s.ShowPreview {
		return "New message"
	}
	return event.Body
}

// NotificationFromWebhook builds a NotificationEvent from a webhook payload.
// Payloads missing the fields their event kind requires (a message.new with
// no message, a group.invite with no group) yield a zero event.
func NotificationFromWebhook(p *WebhookPayload) NotificationEvent {
	if p == nil {
		return NotificationEvent{}
	}
	ev := NotificationEvent{
		SenderID:  p.Sender.ID,
		Timestamp: time.UnixMilli(p.Timestamp),
	}
	switch p.Event {
	case WebhookEventMessageNew:
		if p.Message == nil {
			return NotificationEvent{}
		}
		ev.Kind = NotifyKindMessage
		ev.ID = p.Message.ID
		ev.Title = p.Sender.Username
		ev.Body = p.Message.Content
		if p.Message.GroupID != "" {
			ev.ChatID = p.Message.GroupID
		} else {
			ev.ChatID = p.Message.SenderID
		}
	case WebhookEventContactRequest:
		ev.Kind = NotifyKindContactRequest
		ev.Title = "Contact request"
		ev.Body = p.Sender.Username + " wants to connect"
		ev.ChatID = p.Sender.ID
	case WebhookEventGroupInvite:
		if p.Group == nil {
			return NotificationEvent{}
		}
		ev.Kind = NotifyKindGroupInvite
		ev.Title = "Group invite"
		ev.Body = p.Sender.Username + " invited you to " + p.Group.Name
		ev.ChatID = p.Group.ID
	}
	return ev
}

// ============================================================================
// Unread Counter
// ============================================================================

// UnreadCounter tracks per-conversation unread counts, feeding the tray
// tooltip and badge.
type UnreadCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewUnreadCounter creates an empty counter.
func NewUnreadCounter() *UnreadCounter {
	return &UnreadCounter{counts: make(map[string]int)}
}

// Increment bumps the unread count for a conversation.
func (c *UnreadCounter) Increment(chatID string) {
	c.mu.Lock()
	c.counts[chatID]++
	c.mu.Unlock()
}

// Clear resets the unread count for a conversation, typically on read.
func (c *UnreadCounter) Clear(chatID string) {
	c.mu.Lock()
	delete(c.counts, chatID)
	c.mu.Unlock()
}

// Total returns the total unread count across all conversations.
func (c *UnreadCounter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.counts {
		total += n
	}
	return total
}

// TrayTooltip returns the tray tooltip string for the current total.
func (c *UnreadCounter) TrayTooltip() string {
	total := c.Total()
	switch total {
	case 0:
		return "Drift"
	case 1:
		return "Drift - 1 unread message"
	default:
		return fmt.Sprintf("Drift - %d unread messages", total)
	}
}
