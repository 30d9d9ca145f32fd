package drift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func clock(hour, min int) time.Time {
	return time.Date(2026, 3, 10, hour, min, 0, 0, time.Local)
}

func TestNotificationShouldDisplay(t *testing.T) {
	base := DefaultNotificationSettings()

	t.Run("defaults show when unfocused", func(t *testing.T) {
		assert.True(t, base.ShouldDisplay(false, clock(12, 0)))
	})

	t.Run("suppressed when focused", func(t *testing.T) {
		assert.False(t, base.ShouldDisplay(true, clock(12, 0)))
	})

	t.Run("focused but suppression off", func(t *testing.T) {
		s := base
		s.SuppressWhenFocused = false
		assert.True(t, s.ShouldDisplay(true, clock(12, 0)))
	})

	t.Run("disabled entirely", func(t *testing.T) {
		s := base
		s.Enabled = false
		assert.False(t, s.ShouldDisplay(false, clock(12, 0)))
	})
}

func TestNotificationQuietHours(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		at         time.Time
		silenced   bool
	}{
		{"daytime range inside", "09:00", "17:00", clock(12, 0), true},
		{"daytime range before", "09:00", "17:00", clock(8, 59), false},
		{"daytime range at start", "09:00", "17:00", clock(9, 0), true},
		{"daytime range at end", "09:00", "17:00", clock(17, 0), false},
		{"overnight late evening", "22:00", "08:00", clock(23, 30), true},
		{"overnight early morning", "22:00", "08:00", clock(6, 0), true},
		{"overnight midday", "22:00", "08:00", clock(12, 0), false},
		{"overnight at end", "22:00", "08:00", clock(8, 0), false},
		{"start equals end", "08:00", "08:00", clock(8, 0), false},
		{"unparseable start", "late", "08:00", clock(23, 0), false},
		{"unparseable end", "22:00", "8", clock(23, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultNotificationSettings()
			s.QuietHoursEnabled = true
			s.QuietHoursStart = tt.start
			s.QuietHoursEnd = tt.end
			// silenced means ShouldDisplay returns false for an unfocused app
			assert.Equal(t, !tt.silenced, s.ShouldDisplay(false, tt.at))
		})
	}

	t.Run("quiet hours off ignores range", func(t *testing.T) {
		s := DefaultNotificationSettings()
		s.QuietHoursStart = "00:00"
		s.QuietHoursEnd = "23:59"
		assert.True(t, s.ShouldDisplay(false, clock(12, 0)))
	})
}

func TestNotificationBody(t *testing.T) {
	event := NotificationEvent{Kind: NotifyKindMessage, Body: "secret plans"}

	s := DefaultNotificationSettings()
	assert.Equal(t, "secret plans", s.Body(event))

	s.ShowPreview = false
	assert.Equal(t, "New message", s.Body(event))

	// Only message content is redacted.
	invite := NotificationEvent{Kind: NotifyKindGroupInvite, Body: "ana invited you to Weekend plans"}
	assert.Equal(t, invite.Body, s.Body(invite))
}

func TestNotificationFromWebhook(t *testing.T) {
	t.Run("message", func(t *testing.T) {
		ev := NotificationFromWebhook(&WebhookPayload{
			Source:    "drift",
			Event:     WebhookEventMessageNew,
			Timestamp: 1700000000000,
			Sender:    WebhookSender{ID: "u1", Username: "ana"},
			Message: &WebhookMessage{
				ID: "m1", Content: "hi", SenderID: "u1", ReceiverID: "u2",
			},
		})
		assert.Equal(t, NotifyKindMessage, ev.Kind)
		assert.Equal(t, "ana", ev.Title)
		assert.Equal(t, "hi", ev.Body)
		assert.Equal(t, "u1", ev.ChatID)
	})

	t.Run("group message routes to group chat", func(t *testing.T) {
		ev := NotificationFromWebhook(&WebhookPayload{
			Source: "drift",
			Event:  WebhookEventMessageNew,
			Sender: WebhookSender{ID: "u1", Username: "ana"},
			Message: &WebhookMessage{
				ID: "m1", Content: "hi all", SenderID: "u1", GroupID: "g1",
			},
		})
		assert.Equal(t, "g1", ev.ChatID)
	})

	t.Run("contact request", func(t *testing.T) {
		ev := NotificationFromWebhook(&WebhookPayload{
			Source: "drift",
			Event:  WebhookEventContactRequest,
			Sender: WebhookSender{ID: "u1", Username: "ana"},
		})
		assert.Equal(t, NotifyKindContactRequest, ev.Kind)
		assert.Contains(t, ev.Body, "ana")
	})

	t.Run("group invite", func(t *testing.T) {
		ev := NotificationFromWebhook(&WebhookPayload{
			Source: "drift",
			Event:  WebhookEventGroupInvite,
			Sender: WebhookSender{ID: "u1", Username: "ana"},
			Group:  &WebhookGroup{ID: "g1", Name: "Weekend plans"},
		})
		assert.Equal(t, NotifyKindGroupInvite, ev.Kind)
		assert.Contains(t, ev.Body, "Weekend plans")
		assert.Equal(t, "g1", ev.ChatID)
	})

	t.Run("nil payload", func(t *testing.T) {
		assert.Equal(t, NotificationEvent{}, NotificationFromWebhook(nil))
	})

	t.Run("message event without message", func(t *testing.T) {
		ev := NotificationFromWebhook(&WebhookPayload{
			Source: "drift",
			Event:  WebhookEventMessageNew,
			Sender: WebhookSender{ID: "u1", Username: "ana"},
		})
		assert.Equal(t, NotificationEvent{}, ev)
	})

	t.Run("invite event without group", func(t *testing.T) {
		ev := NotificationFromWebhook(&WebhookPayload{
			Source: "drift",
			Event:  WebhookEventGroupInvite,
			Sender: WebhookSender{ID: "u1", Username: "ana"},
		})
		assert.Equal(t, NotificationEvent{}, ev)
	})
}

func TestUnreadCounter(t *testing.T) {
	c := NewUnreadCounter()
	assert.Equal(t, "Drift", c.TrayTooltip())

	c.Increment("chat-1")
	assert.Equal(t, 1, c.Total())
	assert.Equal(t, "Drift - 1 unread message", c.TrayTooltip())

	c.Increment("chat-1")
	c.Increment("chat-2")
	assert.Equal(t, 3, c.Total())
	assert.Equal(t, "Drift - 3 unread messages", c.TrayTooltip())

	c.Clear("chat-1")
	assert.Equal(t, 1, c.Total())

	c.Clear("chat-404") // no-op
	assert.Equal(t, 1, c.Total())
}
