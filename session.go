package drift

import (
	"context"
	"sync"
	"time"
)

// Session drives one conversation end to end: it owns a ConversationView,
// creates optimistic entries for outgoing messages, issues the send mutation,
// and feeds live server state back into the view. A UI renders whatever the
// view publishes and never talks to the transport directly.
type Session struct {
	client *Client
	view   *ConversationView
	userID string

	feedMu   sync.Mutex
	attached map[*RealtimeClient]bool
}

// NewSession creates a session for the given conversation target. userID is
// the authenticated user, stamped onto optimistic entries as the sender.
func NewSession(client *Client, userID string, target Target) *Session {
	return &Session{
		client:   client,
		view:     NewConversationView(userID, target),
		userID:   userID,
		attached: make(map[*RealtimeClient]bool),
	}
}

// View returns the session's conversation view.
func (s *Session) View() *ConversationView { return s.view }

// SwitchTarget moves the session to a different conversation. Optimistic
// entries for the previous target are discarded; callers should re-issue
// WatchMessages for the new target.
func (s *Session) SwitchTarget(target Target) {
	s.view.SetTarget(s.userID, target)
}

// Send creates an optimistic entry for the message, makes it visible
// immediately, then issues the send mutation. On success the entry is marked
// sent and waits for the server copy to arrive over the live feed; on failure
// it is marked failed and stays visible so the user can retry or discard.
// The returned client ID identifies the entry in either case.
func (s *Session) Send(ctx context.Context, content string, kind MessageKind, file *FileAttrs) (string, error) {
	clientID := s.view.AddOptimisticMessage(content, kind, file)
	if clientID == "" {
		return "", &APIError{Code: "invalid_target", Message: "conversation target is not set"}
	}
	return clientID, s.deliver(ctx, clientID)
}

// Retry re-sends a previously failed message. The entry flips back to the
// sending state before the mutation is issued, so the UI reflects the retry
// immediately.
func (s *Session) Retry(ctx context.Context, clientID string) error {
	if _, ok := s.view.OptimisticMessage(clientID); !ok {
		return &APIError{Code: "not_found", Message: "no optimistic message with that client id"}
	}
	return s.deliver(ctx, clientID)
}

// Discard removes a failed optimistic message without sending it.
func (s *Session) Discard(clientID string) {
	s.view.RemoveOptimisticMessage(clientID)
}

func (s *Session) deliver(ctx context.Context, clientID string) error {
	s.view.RetryOptimisticMessage(clientID)

	entry, ok := s.view.OptimisticMessage(clientID)
	if !ok {
		return &APIError{Code: "not_found", Message: "no optimistic message with that client id"}
	}

	result, err := s.client.Chat().Messages.Send(ctx, &SendMessageOptions{
		ReceiverID: entry.ReceiverID,
		GroupID:    entry.GroupID,
		Content:    entry.Content,
		Kind:       entry.Kind,
		File:       entry.File,
	})
	if err != nil {
		s.view.MarkOptimisticMessageFailed(clientID, err.Error())
		return err
	}
	if !result.OK {
		apiErr := result.Error
		if apiErr == nil {
			apiErr = &APIError{Code: "unknown", Message: "request rejected"}
		}
		s.view.MarkOptimisticMessageFailed(clientID, apiErr.Error())
		return apiErr
	}

	s.view.MarkOptimisticMessageSent(clientID)
	return nil
}

// Watch subscribes the session to the live message feed and pumps state
// pushes for its target into the view. It blocks until the context is
// cancelled. Pushes for other conversations are ignored.
func (s *Session) Watch(ctx context.Context, rt *RealtimeClient) error {
	s.attachFeed(rt)

	if err := rt.WatchMessages(ctx, s.view.Target()); err != nil {
		return err
	}

	<-ctx.Done()
	return ctx.Err()
}

// attachFeed registers the state-frame handler at most once per realtime
// client, so Watch calls across target switches do not stack handlers. The
// handler filters on the view's current target at delivery time.
func (s *Session) attachFeed(rt *RealtimeClient) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if s.attached[rt] {
		return
	}
	s.attached[rt] = true
	rt.OnMessagesState(func(p MessagesStatePayload) {
		if p.Target() != s.view.Target() {
			return
		}
		s.view.SetServerMessages(p.Messages)
	})
}

// SweepStuckSending periodically fails entries that have been in the sending
// state longer than olderThan. It runs until the context is cancelled. Most
// callers do not need this; it is a safety net for transports that can hang
// without returning an error.
func (s *Session) SweepStuckSending(ctx context.Context, every, olderThan time.Duration, reason string) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.view.ExpireStuckSending(olderThan, reason)
		}
	}
}
