package drift

import (
	"crypto/rand"
	"fmt"
	"sort"
	"time"
)

// MatchWindow bounds how far apart an optimistic entry's local timestamp and a
// candidate server message's creation time may be while still being treated as
// the same logical message. The window is symmetric: a server clock running
// behind the client is as acceptable as one running ahead.
const MatchWindow = 45 * time.Second

// ============================================================================
// Target
// ============================================================================

// Target identifies the conversation a view or operation applies to:
// a direct peer or a group, never both.
type Target struct {
	UserID  string
	GroupID string
}

// DirectTarget returns a target for a direct conversation with userID.
func DirectTarget(userID string) Target { return Target{UserID: userID} }

// GroupTarget returns a target for a group conversation.
func GroupTarget(groupID string) Target { return Target{GroupID: groupID} }

// Valid reports whether exactly one of the peer and group fields is set.
func (t Target) Valid() bool {
	return (t.UserID != "") != (t.GroupID != "")
}

// ============================================================================
// Optimistic entry
// ============================================================================

// OptimisticMessage is a local-only message shown to the sender before the
// server confirms it. ClientID is the only stable key it has until promotion.
type OptimisticMessage struct {
	ClientID       string
	SenderID       string
	ReceiverID     string
	GroupID        string
	Content        string
	Kind           MessageKind
	File           *FileAttrs
	LocalCreatedAt time.Time

	IsOptimistic bool
	IsSending    bool
	SendError    string // set exclusively of IsSending

	// SendingSince records when the entry last went in-flight; zero while
	// IsSending is false. Used by ExpireSending.
	SendingSince time.Time
}

// ReconciledMessage is one entry of the merged list handed to the UI: either a
// server-confirmed message or a still-pending/failed optimistic one.
// ClientKey is stable across promotion so the rendered element never remounts.
type ReconciledMessage struct {
	Server     *Message
	Optimistic *OptimisticMessage
	ClientKey  string
}

// Time returns the entry's effective timestamp: server creation time for
// confirmed messages, the local clock for optimistic ones.
func (r *ReconciledMessage) Time() time.Time {
	if r.Server != nil {
		return r.Server.CreatedAt()
	}
	return r.Optimistic.LocalCreatedAt
}

// Content returns the entry's textual content.
func (r *ReconciledMessage) Content() string {
	if r.Server != nil {
		return r.Server.Content
	}
	return r.Optimistic.Content
}

// Pending reports whether the entry is an unconfirmed optimistic message.
func (r *ReconciledMessage) Pending() bool { return r.Optimistic != nil }

// Failed reports whether the entry is an optimistic message whose send
// failed.
func (r *ReconciledMessage) Failed() bool {
	return r.Optimistic != nil && r.Optimistic.SendError != ""
}

// ============================================================================
// OptimisticSet (lifecycle manager)
// ============================================================================

// OptimisticSet holds the optimistic entries of a single conversation view.
// It is a plain collection with no locking of its own: it is owned exclusively
// by one view, which serializes access. All mutations are total: they never
// fail, and unknown client IDs are no-ops.
type OptimisticSet struct {
	senderID string
	target   Target
	entries  []*OptimisticMessage
}

// NewOptimisticSet creates a set bound to the given sender and target.
func NewOptimisticSet(senderID string, target Target) *OptimisticSet {
	return &OptimisticSet{senderID: senderID, target: target}
}

// Rebind points the set at a new sender/target and discards every entry.
// Optimistic entries are scoped to one conversation and must not survive
// a conversation switch.
func (s *OptimisticSet) Rebind(senderID string, target Target) {
	s.senderID = senderID
	s.target = target
	s.entries = nil
}

// Add inserts a new optimistic entry and returns its client ID.
// It returns "" without mutating anything when no sender identity is
// resolvable or the target is not exactly one of {peer, group}; callers are
// expected to have validated a send target before offering a send action.
func (s *OptimisticSet) Add(content string, kind MessageKind, file *FileAttrs) string {
	if s.senderID == "" || !s.target.Valid() {
		return ""
	}
	if kind == "" {
		kind = KindText
	}
	entry := &OptimisticMessage{
		ClientID:       NewClientID(),
		SenderID:       s.senderID,
		ReceiverID:     s.target.UserID,
		GroupID:        s.target.GroupID,
		Content:        content,
		Kind:           kind,
		File:           file,
		LocalCreatedAt: time.Now(),
		IsOptimistic:   true,
	}
	s.entries = append(s.entries, entry)
	return entry.ClientID
}

// MarkSent records that the network mutation completed. The entry stays until
// reconciliation against the server list removes it (or Remove is called).
func (s *OptimisticSet) MarkSent(clientID string) {
	if e := s.find(clientID); e != nil {
		e.IsSending = false
		e.SendingSince = time.Time{}
	}
}

// MarkFailed records a failed send attempt with a human-readable message.
func (s *OptimisticSet) MarkFailed(clientID, errMsg string) {
	if e := s.find(clientID); e != nil {
		e.IsSending = false
		e.SendError = errMsg
		e.SendingSince = time.Time{}
	}
}

// Remove deletes the entry outright.
func (s *OptimisticSet) Remove(clientID string) {
	for i, e := range s.entries {
		if e.ClientID == clientID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// Retry clears the failure state and marks the entry in-flight again. It does
// not re-issue the network call; the caller does that upon observing the
// state change, so the UI reflects "retrying" immediately.
func (s *OptimisticSet) Retry(clientID string) {
	if e := s.find(clientID); e != nil {
		e.SendError = ""
		e.IsSending = true
		e.SendingSince = time.Now()
	}
}

// ExpireSending sweeps entries that have been in-flight longer than olderThan
// into the failed state. The set owns no timer; owners opt in by calling this
// periodically so a caller that never reports an outcome cannot leave an entry
// "sending" forever.
func (s *OptimisticSet) ExpireSending(olderThan time.Duration, reason string) int {
	cutoff := time.Now().Add(-olderThan)
	n := 0
	for _, e := range s.entries {
		since := e.SendingSince
		if since.IsZero() {
			since = e.LocalCreatedAt
		}
		if e.IsSending && since.Before(cutoff) {
			e.IsSending = false
			e.SendError = reason
			e.SendingSince = time.Time{}
			n++
		}
	}
	return n
}

// Get returns a copy of the entry with the given client ID.
func (s *OptimisticSet) Get(clientID string) (OptimisticMessage, bool) {
	if e := s.find(clientID); e != nil {
		return *e, true
	}
	return OptimisticMessage{}, false
}

// Snapshot returns copies of all entries in insertion order.
func (s *OptimisticSet) Snapshot() []OptimisticMessage {
	out := make([]OptimisticMessage, len(s.entries))
	for i, e := range s.entries {
		out[i] = *e
	}
	return out
}

// Len returns the number of entries.
func (s *OptimisticSet) Len() int { return len(s.entries) }

func (s *OptimisticSet) find(clientID string) *OptimisticMessage {
	for _, e := range s.entries {
		if e.ClientID == clientID {
			return e
		}
	}
	return nil
}

// ============================================================================
// Reconciler
// ============================================================================

// Reconcile merges the server's live message list with the view's optimistic
// entries into the single ordered list the UI renders.
//
// Each optimistic entry is matched against at most one server message by
// sender, target, content, and timestamp proximity (within MatchWindow, in
// either direction). A matched entry is dropped in favor of the server copy,
// which carries the entry's ClientID as its ClientKey. Unmatched entries are
// retained whether in-flight or failed; a failed send must never silently
// disappear because unrelated server messages arrived. The result is sorted
// ascending by effective timestamp. Re-running on unchanged input yields an
// identical list.
func Reconcile(server []Message, optimistic []OptimisticMessage) []ReconciledMessage {
	consumed := make([]bool, len(server))
	clientKeys := make(map[string]string, len(optimistic))

	var retained []OptimisticMessage
	for _, opt := range optimistic {
		idx := -1
		for i := range server {
			if consumed[i] {
				continue
			}
			if matches(&server[i], &opt) {
				idx = i
				break
			}
		}
		if idx >= 0 {
			consumed[idx] = true
			clientKeys[server[idx].ID] = opt.ClientID
		} else {
			retained = append(retained, opt)
		}
	}

	out := make([]ReconciledMessage, 0, len(server)+len(retained))
	for i := range server {
		msg := server[i]
		key := clientKeys[msg.ID]
		if key == "" {
			key = msg.ID
		}
		out = append(out, ReconciledMessage{Server: &msg, ClientKey: key})
	}
	for i := range retained {
		opt := retained[i]
		out = append(out, ReconciledMessage{Optimistic: &opt, ClientKey: opt.ClientID})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time().Before(out[j].Time())
	})
	return out
}

// matches reports whether a server message is the confirmed counterpart of an
// optimistic entry. Matching is sender+target+content qualified, never
// content-only, so unrelated messages with identical text cannot cross-match.
// Server records with missing target fields simply never match and pass
// through the merge untouched.
func matches(sm *Message, opt *OptimisticMessage) bool {
	if sm.SenderID == "" || sm.SenderID != opt.SenderID {
		return false
	}
	switch {
	case opt.ReceiverID != "":
		if sm.ReceiverID != opt.ReceiverID {
			return false
		}
	case opt.GroupID != "":
		if sm.GroupID != opt.GroupID {
			return false
		}
	default:
		return false
	}
	if sm.Content != opt.Content {
		return false
	}
	d := sm.CreatedAt().Sub(opt.LocalCreatedAt)
	if d < 0 {
		d = -d
	}
	return d <= MatchWindow
}

// ============================================================================
// Client IDs
// ============================================================================

// NewClientID generates a v4 UUID used as the client-local message identifier.
// No ordering guarantee, only uniqueness.
func NewClientID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d-%d", time.Now().UnixNano(), time.Now().UnixMilli())
	}
	b[6] = (b[6] & 0x0f) | 0x40 // Version 4
	b[8] = (b[8] & 0x3f) | 0x80 // Variant 10
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
