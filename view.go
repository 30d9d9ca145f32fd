package drift

import (
	"sync"
	"time"
)

// ViewState is the single reactive value a conversation view exposes to the
// UI: the merged message list plus whether the server's initial list for the
// current target has arrived yet.
type ViewState struct {
	Messages  []ReconciledMessage
	IsLoading bool
}

// ViewSubscriber receives a fresh ViewState after every change.
type ViewSubscriber func(ViewState)

// ConversationView assembles the reconciled message list for one conversation.
// It is the exclusive owner of that conversation's optimistic entries and the
// single consumer of the server's live message list; every mutation or server
// push recomputes the merged view and republishes it to subscribers.
//
// All methods are safe for concurrent use, though in a typical client they
// run on one event loop.
type ConversationView struct {
	mu     sync.Mutex
	opt    *OptimisticSet
	server []Message // nil until the first server push for the current target
	subs   map[int]ViewSubscriber
	nextID int
}

// NewConversationView creates a view for the given user and target.
func NewConversationView(currentUserID string, target Target) *ConversationView {
	return &ConversationView{
		opt:  NewOptimisticSet(currentUserID, target),
		subs: make(map[int]ViewSubscriber),
	}
}

// SetTarget switches the view to a different conversation. All optimistic
// entries of the previous conversation are discarded and the server list is
// reset to loading until the new target's list arrives.
func (v *ConversationView) SetTarget(currentUserID string, target Target) {
	v.mu.Lock()
	v.opt.Rebind(currentUserID, target)
	v.server = nil
	v.mu.Unlock()
	v.publish()
}

// SetServerMessages replaces the server's live message list. Pass nil while
// the query is still loading and an empty slice for "loaded, empty". The
// slice is copied; the caller's data is never mutated.
func (v *ConversationView) SetServerMessages(msgs []Message) {
	v.mu.Lock()
	if msgs == nil {
		v.server = nil
	} else {
		v.server = append(make([]Message, 0, len(msgs)), msgs...)
	}
	v.mu.Unlock()
	v.publish()
}

// Target returns the conversation target the view is bound to.
func (v *ConversationView) Target() Target {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.opt.target
}

// Snapshot recomputes and returns the current merged view.
func (v *ConversationView) Snapshot() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *ConversationView) snapshotLocked() ViewState {
	if v.server == nil {
		// Still show the sender's own pending messages while loading.
		return ViewState{
			Messages:  Reconcile(nil, v.opt.Snapshot()),
			IsLoading: true,
		}
	}
	return ViewState{Messages: Reconcile(v.server, v.opt.Snapshot())}
}

// Subscribe registers a callback invoked with a fresh snapshot after every
// change. The returned function unsubscribes it.
func (v *ConversationView) Subscribe(fn ViewSubscriber) func() {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = fn
	v.mu.Unlock()
	return func() {
		v.mu.Lock()
		delete(v.subs, id)
		v.mu.Unlock()
	}
}

func (v *ConversationView) publish() {
	v.mu.Lock()
	state := v.snapshotLocked()
	subs := make([]ViewSubscriber, 0, len(v.subs))
	for _, fn := range v.subs {
		subs = append(subs, fn)
	}
	v.mu.Unlock()
	for _, fn := range subs {
		fn(state)
	}
}

// ============================================================================
// Optimistic operations
// ============================================================================

// AddOptimisticMessage inserts a local echo of a message about to be sent and
// returns its client ID, or "" when the view has no resolvable sender or
// valid target. The merged view gains the entry immediately.
func (v *ConversationView) AddOptimisticMessage(content string, kind MessageKind, file *FileAttrs) string {
	v.mu.Lock()
	id := v.opt.Add(content, kind, file)
	v.mu.Unlock()
	if id != "" {
		v.publish()
	}
	return id
}

// MarkOptimisticMessageSent records that the mutation completed.
func (v *ConversationView) MarkOptimisticMessageSent(clientID string) {
	v.mu.Lock()
	v.opt.MarkSent(clientID)
	v.mu.Unlock()
	v.publish()
}

// MarkOptimisticMessageFailed records a failed send for display and retry.
func (v *ConversationView) MarkOptimisticMessageFailed(clientID, errMsg string) {
	v.mu.Lock()
	v.opt.MarkFailed(clientID, errMsg)
	v.mu.Unlock()
	v.publish()
}

// RemoveOptimisticMessage abandons the entry outright.
func (v *ConversationView) RemoveOptimisticMessage(clientID string) {
	v.mu.Lock()
	v.opt.Remove(clientID)
	v.mu.Unlock()
	v.publish()
}

// RetryOptimisticMessage clears the failure state and flips the entry back to
// sending; re-issuing the network call is the caller's job.
func (v *ConversationView) RetryOptimisticMessage(clientID string) {
	v.mu.Lock()
	v.opt.Retry(clientID)
	v.mu.Unlock()
	v.publish()
}

// OptimisticMessage returns a copy of the optimistic entry with the given
// client ID, if it still exists.
func (v *ConversationView) OptimisticMessage(clientID string) (OptimisticMessage, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.opt.Get(clientID)
}

// ExpireStuckSending fails entries that have been in-flight longer than
// olderThan. Returns how many were expired.
func (v *ConversationView) ExpireStuckSending(olderThan time.Duration, reason string) int {
	v.mu.Lock()
	n := v.opt.ExpireSending(olderThan, reason)
	v.mu.Unlock()
	if n > 0 {
		v.publish()
	}
	return n
}
