package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultCapacity is the per-thread history length used when none is set.
const DefaultCapacity = 100

// Addressing describes who a message involves, for fan-out resolution.
type Addressing struct {
	AuthorID string
	// ReplyToAuthorID is the author of the message being replied to, if any.
	ReplyToAuthorID string
	// MentionedAssistant is set when the assistant was directly mentioned.
	MentionedAssistant bool
}

// Store owns the map from participant id to Thread.
type Store struct {
	assistantID string
	capacity    int
	logger      *slog.Logger

	mu      sync.RWMutex
	threads map[string]*Thread
}

// NewStore creates an empty store. assistantID is the identity whose thread
// collects messages that address or reply to the assistant.
func NewStore(capacity int, assistantID string, logger *slog.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		assistantID: assistantID,
		capacity:    capacity,
		logger:      logger.With("component", "session"),
		threads:     make(map[string]*Thread),
	}
}

// AssistantID returns the assistant identity the store fans out to.
func (s *Store) AssistantID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assistantID
}

// SetAssistantID updates the assistant identity once the channel client has
// authenticated.
func (s *Store) SetAssistantID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assistantID = id
}

// Capacity returns the per-thread capacity.
func (s *Store) Capacity() int { return s.capacity }

// EnsureThread returns the thread for id, creating it on first contact.
// Concurrent callers for the same id always receive the same thread.
func (s *Store) EnsureThread(id string) *Thread {
	s.mu.RLock()
	t, ok := s.threads[id]
	s.mu.RUnlock()
	if ok {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[id]; ok {
		return t
	}
	t = NewThread(id, s.capacity)
	s.threads[id] = t
	s.logger.Debug("Thread created", "participant", id)
	return t
}

// Thread looks up an existing thread without creating one.
func (s *Store) Thread(id string) (*Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	return t, ok
}

// RecordMessage inserts msg into the thread of every participant. A thread
// that already holds msg.MessageID is left untouched. It returns false when
// msg has no id or content, or when there is nobody to record it for.
func (s *Store) RecordMessage(msg Message, participants []string) bool {
	if msg.MessageID == "" || msg.Content == "" {
		s.logger.Warn("Refusing to record invalid message", "message_id", msg.MessageID)
		return false
	}
	recorded := 0
	for _, id := range dedupe(participants) {
		if id == "" {
			continue
		}
		if s.EnsureThread(id).AddMessage(msg) {
			s.logger.Debug("Message recorded", "participant", id, "message_id", msg.MessageID)
		}
		recorded++
	}
	return recorded > 0
}

// ResolveFanoutTargets returns the sorted set of thread owners that must
// receive a message with the given addressing. Rules are unioned:
// the author always, a replied-to participant, the assistant when replied
// to, and the assistant when mentioned.
func (s *Store) ResolveFanoutTargets(a Addressing) []string {
	s.mu.RLock()
	assistant := s.assistantID
	s.mu.RUnlock()

	set := make(map[string]struct{}, 3)
	if a.AuthorID != "" {
		set[a.AuthorID] = struct{}{}
	}
	repliedToAssistant := false
	if a.ReplyToAuthorID != "" {
		if assistant != "" && a.ReplyToAuthorID == assistant {
			repliedToAssistant = true
		}
		set[a.ReplyToAuthorID] = struct{}{}
	}
	if a.MentionedAssistant && !repliedToAssistant && assistant != "" {
		set[assistant] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clear empties one thread. False when the thread is unknown or empty.
func (s *Store) Clear(id string) bool {
	t, ok := s.Thread(id)
	if !ok {
		return false
	}
	return t.Clear()
}

// DeleteMessage removes a message from every thread, matching by id. A
// non-zero ts enables a timestamp fallback when no thread holds the id; pass
// it only when stored ids are not the platform's own ids. It returns the
// number of threads changed.
func (s *Store) DeleteMessage(id string, ts time.Time) int {
	threads := s.threadList()
	changed := 0
	for _, t := range threads {
		if t.DeleteMessageByID(id) {
			changed++
		}
	}
	if changed > 0 || ts.IsZero() {
		return changed
	}
	for _, t := range threads {
		if t.DeleteMessageByTimestamp(ts, DefaultDeleteTolerance) {
			changed++
		}
	}
	return changed
}

// ClearAll empties every thread and returns how many had content.
func (s *Store) ClearAll() int {
	cleared := 0
	for _, t := range s.threadList() {
		if t.Clear() {
			cleared++
		}
	}
	return cleared
}

// Snapshot returns a copy of every thread's history keyed by owner.
func (s *Store) Snapshot() map[string][]Message {
	threads := s.threadList()
	out := make(map[string][]Message, len(threads))
	for _, t := range threads {
		out[t.Owner()] = t.Messages()
	}
	return out
}

// Participants returns the sorted ids of every known thread owner.
func (s *Store) Participants() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.threads))
	for id := range s.threads {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Prune removes messages older than cutoff from every thread and returns
// the number of messages removed.
func (s *Store) Prune(cutoff time.Time) int {
	removed := 0
	for _, t := range s.threadList() {
		removed += t.pruneBefore(cutoff)
	}
	if removed > 0 {
		s.logger.Info("Pruned expired messages", "removed", removed, "cutoff", cutoff)
	}
	return removed
}

func (s *Store) threadList() []*Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, t)
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
