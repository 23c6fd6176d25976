// Package session implements bounded, TTL-expiring conversation history
// with threshold-triggered compaction (§4.9).
package session

import (
	"context"
	"sync"
	"time"

	"github.com/Raudbjorn/ttrpg-llm-core/llm"
)

// Config bounds a session's history and its idle lifetime.
type Config struct {
	MaxMessages int
	MaxTokens   int
	TTL         time.Duration
}

// DefaultConfig returns generous defaults: 200 messages, ~8k tokens,
// 24h idle TTL.
func DefaultConfig() Config {
	return Config{MaxMessages: 200, MaxTokens: 8000, TTL: 24 * time.Hour}
}

// Session is one conversation's persisted state. ProviderID is empty
// when the session is purely local (no server-side session id); when
// set, RemoteID carries the provider's own session/thread identifier
// (§4.9: "sessions are per-provider because only some providers support
// server-side session ids").
type Session struct {
	ID         string
	ProviderID string
	RemoteID   string
	Messages   []llm.Message
	CreatedAt  time.Time
	lastUsed   time.Time
}

func estimateMessageTokens(m llm.Message) int {
	return (len(m.Content) + 3) / 4
}

func estimateTokens(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += estimateMessageTokens(m)
	}
	return total
}

// Summarizer generates a summary message replacing a compacted window.
// Implementations typically call an llm.Provider selected by the router.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []llm.Message) (llm.Message, error)
}

// ProviderSummarizer adapts any llm.Provider into a Summarizer.
type ProviderSummarizer struct {
	Provider llm.Provider
}

// Summarize asks the wrapped provider for a prose summary of msgs.
func (s ProviderSummarizer) Summarize(ctx context.Context, msgs []llm.Message) (llm.Message, error) {
	req := &llm.ChatRequest{
		System: "Summarize the following conversation excerpt concisely, " +
			"preserving names, decisions, and open questions. Output prose only.",
		Messages: msgs,
	}
	resp, err := s.Provider.Completion(ctx, req)
	if err != nil {
		return llm.Message{}, err
	}
	return llm.NewSystemMessage("[compacted summary] " + resp.Content), nil
}

// entry is one bounded, TTL-tracked session slot (the same shape as the
// teacher's local LRU cache node, minus the linked-list since sessions
// are looked up by id only, never evicted by recency order).
type entry struct {
	mu      sync.Mutex
	session *Session
}

// Store is an in-memory, TTL-expiring session store with compaction.
// Grounded on the teacher's llm/cache bounded-map-plus-TTL idiom and
// llm/context's token-budget accumulation loop, adapted from
// tokens-of-history pruning to tokens-of-session compaction.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*entry
	cfg        Config
	summarizer Summarizer
}

// New builds an empty Store. summarizer may be nil; compaction then
// drops the oldest window instead of summarizing it.
func New(cfg Config, summarizer Summarizer) *Store {
	return &Store{sessions: make(map[string]*entry), cfg: cfg, summarizer: summarizer}
}

// Get returns the session for id, or (nil, false) if unknown or expired
// (§4.9 Resumption: "if unknown, a new session is created" — callers
// should follow a missed Get with Create).
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.cfg.TTL > 0 && time.Since(e.session.lastUsed) > s.cfg.TTL {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return nil, false
	}
	cp := *e.session
	return &cp, true
}

// Create starts a new session under id.
func (s *Store) Create(id, providerID string) *Session {
	now := timeNow()
	sess := &Session{ID: id, ProviderID: providerID, CreatedAt: now, lastUsed: now}
	s.mu.Lock()
	s.sessions[id] = &entry{session: sess}
	s.mu.Unlock()
	cp := *sess
	return &cp
}

// timeNow is a seam for future fake-clock tests; today it is wall time.
func timeNow() time.Time { return time.Now() }

// Append adds messages to a session's history, then compacts if the
// configured max-messages or max-tokens threshold is exceeded (§4.9).
func (s *Store) Append(ctx context.Context, id string, msgs ...llm.Message) error {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.Messages = append(e.session.Messages, msgs...)
	e.session.lastUsed = timeNow()

	needsCompaction := (s.cfg.MaxMessages > 0 && len(e.session.Messages) > s.cfg.MaxMessages) ||
		(s.cfg.MaxTokens > 0 && estimateTokens(e.session.Messages) > s.cfg.MaxTokens)
	if !needsCompaction {
		return nil
	}
	return s.compactLocked(ctx, e.session)
}

// compactLocked replaces the oldest half of history with a generated
// summary (recursively: a summary message can itself be re-summarized
// on a later compaction, per §4.9). Caller holds e.mu.
func (s *Store) compactLocked(ctx context.Context, sess *Session) error {
	if len(sess.Messages) < 2 {
		return nil
	}
	cut := len(sess.Messages) / 2
	oldWindow := sess.Messages[:cut]
	rest := sess.Messages[cut:]

	if s.summarizer == nil {
		sess.Messages = rest
		return nil
	}

	summary, err := s.summarizer.Summarize(ctx, oldWindow)
	if err != nil {
		// Summarization failure degrades to a hard drop rather than
		// blocking the caller's request.
		sess.Messages = rest
		return nil
	}
	sess.Messages = append([]llm.Message{summary}, rest...)
	return nil
}

// Delete removes a session.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// SweepExpired removes every session idle longer than the configured
// TTL; intended to run on a ticker.
func (s *Store) SweepExpired() int {
	if s.cfg.TTL <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.sessions {
		e.mu.Lock()
		expired := time.Since(e.session.lastUsed) > s.cfg.TTL
		e.mu.Unlock()
		if expired {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}
