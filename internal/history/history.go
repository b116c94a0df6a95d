// Package history keeps bounded per-session conversation context in memory.
package history

import (
	"sync"
	"time"

	"github.com/hunterwarburton/kbot/internal/core"
)

// DefaultMaxTurns is the per-session history cap.
const DefaultMaxTurns = 20

// Store is an in-memory core.HistoryStore. Sessions are independent; turns
// within one session are appended under that session's lock so concurrent
// writers serialize without blocking other sessions.
type Store struct {
	maxTurns int

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	mu    sync.Mutex
	turns []core.ConversationTurn
}

// NewStore creates a Store holding at most maxTurns turns per session.
func NewStore(maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Store{
		maxTurns: maxTurns,
		sessions: make(map[string]*session),
	}
}

// AddTurn appends a turn to the session, evicting the oldest turn once the
// cap is reached.
func (s *Store) AddTurn(sessionID string, role core.Role, content string, metadata map[string]interface{}) {
	turn := core.ConversationTurn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}

	sess := s.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.turns = append(sess.turns, turn)
	if len(sess.turns) > s.maxTurns {
		overflow := len(sess.turns) - s.maxTurns
		sess.turns = append(sess.turns[:0], sess.turns[overflow:]...)
	}
}

// GetContext returns a copy of the session's most recent turns, oldest
// first. maxTurns <= 0 means all stored turns. An unknown session yields an
// empty slice.
func (s *Store) GetContext(sessionID string, maxTurns int) []core.ConversationTurn {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	turns := sess.turns
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	out := make([]core.ConversationTurn, len(turns))
	copy(out, turns)
	return out
}

// Clear drops all turns for the session.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

func (s *Store) session(sessionID string) *session {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok = s.sessions[sessionID]; ok {
		return sess
	}
	sess = &session{}
	s.sessions[sessionID] = sess
	return sess
}
