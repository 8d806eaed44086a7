package memory

import (
	"sync"

	"quizroom/internal/app"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[int64]*app.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[int64]*app.Session),
	}
}

// GetOrCreate returns the live session, replacing one that was closed but not
// yet removed.
func (s *SessionStore) GetOrCreate(sessionID int64, create func() *app.Session) *app.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[sessionID]; ok && !session.Closed() {
		return session
	}
	session := create()
	s.sessions[sessionID] = session
	return session
}

func (s *SessionStore) Get(sessionID int64) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok || session.Closed() {
		return nil, false
	}
	return session, true
}

// DeleteIfIdle closes and removes an idle session. CloseIfIdle waits on the
// session lock, so it runs without the store lock held.
func (s *SessionStore) DeleteIfIdle(sessionID int64) {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok || !session.CloseIfIdle() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[sessionID] == session {
		delete(s.sessions, sessionID)
	}
}

// Len reports how many sessions are live.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
