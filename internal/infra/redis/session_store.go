package redis

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"quizroom/internal/app"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Sessions (their timers and locks) stay in process; Redis carries a liveness
// marker per session so operators and other instances can see which rooms are open.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[int64]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[int64]*app.Session),
	}
}

func (s *SessionStore) GetOrCreate(sessionID int64, create func() *app.Session) *app.Session {
	s.mu.Lock()
	if session, ok := s.sessions[sessionID]; ok && !session.Closed() {
		s.mu.Unlock()
		return session
	}
	session := create()
	s.sessions[sessionID] = session
	s.mu.Unlock()

	// best-effort liveness marker, written outside the store lock
	_ = s.client.Set(context.Background(), sessionKey(sessionID), "1", s.ttl).Err()
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

func (s *SessionStore) DeleteIfIdle(sessionID int64) {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok || !session.CloseIfIdle() {
		return
	}

	s.mu.Lock()
	removed := s.sessions[sessionID] == session
	if removed {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if removed {
		_ = s.client.Del(context.Background(), sessionKey(sessionID)).Err()
	}
}

func sessionKey(sessionID int64) string {
	return "quiz:session:" + strconv.FormatInt(sessionID, 10)
}
