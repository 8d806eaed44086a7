package app

import (
	"sync"

	"quizroom/internal/domain"
)

// Membership describes one connection joined to a session room. Observer
// memberships (coordinator screens) carry no participant.
type Membership struct {
	ConnID      string
	SessionID   int64
	Participant *domain.Participant
}

// Observer reports whether the connection only watches the room.
func (m Membership) Observer() bool {
	return m.Participant == nil
}

// Registry maps session ids to the connections currently in their room.
type Registry struct {
	mu      sync.RWMutex
	members map[string]*Membership
	rooms   map[int64][]string // connection ids in join order
}

func NewRegistry() *Registry {
	return &Registry{
		members: make(map[string]*Membership),
		rooms:   make(map[int64][]string),
	}
}

// Join adds connID to the session roster as a participant. The participant id
// is the connection id. A connection belongs to at most one room; joining
// again moves it.
func (r *Registry) Join(sessionID int64, connID, displayName string) domain.Participant {
	participant := domain.Participant{
		ID:          connID,
		DisplayName: displayName,
		SessionID:   sessionID,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(connID)
	r.members[connID] = &Membership{ConnID: connID, SessionID: sessionID, Participant: &participant}
	r.rooms[sessionID] = append(r.rooms[sessionID], connID)
	return participant
}

// Watch adds connID to the session room without creating a participant.
func (r *Registry) Watch(sessionID int64, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(connID)
	r.members[connID] = &Membership{ConnID: connID, SessionID: sessionID}
	r.rooms[sessionID] = append(r.rooms[sessionID], connID)
}

// Leave removes the connection from its room and returns what it was.
func (r *Registry) Leave(connID string) (Membership, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(connID)
}

func (r *Registry) removeLocked(connID string) (Membership, bool) {
	m, ok := r.members[connID]
	if !ok {
		return Membership{}, false
	}
	delete(r.members, connID)
	room := r.rooms[m.SessionID]
	for i, id := range room {
		if id == connID {
			room = append(room[:i], room[i+1:]...)
			break
		}
	}
	if len(room) == 0 {
		delete(r.rooms, m.SessionID)
	} else {
		r.rooms[m.SessionID] = room
	}
	return *m, true
}

// Lookup returns the connection's membership.
func (r *Registry) Lookup(connID string) (Membership, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[connID]
	if !ok {
		return Membership{}, false
	}
	return *m, true
}

// Roster lists the session's participants in join order.
func (r *Registry) Roster(sessionID int64) []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roster := make([]domain.Participant, 0, len(r.rooms[sessionID]))
	for _, connID := range r.rooms[sessionID] {
		if m := r.members[connID]; m != nil && m.Participant != nil {
			roster = append(roster, *m.Participant)
		}
	}
	return roster
}

// Connections lists every connection in the session room, observers included.
func (r *Registry) Connections(sessionID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.rooms[sessionID]...)
}
