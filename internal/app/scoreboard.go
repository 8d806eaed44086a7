package app

import (
	"sort"
	"sync"

	"quizroom/internal/domain"
)

type scoreEntry struct {
	participantID string
	displayName   string
	score         int
	detached      bool
}

// Scoreboard holds cumulative scores for one session and the answered set of
// the active question. Reads are safe without the session lock.
type Scoreboard struct {
	mu       sync.RWMutex
	entries  []*scoreEntry // join order
	byID     map[string]*scoreEntry
	question int64
	answered map[string]struct{}
}

func newScoreboard() *Scoreboard {
	return &Scoreboard{
		byID:     make(map[string]*scoreEntry),
		answered: make(map[string]struct{}),
	}
}

// Add registers a participant with a zero score. Adding twice is a no-op.
func (b *Scoreboard) Add(participantID, displayName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byID[participantID]; ok {
		return
	}
	entry := &scoreEntry{participantID: participantID, displayName: displayName}
	b.entries = append(b.entries, entry)
	b.byID[participantID] = entry
}

// Remove drops the participant's entry. The answered set is left untouched.
func (b *Scoreboard) Remove(participantID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byID[participantID]; !ok {
		return
	}
	delete(b.byID, participantID)
	for i, entry := range b.entries {
		if entry.participantID == participantID {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			break
		}
	}
}

// Detach keeps the entry ranked but frees it for a later Reattach by display name.
func (b *Scoreboard) Detach(participantID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if entry, ok := b.byID[participantID]; ok {
		entry.detached = true
	}
}

// Reattach moves a detached entry with the same display name to a new
// participant id, keeping its score, join position and answered state.
func (b *Scoreboard) Reattach(displayName, participantID string) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, entry := range b.entries {
		if !entry.detached || entry.displayName != displayName {
			continue
		}
		delete(b.byID, entry.participantID)
		if _, ok := b.answered[entry.participantID]; ok {
			delete(b.answered, entry.participantID)
			b.answered[participantID] = struct{}{}
		}
		entry.participantID = participantID
		entry.detached = false
		b.byID[participantID] = entry
		return entry.score, true
	}
	return 0, false
}

// ResetAnswers makes questionID the active question and empties the answered set.
func (b *Scoreboard) ResetAnswers(questionID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.question = questionID
	b.answered = make(map[string]struct{})
}

// Score returns the participant's cumulative score.
func (b *Scoreboard) Score(participantID string) (int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.byID[participantID]
	if !ok {
		return 0, false
	}
	return entry.score, true
}

// Entry returns the participant's leaderboard view.
func (b *Scoreboard) Entry(participantID string) (domain.LeaderboardEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.byID[participantID]
	if !ok {
		return domain.LeaderboardEntry{}, false
	}
	return domain.LeaderboardEntry{
		ParticipantID: entry.participantID,
		DisplayName:   entry.displayName,
		Score:         entry.score,
	}, true
}

// HasAnswered reports whether the participant already answered the active question.
func (b *Scoreboard) HasAnswered(participantID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.answered[participantID]
	return ok
}

// RecordAnswer adds delta to the participant's score and marks them as having
// answered questionID. It is idempotent per question and participant: a repeat
// returns ErrDuplicateAnswer without changing any score. Negative deltas are
// treated as zero so scores never decrease.
func (b *Scoreboard) RecordAnswer(participantID string, questionID int64, delta int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if questionID != b.question {
		return 0, domain.ErrStaleEvent
	}
	entry, ok := b.byID[participantID]
	if !ok {
		return 0, domain.ErrParticipantNotFound
	}
	if _, done := b.answered[participantID]; done {
		return entry.score, domain.ErrDuplicateAnswer
	}
	if delta > 0 {
		entry.score += delta
	}
	b.answered[participantID] = struct{}{}
	return entry.score, nil
}

// AnsweredCount is the size of the active question's answered set.
func (b *Scoreboard) AnsweredCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.answered)
}

// Rank orders entries by score descending; equal scores keep join order.
func (b *Scoreboard) Rank() []domain.LeaderboardEntry {
	b.mu.RLock()
	ranked := make([]domain.LeaderboardEntry, 0, len(b.entries))
	for _, entry := range b.entries {
		ranked = append(ranked, domain.LeaderboardEntry{
			ParticipantID: entry.participantID,
			DisplayName:   entry.displayName,
			Score:         entry.score,
		})
	}
	b.mu.RUnlock()

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}
