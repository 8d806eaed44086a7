package app

import (
	"sort"

	"quizroom/internal/domain"
)

// Cursor tracks which questions of a quiz a session has already presented.
// It is not safe for concurrent use; the owning Session serializes access.
type Cursor struct {
	presented map[int64]struct{}
}

func newCursor() *Cursor {
	return &Cursor{presented: make(map[int64]struct{})}
}

// Next returns the lowest-id question that has not been presented yet.
// It returns false once every question has been presented.
func (c *Cursor) Next(quiz domain.Quiz) (domain.Question, bool) {
	candidates := make([]domain.Question, 0, len(quiz.Questions))
	for _, q := range quiz.Questions {
		if _, done := c.presented[q.ID]; !done {
			candidates = append(candidates, q)
		}
	}
	if len(candidates) == 0 {
		return domain.Question{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], true
}

// MarkPresented sets the presented marker. Markers are never cleared.
func (c *Cursor) MarkPresented(questionID int64) {
	c.presented[questionID] = struct{}{}
}

// Presented reports whether the question has been presented.
func (c *Cursor) Presented(questionID int64) bool {
	_, ok := c.presented[questionID]
	return ok
}

// PresentedCount returns how many questions have been presented.
func (c *Cursor) PresentedCount() int {
	return len(c.presented)
}
