package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a session id cannot be resolved.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrParticipantNotFound is returned when a connection acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in quiz")
	// ErrQuizNotFound indicates the quiz content does not exist.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = errors.New("option not found")

	// ErrStaleEvent marks an event that does not apply to the session's current phase or question.
	ErrStaleEvent = errors.New("stale event")
	// ErrDuplicateAnswer marks a second answer for the same question. Callers ignore it.
	ErrDuplicateAnswer = errors.New("answer already recorded")
	// ErrStorageFailure wraps any content or score store failure that aborted a transition.
	ErrStorageFailure = errors.New("storage failure")
)

// IsNotFound reports whether err refers to an unknown session, quiz, question, option or participant.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrParticipantNotFound) ||
		errors.Is(err, ErrQuizNotFound) ||
		errors.Is(err, ErrQuestionNotFound) ||
		errors.Is(err, ErrOptionNotFound)
}
