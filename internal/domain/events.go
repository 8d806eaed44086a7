package domain

import (
	"errors"
	"regexp"
	"strconv"
)

// Phase is the lifecycle state of one session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseQuestionActive
	PhaseLeaderboardShown
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseQuestionActive:
		return "question_active"
	case PhaseLeaderboardShown:
		return "leaderboard_shown"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Inbound event names.
const (
	EventJoinGame     = "joinGame"
	EventStartQuiz    = "startQuiz"
	EventNextQuestion = "nextQuestion"
	EventTimeUp       = "timeUp"
	EventSubmitAnswer = "submitAnswer"
)

// Outbound event names.
const (
	EventJoined              = "joined"
	EventNewQuestion         = "newQuestion"
	EventUpdateAnsweredCount = "updateAnsweredCount"
	EventUpdateTotalPlayers  = "updateTotalPlayers"
	EventUpdatePlayers       = "updatePlayers"
	EventUpdateScore         = "updateScore"
	EventShowLeaderboard     = "showLeaderboard"
	EventGameEnded           = "gameEnded"
)

// Envelope is the wire shape of every websocket message.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

var sessionURLPattern = regexp.MustCompile(`/game/(\d+)`)

// ParseSessionURL extracts the session (quiz) id from a join link such as
// https://host/game/42.
func ParseSessionURL(url string) (int64, error) {
	match := sessionURLPattern.FindStringSubmatch(url)
	if match == nil {
		return 0, ErrSessionNotFound
	}
	id, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, errors.Join(ErrSessionNotFound, err)
	}
	return id, nil
}
