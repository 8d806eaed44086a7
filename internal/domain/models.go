package domain

// Option represents a possible answer for a question.
type Option struct {
	ID         int64  `json:"id" yaml:"id"`
	QuestionID int64  `json:"questionId" yaml:"-"`
	Text       string `json:"text" yaml:"text"`
	Correct    bool   `json:"correct" yaml:"correct"`
}

// Question models an MCQ question. Options keep their authored order.
type Question struct {
	ID      int64    `json:"id" yaml:"id"`
	QuizID  int64    `json:"quizId" yaml:"-"`
	Text    string   `json:"text" yaml:"text"`
	Image   string   `json:"image,omitempty" yaml:"image"`
	Options []Option `json:"options" yaml:"options"`
}

// Quiz is a collection of questions. It is read-only while a session runs.
type Quiz struct {
	ID        int64      `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// PublicOption is an option as shown to participants, without correctness.
type PublicOption struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// PublicQuestion is the newQuestion payload.
type PublicQuestion struct {
	ID      int64          `json:"id"`
	QuizID  int64          `json:"quizId"`
	Text    string         `json:"text"`
	Image   string         `json:"image,omitempty"`
	Options []PublicOption `json:"options"`
}

// Public strips correctness flags from the question's options.
func (q Question) Public() PublicQuestion {
	options := make([]PublicOption, 0, len(q.Options))
	for _, opt := range q.Options {
		options = append(options, PublicOption{ID: opt.ID, Text: opt.Text})
	}
	return PublicQuestion{
		ID:      q.ID,
		QuizID:  q.QuizID,
		Text:    q.Text,
		Image:   q.Image,
		Options: options,
	}
}

// Option returns the option with the given id.
func (q Question) Option(optionID int64) (Option, bool) {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return opt, true
		}
	}
	return Option{}, false
}

// Participant is a player joined to a session through a live connection.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	SessionID   int64  `json:"sessionId"`
	Score       int    `json:"score"`
}

// LeaderboardEntry is a snapshot-friendly view of a participant.
type LeaderboardEntry struct {
	ParticipantID string `json:"id"`
	DisplayName   string `json:"displayName"`
	Score         int    `json:"score"`
}

// AnswerSubmission models the scoring signal from clients.
type AnswerSubmission struct {
	QuestionID    int64
	OptionID      int64
	ParticipantID string
}

// AnswerResult summarizes the outcome of a recorded submission.
type AnswerResult struct {
	QuestionID    int64 `json:"questionId"`
	Correct       bool  `json:"correct"`
	Awarded       int   `json:"awarded"`
	TotalScore    int   `json:"totalScore"`
	AnsweredCount int   `json:"answeredCount"`
}
