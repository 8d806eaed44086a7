package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"quizroom/internal/domain"
)

// DisconnectPolicy decides what happens to a participant's score when its connection drops.
type DisconnectPolicy string

const (
	// DisconnectDrop removes the scoreboard entry.
	DisconnectDrop DisconnectPolicy = "drop"
	// DisconnectRetain keeps the entry and hands it to the next connection
	// joining with the same display name.
	DisconnectRetain DisconnectPolicy = "retain"
)

// Settings are the per-session game rules.
type Settings struct {
	AnswerWindow     time.Duration
	CorrectPoints    int
	DisconnectPolicy DisconnectPolicy
}

// DefaultSettings mirrors the in-room game: 10 second answer window, one point per correct answer.
func DefaultSettings() Settings {
	return Settings{
		AnswerWindow:     10 * time.Second,
		CorrectPoints:    1,
		DisconnectPolicy: DisconnectDrop,
	}
}

// ResultSink persists side effects of a session that the core triggers but does not own.
type ResultSink interface {
	RecordScore(ctx context.Context, sessionID int64, entry domain.LeaderboardEntry) error
	RecordPresented(ctx context.Context, sessionID, questionID int64) error
}

type nopSink struct{}

func (nopSink) RecordScore(context.Context, int64, domain.LeaderboardEntry) error { return nil }
func (nopSink) RecordPresented(context.Context, int64, int64) error               { return nil }

var errSessionClosed = errors.New("session closed")

// Session drives one quiz session through Idle -> QuestionActive ->
// LeaderboardShown -> ... -> Ended. Every mutation holds mu, including the
// storage round trips it depends on, so two transitions for the same session
// never interleave.
type Session struct {
	id     int64
	logger *slog.Logger

	quizzes     QuizRepository
	registry    *Registry
	broadcaster Broadcaster
	sink        ResultSink
	settings    Settings

	mu         sync.Mutex
	phase      domain.Phase
	current    *domain.Question
	cursor     *Cursor
	scoreboard *Scoreboard
	timer      *time.Timer
	closed     atomic.Bool // written under mu, read by stores without it
}

// SessionConfig carries the collaborators a Session needs.
type SessionConfig struct {
	Quizzes     QuizRepository
	Registry    *Registry
	Broadcaster Broadcaster
	Sink        ResultSink
	Settings    Settings
	Logger      *slog.Logger
}

func NewSession(id int64, cfg SessionConfig) *Session {
	if cfg.Sink == nil {
		cfg.Sink = nopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Settings.DisconnectPolicy == "" {
		cfg.Settings.DisconnectPolicy = DisconnectDrop
	}
	return &Session{
		id:          id,
		logger:      cfg.Logger.With("session", id),
		quizzes:     cfg.Quizzes,
		registry:    cfg.Registry,
		broadcaster: cfg.Broadcaster,
		sink:        cfg.Sink,
		settings:    cfg.Settings,
		phase:       domain.PhaseIdle,
		cursor:      newCursor(),
		scoreboard:  newScoreboard(),
	}
}

// Closed reports whether the session stopped accepting events. It does not
// wait for the session lock.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

func (s *Session) ID() int64 {
	return s.id
}

// Phase returns the current lifecycle state.
func (s *Session) Phase() domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// CurrentQuestion returns the active question while the session is in QuestionActive.
func (s *Session) CurrentQuestion() (domain.Question, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != domain.PhaseQuestionActive || s.current == nil {
		return domain.Question{}, false
	}
	return *s.current, true
}

// Presented reports whether the question was already shown in this session.
func (s *Session) Presented(questionID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor.Presented(questionID)
}

// Ranking is served without the session lock.
func (s *Session) Ranking() []domain.LeaderboardEntry {
	return s.scoreboard.Rank()
}

// AnsweredCount is served without the session lock.
func (s *Session) AnsweredCount() int {
	return s.scoreboard.AnsweredCount()
}

// Join adds a participant connection and broadcasts the roster. Under the
// retain policy a detached entry with the same display name is reattached.
func (s *Session) Join(connID, displayName string) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return domain.Participant{}, errSessionClosed
	}

	// A repeated join on a connection already playing here keeps its score.
	if m, ok := s.registry.Lookup(connID); ok && m.SessionID == s.id && !m.Observer() {
		participant := *m.Participant
		participant.Score, _ = s.scoreboard.Score(connID)
		s.broadcaster.Send(connID, domain.EventJoined, participant)
		s.syncLocked(connID)
		return participant, nil
	}

	participant := s.registry.Join(s.id, connID, displayName)
	restored := false
	if s.settings.DisconnectPolicy == DisconnectRetain {
		participant.Score, restored = s.scoreboard.Reattach(displayName, connID)
	}
	if !restored {
		s.scoreboard.Add(connID, displayName)
	}
	s.logger.Info("participant joined", "participant", connID, "name", displayName, "restored", restored)

	s.broadcaster.Send(connID, domain.EventJoined, participant)
	s.broadcastRosterLocked()
	s.syncLocked(connID)
	return participant, nil
}

// Watch adds an observer connection, such as the coordinator screen.
func (s *Session) Watch(connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return errSessionClosed
	}
	s.registry.Watch(s.id, connID)
	roster := s.rosterLocked()
	s.broadcaster.Send(connID, domain.EventUpdatePlayers, roster)
	s.broadcaster.Send(connID, domain.EventUpdateTotalPlayers, len(roster))
	s.syncLocked(connID)
	return nil
}

// syncLocked brings a late connection up to the session's current phase.
func (s *Session) syncLocked(connID string) {
	switch s.phase {
	case domain.PhaseQuestionActive:
		s.broadcaster.Send(connID, domain.EventNewQuestion, s.current.Public())
		s.broadcaster.Send(connID, domain.EventUpdateAnsweredCount, s.scoreboard.AnsweredCount())
	case domain.PhaseLeaderboardShown:
		s.broadcaster.Send(connID, domain.EventShowLeaderboard, s.scoreboard.Rank())
	case domain.PhaseEnded:
		s.broadcaster.Send(connID, domain.EventGameEnded, s.scoreboard.Rank())
	}
}

// Leave removes the connection from the room and applies the disconnect policy.
func (s *Session) Leave(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.registry.Leave(connID)
	if !ok || m.Observer() {
		return
	}
	switch s.settings.DisconnectPolicy {
	case DisconnectRetain:
		s.scoreboard.Detach(connID)
	default:
		s.scoreboard.Remove(connID)
	}
	s.logger.Info("participant left", "participant", connID, "policy", string(s.settings.DisconnectPolicy))
	s.broadcastRosterLocked()
}

// Start moves Idle -> QuestionActive, or straight to Ended for an empty quiz.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != domain.PhaseIdle || s.closed.Load() {
		return s.staleLocked(domain.EventStartQuiz)
	}
	return s.presentNextLocked(ctx)
}

// Advance moves LeaderboardShown -> QuestionActive, or Ended once the cursor is exhausted.
func (s *Session) Advance(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != domain.PhaseLeaderboardShown || s.closed.Load() {
		return s.staleLocked(domain.EventNextQuestion)
	}
	return s.presentNextLocked(ctx)
}

// TimeUp closes the answer window ahead of the timer.
func (s *Session) TimeUp() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != domain.PhaseQuestionActive || s.closed.Load() {
		return s.staleLocked(domain.EventTimeUp)
	}
	s.closeQuestionLocked()
	return nil
}

// expire is the answer-window timer callback. A timer that fires after the
// question was already closed is a no-op.
func (s *Session) expire(questionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() || s.phase != domain.PhaseQuestionActive || s.current == nil || s.current.ID != questionID {
		s.logger.Debug("stale timer ignored", "question", questionID, "phase", s.phase.String())
		return
	}
	s.logger.Info("answer window expired", "question", questionID)
	s.closeQuestionLocked()
}

// SubmitAnswer records a participant's answer for the active question.
func (s *Session) SubmitAnswer(ctx context.Context, sub domain.AnswerSubmission) (domain.AnswerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() || s.phase != domain.PhaseQuestionActive || s.current == nil || s.current.ID != sub.QuestionID {
		return domain.AnswerResult{}, fmt.Errorf("answer for question %d: %w", sub.QuestionID, domain.ErrStaleEvent)
	}
	option, ok := s.current.Option(sub.OptionID)
	if !ok {
		return domain.AnswerResult{}, fmt.Errorf("answer option %d: %w", sub.OptionID, domain.ErrOptionNotFound)
	}
	entry, ok := s.scoreboard.Entry(sub.ParticipantID)
	if !ok {
		return domain.AnswerResult{}, domain.ErrParticipantNotFound
	}
	if s.scoreboard.HasAnswered(sub.ParticipantID) {
		return domain.AnswerResult{QuestionID: sub.QuestionID, TotalScore: entry.Score}, domain.ErrDuplicateAnswer
	}

	awarded := 0
	if option.Correct && s.settings.CorrectPoints > 0 {
		awarded = s.settings.CorrectPoints
	}
	if awarded > 0 {
		entry.Score += awarded
		if err := s.sink.RecordScore(ctx, s.id, entry); err != nil {
			err = storageFailure("record score", err)
			s.logger.Error("answer not recorded", "participant", sub.ParticipantID, "err", err)
			return domain.AnswerResult{}, err
		}
	}

	total, err := s.scoreboard.RecordAnswer(sub.ParticipantID, sub.QuestionID, awarded)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	count := s.scoreboard.AnsweredCount()
	s.broadcaster.Broadcast(s.id, domain.EventUpdateAnsweredCount, count)
	s.broadcaster.Send(sub.ParticipantID, domain.EventUpdateScore, total)

	return domain.AnswerResult{
		QuestionID:    sub.QuestionID,
		Correct:       option.Correct,
		Awarded:       awarded,
		TotalScore:    total,
		AnsweredCount: count,
	}, nil
}

// CloseIfIdle closes the session when nobody is connected and no question
// round is in progress. It reports whether the session was closed.
func (s *Session) CloseIfIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return true
	}
	if len(s.registry.Connections(s.id)) > 0 {
		return false
	}
	if s.phase != domain.PhaseIdle && s.phase != domain.PhaseEnded {
		return false
	}
	s.closeLocked()
	return true
}

// Close stops the session timer and rejects further events.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	s.stopTimerLocked()
	s.closed.Store(true)
}

// presentNextLocked loads quiz content, shows the next question and arms the
// answer window. A content failure leaves the phase untouched.
func (s *Session) presentNextLocked(ctx context.Context) error {
	quiz, err := s.quizzes.GetQuiz(ctx, s.id)
	if err != nil {
		err = storageFailure("load quiz", err)
		s.logger.Error("transition aborted", "phase", s.phase.String(), "err", err)
		return err
	}

	question, ok := s.cursor.Next(quiz)
	if !ok {
		s.endLocked()
		return nil
	}
	if question.QuizID == 0 {
		question.QuizID = quiz.ID
	}

	s.stopTimerLocked()
	s.scoreboard.ResetAnswers(question.ID)
	s.current = &question
	s.phase = domain.PhaseQuestionActive
	s.broadcaster.Broadcast(s.id, domain.EventNewQuestion, question.Public())
	s.armTimerLocked(question.ID)

	s.cursor.MarkPresented(question.ID)
	if err := s.sink.RecordPresented(ctx, s.id, question.ID); err != nil {
		s.logger.Warn("presented marker not persisted", "question", question.ID, "err", err)
	}
	s.logger.Info("question presented", "question", question.ID, "presented", s.cursor.PresentedCount())
	return nil
}

func (s *Session) closeQuestionLocked() {
	s.stopTimerLocked()
	s.phase = domain.PhaseLeaderboardShown
	s.broadcaster.Broadcast(s.id, domain.EventShowLeaderboard, s.scoreboard.Rank())
}

func (s *Session) endLocked() {
	s.stopTimerLocked()
	s.phase = domain.PhaseEnded
	s.current = nil
	s.broadcaster.Broadcast(s.id, domain.EventGameEnded, s.scoreboard.Rank())
	s.logger.Info("game ended", "presented", s.cursor.PresentedCount())
}

func (s *Session) armTimerLocked(questionID int64) {
	if s.settings.AnswerWindow <= 0 {
		return
	}
	s.timer = time.AfterFunc(s.settings.AnswerWindow, func() {
		s.expire(questionID)
	})
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) staleLocked(event string) error {
	s.logger.Debug("event ignored", "event", event, "phase", s.phase.String())
	return fmt.Errorf("%s in phase %s: %w", event, s.phase, domain.ErrStaleEvent)
}

func (s *Session) rosterLocked() []domain.Participant {
	roster := s.registry.Roster(s.id)
	for i := range roster {
		if score, ok := s.scoreboard.Score(roster[i].ID); ok {
			roster[i].Score = score
		}
	}
	return roster
}

func (s *Session) broadcastRosterLocked() {
	roster := s.rosterLocked()
	s.broadcaster.Broadcast(s.id, domain.EventUpdatePlayers, roster)
	s.broadcaster.Broadcast(s.id, domain.EventUpdateTotalPlayers, len(roster))
}

// storageFailure keeps not-found errors as they are and tags everything else as a storage failure.
func storageFailure(op string, err error) error {
	if domain.IsNotFound(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageFailure, err)
}
