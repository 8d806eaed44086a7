package app

import (
	"context"
	"errors"
	"log/slog"

	"quizroom/internal/domain"
)

// SessionRepository abstracts where live sessions are kept (in-memory, Redis-marked, etc).
type SessionRepository interface {
	GetOrCreate(sessionID int64, create func() *Session) *Session
	Get(sessionID int64) (*Session, bool)
	DeleteIfIdle(sessionID int64)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID int64) (domain.Quiz, error)
}

// QuizService routes inbound room events to the owning session.
type QuizService struct {
	sessions    SessionRepository
	quizzes     QuizRepository
	registry    *Registry
	broadcaster Broadcaster
	sink        ResultSink
	settings    Settings
	logger      *slog.Logger
}

// Option customizes a QuizService.
type Option func(*QuizService)

func WithResultSink(sink ResultSink) Option {
	return func(s *QuizService) { s.sink = sink }
}

func WithSettings(settings Settings) Option {
	return func(s *QuizService) { s.settings = settings }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *QuizService) { s.logger = logger }
}

func NewQuizService(store SessionRepository, quizzes QuizRepository, registry *Registry, broadcaster Broadcaster, opts ...Option) *QuizService {
	s := &QuizService{
		sessions:    store,
		quizzes:     quizzes,
		registry:    registry,
		broadcaster: broadcaster,
		sink:        nopSink{},
		settings:    DefaultSettings(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Join resolves the session from its join link and adds the connection as a
// participant. Joining again on a connection already playing in that session
// keeps its score.
func (s *QuizService) Join(ctx context.Context, connID, sessionURL, displayName string) (domain.Participant, error) {
	sessionID, err := domain.ParseSessionURL(sessionURL)
	if err != nil {
		return domain.Participant{}, err
	}
	if m, ok := s.registry.Lookup(connID); !ok || m.SessionID != sessionID || m.Observer() {
		s.Leave(ctx, connID)
	}

	// A session removed between lookup and join is recreated once.
	for attempt := 0; attempt < 2; attempt++ {
		session, err := s.openSession(ctx, sessionID)
		if err != nil {
			return domain.Participant{}, err
		}
		participant, err := session.Join(connID, displayName)
		if errors.Is(err, errSessionClosed) {
			continue
		}
		return participant, err
	}
	return domain.Participant{}, domain.ErrSessionNotFound
}

// Watch joins a coordinator screen to the session room.
func (s *QuizService) Watch(ctx context.Context, connID string, sessionID int64) error {
	s.Leave(ctx, connID)
	for attempt := 0; attempt < 2; attempt++ {
		session, err := s.openSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := session.Watch(connID); !errors.Is(err, errSessionClosed) {
			return err
		}
	}
	return domain.ErrSessionNotFound
}

// Start begins the quiz for a session.
func (s *QuizService) Start(ctx context.Context, sessionID int64) error {
	session, err := s.openSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return session.Start(ctx)
}

// Next advances from the leaderboard to the next question.
func (s *QuizService) Next(ctx context.Context, sessionID int64) error {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return session.Advance(ctx)
}

// TimeUp closes the active question's answer window.
func (s *QuizService) TimeUp(_ context.Context, sessionID int64) error {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return session.TimeUp()
}

// SubmitAnswer records an answer from the participant owning connID.
func (s *QuizService) SubmitAnswer(ctx context.Context, connID string, sub domain.AnswerSubmission) (domain.AnswerResult, error) {
	m, ok := s.registry.Lookup(connID)
	if !ok || m.Observer() {
		return domain.AnswerResult{}, domain.ErrParticipantNotFound
	}
	if sub.ParticipantID != "" && sub.ParticipantID != connID {
		return domain.AnswerResult{}, domain.ErrParticipantNotFound
	}
	sub.ParticipantID = connID

	session, ok := s.sessions.Get(m.SessionID)
	if !ok {
		return domain.AnswerResult{}, domain.ErrSessionNotFound
	}
	return session.SubmitAnswer(ctx, sub)
}

// Leave removes the connection from whatever room it is in and drops idle sessions.
func (s *QuizService) Leave(_ context.Context, connID string) {
	m, ok := s.registry.Lookup(connID)
	if !ok {
		return
	}
	session, ok := s.sessions.Get(m.SessionID)
	if !ok {
		s.registry.Leave(connID)
		return
	}
	session.Leave(connID)
	s.sessions.DeleteIfIdle(m.SessionID)
}

// Leaderboard returns the session's ranking.
func (s *QuizService) Leaderboard(_ context.Context, sessionID int64) ([]domain.LeaderboardEntry, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session.Ranking(), nil
}

// openSession returns the live session for a quiz, creating it when the quiz exists.
func (s *QuizService) openSession(ctx context.Context, sessionID int64) (*Session, error) {
	if session, ok := s.sessions.Get(sessionID); ok {
		return session, nil
	}
	// Sessions are never created for unknown quizzes.
	if _, err := s.quizzes.GetQuiz(ctx, sessionID); err != nil {
		return nil, storageFailure("open session", err)
	}
	return s.sessions.GetOrCreate(sessionID, func() *Session {
		return NewSession(sessionID, SessionConfig{
			Quizzes:     s.quizzes,
			Registry:    s.registry,
			Broadcaster: s.broadcaster,
			Sink:        s.sink,
			Settings:    s.settings,
			Logger:      s.logger,
		})
	}), nil
}
