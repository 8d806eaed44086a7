package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quizroom/internal/app"
	"quizroom/internal/domain"
	"quizroom/internal/infra/memory"
)

const quizID = 7

func sessionURL() string {
	return "https://quiz.example/game/7"
}

// twoQuestionQuiz lists its questions out of id order on purpose.
func twoQuestionQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    quizID,
		Title: "Two questions",
		Questions: []domain.Question{
			{
				ID:     12,
				QuizID: quizID,
				Text:   "Second",
				Options: []domain.Option{
					{ID: 103, QuestionID: 12, Text: "C"},
					{ID: 104, QuestionID: 12, Text: "D", Correct: true},
				},
			},
			{
				ID:     11,
				QuizID: quizID,
				Text:   "First",
				Options: []domain.Option{
					{ID: 101, QuestionID: 11, Text: "A", Correct: true},
					{ID: 102, QuestionID: 11, Text: "B"},
				},
			},
		},
	}
}

// recorder is an app.Transport that keeps every delivered envelope.
type recorder struct {
	mu   sync.Mutex
	msgs map[string][]domain.Envelope
}

func newRecorder() *recorder {
	return &recorder{msgs: make(map[string][]domain.Envelope)}
}

func (r *recorder) Deliver(connID string, msg domain.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[connID] = append(r.msgs[connID], msg)
}

func (r *recorder) all(connID, event string) []domain.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Envelope
	for _, msg := range r.msgs[connID] {
		if msg.Type == event {
			out = append(out, msg)
		}
	}
	return out
}

func (r *recorder) last(connID, event string) (domain.Envelope, bool) {
	found := r.all(connID, event)
	if len(found) == 0 {
		return domain.Envelope{}, false
	}
	return found[len(found)-1], true
}

func (r *recorder) count(connID, event string) int {
	return len(r.all(connID, event))
}

// fakeSink records result writes and can be told to fail score writes.
type fakeSink struct {
	mu        sync.Mutex
	scores    []domain.LeaderboardEntry
	presented []int64
	failScore atomic.Bool
}

func (s *fakeSink) RecordScore(_ context.Context, _ int64, entry domain.LeaderboardEntry) error {
	if s.failScore.Load() {
		return errors.New("score store unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores = append(s.scores, entry)
	return nil
}

func (s *fakeSink) RecordPresented(_ context.Context, _ int64, questionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presented = append(s.presented, questionID)
	return nil
}

func (s *fakeSink) presentedIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.presented...)
}

// controlledRepo wraps a repository with switchable failures and a one-shot gate.
type controlledRepo struct {
	next    app.QuizRepository
	fail    atomic.Bool
	block   atomic.Bool
	calls   atomic.Int32
	entered chan struct{}
	gate    chan struct{}
}

func newControlledRepo(next app.QuizRepository) *controlledRepo {
	return &controlledRepo{
		next:    next,
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
}

func (r *controlledRepo) GetQuiz(ctx context.Context, id int64) (domain.Quiz, error) {
	r.calls.Add(1)
	if r.block.CompareAndSwap(true, false) {
		r.entered <- struct{}{}
		<-r.gate
	}
	if r.fail.Load() {
		return domain.Quiz{}, errors.New("connection reset")
	}
	return r.next.GetQuiz(ctx, id)
}

type fixture struct {
	service  *app.QuizService
	store    *memory.SessionStore
	registry *app.Registry
	rec      *recorder
	sink     *fakeSink
	repo     *controlledRepo
}

func newFixture(t *testing.T, settings app.Settings, quizzes ...domain.Quiz) *fixture {
	t.Helper()
	byID := make(map[int64]domain.Quiz, len(quizzes))
	for _, q := range quizzes {
		byID[q.ID] = q
	}
	repo := newControlledRepo(memory.NewQuizRepository(memory.NewStaticQuizLoader(byID), time.Minute))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := app.NewRegistry()
	rec := newRecorder()
	sink := &fakeSink{}
	store := memory.NewSessionStore()
	service := app.NewQuizService(store, repo, registry, app.NewGateway(registry, rec, logger),
		app.WithSettings(settings),
		app.WithResultSink(sink),
		app.WithLogger(logger),
	)
	return &fixture{service: service, store: store, registry: registry, rec: rec, sink: sink, repo: repo}
}

// manualSettings disables the answer-window timer.
func manualSettings() app.Settings {
	settings := app.DefaultSettings()
	settings.AnswerWindow = 0
	return settings
}

func (f *fixture) session(t *testing.T) *app.Session {
	t.Helper()
	session, ok := f.store.Get(quizID)
	if !ok {
		t.Fatalf("session %d not found", quizID)
	}
	return session
}
