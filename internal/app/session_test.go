package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quizroom/internal/app"
	"quizroom/internal/domain"
)

func TestTwoQuestionGameFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manualSettings(), twoQuestionQuiz())

	p1, err := f.service.Join(ctx, "p1", sessionURL(), "Alice")
	require.NoError(t, err)
	assert.Equal(t, "p1", p1.ID)
	require.NoError(t, f.service.Watch(ctx, "screen", quizID))

	require.NoError(t, f.service.Start(ctx, quizID))
	msg, ok := f.rec.last("screen", domain.EventNewQuestion)
	require.True(t, ok)
	question := msg.Payload.(domain.PublicQuestion)
	assert.Equal(t, int64(11), question.ID)
	assert.Equal(t, []domain.PublicOption{{ID: 101, Text: "A"}, {ID: 102, Text: "B"}}, question.Options)
	assert.Equal(t, domain.PhaseQuestionActive, f.session(t).Phase())

	result, err := f.service.SubmitAnswer(ctx, "p1", domain.AnswerSubmission{QuestionID: 11, OptionID: 101})
	require.NoError(t, err)
	assert.True(t, result.Correct)
	assert.Equal(t, 1, result.Awarded)
	assert.Equal(t, 1, result.TotalScore)

	msg, ok = f.rec.last("screen", domain.EventUpdateAnsweredCount)
	require.True(t, ok)
	assert.Equal(t, 1, msg.Payload)
	msg, ok = f.rec.last("p1", domain.EventUpdateScore)
	require.True(t, ok)
	assert.Equal(t, 1, msg.Payload)

	require.NoError(t, f.service.TimeUp(ctx, quizID))
	msg, ok = f.rec.last("screen", domain.EventShowLeaderboard)
	require.True(t, ok)
	ranking := msg.Payload.([]domain.LeaderboardEntry)
	require.Len(t, ranking, 1)
	assert.Equal(t, domain.LeaderboardEntry{ParticipantID: "p1", DisplayName: "Alice", Score: 1}, ranking[0])

	require.NoError(t, f.service.Next(ctx, quizID))
	msg, ok = f.rec.last("screen", domain.EventNewQuestion)
	require.True(t, ok)
	assert.Equal(t, int64(12), msg.Payload.(domain.PublicQuestion).ID)

	require.NoError(t, f.service.TimeUp(ctx, quizID))
	require.NoError(t, f.service.Next(ctx, quizID))
	msg, ok = f.rec.last("screen", domain.EventGameEnded)
	require.True(t, ok)
	assert.Equal(t, "p1", msg.Payload.([]domain.LeaderboardEntry)[0].ParticipantID)
	assert.Equal(t, domain.PhaseEnded, f.session(t).Phase())

	assert.Equal(t, []int64{11, 12}, f.sink.presentedIDs())
	assert.Equal(t, 2, f.rec.count("p1", domain.EventNewQuestion))
}

func TestEndedSessionIgnoresLateEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manualSettings(), domain.Quiz{ID: quizID, Title: "Empty"})
	require.NoError(t, f.service.Watch(ctx, "screen", quizID))

	require.NoError(t, f.service.Start(ctx, quizID))
	assert.Equal(t, domain.PhaseEnded, f.session(t).Phase())
	assert.Equal(t, 1, f.rec.count("screen", domain.EventGameEnded))

	assert.ErrorIs(t, f.service.Start(ctx, quizID), domain.ErrStaleEvent)
	assert.ErrorIs(t, f.service.Next(ctx, quizID), domain.ErrStaleEvent)
	assert.ErrorIs(t, f.service.TimeUp(ctx, quizID), domain.ErrStaleEvent)
	assert.Equal(t, 1, f.rec.count("screen", domain.EventGameEnded))
}

func TestAnswersAreIdempotentPerQuestion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manualSettings(), twoQuestionQuiz())
	_, err := f.service.Join(ctx, "p1", sessionURL(), "Alice")
	require.NoError(t, err)
	require.NoError(t, f.service.Start(ctx, quizID))

	_, err = f.service.SubmitAnswer(ctx, "p1", domain.AnswerSubmission{QuestionID: 11, OptionID: 101})
	require.NoError(t, err)
	_, err = f.service.SubmitAnswer(ctx, "p1", domain.AnswerSubmission{QuestionID: 11, OptionID: 101})
	assert.ErrorIs(t, err, domain.ErrDuplicateAnswer)
	_, err = f.service.SubmitAnswer(ctx, "p1", domain.AnswerSubmission{QuestionID: 11, OptionID: 102})
	assert.ErrorIs(t, err, domain.ErrDuplicateAnswer)

	session := f.session(t)
	assert.Equal(t, 1, session.AnsweredCount())
	assert.Equal(t, 1, session.Ranking()[0].Score)
	assert.Equal(t, 1, f.rec.count("p1", domain.EventUpdateAnsweredCount))
}

func TestAnswerMustMatchActiveQuestion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manualSettings(), twoQuestionQuiz())
	_, err := f.service.Join(ctx, "p1", sessionURL(), "Alice")
	require.NoError(t, err)

	_, err = f.service.SubmitAnswer(ctx, "p1", domain.AnswerSubmission{QuestionID: 11, OptionID: 101})
	assert.ErrorIs(t, err, domain.ErrStaleEvent, "no question active yet")

	require.NoError(t, f.service.Start(ctx, quizID))
	_, err = f.service.SubmitAnswer(ctx, "p1", domain.AnswerSubmission{QuestionID: 12, OptionID: 104})
	assert.ErrorIs(t, err, domain.ErrStaleEvent)
	_, err = f.service.SubmitAnswer(ctx, "p1", domain.AnswerSubmission{QuestionID: 11, OptionID: 104})
	assert.ErrorIs(t, err, domain.ErrOptionNotFound)

	require.NoError(t, f.service.TimeUp(ctx, quizID))
	_, err = f.service.SubmitAnswer(ctx, "p1", domain.AnswerSubmission{QuestionID: 11, OptionID: 101})
	assert.ErrorIs(t, err, domain.ErrStaleEvent)
	assert.Equal(t, 0, f.session(t).Ranking()[0].Score)
}

func TestSubmitRequiresParticipant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manualSettings(), twoQuestionQuiz())

	_, err := f.service.SubmitAnswer(ctx, "ghost", domain.AnswerSubmission{QuestionID: 11, OptionID: 101})
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)

	require.NoError(t, f.service.Watch(ctx, "screen", quizID))
	require.NoError(t, f.service.Start(ctx, quizID))
	_, err = f.service.SubmitAnswer(ctx, "screen", domain.AnswerSubmission{QuestionID: 11, OptionID: 101})
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound, "observers cannot answer")

	_, err = f.service.Join(ctx, "p1", sessionURL(), "Alice")
	require.NoError(t, err)
	_, err = f.service.SubmitAnswer(ctx, "p1", domain.AnswerSubmission{QuestionID: 11, OptionID: 101, ParticipantID: "p2"})
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound, "cannot answer for someone else")
}

func TestAnswerWindowTimerShowsLeaderboard(t *testing.T) {
	ctx := context.Background()
	settings := app.DefaultSettings()
	settings.AnswerWindow = 20 * time.Millisecond
	f := newFixture(t, settings, twoQuestionQuiz())
	require.NoError(t, f.service.Watch(ctx, "screen", quizID))

	require.NoError(t, f.service.Start(ctx, quizID))
	require.Eventually(t, func() bool {
		return f.session(t).Phase() == domain.PhaseLeaderboardShown
	}, time.Second, 5*time.Millisecond)

	// A manual time up racing the timer is dropped.
	assert.ErrorIs(t, f.service.TimeUp(ctx, quizID), domain.ErrStaleEvent)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, f.rec.count("screen", domain.EventShowLeaderboard))
}

func TestManualTimeUpCancelsTimer(t *testing.T) {
	ctx := context.Background()
	settings := app.DefaultSettings()
	settings.AnswerWindow = 30 * time.Millisecond
	f := newFixture(t, settings, twoQuestionQuiz())
	require.NoError(t, f.service.Watch(ctx, "screen", quizID))

	require.NoError(t, f.service.Start(ctx, quizID))
	require.NoError(t, f.service.TimeUp(ctx, quizID))
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, domain.PhaseLeaderboardShown, f.session(t).Phase())
	assert.Equal(t, 1, f.rec.count("screen", domain.EventShowLeaderboard))
}

func TestConcurrentAdvanceShowsOneQuestion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manualSettings(), twoQuestionQuiz())
	require.NoError(t, f.service.Watch(ctx, "screen", quizID))
	require.NoError(t, f.service.Start(ctx, quizID))
	require.NoError(t, f.service.TimeUp(ctx, quizID))

	f.repo.block.Store(true)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.service.Next(ctx, quizID)
		}(i)
	}

	<-f.repo.entered
	close(f.repo.gate)
	wg.Wait()

	stale := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrStaleEvent)
			stale++
		}
	}
	assert.Equal(t, 1, stale)

	questions := f.rec.all("screen", domain.EventNewQuestion)
	require.Len(t, questions, 2)
	assert.Equal(t, int64(11), questions[0].Payload.(domain.PublicQuestion).ID)
	assert.Equal(t, int64(12), questions[1].Payload.(domain.PublicQuestion).ID)
	assert.Equal(t, []int64{11, 12}, f.sink.presentedIDs())
	assert.Equal(t, domain.PhaseQuestionActive, f.session(t).Phase())
}

func TestContentFailureKeepsPhase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manualSettings(), twoQuestionQuiz())
	require.NoError(t, f.service.Watch(ctx, "screen", quizID))
	require.NoError(t, f.service.Start(ctx, quizID))
	require.NoError(t, f.service.TimeUp(ctx, quizID))

	f.repo.fail.Store(true)
	err := f.service.Next(ctx, quizID)
	assert.ErrorIs(t, err, domain.ErrStorageFailure)
	assert.Equal(t, domain.PhaseLeaderboardShown, f.session(t).Phase())
	assert.False(t, f.session(t).Presented(12))
	assert.Equal(t, 1, f.rec.count("screen", domain.EventNewQuestion))

	// The coordinator re-issuing the advance recovers the session.
	f.repo.fail.Store(false)
	require.NoError(t, f.service.Next(ctx, quizID))
	assert.True(t, f.session(t).Presented(12))
}

func TestScoreWriteFailureAbortsAnswer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manualSettings(), twoQuestionQuiz())
	_, err := f.service.Join(ctx, "p1", sessionURL(), "Alice")
	require.NoError(t, err)
	require.NoError(t, f.service.Start(ctx, quizID))

	f.sink.failScore.Store(true)
	_, err = f.service.SubmitAnswer(ctx, "p1", domain.AnswerSubmission{QuestionID: 11, OptionID: 101})
	assert.ErrorIs(t, err, domain.ErrStorageFailure)
	assert.Equal(t, 0, f.session(t).AnsweredCount())

	f.sink.failScore.Store(false)
	result, err := f.service.SubmitAnswer(ctx, "p1", domain.AnswerSubmission{QuestionID: 11, OptionID: 101})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalScore)
}

func TestJoinUnknownSessionCreatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manualSettings(), twoQuestionQuiz())

	_, err := f.service.Join(ctx, "p1", "https://quiz.example/game/999", "Alice")
	assert.ErrorIs(t, err, domain.ErrQuizNotFound)
	_, err = f.service.Join(ctx, "p1", "https://quiz.example/lobby", "Alice")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, f.service.Next(ctx, 999), domain.ErrSessionNotFound)

	assert.Equal(t, 0, f.store.Len())
	_, ok := f.registry.Lookup("p1")
	assert.False(t, ok)
}

func TestRosterBroadcastOnJoinAndLeave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manualSettings(), twoQuestionQuiz())
	require.NoError(t, f.service.Watch(ctx, "screen", quizID))

	_, err := f.service.Join(ctx, "p1", sessionURL(), "Alice")
	require.NoError(t, err)
	_, err = f.service.Join(ctx, "p2", sessionURL(), "Bob")
	require.NoError(t, err)

	msg, ok := f.rec.last("screen", domain.EventUpdatePlayers)
	require.True(t, ok)
	roster := msg.Payload.([]domain.Participant)
	require.Len(t, roster, 2)
	assert.Equal(t, "Alice", roster[0].DisplayName)
	assert.Equal(t, "Bob", roster[1].DisplayName)
	msg, _ = f.rec.last("screen", domain.EventUpdateTotalPlayers)
	assert.Equal(t, 2, msg.Payload)

	f.service.Leave(ctx, "p1")
	msg, _ = f.rec.last("screen", domain.EventUpdateTotalPlayers)
	assert.Equal(t, 1, msg.Payload)

	joined, ok := f.rec.last("p2", domain.EventJoined)
	require.True(t, ok)
	assert.Equal(t, "p2", joined.Payload.(domain.Participant).ID)
}

func TestLateJoinerReceivesActiveQuestion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manualSettings(), twoQuestionQuiz())
	require.NoError(t, f.service.Watch(ctx, "screen", quizID))
	require.NoError(t, f.service.Start(ctx, quizID))

	_, err := f.service.Join(ctx, "late", sessionURL(), "Carol")
	require.NoError(t, err)
	msg, ok := f.rec.last("late", domain.EventNewQuestion)
	require.True(t, ok)
	assert.Equal(t, int64(11), msg.Payload.(domain.PublicQuestion).ID)

	_, err = f.service.SubmitAnswer(ctx, "late", domain.AnswerSubmission{QuestionID: 11, OptionID: 101})
	assert.NoError(t, err)
}

func TestDropPolicyForgetsScore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manualSettings(), twoQuestionQuiz())
	require.NoError(t, f.service.Watch(ctx, "screen", quizID))
	_, err := f.service.Join(ctx, "p1", sessionURL(), "Alice")
	require.NoError(t, err)
	require.NoError(t, f.service.Start(ctx, quizID))
	_, err = f.service.SubmitAnswer(ctx, "p1", domain.AnswerSubmission{QuestionID: 11, OptionID: 101})
	require.NoError(t, err)

	f.service.Leave(ctx, "p1")
	_, err = f.service.Join(ctx, "p1b", sessionURL(), "Alice")
	require.NoError(t, err)

	ranking := f.session(t).Ranking()
	require.Len(t, ranking, 1)
	assert.Equal(t, "p1b", ranking[0].ParticipantID)
	assert.Equal(t, 0, ranking[0].Score)
}

func TestRetainPolicyRestoresScoreByDisplayName(t *testing.T) {
	ctx := context.Background()
	settings := manualSettings()
	settings.DisconnectPolicy = app.DisconnectRetain
	f := newFixture(t, settings, twoQuestionQuiz())
	require.NoError(t, f.service.Watch(ctx, "screen", quizID))
	_, err := f.service.Join(ctx, "p1", sessionURL(), "Alice")
	require.NoError(t, err)
	require.NoError(t, f.service.Start(ctx, quizID))
	_, err = f.service.SubmitAnswer(ctx, "p1", domain.AnswerSubmission{QuestionID: 11, OptionID: 101})
	require.NoError(t, err)

	f.service.Leave(ctx, "p1")
	msg, _ := f.rec.last("screen", domain.EventUpdateTotalPlayers)
	assert.Equal(t, 0, msg.Payload)

	p, err := f.service.Join(ctx, "p1b", sessionURL(), "Alice")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Score)

	// The reconnected participant already answered this question.
	_, err = f.service.SubmitAnswer(ctx, "p1b", domain.AnswerSubmission{QuestionID: 11, OptionID: 101})
	assert.ErrorIs(t, err, domain.ErrDuplicateAnswer)
	ranking := f.session(t).Ranking()
	require.Len(t, ranking, 1)
	assert.Equal(t, domain.LeaderboardEntry{ParticipantID: "p1b", DisplayName: "Alice", Score: 1}, ranking[0])
}

func TestIdleSessionRemovedWhenEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manualSettings(), twoQuestionQuiz())
	_, err := f.service.Join(ctx, "p1", sessionURL(), "Alice")
	require.NoError(t, err)
	require.Equal(t, 1, f.store.Len())

	f.service.Leave(ctx, "p1")
	assert.Equal(t, 0, f.store.Len())

	// A running round survives everyone disconnecting.
	_, err = f.service.Join(ctx, "p2", sessionURL(), "Bob")
	require.NoError(t, err)
	require.NoError(t, f.service.Start(ctx, quizID))
	f.service.Leave(ctx, "p2")
	assert.Equal(t, 1, f.store.Len())
}

func TestIdleCleanupDoesNotBlockOtherSessions(t *testing.T) {
	ctx := context.Background()
	other := domain.Quiz{ID: 8, Title: "Other", Questions: []domain.Question{
		{ID: 1, QuizID: 8, Options: []domain.Option{{ID: 1, QuestionID: 1, Correct: true}}},
	}}
	f := newFixture(t, manualSettings(), twoQuestionQuiz(), other)
	require.NoError(t, f.service.Watch(ctx, "screen7", quizID))
	require.NoError(t, f.service.Watch(ctx, "screen8", 8))

	// Start holds session 7's lock while its content load is stuck.
	f.repo.block.Store(true)
	started := make(chan error, 1)
	go func() { started <- f.service.Start(ctx, quizID) }()
	<-f.repo.entered

	cleaned := make(chan struct{})
	go func() {
		f.store.DeleteIfIdle(quizID)
		close(cleaned)
	}()
	time.Sleep(20 * time.Millisecond)

	looked := make(chan error, 1)
	go func() {
		_, err := f.service.Leaderboard(ctx, 8)
		looked <- err
	}()
	select {
	case err := <-looked:
		assert.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("session 8 lookup waited on session 7")
	}

	close(f.repo.gate)
	require.NoError(t, <-started)
	<-cleaned
	assert.Equal(t, 2, f.store.Len(), "session 7 still has a connection")
}

func TestRejoinOnSameConnectionKeepsScore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manualSettings(), twoQuestionQuiz())
	_, err := f.service.Join(ctx, "p1", sessionURL(), "Alice")
	require.NoError(t, err)
	require.NoError(t, f.service.Start(ctx, quizID))
	_, err = f.service.SubmitAnswer(ctx, "p1", domain.AnswerSubmission{QuestionID: 11, OptionID: 101})
	require.NoError(t, err)

	p, err := f.service.Join(ctx, "p1", sessionURL(), "Alice")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Score)

	ranking := f.session(t).Ranking()
	require.Len(t, ranking, 1)
	assert.Equal(t, 1, ranking[0].Score)
	_, err = f.service.SubmitAnswer(ctx, "p1", domain.AnswerSubmission{QuestionID: 11, OptionID: 101})
	assert.ErrorIs(t, err, domain.ErrDuplicateAnswer)
	assert.Equal(t, 2, f.rec.count("p1", domain.EventJoined))
}
