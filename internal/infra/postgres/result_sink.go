package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"quizroom/internal/domain"
)

// ResultSink persists player scores and presented markers.
type ResultSink struct {
	pool *pgxpool.Pool
}

func NewResultSink(pool *pgxpool.Pool) *ResultSink {
	return &ResultSink{pool: pool}
}

// RecordScore upserts the player's score; a stored score is never lowered.
func (s *ResultSink) RecordScore(ctx context.Context, sessionID int64, entry domain.LeaderboardEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO players (quiz_id, pseudonym, score, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (quiz_id, pseudonym)
		DO UPDATE SET score = GREATEST(players.score, EXCLUDED.score), updated_at = now()`,
		sessionID, entry.DisplayName, entry.Score)
	if err != nil {
		return fmt.Errorf("record score: %w", err)
	}
	return nil
}

func (s *ResultSink) RecordPresented(ctx context.Context, sessionID, questionID int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO presented_questions (quiz_id, question_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, sessionID, questionID)
	if err != nil {
		return fmt.Errorf("record presented: %w", err)
	}
	return nil
}
