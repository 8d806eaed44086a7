package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"quizroom/internal/domain"
)

// ResultSink writes session results to Redis:
//
//	HSET quiz:{sessionID}:scores {displayName} {score}
//	SADD quiz:{sessionID}:presented {questionID}
type ResultSink struct {
	client *redis.Client
	ttl    time.Duration
}

func NewResultSink(client *redis.Client, ttl time.Duration) *ResultSink {
	return &ResultSink{client: client, ttl: ttl}
}

func (s *ResultSink) RecordScore(ctx context.Context, sessionID int64, entry domain.LeaderboardEntry) error {
	key := scoresKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, entry.DisplayName, entry.Score)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record score: %w", err)
	}
	return nil
}

func (s *ResultSink) RecordPresented(ctx context.Context, sessionID, questionID int64) error {
	key := presentedKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, questionID)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record presented: %w", err)
	}
	return nil
}

// Scores reads back the persisted score hash.
func (s *ResultSink) Scores(ctx context.Context, sessionID int64) (map[string]int, error) {
	raw, err := s.client.HGetAll(ctx, scoresKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	scores := make(map[string]int, len(raw))
	for name, value := range raw {
		score, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		scores[name] = score
	}
	return scores, nil
}

func scoresKey(sessionID int64) string {
	return "quiz:" + strconv.FormatInt(sessionID, 10) + ":scores"
}

func presentedKey(sessionID int64) string {
	return "quiz:" + strconv.FormatInt(sessionID, 10) + ":presented"
}
