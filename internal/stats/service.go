package stats

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const participantsKey = "confpass:stats:participants"

// Counter counts registrations.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Feed pushes participant count changes to live listeners.
type Feed interface {
	PublishParticipants(ctx context.Context, n int)
}

// Service serves the participant count from a short-lived Redis cache,
// falling back to the store on a miss or when Redis misbehaves.
type Service struct {
	counter Counter
	rdb     *redis.Client
	ttl     time.Duration
	feed    Feed
	logger  *zap.Logger
}

// NewService creates a participant count service. rdb may be nil, in which
// case every call goes to the store.
func NewService(counter Counter, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{counter: counter, rdb: rdb, ttl: ttl, logger: logger}
}

// WithFeed makes Invalidate push the fresh count to feed.
func (s *Service) WithFeed(feed Feed) *Service {
	s.feed = feed
	return s
}

// Participants returns the number of registrations.
func (s *Service) Participants(ctx context.Context) (int, error) {
	if s.rdb != nil {
		v, err := s.rdb.Get(ctx, participantsKey).Result()
		switch {
		case err == nil:
			if n, convErr := strconv.Atoi(v); convErr == nil {
				return n, nil
			}
		case !errors.Is(err, redis.Nil):
			s.logger.Warn("participant cache read failed", zap.Error(err))
		}
	}

	n, err := s.counter.Count(ctx)
	if err != nil {
		return 0, err
	}
	if s.rdb != nil && s.ttl > 0 {
		if err := s.rdb.Set(ctx, participantsKey, n, s.ttl).Err(); err != nil {
			s.logger.Warn("participant cache write failed", zap.Error(err))
		}
	}
	return n, nil
}

// Invalidate drops the cached count after a registration is created or
// revoked, and publishes the new count when a feed is attached.
func (s *Service) Invalidate(ctx context.Context) {
	if s.rdb != nil {
		if err := s.rdb.Del(ctx, participantsKey).Err(); err != nil {
			s.logger.Warn("participant cache invalidate failed", zap.Error(err))
		}
	}
	if s.feed == nil {
		return
	}
	n, err := s.Participants(ctx)
	if err != nil {
		s.logger.Warn("participant count for feed failed", zap.Error(err))
		return
	}
	s.feed.PublishParticipants(ctx, n)
}
