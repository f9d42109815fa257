package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"biopass/internal/domain"
	"biopass/pkg/requestcontext"
	"biopass/pkg/sentinel"
)

const (
	challengeKeyPrefix = "bp:challenge:"
	consumedKeyPrefix  = "bp:challenge:consumed:"
	userIndexPrefix    = "bp:challenge:user:"
)

// RedisStore is the distributed challenge store. Challenge payloads carry a
// TTL matching their expiry, so Redis does the garbage collection. Consume
// atomicity rides on SET NX: the first caller to plant the consumed marker
// wins, everyone else gets ErrAlreadyConsumed.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

type storedChallenge struct {
	ChallengeID string `json:"challenge_id"`
	UserID      string `json:"user_id"`
	Nonce       []byte `json:"nonce"`
	Purpose     string `json:"purpose"`
	IssuedAt    int64  `json:"issued_at"`
	ExpiresAt   int64  `json:"expires_at"`
}

func (s *RedisStore) Save(ctx context.Context, ch domain.Challenge) error {
	now := requestcontext.Now(ctx)
	ttl := ch.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return sentinel.ErrExpired
	}

	payload, err := json.Marshal(storedChallenge{
		ChallengeID: ch.ChallengeID.String(),
		UserID:      ch.UserID.String(),
		Nonce:       ch.Nonce,
		Purpose:     string(ch.Purpose),
		IssuedAt:    ch.IssuedAt.UnixMilli(),
		ExpiresAt:   ch.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}

	key := challengeKeyPrefix + ch.ChallengeID.String()
	ok, err := s.client.SetNX(ctx, key, payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	if !ok {
		return sentinel.ErrConflict
	}

	// Per-user index for outstanding counts, scored by expiry.
	userKey := userIndexPrefix + ch.UserID.String()
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, userKey, redis.Z{Score: float64(ch.ExpiresAt.UnixMilli()), Member: ch.ChallengeID.String()})
	pipe.Expire(ctx, userKey, ttl+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index challenge: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id domain.ChallengeID) (domain.Challenge, error) {
	raw, err := s.client.Get(ctx, challengeKeyPrefix+id.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Challenge{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("get challenge: %w", err)
	}
	consumed, err := s.client.Exists(ctx, consumedKeyPrefix+id.String()).Result()
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("get challenge: %w", err)
	}
	return s.decode(raw, consumed > 0)
}

func (s *RedisStore) Consume(ctx context.Context, id domain.ChallengeID) (domain.Challenge, error) {
	now := requestcontext.Now(ctx)

	raw, err := s.client.Get(ctx, challengeKeyPrefix+id.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Challenge{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("consume challenge: %w", err)
	}
	ch, err := s.decode(raw, false)
	if err != nil {
		return domain.Challenge{}, err
	}
	if ch.Expired(now) {
		return domain.Challenge{}, sentinel.ErrExpired
	}

	ttl := ch.ExpiresAt.Sub(now) + time.Minute
	won, err := s.client.SetNX(ctx, consumedKeyPrefix+id.String(), "1", ttl).Result()
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("consume challenge: %w", err)
	}
	if !won {
		return domain.Challenge{}, sentinel.ErrAlreadyConsumed
	}

	// Consumed challenges no longer count against the outstanding cap. Best
	// effort; a stale index entry ages out with the challenge TTL.
	_ = s.client.ZRem(ctx, userIndexPrefix+ch.UserID.String(), id.String()).Err()

	ch.Consumed = true
	return ch, nil
}

func (s *RedisStore) CountOutstanding(ctx context.Context, userID domain.UserID) (int, error) {
	now := requestcontext.Now(ctx)
	userKey := userIndexPrefix + userID.String()

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, userKey, "-inf", strconv.FormatInt(now.UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, userKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count outstanding: %w", err)
	}
	return int(countCmd.Val()), nil
}

// DeleteExpired is a no-op under Redis; key TTLs handle expiry.
func (s *RedisStore) DeleteExpired(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) decode(raw []byte, consumed bool) (domain.Challenge, error) {
	var stored storedChallenge
	if err := json.Unmarshal(raw, &stored); err != nil {
		return domain.Challenge{}, fmt.Errorf("decode challenge: %w", err)
	}
	challengeID, err := domain.ParseChallengeID(stored.ChallengeID)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("decode challenge: %w", err)
	}
	userID, err := domain.ParseUserID(stored.UserID)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("decode challenge: %w", err)
	}
	return domain.Challenge{
		ChallengeID: challengeID,
		UserID:      userID,
		Nonce:       stored.Nonce,
		Purpose:     domain.ChallengePurpose(stored.Purpose),
		IssuedAt:    time.UnixMilli(stored.IssuedAt).UTC(),
		ExpiresAt:   time.UnixMilli(stored.ExpiresAt).UTC(),
		Consumed:    consumed,
	}, nil
}
