package identity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const attemptKeyPrefix = "oidc:attempt:"

// LoginAttempt guarda state, nonce e verifier PKCE entre o redirect e o callback.
type LoginAttempt struct {
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewLoginAttempt gera valores aleatórios para uma nova tentativa.
func NewLoginAttempt(now time.Time) (LoginAttempt, error) {
	state, err := randomString(24)
	if err != nil {
		return LoginAttempt{}, err
	}
	nonce, err := randomString(24)
	if err != nil {
		return LoginAttempt{}, err
	}
	verifier, err := randomString(32)
	if err != nil {
		return LoginAttempt{}, err
	}
	return LoginAttempt{State: state, Nonce: nonce, CodeVerifier: verifier, CreatedAt: now}, nil
}

type redisCommander interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
}

// AttemptStore persiste tentativas de login no Redis com TTL curto.
type AttemptStore struct {
	redis redisCommander
	ttl   time.Duration
}

// NewAttemptStore cria o store.
func NewAttemptStore(client redisCommander, ttl time.Duration) *AttemptStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &AttemptStore{redis: client, ttl: ttl}
}

// Save grava a tentativa indexada pelo state.
func (s *AttemptStore) Save(ctx context.Context, attempt LoginAttempt) error {
	payload, err := json.Marshal(attempt)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, attemptKeyPrefix+attempt.State, payload, s.ttl).Err()
}

// Take consome a tentativa; cada state só pode ser usado uma vez.
func (s *AttemptStore) Take(ctx context.Context, state string) (LoginAttempt, error) {
	if state == "" {
		return LoginAttempt{}, ErrLoginExpired
	}
	raw, err := s.redis.GetDel(ctx, attemptKeyPrefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return LoginAttempt{}, ErrLoginExpired
		}
		return LoginAttempt{}, err
	}
	var attempt LoginAttempt
	if err := json.Unmarshal(raw, &attempt); err != nil {
		return LoginAttempt{}, err
	}
	return attempt, nil
}
