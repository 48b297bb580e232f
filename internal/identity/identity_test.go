package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type stubRedis struct {
	store map[string]string
	ttls  map[string]time.Duration
}

func (s *stubRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	if s.store == nil {
		s.store = make(map[string]string)
		s.ttls = make(map[string]time.Duration)
	}
	switch v := value.(type) {
	case []byte:
		s.store[key] = string(v)
	case string:
		s.store[key] = v
	}
	s.ttls[key] = expiration
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (s *stubRedis) GetDel(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	val, ok := s.store[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	delete(s.store, key)
	cmd.SetVal(val)
	return cmd
}

func TestAttemptStoreSingleUse(t *testing.T) {
	rdb := &stubRedis{}
	store := NewAttemptStore(rdb, 5*time.Minute)
	ctx := context.Background()

	attempt, err := NewLoginAttempt(time.Now().UTC())
	if err != nil {
		t.Fatalf("new attempt: %v", err)
	}
	if attempt.State == attempt.Nonce || len(attempt.CodeVerifier) < 43 {
		t.Fatalf("weak attempt values: %+v", attempt)
	}
	if err := store.Save(ctx, attempt); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := rdb.ttls[attemptKeyPrefix+attempt.State]; ttl != 5*time.Minute {
		t.Fatalf("unexpected ttl %s", ttl)
	}

	got, err := store.Take(ctx, attempt.State)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if got.Nonce != attempt.Nonce || got.CodeVerifier != attempt.CodeVerifier {
		t.Fatalf("unexpected attempt %+v", got)
	}
	if _, err := store.Take(ctx, attempt.State); !errors.Is(err, ErrLoginExpired) {
		t.Fatalf("expected ErrLoginExpired on reuse, got %v", err)
	}
	if _, err := store.Take(ctx, ""); !errors.Is(err, ErrLoginExpired) {
		t.Fatalf("expected ErrLoginExpired for empty state, got %v", err)
	}
}

func TestIdentityNormalize(t *testing.T) {
	id := Identity{ID: " abc ", Email: " Ana@Example.COM ", DisplayName: " "}.Normalize()
	if id.ID != "abc" || id.Email != "ana@example.com" || id.DisplayName != "ana@example.com" {
		t.Fatalf("unexpected normalization %+v", id)
	}
	if !id.Valid() {
		t.Fatal("expected valid identity")
	}
	if (Identity{ID: "x"}).Valid() {
		t.Fatal("identity without email must be invalid")
	}
}
