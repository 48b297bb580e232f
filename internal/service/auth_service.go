package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gestaozabele/manutencao/internal/access"
	"github.com/gestaozabele/manutencao/internal/auth"
	"github.com/gestaozabele/manutencao/internal/identity"
	"github.com/gestaozabele/manutencao/internal/session"
	"github.com/gestaozabele/manutencao/internal/util"
)

var (
	// ErrRefreshInvalid indica refresh token inválido ou expirado.
	ErrRefreshInvalid = errors.New("refresh token inválido")
)

type roleResolver interface {
	Resolve(ctx context.Context, id identity.Identity) access.Resolution
}

type attemptStore interface {
	Save(ctx context.Context, attempt identity.LoginAttempt) error
	Take(ctx context.Context, state string) (identity.LoginAttempt, error)
}

type redisCommander interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// AuthService concentra login OIDC e sessões.
type AuthService struct {
	provider   identity.Provider
	attempts   attemptStore
	resolver   roleResolver
	redis      redisCommander
	jwt        *auth.JWTManager
	refreshTTL time.Duration
	logger     zerolog.Logger
}

// NewAuthService cria novo serviço.
func NewAuthService(provider identity.Provider, attempts *identity.AttemptStore, resolver *access.Resolver, redisClient *redis.Client, jwtMgr *auth.JWTManager, refreshTTL time.Duration, logger zerolog.Logger) *AuthService {
	return &AuthService{
		provider:   provider,
		attempts:   attempts,
		resolver:   resolver,
		redis:      redisClient,
		jwt:        jwtMgr,
		refreshTTL: refreshTTL,
		logger:     logger,
	}
}

// JWT expõe gerenciador de JWT (útil em middlewares).
func (s *AuthService) JWT() *auth.JWTManager {
	return s.jwt
}

// LoginResult representa retorno padrão de autenticações.
type LoginResult struct {
	AccessToken   string
	RefreshToken  string
	RefreshExpiry time.Time
	Identity      identity.Identity
	Resolution    access.Resolution
}

type refreshState struct {
	Identity  identity.Identity `json:"identity"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// BeginLogin gera a tentativa (state, nonce, PKCE) e devolve a URL do provedor.
func (s *AuthService) BeginLogin(ctx context.Context) (string, error) {
	attempt, err := identity.NewLoginAttempt(util.Now())
	if err != nil {
		return "", err
	}
	if err := s.attempts.Save(ctx, attempt); err != nil {
		return "", fmt.Errorf("salvar tentativa de login: %w", err)
	}
	return s.provider.AuthCodeURL(attempt), nil
}

// CompleteLogin valida o callback do provedor e abre a sessão.
func (s *AuthService) CompleteLogin(ctx context.Context, state, code string) (*LoginResult, error) {
	attempt, err := s.attempts.Take(ctx, state)
	if err != nil {
		if errors.Is(err, identity.ErrLoginExpired) {
			return nil, err
		}
		return nil, fmt.Errorf("recuperar tentativa de login: %w", err)
	}
	if code == "" {
		return nil, identity.ErrAuthentication
	}

	id, err := s.provider.Exchange(ctx, code, attempt)
	if err != nil {
		s.logger.Warn().Err(err).Msg("login: troca de código recusada")
		return nil, err
	}
	return s.IssueSession(ctx, id)
}

// IssueSession resolve o papel atual e emite tokens de acesso e refresh.
func (s *AuthService) IssueSession(ctx context.Context, id identity.Identity) (*LoginResult, error) {
	id = id.Normalize()
	if !id.Valid() {
		return nil, identity.ErrAuthentication
	}

	res := s.resolver.Resolve(ctx, id)
	token, _, err := s.jwt.GenerateAccessToken(session.Claims(id, res))
	if err != nil {
		return nil, err
	}

	refresh, err := auth.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	expires := util.Now().Add(s.refreshTTL)
	if err := s.persistRefresh(ctx, refresh.Key, refreshState{Identity: id, ExpiresAt: expires}); err != nil {
		return nil, err
	}

	s.logger.Info().Str("identity_id", id.ID).Str("outcome", string(res.Outcome)).Str("role", string(res.Role)).
		Msg("sessão emitida")

	return &LoginResult{
		AccessToken:   token,
		RefreshToken:  refresh.Raw,
		RefreshExpiry: expires,
		Identity:      id,
		Resolution:    res,
	}, nil
}

// Refresh troca o refresh token por novos tokens, resolvendo o papel de novo.
func (s *AuthService) Refresh(ctx context.Context, rawToken string) (*LoginResult, error) {
	if rawToken == "" {
		return nil, ErrRefreshInvalid
	}

	redisKey := auth.RefreshKey(rawToken)
	raw, err := s.redis.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRefreshInvalid
	}
	if err != nil {
		return nil, err
	}

	var state refreshState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, ErrRefreshInvalid
	}
	if util.Now().After(state.ExpiresAt) {
		return nil, ErrRefreshInvalid
	}

	// Revoga o token anterior antes de emitir o novo.
	if err := s.redis.Del(ctx, redisKey).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	return s.IssueSession(ctx, state.Identity)
}

// Logout revoga refresh token atual.
func (s *AuthService) Logout(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}
	redisKey := auth.RefreshKey(rawToken)
	if err := s.redis.Del(ctx, redisKey).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// Resolve consulta o estado atual, sem esperar pelo próximo refresh.
func (s *AuthService) Resolve(ctx context.Context, id identity.Identity) access.Resolution {
	return s.resolver.Resolve(ctx, id)
}

func (s *AuthService) persistRefresh(ctx context.Context, key string, state refreshState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, payload, time.Until(state.ExpiresAt)).Err()
}
