// Package session carrega a sessão autenticada de forma explícita pelo contexto da requisição.
package session

import (
	"context"
	"time"

	"github.com/gestaozabele/manutencao/internal/access"
	"github.com/gestaozabele/manutencao/internal/auth"
	"github.com/gestaozabele/manutencao/internal/directory"
	"github.com/gestaozabele/manutencao/internal/identity"
)

// Session é o estado de quem fez a requisição, derivado do token de acesso.
type Session struct {
	IdentityID string
	Email      string
	Name       string
	Picture    string
	Outcome    access.Outcome
	Role       directory.Role
	Category   string
	TokenID    string
	ExpiresAt  time.Time
}

// FromClaims converte as claims do JWT.
func FromClaims(c *auth.Claims) Session {
	s := Session{
		IdentityID: c.Subject,
		Email:      c.Email,
		Name:       c.Name,
		Picture:    c.Picture,
		Outcome:    access.ParseOutcome(c.Outcome),
		Category:   c.Category,
		TokenID:    c.ID,
	}
	if role, ok := directory.ParseRole(c.Role); ok {
		s.Role = role
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s
}

// Claims monta os campos do token a partir da identidade e da resolução.
func Claims(id identity.Identity, res access.Resolution) auth.SessionClaims {
	return auth.SessionClaims{
		Subject:  id.ID,
		Email:    id.Email,
		Name:     id.DisplayName,
		Picture:  id.PhotoURL,
		Outcome:  string(res.Outcome),
		Role:     string(res.Role),
		Category: res.Category,
	}
}

// Identity reconstrói a identidade autenticada.
func (s Session) Identity() identity.Identity {
	return identity.Identity{ID: s.IdentityID, Email: s.Email, DisplayName: s.Name, PhotoURL: s.Picture}
}

// Resolution devolve a resolução registrada no token.
func (s Session) Resolution() access.Resolution {
	return access.Resolution{Outcome: s.Outcome, Role: s.Role, Category: s.Category}
}

// IsAdmin indica administrador da allow-list.
func (s Session) IsAdmin() bool {
	return s.Outcome == access.OutcomeAdmin
}

// Authorized indica acesso liberado (admin ou aprovado).
func (s Session) Authorized() bool {
	return s.Resolution().Authorized()
}

// HasRole indica aprovação com o papel informado. Admin satisfaz qualquer papel.
func (s Session) HasRole(role directory.Role) bool {
	if s.IsAdmin() {
		return true
	}
	return s.Outcome == access.OutcomeApproved && s.Role == role
}

type ctxKey struct{}

// WithSession anexa a sessão ao contexto.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext recupera a sessão; ok=false quando a rota não é autenticada.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}
