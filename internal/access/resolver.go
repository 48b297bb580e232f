// Package access resolve o papel de cada identidade e conduz o fluxo de aprovação.
package access

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gestaozabele/manutencao/internal/directory"
	"github.com/gestaozabele/manutencao/internal/identity"
)

// Outcome é o resultado mutuamente exclusivo da resolução de papel.
type Outcome string

const (
	OutcomeAdmin    Outcome = "admin"
	OutcomeApproved Outcome = "approved"
	OutcomePending  Outcome = "pending"
	OutcomeDenied   Outcome = "denied"
	OutcomeNew      Outcome = "new"
)

// ParseOutcome converte o valor vindo de claims.
func ParseOutcome(raw string) Outcome {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(raw))); o {
	case OutcomeAdmin, OutcomeApproved, OutcomePending, OutcomeDenied, OutcomeNew:
		return o
	}
	return OutcomePending
}

// Resolution descreve status, papel e especialidade atuais de uma identidade.
type Resolution struct {
	Outcome  Outcome        `json:"outcome"`
	Role     directory.Role `json:"role,omitempty"`
	Category string         `json:"category,omitempty"`
}

// Authorized indica se a identidade pode usar o sistema.
func (r Resolution) Authorized() bool {
	return r.Outcome == OutcomeAdmin || r.Outcome == OutcomeApproved
}

// Resolver determina o papel atual consultando o diretório.
type Resolver struct {
	store  directory.Store
	admins map[string]struct{}
	logger zerolog.Logger
	now    func() time.Time
}

// NewResolver cria o resolver com a allow-list de administradores injetada.
func NewResolver(store directory.Store, adminEmails []string, logger zerolog.Logger) *Resolver {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, email := range adminEmails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			admins[email] = struct{}{}
		}
	}
	return &Resolver{
		store:  store,
		admins: admins,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// IsAdmin verifica a allow-list estática.
func (r *Resolver) IsAdmin(email string) bool {
	_, ok := r.admins[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

// Resolve aplica as regras em ordem estrita; a primeira que casar vence.
// Qualquer erro de leitura degrada para pending.
func (r *Resolver) Resolve(ctx context.Context, id identity.Identity) Resolution {
	if r.IsAdmin(id.Email) {
		return Resolution{Outcome: OutcomeAdmin, Role: directory.RoleAdmin}
	}

	logger := r.logger.With().Str("identity_id", id.ID).Logger()

	rec, err := r.store.GetApproved(ctx, id.ID)
	switch {
	case err == nil:
		if rec.Status == directory.StatusDenied {
			return Resolution{Outcome: OutcomeDenied, Role: rec.Role}
		}
		if rec.Status == directory.StatusApproved {
			return Resolution{Outcome: OutcomeApproved, Role: rec.Role, Category: rec.ContractorCategory}
		}
		logger.Warn().Str("status", string(rec.Status)).Msg("identidade aprovada com status desconhecido")
		return Resolution{Outcome: OutcomePending, Role: rec.Role}
	case !errors.Is(err, directory.ErrNotFound):
		logger.Error().Err(err).Msg("resolver: falha ao ler identidade aprovada")
		return Resolution{Outcome: OutcomePending}
	}

	creq, err := r.store.LatestRequest(ctx, directory.KindContractor, id.ID)
	switch {
	case err == nil:
		return r.resolveContractorRequest(ctx, logger, id, creq)
	case !errors.Is(err, directory.ErrNotFound):
		logger.Error().Err(err).Msg("resolver: falha ao ler solicitação de prestador")
		return Resolution{Outcome: OutcomePending, Role: directory.RoleContractor}
	}

	ureq, err := r.store.LatestRequest(ctx, directory.KindUser, id.ID)
	switch {
	case err == nil:
		return Resolution{Outcome: OutcomePending, Role: ureq.Role, Category: ureq.Category()}
	case !errors.Is(err, directory.ErrNotFound):
		logger.Error().Err(err).Msg("resolver: falha ao ler solicitação de usuário")
		return Resolution{Outcome: OutcomePending}
	}

	return Resolution{Outcome: OutcomeNew}
}

func (r *Resolver) resolveContractorRequest(ctx context.Context, logger zerolog.Logger, id identity.Identity, req directory.ApprovalRequest) Resolution {
	category := req.Category()

	switch req.Status {
	case directory.StatusDenied:
		return Resolution{Outcome: OutcomeDenied, Role: directory.RoleContractor}
	case directory.StatusApproved:
	default:
		return Resolution{Outcome: OutcomePending, Role: directory.RoleContractor, Category: category}
	}

	now := r.now()
	rec := directory.ApprovedIdentity{
		IdentityID:         id.ID,
		Email:              firstNonEmpty(req.Email, id.Email),
		DisplayName:        firstNonEmpty(req.DisplayName, id.DisplayName),
		PhotoURL:           firstNonEmpty(req.PhotoURL, id.PhotoURL),
		Status:             directory.StatusApproved,
		Role:               directory.RoleContractor,
		ContractorCategory: category,
		ApprovedAt:         now,
		JoinedAt:           now,
	}
	if req.ProcessedAt != nil {
		rec.ApprovedAt = *req.ProcessedAt
	}

	inserted, err := r.store.InsertApprovedIfAbsent(ctx, rec)
	if err != nil {
		logger.Error().Err(err).Msg("resolver: falha ao materializar prestador aprovado")
		return Resolution{Outcome: OutcomePending, Role: directory.RoleContractor, Category: category}
	}
	if inserted {
		logger.Info().Str("category", category).Msg("prestador aprovado materializado")
		if err := r.store.AppendLog(ctx, directory.RequestLog{
			IdentityID: id.ID,
			Email:      rec.Email,
			Action:     directory.ActionMirrored,
			Role:       directory.RoleContractor,
			Detail:     category,
			CreatedAt:  now,
		}); err != nil {
			logger.Warn().Err(err).Msg("resolver: falha ao registrar log de materialização")
		}
	}

	return Resolution{Outcome: OutcomeApproved, Role: directory.RoleContractor, Category: category}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
