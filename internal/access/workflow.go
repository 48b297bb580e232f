package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gestaozabele/manutencao/internal/directory"
	"github.com/gestaozabele/manutencao/internal/identity"
)

var (
	// ErrAuthorizationMismatch indica papel reivindicado sem direito (ex.: admin fora da allow-list).
	ErrAuthorizationMismatch = errors.New("papel solicitado não autorizado")
	// ErrEmailCollision indica e-mail já usado por admin ou usuário ao cadastrar prestador.
	ErrEmailCollision = errors.New("e-mail já vinculado a outro papel")
	// ErrInvalidCategory indica especialidade fora do catálogo.
	ErrInvalidCategory = errors.New("especialidade inválida")
	// ErrInvalidRole indica papel desconhecido.
	ErrInvalidRole = errors.New("papel inválido")
	// ErrInvalidIdentity indica identidade sem id ou e-mail.
	ErrInvalidIdentity = errors.New("identidade inválida")
	// ErrNotFound indica solicitação ou identidade inexistente.
	ErrNotFound = errors.New("registro não encontrado")
	// ErrAlreadyDecided indica solicitação que já saiu de waiting_approval.
	ErrAlreadyDecided = errors.New("solicitação já decidida")
)

// SubmitResult descreve o efeito de SubmitRequest.
type SubmitResult struct {
	Created  bool                       `json:"created"`
	Request  *directory.ApprovalRequest `json:"request,omitempty"`
	Mismatch bool                       `json:"mismatch"`
}

// Workflow expõe as operações de aprovação usadas pelo painel administrativo.
type Workflow struct {
	store      directory.Store
	resolver   *Resolver
	categories map[string]struct{}
	logger     zerolog.Logger
	now        func() time.Time
}

// NewWorkflow cria o fluxo de aprovação.
func NewWorkflow(store directory.Store, resolver *Resolver, categories []string, logger zerolog.Logger) *Workflow {
	set := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		set[c] = struct{}{}
	}
	return &Workflow{
		store:      store,
		resolver:   resolver,
		categories: set,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ValidCategory indica se a especialidade pertence ao catálogo.
func (w *Workflow) ValidCategory(category string) bool {
	_, ok := w.categories[category]
	return ok
}

// CheckContractorEmail deve ser chamado antes de um novo cadastro de prestador.
// A verificação inversa (usuário com e-mail já usado por prestador) não é feita.
func (w *Workflow) CheckContractorEmail(ctx context.Context, email string) error {
	if w.resolver.IsAdmin(email) {
		return ErrEmailCollision
	}
	rec, err := w.store.FindApprovedByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil
		}
		return err
	}
	if rec.Role != directory.RoleContractor {
		return ErrEmailCollision
	}
	return nil
}

// SubmitRequest cria a solicitação somente se a identidade ainda não tiver nenhuma reivindicação.
// A checagem e a criação rodam na mesma transação, com lock por identidade.
func (w *Workflow) SubmitRequest(ctx context.Context, id identity.Identity, role directory.Role, category string) (SubmitResult, error) {
	id = id.Normalize()
	if !id.Valid() {
		return SubmitResult{}, ErrInvalidIdentity
	}
	if w.resolver.IsAdmin(id.Email) {
		return SubmitResult{}, nil
	}

	var result SubmitResult
	switch role {
	case directory.RoleAdmin:
		result.Mismatch = true
		role = directory.RoleUser
		category = ""
	case directory.RoleContractor:
		category = strings.TrimSpace(category)
	case directory.RoleUser:
		category = ""
	default:
		return SubmitResult{}, ErrInvalidRole
	}

	req := directory.ApprovalRequest{
		Kind:               directory.KindForRole(role),
		IdentityID:         id.ID,
		Email:              id.Email,
		DisplayName:        id.DisplayName,
		PhotoURL:           id.PhotoURL,
		Role:               role,
		ContractorCategory: category,
		Status:             directory.StatusWaiting,
		RequestedAt:        w.now(),
	}

	var created bool
	err := w.store.InTx(ctx, func(ctx context.Context, s directory.Store) error {
		if err := s.LockIdentity(ctx, id.ID); err != nil {
			return err
		}
		exists, err := hasClaim(ctx, s, id.ID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		// Reenvio de quem já tem reivindicação é no-op mesmo com especialidade inválida.
		if role == directory.RoleContractor && !w.ValidCategory(category) {
			return ErrInvalidCategory
		}

		stored, err := s.CreateRequest(ctx, req)
		if err != nil {
			return err
		}
		req = stored
		created = true
		return s.AppendLog(ctx, directory.RequestLog{
			IdentityID: id.ID,
			Email:      id.Email,
			Action:     directory.ActionSubmitted,
			Role:       role,
			Detail:     category,
			CreatedAt:  req.RequestedAt,
		})
	})
	if errors.Is(err, ErrInvalidCategory) {
		return SubmitResult{}, err
	}
	if err != nil {
		return SubmitResult{}, fmt.Errorf("criar solicitação: %w", err)
	}
	if !created {
		return result, nil
	}

	w.logger.Info().Str("identity_id", id.ID).Str("role", string(role)).Str("request_id", req.ID.String()).
		Msg("solicitação de acesso criada")

	result.Created = true
	result.Request = &req
	return result, nil
}

func hasClaim(ctx context.Context, s directory.Store, identityID string) (bool, error) {
	if _, err := s.GetApproved(ctx, identityID); err == nil {
		return true, nil
	} else if !errors.Is(err, directory.ErrNotFound) {
		return false, err
	}

	for _, kind := range []directory.RequestKind{directory.KindContractor, directory.KindUser} {
		if _, err := s.LatestRequest(ctx, kind, identityID); err == nil {
			return true, nil
		} else if !errors.Is(err, directory.ErrNotFound) {
			return false, err
		}
	}
	return false, nil
}

// Decide aprova ou nega uma solicitação. Todas as escritas ocorrem na mesma transação.
func (w *Workflow) Decide(ctx context.Context, kind directory.RequestKind, requestID uuid.UUID, approve bool, decidedBy string) (directory.ApprovalRequest, error) {
	var decided directory.ApprovalRequest
	now := w.now()

	err := w.store.InTx(ctx, func(ctx context.Context, s directory.Store) error {
		req, err := s.GetRequest(ctx, kind, requestID)
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		// Relê depois do lock: outra decisão pode ter terminado enquanto esperávamos.
		if err := s.LockIdentity(ctx, req.IdentityID); err != nil {
			return err
		}
		if req, err = s.GetRequest(ctx, kind, requestID); err != nil {
			return err
		}
		if req.Status != directory.StatusWaiting {
			return ErrAlreadyDecided
		}

		status := directory.StatusDenied
		action := directory.ActionDenied
		if approve {
			status = directory.StatusApproved
			action = directory.ActionApproved
		}
		if err := s.SetRequestStatus(ctx, kind, req.ID, status, now); err != nil {
			return err
		}
		req.Status = status
		req.ProcessedAt = &now

		role := req.Role
		if kind == directory.KindContractor {
			role = directory.RoleContractor
		}
		rec := directory.ApprovedIdentity{
			IdentityID:  req.IdentityID,
			Email:       req.Email,
			DisplayName: req.DisplayName,
			PhotoURL:    req.PhotoURL,
			Status:      status,
			Role:        role,
			ApprovedAt:  now,
			JoinedAt:    now,
		}
		if role == directory.RoleContractor {
			rec.ContractorCategory = req.Category()
		}

		if approve {
			if err := s.UpsertApproved(ctx, rec); err != nil {
				return err
			}
			if kind == directory.KindUser {
				if _, err := s.DeleteRequests(ctx, directory.RequestDeletion{
					Kind:       directory.KindUser,
					IdentityID: req.IdentityID,
					ExceptID:   req.ID,
					Status:     directory.StatusWaiting,
				}); err != nil {
					return err
				}
			}
		} else {
			// Nunca rebaixa uma identidade já aprovada.
			if _, err := s.InsertApprovedIfAbsent(ctx, rec); err != nil {
				return err
			}
		}

		decided = req
		return s.AppendLog(ctx, directory.RequestLog{
			IdentityID: req.IdentityID,
			Email:      req.Email,
			Action:     action,
			Role:       role,
			Detail:     decidedBy,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return directory.ApprovalRequest{}, err
	}

	w.logger.Info().Str("request_id", requestID.String()).Str("kind", string(kind)).
		Bool("approved", approve).Str("decided_by", decidedBy).Msg("solicitação decidida")
	return decided, nil
}

// DeleteApprovedIdentity remove o registro aprovado. Chamados históricos mantêm o e-mail em assigned_to.
func (w *Workflow) DeleteApprovedIdentity(ctx context.Context, identityID, deletedBy string) (directory.ApprovedIdentity, error) {
	var removed directory.ApprovedIdentity

	err := w.store.InTx(ctx, func(ctx context.Context, s directory.Store) error {
		rec, err := s.DeleteApproved(ctx, identityID)
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		removed = rec
		return s.AppendLog(ctx, directory.RequestLog{
			IdentityID: rec.IdentityID,
			Email:      rec.Email,
			Action:     directory.ActionDeleted,
			Role:       rec.Role,
			Detail:     deletedBy,
			CreatedAt:  w.now(),
		})
	})
	if err != nil {
		return directory.ApprovedIdentity{}, err
	}

	// Best-effort, fora da transação.
	n, err := w.store.DeleteRequests(ctx, directory.RequestDeletion{
		Kind:       directory.KindForRole(removed.Role),
		IdentityID: identityID,
	})
	if err != nil {
		w.logger.Warn().Err(err).Str("identity_id", identityID).Msg("falha ao limpar solicitações da identidade removida")
	}

	w.logger.Info().Str("identity_id", identityID).Str("role", string(removed.Role)).Int64("requests_removed", n).
		Str("deleted_by", deletedBy).Msg("identidade aprovada removida")
	return removed, nil
}

// ListRequests lista solicitações de uma coleção, opcionalmente por status.
func (w *Workflow) ListRequests(ctx context.Context, kind directory.RequestKind, status *directory.Status) ([]directory.ApprovalRequest, error) {
	return w.store.ListRequests(ctx, directory.RequestFilter{Kind: kind, Status: status})
}

// ListApproved lista identidades aprovadas, opcionalmente por papel.
func (w *Workflow) ListApproved(ctx context.Context, role *directory.Role) ([]directory.ApprovedIdentity, error) {
	return w.store.ListApproved(ctx, directory.ApprovedFilter{Role: role})
}
