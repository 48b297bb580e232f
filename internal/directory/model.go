package directory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("registro não encontrado")
	ErrInvalidKind = errors.New("tipo de solicitação inválido")
)

// Role é o papel de uma identidade no sistema.
type Role string

const (
	RoleUser       Role = "user"
	RoleContractor Role = "contractor"
	RoleAdmin      Role = "admin"
)

// Status é o estado de uma solicitação ou identidade aprovada.
type Status string

const (
	StatusWaiting  Status = "waiting_approval"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// RequestKind identifica a coleção de solicitações.
type RequestKind string

const (
	KindUser       RequestKind = "user"
	KindContractor RequestKind = "contractor"
)

// Log actions.
const (
	ActionSubmitted = "submitted"
	ActionApproved  = "approved"
	ActionDenied    = "denied"
	ActionDeleted   = "deleted"
	ActionMirrored  = "materialized"
)

// ParseRole normaliza e valida um papel.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleUser:
		return RoleUser, true
	case RoleContractor:
		return RoleContractor, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

// ParseKind normaliza e valida o tipo de solicitação.
func ParseKind(raw string) (RequestKind, error) {
	switch RequestKind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindUser:
		return KindUser, nil
	case KindContractor:
		return KindContractor, nil
	}
	return "", ErrInvalidKind
}

// ParseStatus normaliza e valida um status de solicitação.
func ParseStatus(raw string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusWaiting:
		return StatusWaiting, true
	case StatusApproved:
		return StatusApproved, true
	case StatusDenied:
		return StatusDenied, true
	}
	return "", false
}

// KindForRole devolve a coleção onde uma solicitação do papel é guardada.
func KindForRole(role Role) RequestKind {
	if role == RoleContractor {
		return KindContractor
	}
	return KindUser
}

// ApprovalRequest representa um pedido de acesso aguardando decisão do admin.
type ApprovalRequest struct {
	ID                 uuid.UUID   `json:"id"`
	Kind               RequestKind `json:"kind"`
	IdentityID         string      `json:"identity_id"`
	Email              string      `json:"email"`
	DisplayName        string      `json:"display_name"`
	PhotoURL           string      `json:"photo_url"`
	Role               Role        `json:"role"`
	ContractorCategory string      `json:"contractor_category,omitempty"`
	LegacySpecialty    string      `json:"-"`
	Status             Status      `json:"status"`
	RequestedAt        time.Time   `json:"requested_at"`
	ProcessedAt        *time.Time  `json:"processed_at,omitempty"`
}

// Category devolve a especialidade, aceitando o campo antigo de cadastros legados.
func (r ApprovalRequest) Category() string {
	if c := strings.TrimSpace(r.ContractorCategory); c != "" {
		return c
	}
	return strings.TrimSpace(r.LegacySpecialty)
}

// ApprovedIdentity é o registro autoritativo de papel e status de uma identidade.
type ApprovedIdentity struct {
	IdentityID         string    `json:"identity_id"`
	Email              string    `json:"email"`
	DisplayName        string    `json:"display_name"`
	PhotoURL           string    `json:"photo_url"`
	Status             Status    `json:"status"`
	Role               Role      `json:"role"`
	ContractorCategory string    `json:"contractor_category,omitempty"`
	ApprovedAt         time.Time `json:"approved_at"`
	JoinedAt           time.Time `json:"joined_at"`
}

// RequestLog registra cada transição relevante do fluxo de aprovação.
type RequestLog struct {
	ID         uuid.UUID `json:"id"`
	IdentityID string    `json:"identity_id"`
	Email      string    `json:"email"`
	Action     string    `json:"action"`
	Role       Role      `json:"role"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

// RequestFilter filtra a listagem de solicitações.
type RequestFilter struct {
	Kind   RequestKind
	Status *Status
	Limit  int
}

// ApprovedFilter filtra a listagem de identidades aprovadas.
type ApprovedFilter struct {
	Role   *Role
	Status *Status
}

// RequestDeletion descreve uma remoção em lote na coleção de solicitações.
// ExceptID e Status zerados não filtram.
type RequestDeletion struct {
	Kind       RequestKind
	IdentityID string
	ExceptID   uuid.UUID
	Status     Status
}

// Store é o contrato do diretório consumido pelo fluxo de acesso.
type Store interface {
	GetApproved(ctx context.Context, identityID string) (ApprovedIdentity, error)
	FindApprovedByEmail(ctx context.Context, email string) (ApprovedIdentity, error)
	InsertApprovedIfAbsent(ctx context.Context, rec ApprovedIdentity) (bool, error)
	UpsertApproved(ctx context.Context, rec ApprovedIdentity) error
	DeleteApproved(ctx context.Context, identityID string) (ApprovedIdentity, error)
	ListApproved(ctx context.Context, filter ApprovedFilter) ([]ApprovedIdentity, error)

	GetRequest(ctx context.Context, kind RequestKind, id uuid.UUID) (ApprovalRequest, error)
	LatestRequest(ctx context.Context, kind RequestKind, identityID string) (ApprovalRequest, error)
	CreateRequest(ctx context.Context, req ApprovalRequest) (ApprovalRequest, error)
	SetRequestStatus(ctx context.Context, kind RequestKind, id uuid.UUID, status Status, processedAt time.Time) error
	DeleteRequests(ctx context.Context, del RequestDeletion) (int64, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]ApprovalRequest, error)

	AppendLog(ctx context.Context, entry RequestLog) error

	// LockIdentity serializa, até o fim da transação, operações sobre a mesma identidade.
	LockIdentity(ctx context.Context, identityID string) error

	// InTx executa fn com um Store ligado a uma única transação.
	InTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}
