package issues

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("chamado não encontrado")
	ErrInvalidStatus      = errors.New("status inválido")
	ErrInvalidCategory    = errors.New("categoria inválida")
	ErrInvalidTransition  = errors.New("transição de status não permitida")
	ErrForbidden          = errors.New("acesso negado ao chamado")
	ErrDescriptionMissing = errors.New("descrição obrigatória")
	ErrImageMissing       = errors.New("foto obrigatória")
	ErrImageTooLarge      = errors.New("foto excede o tamanho máximo")
	ErrImageType          = errors.New("formato de foto não suportado")
	ErrUpload             = errors.New("falha ao enviar a foto")
	// ErrNotAssignable indica chamado que não está aberto e sem responsável.
	ErrNotAssignable      = errors.New("chamado não está aberto para atribuição")
)

// Status de um chamado. Os valores são exibidos diretamente nos painéis.
type Status string

const (
	StatusOpen       Status = "Open"
	StatusAssigned   Status = "Assigned"
	StatusInProgress Status = "In Progress"
	StatusResolved   Status = "Resolved"
)

var statusOrder = map[Status]int{
	StatusOpen:       0,
	StatusAssigned:   1,
	StatusInProgress: 2,
	StatusResolved:   3,
}

// ParseStatus aceita variações de caixa, hífen e underscore.
func ParseStatus(raw string) (Status, error) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.NewReplacer("_", " ", "-", " ").Replace(norm)
	for status := range statusOrder {
		if strings.ToLower(string(status)) == norm {
			return status, nil
		}
	}
	return "", ErrInvalidStatus
}

// IsForward indica se a transição avança no fluxo nominal.
func IsForward(from, to Status) bool {
	return statusOrder[to] > statusOrder[from]
}

// Strategy identifica qual etapa da cadeia de classificação definiu a categoria.
type Strategy string

const (
	StrategyPrimary   Strategy = "primary"
	StrategySecondary Strategy = "secondary"
	StrategyDefault   Strategy = "default"
	StrategyManual    Strategy = "manual"
)

// Issue representa um problema de manutenção reportado.
type Issue struct {
	ID                 uuid.UUID  `json:"id"`
	ReporterIdentityID string     `json:"reporter_identity_id"`
	ReporterEmail      string     `json:"reporter_email"`
	ReporterName       string     `json:"reporter_name"`
	ImageRef           string     `json:"image_ref"`
	Description        string     `json:"description"`
	Category           string     `json:"category"`
	AssignedTo         *string    `json:"assigned_to,omitempty"`
	Status             Status     `json:"status"`
	AIConfidence       *float64   `json:"ai_confidence,omitempty"`
	ClassifiedBy       Strategy   `json:"classified_by"`
	NeedsReview        bool       `json:"needs_review"`
	ReviewedBy         *string    `json:"reviewed_by,omitempty"`
	ReviewedAt         *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	AssignedAt         *time.Time `json:"assigned_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Assignee devolve o e-mail do prestador atribuído ou vazio.
func (i Issue) Assignee() string {
	if i.AssignedTo == nil {
		return ""
	}
	return *i.AssignedTo
}

// Filter permite filtrar a listagem de chamados.
type Filter struct {
	Status             []Status
	Category           string
	AssignedTo         string
	ReporterIdentityID string
	NeedsReview        *bool
	Unassigned         bool
	Limit              int
	Offset             int
}

// Stats resume os chamados para o painel administrativo.
type Stats struct {
	ByStatus    map[Status]int `json:"by_status"`
	NeedsReview int            `json:"needs_review"`
	Unassigned  int            `json:"unassigned"`
	Total       int            `json:"total"`
}

// Reporter identifica quem abriu o chamado.
type Reporter struct {
	IdentityID string
	Email      string
	Name       string
}

// Actor é quem altera um chamado; Admin ignora as restrições de prestador.
type Actor struct {
	Email string
	Admin bool
}
