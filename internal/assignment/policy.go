// Package assignment escolhe o prestador responsável por um chamado.
//
// Candidatos são prestadores aprovados cuja especialidade é exatamente a
// categoria do chamado. A escolha automática usa a menor carga de chamados
// não resolvidos; empates ficam com o primeiro candidato listado.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gestaozabele/manutencao/internal/directory"
	"github.com/gestaozabele/manutencao/internal/issues"
	"github.com/gestaozabele/manutencao/internal/metrics"
)

var (
	// ErrNoMatchingContractor indica que nenhum prestador atende a categoria.
	ErrNoMatchingContractor = errors.New("nenhum prestador disponível para a categoria")
	// ErrNotCandidate indica escolha manual de quem não atende a categoria.
	ErrNotCandidate = errors.New("prestador não atende a categoria do chamado")
)

// IssueStore é o subconjunto do serviço de chamados usado pela política.
type IssueStore interface {
	Get(ctx context.Context, id uuid.UUID) (*issues.Issue, error)
	ListOpenUnassigned(ctx context.Context) ([]issues.Issue, error)
	Workload(ctx context.Context, emails []string) (map[string]int, error)
	Assign(ctx context.Context, id uuid.UUID, contractorEmail string) (*issues.Issue, error)
	AssignOpen(ctx context.Context, id uuid.UUID, contractorEmail string) (*issues.Issue, error)
}

// ContractorSource lista identidades aprovadas.
type ContractorSource interface {
	ListApproved(ctx context.Context, filter directory.ApprovedFilter) ([]directory.ApprovedIdentity, error)
}

// Result é o desfecho de uma tentativa dentro do lote.
type Result struct {
	IssueID    uuid.UUID `json:"issue_id"`
	Category   string    `json:"category"`
	AssignedTo string    `json:"assigned_to,omitempty"`
	Skipped    bool      `json:"skipped,omitempty"` // deixou de estar Open e sem responsável
	Error      string    `json:"error,omitempty"`
}

// BatchReport resume AutoAssignAll.
type BatchReport struct {
	Assigned int      `json:"assigned"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Results  []Result `json:"results"`
}

// Policy aplica as regras de atribuição.
type Policy struct {
	issues      IssueStore
	contractors ContractorSource
	logger      zerolog.Logger
}

// NewPolicy cria a política.
func NewPolicy(issueStore IssueStore, contractors ContractorSource, logger zerolog.Logger) *Policy {
	return &Policy{issues: issueStore, contractors: contractors, logger: logger}
}

// Candidates devolve os prestadores aprovados da categoria, na ordem de aprovação.
func (p *Policy) Candidates(ctx context.Context, category string) ([]directory.ApprovedIdentity, error) {
	role := directory.RoleContractor
	status := directory.StatusApproved
	all, err := p.contractors.ListApproved(ctx, directory.ApprovedFilter{Role: &role, Status: &status})
	if err != nil {
		return nil, fmt.Errorf("listar prestadores: %w", err)
	}

	var out []directory.ApprovedIdentity
	for _, c := range all {
		if c.ContractorCategory == category && c.Email != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

// Assign atribui manualmente; o prestador precisa ser candidato da categoria.
func (p *Policy) Assign(ctx context.Context, issueID uuid.UUID, contractorEmail string) (*issues.Issue, error) {
	issue, err := p.issues.Get(ctx, issueID)
	if err != nil {
		return nil, err
	}
	candidates, err := p.Candidates(ctx, issue.Category)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		metrics.RecordAssignment("manual", false)
		return nil, ErrNoMatchingContractor
	}

	var chosen string
	for _, c := range candidates {
		if strings.EqualFold(c.Email, strings.TrimSpace(contractorEmail)) {
			chosen = c.Email
			break
		}
	}
	if chosen == "" {
		metrics.RecordAssignment("manual", false)
		return nil, ErrNotCandidate
	}

	updated, err := p.issues.Assign(ctx, issueID, chosen)
	if err != nil {
		metrics.RecordAssignment("manual", false)
		return nil, err
	}
	metrics.RecordAssignment("manual", true)
	p.logger.Info().Str("issue_id", issueID.String()).Str("contractor", chosen).Msg("chamado atribuído manualmente")
	return updated, nil
}

// AutoAssign atribui ao candidato com menor carga. Só vale para chamado Open sem prestador.
func (p *Policy) AutoAssign(ctx context.Context, issueID uuid.UUID) (*issues.Issue, error) {
	issue, err := p.issues.Get(ctx, issueID)
	if err != nil {
		return nil, err
	}
	updated, err := p.autoAssign(ctx, *issue)
	metrics.RecordAssignment("auto", err == nil)
	return updated, err
}

// AutoAssignAll percorre os chamados Open sem prestador. Falhas individuais não
// interrompem o lote; a carga é recalculada a cada chamado.
func (p *Policy) AutoAssignAll(ctx context.Context) (BatchReport, error) {
	pending, err := p.issues.ListOpenUnassigned(ctx)
	if err != nil {
		return BatchReport{}, err
	}

	report := BatchReport{Results: make([]Result, 0, len(pending))}
	for _, issue := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res := Result{IssueID: issue.ID, Category: issue.Category}
		updated, err := p.autoAssign(ctx, issue)
		metrics.RecordAssignment("auto", err == nil)
		switch {
		case errors.Is(err, issues.ErrNotAssignable):
			res.Skipped = true
			report.Skipped++
			p.logger.Info().Str("issue_id", issue.ID.String()).Msg("chamado atribuído por outro caminho, ignorado")
		case err != nil:
			res.Error = err.Error()
			report.Failed++
			p.logger.Warn().Err(err).Str("issue_id", issue.ID.String()).Str("category", issue.Category).
				Msg("atribuição automática falhou")
		default:
			res.AssignedTo = updated.Assignee()
			report.Assigned++
		}
		report.Results = append(report.Results, res)
	}

	p.logger.Info().Int("assigned", report.Assigned).Int("skipped", report.Skipped).Int("failed", report.Failed).Msg("atribuição automática em lote concluída")
	return report, nil
}

func (p *Policy) autoAssign(ctx context.Context, issue issues.Issue) (*issues.Issue, error) {
	if issue.Status != issues.StatusOpen || issue.Assignee() != "" {
		return nil, issues.ErrNotAssignable
	}
	candidates, err := p.Candidates(ctx, issue.Category)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoMatchingContractor
	}

	emails := make([]string, len(candidates))
	for i, c := range candidates {
		emails[i] = c.Email
	}
	load, err := p.issues.Workload(ctx, emails)
	if err != nil {
		return nil, fmt.Errorf("calcular carga: %w", err)
	}

	best := 0
	for i := 1; i < len(emails); i++ {
		if load[strings.ToLower(emails[i])] < load[strings.ToLower(emails[best])] {
			best = i
		}
	}

	updated, err := p.issues.AssignOpen(ctx, issue.ID, emails[best])
	if err != nil {
		return nil, err
	}
	p.logger.Info().Str("issue_id", issue.ID.String()).Str("contractor", emails[best]).
		Int("workload", load[strings.ToLower(emails[best])]).Msg("chamado atribuído automaticamente")
	return updated, nil
}
