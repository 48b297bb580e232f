package issues

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gestaozabele/manutencao/internal/db"
)

const issueColumns = `id, reporter_identity_id, reporter_email, reporter_name, image_ref, description, category,
        assigned_to, status, ai_confidence, classified_by, needs_review, reviewed_by, reviewed_at, created_at, assigned_at, updated_at`

// Repository provê acesso à tabela de chamados.
type Repository struct {
	q db.Querier
}

// NewRepository cria instância do repositório.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{q: pool}
}

// Create insere um novo chamado.
func (r *Repository) Create(ctx context.Context, issue Issue) (*Issue, error) {
	query := `
        INSERT INTO issues (id, reporter_identity_id, reporter_email, reporter_name, image_ref, description, category,
            assigned_to, status, ai_confidence, classified_by, needs_review, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
        RETURNING ` + issueColumns

	row := r.q.QueryRow(ctx, query,
		issue.ID,
		issue.ReporterIdentityID,
		issue.ReporterEmail,
		issue.ReporterName,
		issue.ImageRef,
		issue.Description,
		issue.Category,
		issue.AssignedTo,
		string(issue.Status),
		issue.AIConfidence,
		string(issue.ClassifiedBy),
		issue.NeedsReview,
		issue.CreatedAt,
	)
	return scanIssue(row)
}

// Get busca um chamado.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Issue, error) {
	row := r.q.QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = $1`, id)
	return scanIssue(row)
}

// List lista chamados aplicando filtros simples, mais antigos primeiro.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Issue, error) {
	var (
		clauses []string
		args    []any
	)

	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		clauses = append(clauses, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.AssignedTo != "" {
		args = append(args, filter.AssignedTo)
		clauses = append(clauses, fmt.Sprintf("lower(assigned_to) = lower($%d)", len(args)))
	}
	if filter.ReporterIdentityID != "" {
		args = append(args, filter.ReporterIdentityID)
		clauses = append(clauses, fmt.Sprintf("reporter_identity_id = $%d", len(args)))
	}
	if filter.NeedsReview != nil {
		args = append(args, *filter.NeedsReview)
		clauses = append(clauses, fmt.Sprintf("needs_review = $%d", len(args)))
	}
	if filter.Unassigned {
		clauses = append(clauses, "(assigned_to IS NULL OR assigned_to = '')")
	}

	query := `SELECT ` + issueColumns + ` FROM issues`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *issue)
	}
	return out, rows.Err()
}

// Workload conta chamados não resolvidos por prestador (chave em minúsculas).
func (r *Repository) Workload(ctx context.Context, emails []string) (map[string]int, error) {
	out := make(map[string]int, len(emails))
	if len(emails) == 0 {
		return out, nil
	}
	lowered := make([]string, len(emails))
	for i, e := range emails {
		lowered[i] = strings.ToLower(strings.TrimSpace(e))
		out[lowered[i]] = 0
	}

	const query = `
        SELECT lower(assigned_to), count(*)
        FROM issues
        WHERE lower(assigned_to) = ANY($1) AND status <> $2
        GROUP BY lower(assigned_to)
    `
	rows, err := r.q.Query(ctx, query, lowered, string(StatusResolved))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			email string
			count int
		)
		if err := rows.Scan(&email, &count); err != nil {
			return nil, err
		}
		out[email] = count
	}
	return out, rows.Err()
}

// Assign grava atribuição, status e horário; demais campos permanecem intactos.
func (r *Repository) Assign(ctx context.Context, id uuid.UUID, contractorEmail string, status Status, at time.Time) (*Issue, error) {
	query := `
        UPDATE issues
        SET assigned_to = $1, status = $2, assigned_at = $3, updated_at = $3
        WHERE id = $4
        RETURNING ` + issueColumns
	row := r.q.QueryRow(ctx, query, contractorEmail, string(status), at, id)
	return scanIssue(row)
}

// AssignIfOpen só grava quando o chamado continua Open e sem responsável.
func (r *Repository) AssignIfOpen(ctx context.Context, id uuid.UUID, contractorEmail string, at time.Time) (*Issue, error) {
	query := `
        UPDATE issues
        SET assigned_to = $1, status = $2, assigned_at = $3, updated_at = $3
        WHERE id = $4 AND status = $5 AND (assigned_to IS NULL OR assigned_to = '')
        RETURNING ` + issueColumns
	row := r.q.QueryRow(ctx, query, contractorEmail, string(StatusAssigned), at, id, string(StatusOpen))
	issue, err := scanIssue(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotAssignable
	}
	return issue, err
}

// UpdateStatus altera somente o status.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, at time.Time) (*Issue, error) {
	query := `
        UPDATE issues
        SET status = $1, updated_at = $2
        WHERE id = $3
        RETURNING ` + issueColumns
	row := r.q.QueryRow(ctx, query, string(status), at, id)
	return scanIssue(row)
}

// MarkReviewed confirma a classificação, opcionalmente corrigindo a categoria.
func (r *Repository) MarkReviewed(ctx context.Context, id uuid.UUID, reviewer, category string, at time.Time) (*Issue, error) {
	query := `
        UPDATE issues
        SET needs_review = false,
            reviewed_by = $1,
            reviewed_at = $2,
            updated_at = $2,
            category = COALESCE(NULLIF($3, ''), category),
            classified_by = CASE WHEN NULLIF($3, '') IS NULL OR $3 = category THEN classified_by ELSE $4 END
        WHERE id = $5
        RETURNING ` + issueColumns
	row := r.q.QueryRow(ctx, query, reviewer, at, category, string(StrategyManual), id)
	return scanIssue(row)
}

// Stats agrega contagens por status.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByStatus: make(map[Status]int)}

	rows, err := r.q.Query(ctx, `SELECT status, count(*) FROM issues GROUP BY status`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.ByStatus[Status(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	const extra = `
        SELECT
            count(*) FILTER (WHERE needs_review),
            count(*) FILTER (WHERE status = $1 AND (assigned_to IS NULL OR assigned_to = ''))
        FROM issues
    `
	if err := r.q.QueryRow(ctx, extra, string(StatusOpen)).Scan(&stats.NeedsReview, &stats.Unassigned); err != nil {
		return stats, err
	}
	return stats, nil
}

func scanIssue(row pgx.Row) (*Issue, error) {
	var (
		i            Issue
		status       string
		classifiedBy string
	)
	if err := row.Scan(&i.ID, &i.ReporterIdentityID, &i.ReporterEmail, &i.ReporterName, &i.ImageRef, &i.Description,
		&i.Category, &i.AssignedTo, &status, &i.AIConfidence, &classifiedBy, &i.NeedsReview, &i.ReviewedBy,
		&i.ReviewedAt, &i.CreatedAt, &i.AssignedAt, &i.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	i.Status = Status(status)
	i.ClassifiedBy = Strategy(classifiedBy)
	return &i, nil
}
