package directory

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

const approvedColumns = `identity_id, email, display_name, photo_url, status, role, COALESCE(contractor_category, ''), approved_at, joined_at`

// Repository provê acesso às coleções do diretório no Postgres.
type Repository struct {
	q    db.Querier
	pool db.Beginner
}

// NewRepository cria instância do repositório.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{q: pool, pool: pool}
}

// InTx executa fn dentro de uma transação. Chamadas aninhadas reutilizam a transação atual.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(pctx context.Context, tx pgx.Tx) error {
		return fn(pctx, &Repository{q: tx})
	})
}

// LockIdentity usa advisory lock de transação; fora de InTx o lock é liberado ao fim do comando.
func (r *Repository) LockIdentity(ctx context.Context, identityID string) error {
	_, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, identityID)
	return err
}

// GetApproved busca a identidade aprovada pelo identificador do provedor.
func (r *Repository) GetApproved(ctx context.Context, identityID string) (ApprovedIdentity, error) {
	row := r.q.QueryRow(ctx, `SELECT `+approvedColumns+` FROM approved_identities WHERE identity_id = $1`, identityID)
	return scanApproved(row)
}

// FindApprovedByEmail busca a identidade aprovada pelo e-mail (sem diferenciar caixa).
func (r *Repository) FindApprovedByEmail(ctx context.Context, email string) (ApprovedIdentity, error) {
	row := r.q.QueryRow(ctx, `SELECT `+approvedColumns+` FROM approved_identities WHERE lower(email) = lower($1) ORDER BY approved_at LIMIT 1`, strings.TrimSpace(email))
	return scanApproved(row)
}

// InsertApprovedIfAbsent cria o registro somente se a identidade ainda não tiver um.
func (r *Repository) InsertApprovedIfAbsent(ctx context.Context, rec ApprovedIdentity) (bool, error) {
	const query = `
        INSERT INTO approved_identities (identity_id, email, display_name, photo_url, status, role, contractor_category, approved_at, joined_at)
        VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)
        ON CONFLICT (identity_id) DO NOTHING
    `
	tag, err := r.q.Exec(ctx, query, rec.IdentityID, rec.Email, rec.DisplayName, rec.PhotoURL,
		string(rec.Status), string(rec.Role), rec.ContractorCategory, rec.ApprovedAt, rec.JoinedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpsertApproved grava o registro, preservando joined_at quando já existir.
func (r *Repository) UpsertApproved(ctx context.Context, rec ApprovedIdentity) error {
	const query = `
        INSERT INTO approved_identities (identity_id, email, display_name, photo_url, status, role, contractor_category, approved_at, joined_at)
        VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)
        ON CONFLICT (identity_id) DO UPDATE SET
            email = EXCLUDED.email,
            display_name = EXCLUDED.display_name,
            photo_url = EXCLUDED.photo_url,
            status = EXCLUDED.status,
            role = EXCLUDED.role,
            contractor_category = EXCLUDED.contractor_category,
            approved_at = EXCLUDED.approved_at
    `
	_, err := r.q.Exec(ctx, query, rec.IdentityID, rec.Email, rec.DisplayName, rec.PhotoURL,
		string(rec.Status), string(rec.Role), rec.ContractorCategory, rec.ApprovedAt, rec.JoinedAt)
	return err
}

// DeleteApproved remove a identidade aprovada e devolve o registro removido.
func (r *Repository) DeleteApproved(ctx context.Context, identityID string) (ApprovedIdentity, error) {
	row := r.q.QueryRow(ctx, `DELETE FROM approved_identities WHERE identity_id = $1 RETURNING `+approvedColumns, identityID)
	return scanApproved(row)
}

// ListApproved lista identidades aprovadas na ordem de aprovação.
func (r *Repository) ListApproved(ctx context.Context, filter ApprovedFilter) ([]ApprovedIdentity, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Role != nil {
		args = append(args, string(*filter.Role))
		clauses = append(clauses, fmt.Sprintf("role = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + approvedColumns + ` FROM approved_identities`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY approved_at ASC, email ASC"

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ApprovedIdentity
	for rows.Next() {
		rec, err := scanApproved(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetRequest busca uma solicitação pelo id.
func (r *Repository) GetRequest(ctx context.Context, kind RequestKind, id uuid.UUID) (ApprovalRequest, error) {
	query, err := requestSelect(kind)
	if err != nil {
		return ApprovalRequest{}, err
	}
	row := r.q.QueryRow(ctx, query+` WHERE id = $1`, id)
	return scanRequest(row, kind)
}

// LatestRequest busca a solicitação mais recente de uma identidade.
func (r *Repository) LatestRequest(ctx context.Context, kind RequestKind, identityID string) (ApprovalRequest, error) {
	query, err := requestSelect(kind)
	if err != nil {
		return ApprovalRequest{}, err
	}
	row := r.q.QueryRow(ctx, query+` WHERE identity_id = $1 ORDER BY requested_at DESC LIMIT 1`, identityID)
	return scanRequest(row, kind)
}

// CreateRequest insere uma nova solicitação na coleção correspondente.
func (r *Repository) CreateRequest(ctx context.Context, req ApprovalRequest) (ApprovalRequest, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = StatusWaiting
	}

	switch req.Kind {
	case KindUser:
		const query = `
            INSERT INTO user_requests (id, identity_id, email, display_name, photo_url, role, contractor_category, status, requested_at)
            VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)
        `
		_, err := r.q.Exec(ctx, query, req.ID, req.IdentityID, req.Email, req.DisplayName, req.PhotoURL,
			string(req.Role), req.ContractorCategory, string(req.Status), req.RequestedAt)
		if err != nil {
			return ApprovalRequest{}, err
		}
	case KindContractor:
		const query = `
            INSERT INTO contractor_requests (id, identity_id, email, display_name, photo_url, category, status, requested_at)
            VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
        `
		_, err := r.q.Exec(ctx, query, req.ID, req.IdentityID, req.Email, req.DisplayName, req.PhotoURL,
			req.ContractorCategory, string(req.Status), req.RequestedAt)
		if err != nil {
			return ApprovalRequest{}, err
		}
	default:
		return ApprovalRequest{}, ErrInvalidKind
	}
	return req, nil
}

// SetRequestStatus registra a decisão sobre uma solicitação.
func (r *Repository) SetRequestStatus(ctx context.Context, kind RequestKind, id uuid.UUID, status Status, processedAt time.Time) error {
	table, err := requestTable(kind)
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, `UPDATE `+table+` SET status = $1, processed_at = $2 WHERE id = $3`, string(status), processedAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRequests remove solicitações de uma identidade conforme os filtros informados.
func (r *Repository) DeleteRequests(ctx context.Context, del RequestDeletion) (int64, error) {
	table, err := requestTable(del.Kind)
	if err != nil {
		return 0, err
	}

	clauses := []string{"identity_id = $1"}
	args := []any{del.IdentityID}
	if del.ExceptID != uuid.Nil {
		args = append(args, del.ExceptID)
		clauses = append(clauses, fmt.Sprintf("id <> $%d", len(args)))
	}
	if del.Status != "" {
		args = append(args, string(del.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	tag, err := r.q.Exec(ctx, `DELETE FROM `+table+` WHERE `+strings.Join(clauses, " AND "), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListRequests lista solicitações mais recentes primeiro.
func (r *Repository) ListRequests(ctx context.Context, filter RequestFilter) ([]ApprovalRequest, error) {
	query, err := requestSelect(filter.Kind)
	if err != nil {
		return nil, err
	}

	var args []any
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += ` WHERE status = $1`
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY requested_at DESC LIMIT $%d", len(args))

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows, filter.Kind)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// AppendLog grava uma entrada na trilha de auditoria.
func (r *Repository) AppendLog(ctx context.Context, entry RequestLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `
        INSERT INTO request_logs (id, identity_id, email, action, role, detail, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	_, err := r.q.Exec(ctx, query, entry.ID, entry.IdentityID, entry.Email, entry.Action, string(entry.Role), entry.Detail, entry.CreatedAt)
	return err
}

func requestTable(kind RequestKind) (string, error) {
	switch kind {
	case KindUser:
		return "user_requests", nil
	case KindContractor:
		return "contractor_requests", nil
	}
	return "", ErrInvalidKind
}

func requestSelect(kind RequestKind) (string, error) {
	switch kind {
	case KindUser:
		return `SELECT id, identity_id, email, display_name, photo_url, role, COALESCE(contractor_category, ''), '', status, requested_at, processed_at FROM user_requests`, nil
	case KindContractor:
		return `SELECT id, identity_id, email, display_name, photo_url, 'contractor', COALESCE(category, ''), COALESCE(specialty, ''), status, requested_at, processed_at FROM contractor_requests`, nil
	}
	return "", ErrInvalidKind
}

func scanRequest(row pgx.Row, kind RequestKind) (ApprovalRequest, error) {
	var (
		req    ApprovalRequest
		role   string
		status string
	)
	if err := row.Scan(&req.ID, &req.IdentityID, &req.Email, &req.DisplayName, &req.PhotoURL, &role,
		&req.ContractorCategory, &req.LegacySpecialty, &status, &req.RequestedAt, &req.ProcessedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ApprovalRequest{}, ErrNotFound
		}
		return ApprovalRequest{}, err
	}
	req.Kind = kind
	req.Role = Role(role)
	req.Status = Status(status)
	return req, nil
}

func scanApproved(row pgx.Row) (ApprovedIdentity, error) {
	var (
		rec    ApprovedIdentity
		status string
		role   string
	)
	if err := row.Scan(&rec.IdentityID, &rec.Email, &rec.DisplayName, &rec.PhotoURL, &status, &role,
		&rec.ContractorCategory, &rec.ApprovedAt, &rec.JoinedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ApprovedIdentity{}, ErrNotFound
		}
		return ApprovedIdentity{}, err
	}
	rec.Status = Status(status)
	rec.Role = Role(role)
	return rec, nil
}
