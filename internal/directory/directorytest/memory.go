// Package directorytest fornece um directory.Store em memória para testes.
package directorytest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gestaozabele/manutencao/internal/directory"
)

// ErrInjected é devolvido quando uma falha foi forçada pelo teste.
var ErrInjected = errors.New("falha injetada")

// Memory implementa directory.Store mantendo tudo em mapas.
type Memory struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	approved map[string]directory.ApprovedIdentity
	requests map[directory.RequestKind][]directory.ApprovalRequest
	Logs     []directory.RequestLog

	// FailLookups faz toda leitura falhar.
	FailLookups bool
	// FailWrites faz toda escrita falhar.
	FailWrites bool
	// FailOnWrite faz falhar somente a N-ésima tentativa de escrita (1 = primeira).
	FailOnWrite int
	// Writes conta escritas bem-sucedidas em approved_identities.
	Writes int

	writeAttempts int
}

// NewMemory cria um store vazio.
func NewMemory() *Memory {
	return &Memory{
		approved: make(map[string]directory.ApprovedIdentity),
		requests: make(map[directory.RequestKind][]directory.ApprovalRequest),
	}
}

// SeedApproved grava uma identidade aprovada sem passar pelo fluxo.
func (m *Memory) SeedApproved(rec directory.ApprovedIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approved[rec.IdentityID] = rec
}

// SeedRequest grava uma solicitação sem passar pelo fluxo.
func (m *Memory) SeedRequest(req directory.ApprovalRequest) directory.ApprovalRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = directory.StatusWaiting
	}
	m.requests[req.Kind] = append(m.requests[req.Kind], req)
	return req
}

// RequestCount devolve o total de solicitações da coleção.
func (m *Memory) RequestCount(kind directory.RequestKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests[kind])
}

func (m *Memory) GetApproved(ctx context.Context, identityID string) (directory.ApprovedIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailLookups {
		return directory.ApprovedIdentity{}, ErrInjected
	}
	rec, ok := m.approved[identityID]
	if !ok {
		return directory.ApprovedIdentity{}, directory.ErrNotFound
	}
	return rec, nil
}

func (m *Memory) FindApprovedByEmail(ctx context.Context, email string) (directory.ApprovedIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailLookups {
		return directory.ApprovedIdentity{}, ErrInjected
	}
	for _, rec := range m.sortedApproved() {
		if strings.EqualFold(rec.Email, strings.TrimSpace(email)) {
			return rec, nil
		}
	}
	return directory.ApprovedIdentity{}, directory.ErrNotFound
}

func (m *Memory) InsertApprovedIfAbsent(ctx context.Context, rec directory.ApprovedIdentity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr(); err != nil {
		return false, err
	}
	if _, ok := m.approved[rec.IdentityID]; ok {
		return false, nil
	}
	m.approved[rec.IdentityID] = rec
	m.Writes++
	return true, nil
}

func (m *Memory) UpsertApproved(ctx context.Context, rec directory.ApprovedIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr(); err != nil {
		return err
	}
	if existing, ok := m.approved[rec.IdentityID]; ok {
		rec.JoinedAt = existing.JoinedAt
	}
	m.approved[rec.IdentityID] = rec
	m.Writes++
	return nil
}

func (m *Memory) DeleteApproved(ctx context.Context, identityID string) (directory.ApprovedIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr(); err != nil {
		return directory.ApprovedIdentity{}, err
	}
	rec, ok := m.approved[identityID]
	if !ok {
		return directory.ApprovedIdentity{}, directory.ErrNotFound
	}
	delete(m.approved, identityID)
	return rec, nil
}

func (m *Memory) ListApproved(ctx context.Context, filter directory.ApprovedFilter) ([]directory.ApprovedIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailLookups {
		return nil, ErrInjected
	}
	var out []directory.ApprovedIdentity
	for _, rec := range m.sortedApproved() {
		if filter.Role != nil && rec.Role != *filter.Role {
			continue
		}
		if filter.Status != nil && rec.Status != *filter.Status {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *Memory) GetRequest(ctx context.Context, kind directory.RequestKind, id uuid.UUID) (directory.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailLookups {
		return directory.ApprovalRequest{}, ErrInjected
	}
	for _, req := range m.requests[kind] {
		if req.ID == id {
			return req, nil
		}
	}
	return directory.ApprovalRequest{}, directory.ErrNotFound
}

func (m *Memory) LatestRequest(ctx context.Context, kind directory.RequestKind, identityID string) (directory.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailLookups {
		return directory.ApprovalRequest{}, ErrInjected
	}
	var (
		latest directory.ApprovalRequest
		found  bool
	)
	for _, req := range m.requests[kind] {
		if req.IdentityID != identityID {
			continue
		}
		if !found || !req.RequestedAt.Before(latest.RequestedAt) {
			latest = req
			found = true
		}
	}
	if !found {
		return directory.ApprovalRequest{}, directory.ErrNotFound
	}
	return latest, nil
}

func (m *Memory) CreateRequest(ctx context.Context, req directory.ApprovalRequest) (directory.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr(); err != nil {
		return directory.ApprovalRequest{}, err
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = directory.StatusWaiting
	}
	m.requests[req.Kind] = append(m.requests[req.Kind], req)
	return req, nil
}

func (m *Memory) SetRequestStatus(ctx context.Context, kind directory.RequestKind, id uuid.UUID, status directory.Status, processedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr(); err != nil {
		return err
	}
	for i, req := range m.requests[kind] {
		if req.ID == id {
			at := processedAt
			m.requests[kind][i].Status = status
			m.requests[kind][i].ProcessedAt = &at
			return nil
		}
	}
	return directory.ErrNotFound
}

func (m *Memory) DeleteRequests(ctx context.Context, del directory.RequestDeletion) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr(); err != nil {
		return 0, err
	}
	var (
		kept    []directory.ApprovalRequest
		removed int64
	)
	for _, req := range m.requests[del.Kind] {
		match := req.IdentityID == del.IdentityID &&
			(del.ExceptID == uuid.Nil || req.ID != del.ExceptID) &&
			(del.Status == "" || req.Status == del.Status)
		if match {
			removed++
			continue
		}
		kept = append(kept, req)
	}
	m.requests[del.Kind] = kept
	return removed, nil
}

func (m *Memory) ListRequests(ctx context.Context, filter directory.RequestFilter) ([]directory.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailLookups {
		return nil, ErrInjected
	}
	var out []directory.ApprovalRequest
	for _, req := range m.requests[filter.Kind] {
		if filter.Status != nil && req.Status != *filter.Status {
			continue
		}
		out = append(out, req)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out, nil
}

func (m *Memory) AppendLog(ctx context.Context, entry directory.RequestLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr(); err != nil {
		return err
	}
	m.Logs = append(m.Logs, entry)
	return nil
}

// LockIdentity não faz nada: InTx já serializa as transações do store.
func (m *Memory) LockIdentity(ctx context.Context, identityID string) error {
	return nil
}

// InTx serializa as transações e desfaz todas as escritas de fn quando ela falha.
func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, s directory.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(ctx, txStore{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// txStore evita reentrar em txMu quando fn abre uma transação aninhada.
type txStore struct {
	*Memory
}

func (t txStore) InTx(ctx context.Context, fn func(ctx context.Context, s directory.Store) error) error {
	return fn(ctx, t)
}

type memorySnapshot struct {
	approved map[string]directory.ApprovedIdentity
	requests map[directory.RequestKind][]directory.ApprovalRequest
	logs     []directory.RequestLog
	writes   int
}

func (m *Memory) snapshot() memorySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := memorySnapshot{
		approved: make(map[string]directory.ApprovedIdentity, len(m.approved)),
		requests: make(map[directory.RequestKind][]directory.ApprovalRequest, len(m.requests)),
		logs:     append([]directory.RequestLog(nil), m.Logs...),
		writes:   m.Writes,
	}
	for k, v := range m.approved {
		snap.approved[k] = v
	}
	for k, v := range m.requests {
		snap.requests[k] = append([]directory.ApprovalRequest(nil), v...)
	}
	return snap
}

func (m *Memory) restore(snap memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approved = snap.approved
	m.requests = snap.requests
	m.Logs = snap.logs
	m.Writes = snap.writes
}

// writeErr aplica as falhas configuradas. Exige mu.
func (m *Memory) writeErr() error {
	m.writeAttempts++
	if m.FailWrites || (m.FailOnWrite > 0 && m.writeAttempts == m.FailOnWrite) {
		return ErrInjected
	}
	return nil
}

func (m *Memory) sortedApproved() []directory.ApprovedIdentity {
	out := make([]directory.ApprovedIdentity, 0, len(m.approved))
	for _, rec := range m.approved {
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ApprovedAt.Equal(out[j].ApprovedAt) {
			return out[i].Email < out[j].Email
		}
		return out[i].ApprovedAt.Before(out[j].ApprovedAt)
	})
	return out
}
