// Package issuestest oferece um Store de chamados em memória para testes.
package issuestest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gestaozabele/manutencao/internal/issues"
)

// ErrInjected é devolvido quando FailWrites está ativo.
var ErrInjected = errors.New("falha injetada")

// Memory implementa issues.Store.
type Memory struct {
	mu         sync.Mutex
	items      map[uuid.UUID]issues.Issue
	FailWrites bool
}

// NewMemory cria um store vazio.
func NewMemory() *Memory {
	return &Memory{items: make(map[uuid.UUID]issues.Issue)}
}

// Seed grava o chamado como está, gerando id e createdAt quando ausentes.
func (m *Memory) Seed(issue issues.Issue) issues.Issue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if issue.ID == uuid.Nil {
		issue.ID = uuid.New()
	}
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = time.Now().UTC().Add(time.Duration(len(m.items)) * time.Millisecond)
	}
	if issue.Status == "" {
		issue.Status = issues.StatusOpen
	}
	issue.UpdatedAt = issue.CreatedAt
	m.items[issue.ID] = issue
	return issue
}

func (m *Memory) Create(ctx context.Context, issue issues.Issue) (*issues.Issue, error) {
	if m.FailWrites {
		return nil, ErrInjected
	}
	issue.UpdatedAt = issue.CreatedAt
	m.mu.Lock()
	m.items[issue.ID] = issue
	m.mu.Unlock()
	return &issue, nil
}

func (m *Memory) Get(ctx context.Context, id uuid.UUID) (*issues.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.items[id]
	if !ok {
		return nil, issues.ErrNotFound
	}
	return &issue, nil
}

func (m *Memory) List(ctx context.Context, f issues.Filter) ([]issues.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []issues.Issue
	for _, issue := range m.items {
		if len(f.Status) > 0 && !containsStatus(f.Status, issue.Status) {
			continue
		}
		if f.Category != "" && issue.Category != f.Category {
			continue
		}
		if f.AssignedTo != "" && !strings.EqualFold(issue.Assignee(), f.AssignedTo) {
			continue
		}
		if f.ReporterIdentityID != "" && issue.ReporterIdentityID != f.ReporterIdentityID {
			continue
		}
		if f.NeedsReview != nil && issue.NeedsReview != *f.NeedsReview {
			continue
		}
		if f.Unassigned && issue.Assignee() != "" {
			continue
		}
		out = append(out, issue)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	// Mesmos limites do repositório.
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Workload(ctx context.Context, emails []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int, len(emails))
	for _, e := range emails {
		out[strings.ToLower(strings.TrimSpace(e))] = 0
	}
	for _, issue := range m.items {
		if issue.Status == issues.StatusResolved {
			continue
		}
		key := strings.ToLower(issue.Assignee())
		if _, ok := out[key]; ok {
			out[key]++
		}
	}
	return out, nil
}

func (m *Memory) Assign(ctx context.Context, id uuid.UUID, email string, status issues.Status, at time.Time) (*issues.Issue, error) {
	return m.mutate(id, func(i *issues.Issue) {
		i.AssignedTo = &email
		i.Status = status
		i.AssignedAt = &at
		i.UpdatedAt = at
	})
}

func (m *Memory) AssignIfOpen(ctx context.Context, id uuid.UUID, email string, at time.Time) (*issues.Issue, error) {
	if m.FailWrites {
		return nil, ErrInjected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.items[id]
	if !ok || issue.Status != issues.StatusOpen || issue.Assignee() != "" {
		return nil, issues.ErrNotAssignable
	}
	issue.AssignedTo = &email
	issue.Status = issues.StatusAssigned
	issue.AssignedAt = &at
	issue.UpdatedAt = at
	m.items[id] = issue
	return &issue, nil
}

func (m *Memory) UpdateStatus(ctx context.Context, id uuid.UUID, status issues.Status, at time.Time) (*issues.Issue, error) {
	return m.mutate(id, func(i *issues.Issue) {
		i.Status = status
		i.UpdatedAt = at
	})
}

func (m *Memory) MarkReviewed(ctx context.Context, id uuid.UUID, reviewer, category string, at time.Time) (*issues.Issue, error) {
	return m.mutate(id, func(i *issues.Issue) {
		i.NeedsReview = false
		i.ReviewedBy = &reviewer
		i.ReviewedAt = &at
		i.UpdatedAt = at
		if category != "" && category != i.Category {
			i.Category = category
			i.ClassifiedBy = issues.StrategyManual
		}
	})
}

func (m *Memory) Stats(ctx context.Context) (issues.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := issues.Stats{ByStatus: make(map[issues.Status]int)}
	for _, issue := range m.items {
		stats.ByStatus[issue.Status]++
		stats.Total++
		if issue.NeedsReview {
			stats.NeedsReview++
		}
		if issue.Status == issues.StatusOpen && issue.Assignee() == "" {
			stats.Unassigned++
		}
	}
	return stats, nil
}

func (m *Memory) mutate(id uuid.UUID, fn func(*issues.Issue)) (*issues.Issue, error) {
	if m.FailWrites {
		return nil, ErrInjected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.items[id]
	if !ok {
		return nil, issues.ErrNotFound
	}
	fn(&issue)
	m.items[id] = issue
	return &issue, nil
}

func containsStatus(list []issues.Status, s issues.Status) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
