// Package events distribui mudanças de chamados para assinantes ao vivo.
//
// Cada assinatura devolve um canal e uma função de cancelamento explícita;
// o canal é fechado após o cancelamento ou quando o contexto termina.
package events

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type identifica o tipo de evento.
type Type string

const (
	TypeIssueCreated       Type = "issue.created"
	TypeIssueAssigned      Type = "issue.assigned"
	TypeIssueStatusChanged Type = "issue.status_changed"
	TypeIssueReviewed      Type = "issue.reviewed"
)

// Event é a notificação publicada a cada alteração de chamado.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       Type      `json:"type"`
	IssueID    uuid.UUID `json:"issue_id"`
	ReporterID string    `json:"reporter_id"`
	AssignedTo string    `json:"assigned_to,omitempty"`
	Status     string    `json:"status"`
	Category   string    `json:"category"`
	At         time.Time `json:"at"`
}

// Filter restringe os eventos entregues a um assinante.
// All entrega tudo; caso contrário basta casar ReporterID ou AssignedTo.
type Filter struct {
	All        bool
	ReporterID string
	AssignedTo string
}

// Match indica se o evento interessa ao assinante.
func (f Filter) Match(e Event) bool {
	if f.All {
		return true
	}
	if f.ReporterID != "" && e.ReporterID == f.ReporterID {
		return true
	}
	if f.AssignedTo != "" && strings.EqualFold(e.AssignedTo, f.AssignedTo) {
		return true
	}
	return false
}

// CancelFunc encerra uma assinatura. Pode ser chamada mais de uma vez.
type CancelFunc func()

// Bus publica e assina eventos de chamados.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, CancelFunc)
}

const subscriberBuffer = 32

func stamp(e Event) Event {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return e
}
