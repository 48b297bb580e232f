package http

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gestaozabele/manutencao/internal/access"
	"github.com/gestaozabele/manutencao/internal/directory"
	"github.com/gestaozabele/manutencao/internal/metrics"
	"github.com/gestaozabele/manutencao/internal/session"
)

type accessRequestPayload struct {
	Role     string `json:"role" validate:"required,oneof=user contractor admin"`
	Category string `json:"category" validate:"required_if=Role contractor,max=120"`
}

const adminMismatchNotice = "acesso de administrador não autorizado para este e-mail; a solicitação foi registrada como usuário"

// SubmitAccessRequest registra a reivindicação de papel da identidade autenticada.
func (h *Handler) SubmitAccessRequest(w http.ResponseWriter, r *http.Request) {
	s, ok := session.FromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "AUTH", "sessão ausente", nil)
		return
	}

	var req accessRequestPayload
	if !decodeJSON(w, r, &req) {
		return
	}
	role, ok := directory.ParseRole(req.Role)
	if !ok {
		WriteError(w, http.StatusBadRequest, "VALIDATION", access.ErrInvalidRole.Error(), nil)
		return
	}

	if role == directory.RoleContractor {
		if err := h.workflow.CheckContractorEmail(r.Context(), s.Email); err != nil {
			h.writeServiceError(w, r, err, "erro ao verificar e-mail")
			return
		}
	}

	result, err := h.workflow.SubmitRequest(r.Context(), s.Identity(), role, req.Category)
	if err != nil {
		h.writeServiceError(w, r, err, "erro ao registrar solicitação")
		return
	}

	resp := map[string]any{
		"created":    result.Created,
		"request":    result.Request,
		"resolution": h.auth.Resolve(r.Context(), s.Identity()),
	}
	if result.Mismatch {
		resp["notice"] = adminMismatchNotice
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	WriteJSON(w, status, resp)
}

// ListAccessRequests lista solicitações; sem kind, devolve as duas coleções.
func (h *Handler) ListAccessRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	kinds := []directory.RequestKind{directory.KindUser, directory.KindContractor}
	if raw := q.Get("kind"); raw != "" {
		kind, err := directory.ParseKind(raw)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
			return
		}
		kinds = []directory.RequestKind{kind}
	}

	var status *directory.Status
	if raw := q.Get("status"); raw != "" {
		parsed, ok := directory.ParseStatus(raw)
		if !ok {
			WriteError(w, http.StatusBadRequest, "VALIDATION", "status inválido", nil)
			return
		}
		status = &parsed
	}

	out := make([]directory.ApprovalRequest, 0)
	for _, kind := range kinds {
		list, err := h.workflow.ListRequests(r.Context(), kind, status)
		if err != nil {
			h.writeServiceError(w, r, err, "erro ao listar solicitações")
			return
		}
		out = append(out, list...)
	}

	WriteJSON(w, http.StatusOK, map[string]any{"requests": out})
}

type decisionPayload struct {
	Approve *bool `json:"approve" validate:"required"`
}

// DecideAccessRequest aprova ou nega uma solicitação.
func (h *Handler) DecideAccessRequest(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	kind, err := directory.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "id inválido", nil)
		return
	}

	var req decisionPayload
	if !decodeJSON(w, r, &req) {
		return
	}

	decided, err := h.workflow.Decide(r.Context(), kind, id, *req.Approve, s.Email)
	if err != nil {
		h.writeServiceError(w, r, err, "erro ao decidir solicitação")
		return
	}
	metrics.RecordAccessDecision(string(kind), *req.Approve)

	WriteJSON(w, http.StatusOK, map[string]any{"request": decided})
}

// ListIdentities lista identidades aprovadas, com filtro opcional por papel.
func (h *Handler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	var role *directory.Role
	if raw := r.URL.Query().Get("role"); raw != "" {
		parsed, ok := directory.ParseRole(raw)
		if !ok {
			WriteError(w, http.StatusBadRequest, "VALIDATION", access.ErrInvalidRole.Error(), nil)
			return
		}
		role = &parsed
	}

	list, err := h.workflow.ListApproved(r.Context(), role)
	if err != nil {
		h.writeServiceError(w, r, err, "erro ao listar identidades")
		return
	}
	if list == nil {
		list = []directory.ApprovedIdentity{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"identities": list})
}

// DeleteIdentity remove uma identidade aprovada e suas solicitações.
func (h *Handler) DeleteIdentity(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	id = strings.TrimSpace(id)
	if err != nil || id == "" {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "id inválido", nil)
		return
	}

	removed, err := h.workflow.DeleteApprovedIdentity(r.Context(), id, s.Email)
	if err != nil {
		h.writeServiceError(w, r, err, "erro ao remover identidade")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"identity": removed})
}
