package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gestaozabele/manutencao/internal/issues"
	"github.com/gestaozabele/manutencao/internal/session"
)

const multipartOverhead = 1 << 20

// CreateIssue recebe descrição e foto (multipart) e abre um chamado.
func (h *Handler) CreateIssue(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	maxBytes := h.cfg.Storage.MaxImageBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(maxBytes + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "VALIDATION", issues.ErrImageTooLarge.Error(), nil)
			return
		}
		WriteError(w, http.StatusBadRequest, "VALIDATION", "formulário inválido", nil)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	var image []byte
	file, _, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		// Submit responde com ErrImageMissing.
	case err != nil:
		WriteError(w, http.StatusBadRequest, "VALIDATION", "foto inválida", nil)
		return
	default:
		defer file.Close()
		// Lê um byte além do limite para que o serviço detecte o excesso.
		image, err = io.ReadAll(io.LimitReader(file, maxBytes+1))
		if err != nil {
			WriteError(w, http.StatusBadRequest, "VALIDATION", "foto inválida", nil)
			return
		}
	}

	issue, err := h.issues.Submit(r.Context(), issues.Reporter{
		IdentityID: s.IdentityID,
		Email:      s.Email,
		Name:       s.Name,
	}, r.FormValue("description"), image)
	if err != nil {
		h.writeServiceError(w, r, err, "erro ao registrar chamado")
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]any{"issue": issue})
}

// ListMyIssues lista os chamados abertos pela identidade autenticada.
func (h *Handler) ListMyIssues(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	list, err := h.issues.ListForReporter(r.Context(), s.IdentityID)
	if err != nil {
		h.writeServiceError(w, r, err, "erro ao listar chamados")
		return
	}
	writeIssues(w, list)
}

// ListContractorIssues lista os chamados atribuídos ao prestador autenticado.
func (h *Handler) ListContractorIssues(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		return
	}

	list, err := h.issues.ListForContractor(r.Context(), s.Email, statuses)
	if err != nil {
		h.writeServiceError(w, r, err, "erro ao listar chamados")
		return
	}
	writeIssues(w, list)
}

type statusPayload struct {
	Status string `json:"status" validate:"required"`
}

// UpdateContractorIssueStatus avança o status de um chamado do próprio prestador.
func (h *Handler) UpdateContractorIssueStatus(w http.ResponseWriter, r *http.Request) {
	h.updateStatus(w, r, false)
}

// UpdateIssueStatus define qualquer status válido (administrador).
func (h *Handler) UpdateIssueStatus(w http.ResponseWriter, r *http.Request) {
	h.updateStatus(w, r, true)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request, admin bool) {
	s, _ := session.FromContext(r.Context())

	id, ok := issueIDParam(w, r)
	if !ok {
		return
	}
	var req statusPayload
	if !decodeJSON(w, r, &req) {
		return
	}
	status, err := issues.ParseStatus(req.Status)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		return
	}

	actor := issues.Actor{Email: s.Email, Admin: admin && s.IsAdmin()}
	issue, err := h.issues.UpdateStatus(r.Context(), actor, id, status)
	if err != nil {
		h.writeServiceError(w, r, err, "erro ao atualizar status")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"issue": issue})
}

// ListIssues lista chamados com filtros (administrador).
func (h *Handler) ListIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	statuses, err := parseStatuses(q.Get("status"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		return
	}
	filter := issues.Filter{
		Status:     statuses,
		Category:   strings.TrimSpace(q.Get("category")),
		AssignedTo: strings.TrimSpace(q.Get("assigned_to")),
		Unassigned: q.Get("unassigned") == "true",
	}
	if raw := q.Get("needs_review"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "VALIDATION", "needs_review inválido", nil)
			return
		}
		filter.NeedsReview = &v
	}
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "limit inválido", nil)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "offset inválido", nil)
		return
	}

	list, err := h.issues.ListAll(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err, "erro ao listar chamados")
		return
	}
	writeIssues(w, list)
}

// IssueStats resume os chamados para o painel.
func (h *Handler) IssueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.issues.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "erro ao carregar estatísticas")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

type assignPayload struct {
	ContractorEmail string `json:"contractor_email" validate:"required,email"`
}

// AssignIssue atribui manualmente um prestador candidato.
func (h *Handler) AssignIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := issueIDParam(w, r)
	if !ok {
		return
	}
	var req assignPayload
	if !decodeJSON(w, r, &req) {
		return
	}

	issue, err := h.policy.Assign(r.Context(), id, req.ContractorEmail)
	if err != nil {
		h.writeServiceError(w, r, err, "erro ao atribuir chamado")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"issue": issue})
}

// AutoAssignIssue atribui ao candidato de menor carga.
func (h *Handler) AutoAssignIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := issueIDParam(w, r)
	if !ok {
		return
	}

	issue, err := h.policy.AutoAssign(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "erro ao atribuir chamado")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"issue": issue})
}

// AutoAssignAll percorre os chamados abertos sem responsável.
func (h *Handler) AutoAssignAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.policy.AutoAssignAll(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "erro na atribuição em lote")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"report": report})
}

type reviewPayload struct {
	Category string `json:"category" validate:"max=120"`
}

// ReviewIssue confirma ou corrige a categoria de um chamado.
func (h *Handler) ReviewIssue(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())

	id, ok := issueIDParam(w, r)
	if !ok {
		return
	}
	var req reviewPayload
	if !decodeJSON(w, r, &req) {
		return
	}

	issue, err := h.issues.Review(r.Context(), s.Email, id, strings.TrimSpace(req.Category))
	if err != nil {
		h.writeServiceError(w, r, err, "erro ao revisar chamado")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"issue": issue})
}

func issueIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "id inválido", nil)
		return uuid.Nil, false
	}
	return id, true
}

// parseStatuses aceita lista separada por vírgula.
func parseStatuses(raw string) ([]issues.Status, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []issues.Status
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		status, err := issues.ParseStatus(part)
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	return out, nil
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("valor inválido")
	}
	return v, nil
}

func writeIssues(w http.ResponseWriter, list []issues.Issue) {
	if list == nil {
		list = []issues.Issue{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"issues": list})
}
