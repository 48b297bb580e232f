package http

import (
	"errors"
	"net/http"

	"github.com/gestaozabele/manutencao/internal/access"
	"github.com/gestaozabele/manutencao/internal/assignment"
	"github.com/gestaozabele/manutencao/internal/directory"
	"github.com/gestaozabele/manutencao/internal/identity"
	"github.com/gestaozabele/manutencao/internal/issues"
	"github.com/gestaozabele/manutencao/internal/service"
	"github.com/gestaozabele/manutencao/internal/util"
)

// writeServiceError traduz erros de domínio em respostas HTTP.
// Erros não mapeados viram 500 com a mensagem genérica informada.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var verr *util.ValidationError
	switch {
	case errors.As(err, &verr):
		WriteError(w, http.StatusBadRequest, "VALIDATION", "payload inválido", verr.Fields)

	case errors.Is(err, identity.ErrAuthentication),
		errors.Is(err, identity.ErrLoginExpired),
		errors.Is(err, service.ErrRefreshInvalid):
		WriteError(w, http.StatusUnauthorized, "AUTH", err.Error(), nil)

	case errors.Is(err, issues.ErrForbidden):
		WriteError(w, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)

	case errors.Is(err, issues.ErrNotFound),
		errors.Is(err, access.ErrNotFound),
		errors.Is(err, directory.ErrNotFound):
		WriteError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)

	case errors.Is(err, access.ErrEmailCollision):
		WriteError(w, http.StatusConflict, "EMAIL_COLLISION", err.Error(), nil)
	case errors.Is(err, assignment.ErrNoMatchingContractor):
		WriteError(w, http.StatusConflict, "NO_MATCHING_CONTRACTOR", err.Error(), nil)
	case errors.Is(err, issues.ErrInvalidTransition):
		WriteError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	case errors.Is(err, issues.ErrNotAssignable):
		WriteError(w, http.StatusConflict, "NOT_ASSIGNABLE", err.Error(), nil)
	case errors.Is(err, access.ErrAlreadyDecided):
		WriteError(w, http.StatusConflict, "ALREADY_DECIDED", err.Error(), nil)

	case errors.Is(err, issues.ErrImageTooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, "VALIDATION", err.Error(), nil)
	case errors.Is(err, access.ErrInvalidCategory),
		errors.Is(err, access.ErrInvalidRole),
		errors.Is(err, access.ErrInvalidIdentity),
		errors.Is(err, directory.ErrInvalidKind),
		errors.Is(err, assignment.ErrNotCandidate),
		errors.Is(err, issues.ErrInvalidStatus),
		errors.Is(err, issues.ErrInvalidCategory),
		errors.Is(err, issues.ErrDescriptionMissing),
		errors.Is(err, issues.ErrImageMissing),
		errors.Is(err, issues.ErrImageType):
		WriteError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)

	case errors.Is(err, issues.ErrUpload):
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("falha no upload da foto")
		WriteError(w, http.StatusBadGateway, "UPLOAD", issues.ErrUpload.Error(), nil)

	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg(fallback)
		WriteError(w, http.StatusInternalServerError, "INTERNAL", fallback, nil)
	}
}
