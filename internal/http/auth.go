package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gestaozabele/manutencao/internal/access"
	"github.com/gestaozabele/manutencao/internal/identity"
	"github.com/gestaozabele/manutencao/internal/service"
	"github.com/gestaozabele/manutencao/internal/session"
)

const refreshCookieName = "manutencao_refresh"

// Login inicia o fluxo OIDC. Clientes que pedem JSON recebem a URL em vez do redirect.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	url, err := h.auth.BeginLogin(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "erro ao iniciar login")
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		WriteJSON(w, http.StatusOK, map[string]string{"url": url})
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// Callback conclui o login, grava o refresh em cookie e devolve a sessão.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		h.logger.Warn().Str("error", providerErr).Str("description", q.Get("error_description")).
			Msg("login recusado pelo provedor")
		WriteError(w, http.StatusUnauthorized, "AUTH", identity.ErrAuthentication.Error(), nil)
		return
	}

	result, err := h.auth.CompleteLogin(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		h.handleAuthError(w, r, err)
		return
	}

	if h.cfg.OIDC.PostLoginURL != "" {
		h.setRefreshCookie(w, result.RefreshToken, result.RefreshExpiry)
		http.Redirect(w, r, h.cfg.OIDC.PostLoginURL, http.StatusFound)
		return
	}
	h.writeLoginSuccess(w, result)
}

// Refresh rotaciona token de acesso e reavalia o papel da identidade.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, err := getRefreshFromRequest(r)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "AUTH", "refresh ausente", nil)
		return
	}

	result, err := h.auth.Refresh(r.Context(), token)
	if err != nil {
		if errors.Is(err, service.ErrRefreshInvalid) {
			h.clearRefreshCookie(w)
		}
		h.handleAuthError(w, r, err)
		return
	}

	h.writeLoginSuccess(w, result)
}

// Logout revoga refresh token atual.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token, err := getRefreshFromRequest(r); err == nil {
		if err := h.auth.Logout(r.Context(), token); err != nil {
			h.logger.Warn().Err(err).Msg("logout: falha ao revogar refresh")
		}
	}

	h.clearRefreshCookie(w)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Me retorna a identidade autenticada com o papel resolvido agora.
// stale indica que o token foi emitido com outro papel e deve ser renovado.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	s, ok := session.FromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "AUTH", "sessão ausente", nil)
		return
	}

	current := h.auth.Resolve(r.Context(), s.Identity())
	WriteJSON(w, http.StatusOK, map[string]any{
		"identity":   s.Identity(),
		"resolution": current,
		"stale":      current != s.Resolution(),
	})
}

func (h *Handler) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrLoginExpired):
		WriteError(w, http.StatusUnauthorized, "AUTH", err.Error(), nil)
	case errors.Is(err, identity.ErrAuthentication):
		WriteError(w, http.StatusUnauthorized, "AUTH", err.Error(), nil)
	case errors.Is(err, service.ErrRefreshInvalid):
		WriteError(w, http.StatusUnauthorized, "AUTH", "refresh inválido", nil)
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("erro ao autenticar")
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "erro ao autenticar", nil)
	}
}

type loginResponse struct {
	AccessToken string            `json:"access_token"`
	ExpiresIn   int               `json:"expires_in"`
	Identity    identity.Identity `json:"identity"`
	Resolution  access.Resolution `json:"resolution"`
}

func (h *Handler) writeLoginSuccess(w http.ResponseWriter, result *service.LoginResult) {
	h.setRefreshCookie(w, result.RefreshToken, result.RefreshExpiry)

	WriteJSON(w, http.StatusOK, loginResponse{
		AccessToken: result.AccessToken,
		ExpiresIn:   int(h.jwt.AccessTTL().Seconds()),
		Identity:    result.Identity,
		Resolution:  result.Resolution,
	})
}

func getRefreshFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(refreshCookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", errors.New("refresh ausente")
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, h.refreshCookie(token, expires, 0))
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, h.refreshCookie("", time.Time{}, -1))
}

func (h *Handler) refreshCookie(value string, expires time.Time, maxAge int) *http.Cookie {
	sameSite := http.SameSiteNoneMode
	if h.devCookies {
		sameSite = http.SameSiteLaxMode
	}
	return &http.Cookie{
		Name:     refreshCookieName,
		Value:    value,
		Path:     "/v1/auth",
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !h.devCookies,
		SameSite: sameSite,
	}
}
