package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/gestaozabele/manutencao/internal/auth"
	"github.com/gestaozabele/manutencao/internal/directory"
	"github.com/gestaozabele/manutencao/internal/session"
)

// Auth valida JWT de acesso e injeta a sessão no contexto.
// Conexões websocket podem enviar o token em ?access_token=, já que o navegador não define cabeçalhos no upgrade.
func Auth(jwtManager *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "AUTH", "token ausente")
				return
			}

			claims, err := jwtManager.ParseAndValidate(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "AUTH", "token inválido")
				return
			}

			s := session.FromClaims(claims)
			if s.IdentityID == "" || s.Email == "" {
				writeError(w, http.StatusUnauthorized, "AUTH", "sessão inválida")
				return
			}

			next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), s)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && strings.TrimSpace(parts[1]) != "" {
		return strings.TrimSpace(parts[1]), true
	}
	if websocket.IsWebSocketUpgrade(r) {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, true
		}
	}
	return "", false
}

// GetSubject recupera o id da identidade autenticada.
func GetSubject(r *http.Request) string {
	s, ok := session.FromContext(r.Context())
	if !ok {
		return ""
	}
	return s.IdentityID
}

// RequireAuthorized garante identidade aprovada ou administradora.
func RequireAuthorized(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := session.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "AUTH", "sessão ausente")
			return
		}
		if !s.Authorized() {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "acesso aguardando aprovação")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin garante administrador da allow-list.
func RequireAdmin(next http.Handler) http.Handler {
	return RequireRoles(directory.RoleAdmin)(next)
}

// RequireRoles garante que a sessão possua pelo menos um dos papéis informados.
// Administradores passam em qualquer verificação.
func RequireRoles(roles ...directory.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := session.FromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "AUTH", "sessão ausente")
				return
			}
			if s.IsAdmin() {
				next.ServeHTTP(w, r)
				return
			}
			for _, role := range roles {
				if role != directory.RoleAdmin && s.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "FORBIDDEN", "acesso restrito")
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": nil,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
