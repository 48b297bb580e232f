package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// Origins é a lista de origens liberadas em ALLOW_ORIGINS.
// Entradas "*.zabele.com.br" liberam qualquer subdomínio, mas não a raiz.
type Origins struct {
	exact    map[string]struct{}
	suffixes []string
}

func NewOrigins(entries []string) *Origins {
	o := &Origins{exact: make(map[string]struct{}, len(entries))}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
		case strings.HasPrefix(entry, "*."):
			o.suffixes = append(o.suffixes, strings.ToLower(entry[1:]))
		default:
			o.exact[entry] = struct{}{}
		}
	}
	return o
}

// Allows informa se o Origin está na lista.
func (o *Origins) Allows(origin string) bool {
	if origin == "" {
		return false
	}
	if _, ok := o.exact[origin]; ok {
		return true
	}
	if len(o.suffixes) == 0 {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, suffix := range o.suffixes {
		if strings.HasSuffix(host, suffix) && host != suffix[1:] {
			return true
		}
	}
	return false
}

// CORS libera credenciais apenas para as origens conhecidas.
func CORS(origins *Origins) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origins.Allows(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id, X-Requested-With")
				h.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
