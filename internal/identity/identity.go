// Package identity integra o provedor OIDC externo que autentica as pessoas.
package identity

import (
	"errors"
	"strings"
)

var (
	// ErrAuthentication indica login recusado ou cancelado no provedor.
	ErrAuthentication = errors.New("falha na autenticação")
	// ErrLoginExpired indica state desconhecido ou expirado.
	ErrLoginExpired = errors.New("tentativa de login expirada")
)

// Identity é o principal autenticado devolvido pelo provedor.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
}

// Normalize aplica trim e e-mail em minúsculas.
func (i Identity) Normalize() Identity {
	i.ID = strings.TrimSpace(i.ID)
	i.Email = strings.ToLower(strings.TrimSpace(i.Email))
	i.DisplayName = strings.TrimSpace(i.DisplayName)
	i.PhotoURL = strings.TrimSpace(i.PhotoURL)
	if i.DisplayName == "" {
		i.DisplayName = i.Email
	}
	return i
}

// Valid indica se a identidade tem os campos mínimos.
func (i Identity) Valid() bool {
	return strings.TrimSpace(i.ID) != "" && strings.TrimSpace(i.Email) != ""
}
