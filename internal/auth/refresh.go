package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

const refreshKeyPrefix = "refresh:" + SessionAudience + ":"

// RefreshToken é o segredo opaco do cookie. Só a chave derivada do hash é persistida.
type RefreshToken struct {
	Raw string
	Key string
}

// NewRefreshToken sorteia 32 bytes e já calcula a chave no Redis.
func NewRefreshToken() (RefreshToken, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return RefreshToken{}, err
	}
	raw := base64.RawURLEncoding.EncodeToString(buf)
	return RefreshToken{Raw: raw, Key: RefreshKey(raw)}, nil
}

// RefreshKey devolve a chave Redis do token bruto recebido no cookie.
func RefreshKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return refreshKeyPrefix + base64.RawURLEncoding.EncodeToString(sum[:])
}
