package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionAudience é a audience de todos os tokens de sessão emitidos pela API.
const SessionAudience = "manutencao"

// Claims representa as informações presentes em um JWT de acesso.
type Claims struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Picture  string `json:"picture,omitempty"`
	Outcome  string `json:"outcome"`
	Role     string `json:"role,omitempty"`
	Category string `json:"category,omitempty"`
	jwt.RegisteredClaims
}

// SessionClaims agrupa os campos de sessão usados para gerar o token.
type SessionClaims struct {
	Subject  string
	Email    string
	Name     string
	Picture  string
	Outcome  string
	Role     string
	Category string
}

// JWTManager encapsula geração e validação de tokens.
type JWTManager struct {
	secret    []byte
	accessTTL time.Duration
}

// NewJWTManager cria o gerenciador com segredo e TTL configurados.
func NewJWTManager(secret string, accessTTL time.Duration) *JWTManager {
	return &JWTManager{secret: []byte(secret), accessTTL: accessTTL}
}

// AccessTTL devolve a validade dos tokens de acesso.
func (m *JWTManager) AccessTTL() time.Duration {
	return m.accessTTL
}

// GenerateAccessToken cria um JWT HS256 com claims de sessão.
func (m *JWTManager) GenerateAccessToken(s SessionClaims) (string, string, error) {
	now := time.Now().UTC()
	jti := uuid.NewString()

	claims := Claims{
		Email:    s.Email,
		Name:     s.Name,
		Picture:  s.Picture,
		Outcome:  s.Outcome,
		Role:     s.Role,
		Category: s.Category,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.Subject,
			Audience:  jwt.ClaimStrings{SessionAudience},
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", "", err
	}

	return signed, jti, nil
}

// ParseAndValidate verifica assinatura, audience e expiração.
func (m *JWTManager) ParseAndValidate(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(SessionAudience),
	)

	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("token inválido")
	}
	if claims.Subject == "" {
		return nil, errors.New("token sem subject")
	}

	return claims, nil
}
