package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Provider abstrai o fluxo authorization code do provedor externo.
type Provider interface {
	AuthCodeURL(attempt LoginAttempt) string
	Exchange(ctx context.Context, code string, attempt LoginAttempt) (Identity, error)
}

// OIDCProvider implementa Provider com discovery OIDC e PKCE.
type OIDCProvider struct {
	oauth2Conf *oauth2.Config
	verifier   *oidc.IDTokenVerifier
}

// NewOIDCProvider faz discovery do issuer e prepara o cliente OAuth2.
func NewOIDCProvider(ctx context.Context, issuerURL, clientID, clientSecret, redirectURL string, scopes []string) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}

	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	return &OIDCProvider{
		oauth2Conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
			Endpoint:     provider.Endpoint(),
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// AuthCodeURL monta a URL de autorização com challenge S256.
func (p *OIDCProvider) AuthCodeURL(attempt LoginAttempt) string {
	challenge := sha256.Sum256([]byte(attempt.CodeVerifier))
	return p.oauth2Conf.AuthCodeURL(attempt.State,
		oauth2.SetAuthURLParam("code_challenge", base64.RawURLEncoding.EncodeToString(challenge[:])),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("nonce", attempt.Nonce),
	)
}

type idClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Exchange troca o code, valida o ID token e extrai a identidade.
func (p *OIDCProvider) Exchange(ctx context.Context, code string, attempt LoginAttempt) (Identity, error) {
	token, err := p.oauth2Conf.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", attempt.CodeVerifier))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: troca do code: %v", ErrAuthentication, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Identity{}, fmt.Errorf("%w: id_token ausente", ErrAuthentication)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: id_token inválido: %v", ErrAuthentication, err)
	}
	if idToken.Nonce != attempt.Nonce {
		return Identity{}, fmt.Errorf("%w: nonce divergente", ErrAuthentication)
	}

	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("%w: claims: %v", ErrAuthentication, err)
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return Identity{}, fmt.Errorf("%w: e-mail não verificado", ErrAuthentication)
	}

	id := Identity{
		ID:          claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		PhotoURL:    claims.Picture,
	}.Normalize()
	if !id.Valid() {
		return Identity{}, fmt.Errorf("%w: identidade incompleta", ErrAuthentication)
	}
	return id, nil
}

func randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
