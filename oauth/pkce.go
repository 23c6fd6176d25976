// Package oauth implements the PKCE and Device Code authorization flows
// (§4.6) shared by the Claude/Gemini OAuth adapters and the Copilot
// device-code adapter, plus token refresh with per-provider
// de-duplication.
package oauth

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// TokenSkew is the safety margin subtracted from expires_at when judging
// validity (§3 glossary: "token skew").
const TokenSkew = 60 * time.Second

// Token is the persisted shape of an OAuth credential (§3 OAuth family).
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsValid reports whether tok is usable right now, applying TokenSkew.
func IsValid(tok Token, now time.Time) bool {
	return now.Before(tok.ExpiresAt.Add(-TokenSkew))
}

// PKCEConfig describes a PKCE authorization endpoint set.
type PKCEConfig struct {
	ClientID     string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
}

// PKCESession holds the verifier/state generated for one authorization
// attempt. The caller persists nothing from this struct. ExchangeCode
// reads only Verifier; State and AuthURL are for the caller to check the
// redirect and open the browser.
type PKCESession struct {
	Verifier string
	State    string
	AuthURL  string
}

// BeginPKCE generates a code_verifier and state nonce and builds the
// authorization URL (§4.6 steps 1-3). oauth2.GenerateVerifier already
// produces a >=43-char cryptographically random verifier satisfying the
// spec's minimum length.
func BeginPKCE(cfg PKCEConfig) PKCESession {
	verifier := oauth2.GenerateVerifier()
	state := oauth2.GenerateVerifier() // reused as a high-entropy state nonce
	conf := toOAuth2Config(cfg)
	authURL := conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	return PKCESession{Verifier: verifier, State: state, AuthURL: authURL}
}

// ExchangeCode completes step 6: POST code + code_verifier to the token
// endpoint.
func ExchangeCode(ctx context.Context, cfg PKCEConfig, sess PKCESession, code string) (Token, error) {
	conf := toOAuth2Config(cfg)
	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(sess.Verifier))
	if err != nil {
		return Token{}, err
	}
	return fromOAuth2Token(tok), nil
}

func toOAuth2Config(cfg PKCEConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.RedirectURL,
		Scopes:      cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthURL,
			TokenURL: cfg.TokenURL,
		},
	}
}

func fromOAuth2Token(tok *oauth2.Token) Token {
	return Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		CreatedAt:    time.Now(),
	}
}

// Refresh exchanges a refresh token for a new access token.
func Refresh(ctx context.Context, cfg PKCEConfig, refreshToken string) (Token, error) {
	conf := toOAuth2Config(cfg)
	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return Token{}, err
	}
	return fromOAuth2Token(tok), nil
}
