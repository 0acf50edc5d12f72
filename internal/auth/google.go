package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"

	"kirakira/backend/internal/config"
)

var (
	ErrUnverifiedEmail = errors.New("google account email is not verified")
	ErrMissingIDToken  = errors.New("google token response missing id_token")
)

type GoogleIdentity struct {
	GoogleSubject string
	Email         string
	Name          string
	AvatarURL     string
}

type idTokenValidator func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)

// GoogleOAuth runs the authorization-code flow against Google and verifies
// the returned ID token.
type GoogleOAuth struct {
	oauth    *oauth2.Config
	clientID string
	validate idTokenValidator
}

// NewGoogleOAuth returns nil when Google sign-in is not configured.
func NewGoogleOAuth(cfg config.Config) *GoogleOAuth {
	if !cfg.GoogleOAuthEnabled() {
		return nil
	}
	return &GoogleOAuth{
		oauth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleCallbackURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		},
		clientID: cfg.GoogleClientID,
		validate: idtoken.Validate,
	}
}

func (g *GoogleOAuth) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades an authorization code for a verified Google identity.
func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (GoogleIdentity, error) {
	if strings.TrimSpace(code) == "" {
		return GoogleIdentity{}, errors.New("authorization code is required")
	}
	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return GoogleIdentity{}, fmt.Errorf("exchange code: %w", err)
	}
	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return GoogleIdentity{}, ErrMissingIDToken
	}
	return g.Verify(ctx, rawIDToken)
}

func (g *GoogleOAuth) Verify(ctx context.Context, idToken string) (GoogleIdentity, error) {
	if strings.TrimSpace(idToken) == "" {
		return GoogleIdentity{}, errors.New("id token is required")
	}

	payload, err := g.validate(ctx, idToken, g.clientID)
	if err != nil {
		return GoogleIdentity{}, fmt.Errorf("validate id token: %w", err)
	}

	email, _ := payload.Claims["email"].(string)
	if strings.TrimSpace(email) == "" {
		return GoogleIdentity{}, errors.New("google token missing email claim")
	}

	emailVerified, _ := payload.Claims["email_verified"].(bool)
	if !emailVerified {
		return GoogleIdentity{}, ErrUnverifiedEmail
	}

	name, _ := payload.Claims["name"].(string)
	picture, _ := payload.Claims["picture"].(string)

	return GoogleIdentity{
		GoogleSubject: payload.Subject,
		Email:         strings.ToLower(email),
		Name:          strings.TrimSpace(name),
		AvatarURL:     strings.TrimSpace(picture),
	}, nil
}

// NewState returns a random value for the OAuth state parameter.
func NewState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
