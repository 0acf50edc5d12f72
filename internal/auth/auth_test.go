package auth

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/idtoken"

	"kirakira/backend/internal/config"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	require.NotEqual(t, "hunter22", hash)

	require.NoError(t, CheckPassword(hash, "hunter22"))
	require.ErrorIs(t, CheckPassword(hash, "wrong"), ErrInvalidCredentials)
	require.ErrorIs(t, CheckPassword("", "hunter22"), ErrInvalidCredentials)
}

func TestTokensIssueAndParse(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens := NewTokens("secret", 7*24*time.Hour).WithClock(func() time.Time { return now })

	raw, expiresAt, err := tokens.Issue(Identity{UserID: "u1", Email: "a@x.io"})
	require.NoError(t, err)
	require.Equal(t, now.Add(7*24*time.Hour), expiresAt)

	identity, err := tokens.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, Identity{UserID: "u1", Email: "a@x.io"}, identity)
}

func TestTokensRejectExpiredAndForeign(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens := NewTokens("secret", time.Hour).WithClock(func() time.Time { return now })
	raw, _, err := tokens.Issue(Identity{UserID: "u1"})
	require.NoError(t, err)

	expired := tokens.WithClock(func() time.Time { return now.Add(2 * time.Hour) })
	_, err = expired.Parse(raw)
	require.ErrorIs(t, err, ErrInvalidToken)

	foreign := NewTokens("other", time.Hour).WithClock(func() time.Time { return now })
	_, err = foreign.Parse(raw)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Parse("")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewGoogleOAuthDisabledWithoutCredentials(t *testing.T) {
	require.Nil(t, NewGoogleOAuth(config.Config{}))
}

func TestGoogleAuthCodeURL(t *testing.T) {
	g := NewGoogleOAuth(config.Config{
		GoogleClientID:     "client-id",
		GoogleClientSecret: "secret",
		GoogleCallbackURL:  "http://localhost:8003/api/auth/google/callback",
	})
	require.NotNil(t, g)

	parsed, err := url.Parse(g.AuthCodeURL("state-1"))
	require.NoError(t, err)
	query := parsed.Query()
	require.Equal(t, "client-id", query.Get("client_id"))
	require.Equal(t, "state-1", query.Get("state"))
	require.Contains(t, query.Get("scope"), "email")
}

func TestGoogleVerifyClaims(t *testing.T) {
	g := &GoogleOAuth{clientID: "client-id"}

	g.validate = func(_ context.Context, token, audience string) (*idtoken.Payload, error) {
		require.Equal(t, "client-id", audience)
		return &idtoken.Payload{Subject: "sub-1", Claims: map[string]any{
			"email": "Yuna@Example.com", "email_verified": true, "name": " Yuna ", "picture": "https://pic",
		}}, nil
	}
	identity, err := g.Verify(context.Background(), "token")
	require.NoError(t, err)
	require.Equal(t, GoogleIdentity{GoogleSubject: "sub-1", Email: "yuna@example.com", Name: "Yuna", AvatarURL: "https://pic"}, identity)

	g.validate = func(context.Context, string, string) (*idtoken.Payload, error) {
		return &idtoken.Payload{Claims: map[string]any{"email": "a@x.io", "email_verified": false}}, nil
	}
	_, err = g.Verify(context.Background(), "token")
	require.ErrorIs(t, err, ErrUnverifiedEmail)

	g.validate = func(context.Context, string, string) (*idtoken.Payload, error) {
		return nil, errors.New("bad signature")
	}
	_, err = g.Verify(context.Background(), "token")
	require.Error(t, err)
}

func TestNewStateIsRandom(t *testing.T) {
	a, err := NewState()
	require.NoError(t, err)
	b, err := NewState()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
