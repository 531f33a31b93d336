package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/twitch"
)

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// NOTE: This token CANNOT be used for IRC chat; chat requires a user (bot) OAuth token with chat:read/chat:edit scopes.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	TokenURL     string       // defaults to the Twitch id endpoint
	HTTPClient   *http.Client // defaults to http.DefaultClient

	mu  sync.Mutex
	src oauth2.TokenSource
}

func (ts *TokenSource) source() oauth2.TokenSource {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.src == nil {
		cfg := &clientcredentials.Config{
			ClientID:     ts.ClientID,
			ClientSecret: ts.ClientSecret,
			TokenURL:     ts.TokenURL,
		}
		if cfg.TokenURL == "" {
			cfg.TokenURL = twitch.Endpoint.TokenURL
		}
		ctx := context.Background()
		if ts.HTTPClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, ts.HTTPClient)
		}
		// clientcredentials caches the token and re-fetches on expiry.
		ts.src = cfg.TokenSource(ctx)
	}
	return ts.src
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	tok, err := ts.source().Token()
	if err != nil {
		return "", fmt.Errorf("twitch app token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	return tok.AccessToken, nil
}
