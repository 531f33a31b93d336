package twitchapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

// OAuthClient handles the authorization-code and refresh-token grants for the
// bot relay, on top of the standard oauth2 flow.
type OAuthClient struct {
	Config *oauth2.Config
}

// NewOAuthClient builds a client against the Twitch id endpoint. scopes is a
// space- or comma-separated list.
func NewOAuthClient(clientID, clientSecret, redirectURI, scopes string) *OAuthClient {
	return &OAuthClient{Config: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       SplitScopes(scopes),
		Endpoint:     twitch.Endpoint,
	}}
}

// SplitScopes normalizes a scope list string into its parts.
func SplitScopes(scopes string) []string {
	return strings.Fields(strings.ReplaceAll(scopes, ",", " "))
}

// AuthorizeURL constructs the user authorization URL for the OAuth code grant.
func (c *OAuthClient) AuthorizeURL(state string) (string, error) {
	if c.Config.ClientID == "" || c.Config.RedirectURL == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	return c.Config.AuthCodeURL(state), nil
}

// ExchangeAuthCode exchanges an authorization code for access & refresh tokens.
func (c *OAuthClient) ExchangeAuthCode(ctx context.Context, code string) (*oauth2.Token, error) {
	if c.Config.ClientID == "" || c.Config.ClientSecret == "" || code == "" || c.Config.RedirectURL == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	return c.Config.Exchange(ctx, code)
}

// RefreshToken exchanges a refresh token for a new access token.
func (c *OAuthClient) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if c.Config.ClientID == "" || c.Config.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	src := c.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return src.Token()
}

// TokenScope extracts the granted scope list Twitch returns alongside a token.
func TokenScope(tok *oauth2.Token) string {
	switch v := tok.Extra("scope").(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

// ComputeExpiry returns the token expiry, defaulting to +60m when unknown.
func ComputeExpiry(tok *oauth2.Token) time.Time {
	if tok == nil || tok.Expiry.IsZero() {
		return time.Now().Add(60 * time.Minute)
	}
	return tok.Expiry
}
