// Package twitchapi contains minimal helpers to interact with Twitch Helix
// APIs for user lookup and for the OAuth flows the bot relay needs.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

const defaultBaseURL = "https://api.twitch.tv/helix"

// User is the subset of a Helix user object the bot cares about.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// HelixClient provides the user-lookup calls used for channel validation and
// for resolving who authorized the bot.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	BaseURL        string // defaults to the public Helix endpoint
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return defaultBaseURL
}

func (hc *HelixClient) getUsers(ctx context.Context, bearer, login string) ([]User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL()+"/users", nil)
	if err != nil {
		return nil, err
	}
	if login != "" {
		q := req.URL.Query()
		q.Set("login", login)
		req.URL.RawQuery = q.Encode()
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+bearer)
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("helix users request failed: %s", resp.Status)
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetUser resolves a login name using the app access token.
func (hc *HelixClient) GetUser(ctx context.Context, login string) (*User, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	users, err := hc.getUsers(ctx, tok, login)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("user not found")
	}
	return &users[0], nil
}

// ChannelExists reports whether a login resolves to a Twitch account. Used by
// the membership manager before a join attempt.
func (hc *HelixClient) ChannelExists(ctx context.Context, login string) (bool, error) {
	if login == "" {
		return false, nil
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return false, err
	}
	users, err := hc.getUsers(ctx, tok, login)
	if err != nil {
		return false, err
	}
	return len(users) > 0, nil
}

// AuthorizedUser resolves the account behind a user access token, identifying
// who just completed the OAuth flow.
func (hc *HelixClient) AuthorizedUser(ctx context.Context, userToken string) (*User, error) {
	if userToken == "" {
		return nil, fmt.Errorf("user token empty")
	}
	users, err := hc.getUsers(ctx, userToken, "")
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("token resolves to no user")
	}
	return &users[0], nil
}
