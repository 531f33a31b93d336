package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestSplitScopes(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"chat:read chat:edit", []string{"chat:read", "chat:edit"}},
		{"chat:read,chat:edit", []string{"chat:read", "chat:edit"}},
		{"  chat:read  ", []string{"chat:read"}},
		{"", nil},
	}
	for _, c := range cases {
		got := SplitScopes(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("SplitScopes(%q) = %v, want %v", c.in, got, c.want)
		}
		for i := range c.want {
			if got[i] != c.want[i] {
				t.Fatalf("SplitScopes(%q) = %v, want %v", c.in, got, c.want)
			}
		}
	}
}

func TestAuthorizeURL(t *testing.T) {
	c := NewOAuthClient("cid", "secret", "https://example.test/callback", "chat:read chat:edit")
	raw, err := c.AuthorizeURL("somestate")
	if err != nil {
		t.Fatalf("AuthorizeURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	q := u.Query()
	if q.Get("client_id") != "cid" {
		t.Fatalf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("redirect_uri") != "https://example.test/callback" {
		t.Fatalf("redirect_uri = %q", q.Get("redirect_uri"))
	}
	if q.Get("response_type") != "code" {
		t.Fatalf("response_type = %q", q.Get("response_type"))
	}
	if q.Get("state") != "somestate" {
		t.Fatalf("state = %q", q.Get("state"))
	}
	if !strings.Contains(q.Get("scope"), "chat:read") {
		t.Fatalf("scope = %q", q.Get("scope"))
	}
}

func TestAuthorizeURLMissingConfig(t *testing.T) {
	c := NewOAuthClient("", "secret", "", "")
	if _, err := c.AuthorizeURL(""); err == nil {
		t.Fatal("AuthorizeURL without clientID/redirect succeeded")
	}
}

func newGrantServer(t *testing.T, wantGrant string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != wantGrant {
			t.Errorf("grant_type = %q, want %q", got, wantGrant)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-access",
			"refresh_token": "fresh-refresh",
			"token_type":    "bearer",
			"expires_in":    14400,
			"scope":         []string{"chat:read", "chat:edit"},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExchangeAuthCode(t *testing.T) {
	srv := newGrantServer(t, "authorization_code")
	c := NewOAuthClient("cid", "secret", "https://example.test/callback", "chat:read")
	c.Config.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"}

	tok, err := c.ExchangeAuthCode(context.Background(), "authcode123")
	if err != nil {
		t.Fatalf("ExchangeAuthCode: %v", err)
	}
	if tok.AccessToken != "fresh-access" || tok.RefreshToken != "fresh-refresh" {
		t.Fatalf("token = %+v", tok)
	}
	if got := TokenScope(tok); got != "chat:read chat:edit" {
		t.Fatalf("TokenScope = %q", got)
	}
}

func TestExchangeAuthCodeMissingCode(t *testing.T) {
	c := NewOAuthClient("cid", "secret", "https://example.test/callback", "")
	if _, err := c.ExchangeAuthCode(context.Background(), ""); err == nil {
		t.Fatal("exchange with empty code succeeded")
	}
}

func TestRefreshToken(t *testing.T) {
	srv := newGrantServer(t, "refresh_token")
	c := NewOAuthClient("cid", "secret", "https://example.test/callback", "chat:read")
	c.Config.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"}

	tok, err := c.RefreshToken(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if tok.AccessToken != "fresh-access" {
		t.Fatalf("token = %+v", tok)
	}
}

func TestRefreshTokenMissingParams(t *testing.T) {
	c := NewOAuthClient("cid", "", "", "")
	if _, err := c.RefreshToken(context.Background(), "rt"); err == nil {
		t.Fatal("refresh without client secret succeeded")
	}
}

func TestComputeExpiry(t *testing.T) {
	now := time.Now()

	got := ComputeExpiry(&oauth2.Token{Expiry: now.Add(4 * time.Hour)})
	if !got.Equal(now.Add(4 * time.Hour)) {
		t.Fatalf("expiry = %v", got)
	}

	// Unknown expiry defaults to about an hour out.
	got = ComputeExpiry(&oauth2.Token{})
	if got.Before(now.Add(59*time.Minute)) || got.After(now.Add(61*time.Minute)) {
		t.Fatalf("default expiry = %v, want ~1h from now", got)
	}
	got = ComputeExpiry(nil)
	if got.Before(now.Add(59*time.Minute)) || got.After(now.Add(61*time.Minute)) {
		t.Fatalf("nil default expiry = %v, want ~1h from now", got)
	}
}
