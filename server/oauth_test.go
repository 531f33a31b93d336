package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"

	"github.com/fireflydesigns/meowbot/config"
	dbpkg "github.com/fireflydesigns/meowbot/db"
	"github.com/fireflydesigns/meowbot/joinqueue"
	"github.com/fireflydesigns/meowbot/meow"
	"github.com/fireflydesigns/meowbot/testutil"
	"github.com/fireflydesigns/meowbot/twitchapi"
)

// newRelayHandlers wires handlers against a mock Twitch id + helix server.
func newRelayHandlers(t *testing.T) (*Handlers, *joinqueue.Queue, *testutil.MockTwitchServer) {
	t.Helper()
	database := testutil.SetupTestDB(t)
	store := meow.NewStore(database, clockwork.NewRealClock())
	queue := joinqueue.New(filepath.Join(t.TempDir(), "channels_to_join.txt"))
	mock := testutil.NewMockTwitchServer(t)

	mock.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "streamer-access",
			"refresh_token": "streamer-refresh",
			"token_type":    "bearer",
			"expires_in":    14400,
			"scope":         []string{"chat:read", "chat:edit"},
		})
	}
	mock.MockUserResponse("777", "somestreamer", "SomeStreamer")

	oauthClient := twitchapi.NewOAuthClient("cid", "secret", "https://example.test/callback", "chat:read chat:edit")
	oauthClient.Config.Endpoint = oauth2.Endpoint{AuthURL: mock.URL + "/auth", TokenURL: mock.URL + "/oauth2/token"}
	helix := &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{ClientID: "cid", ClientSecret: "secret", TokenURL: mock.URL + "/oauth2/token"},
		ClientID:       "cid",
		BaseURL:        mock.URL + "/helix",
	}

	cfg := &config.Config{CommandPrefix: '!', MeowToken: "meow"}
	h := NewHandlers(context.Background(), database, cfg, store, queue, nil, oauthClient, helix)
	return h, queue, mock
}

func TestAuthorizeBotQueuesChannel(t *testing.T) {
	h, queue, _ := newRelayHandlers(t)

	body := strings.NewReader(`{"code":"authcode123"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/authorize-bot", body)
	rec := httptest.NewRecorder()
	h.HandleAuthorizeBot(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "queued" || resp["channel"] != "somestreamer" {
		t.Fatalf("resp = %v", resp)
	}

	queued, err := queue.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(queued) != 1 || queued[0] != "somestreamer" {
		t.Fatalf("queued = %v", queued)
	}

	approved, err := h.store.ApprovedChannels(context.Background())
	if err != nil {
		t.Fatalf("ApprovedChannels: %v", err)
	}
	if len(approved) != 1 || approved[0] != "somestreamer" {
		t.Fatalf("approved = %v", approved)
	}
}

func TestAuthorizeBotRejectsBadRequests(t *testing.T) {
	h, _, _ := newRelayHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/authorize-bot", nil)
	rec := httptest.NewRecorder()
	h.HandleAuthorizeBot(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/authorize-bot", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	h.HandleAuthorizeBot(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty code status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/authorize-bot", strings.NewReader(`not json`))
	rec = httptest.NewRecorder()
	h.HandleAuthorizeBot(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json status = %d, want 400", rec.Code)
	}
}

func TestAuthorizeBotUnconfigured(t *testing.T) {
	database := testutil.SetupTestDB(t)
	store := meow.NewStore(database, clockwork.NewRealClock())
	queue := joinqueue.New(filepath.Join(t.TempDir(), "q.txt"))
	h := NewHandlers(context.Background(), database, &config.Config{}, store, queue, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/authorize-bot", strings.NewReader(`{"code":"x"}`))
	rec := httptest.NewRecorder()
	h.HandleAuthorizeBot(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when relay unconfigured", rec.Code)
	}
}

func TestTwitchOAuthStartRedirects(t *testing.T) {
	h, _, _ := newRelayHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/twitch/start", nil)
	rec := httptest.NewRecorder()
	h.HandleTwitchOAuthStart(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	loc := rec.Header().Get("Location")
	if !strings.Contains(loc, "client_id=cid") || !strings.Contains(loc, "state=") {
		t.Fatalf("Location = %q", loc)
	}
}

func TestTwitchOAuthCallbackStoresToken(t *testing.T) {
	h, _, _ := newRelayHandlers(t)

	// Start the flow to mint a valid state.
	startReq := httptest.NewRequest(http.MethodGet, "/auth/twitch/start", nil)
	startRec := httptest.NewRecorder()
	h.HandleTwitchOAuthStart(startRec, startReq)
	loc := startRec.Header().Get("Location")
	stateIdx := strings.Index(loc, "state=")
	if stateIdx < 0 {
		t.Fatalf("no state in %q", loc)
	}
	state := loc[stateIdx+len("state="):]
	if amp := strings.Index(state, "&"); amp >= 0 {
		state = state[:amp]
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/twitch/callback?code=authcode123&state="+state, nil)
	rec := httptest.NewRecorder()
	h.HandleTwitchOAuthCallback(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	access, refresh, _, scope, err := dbpkg.GetOAuthToken(context.Background(), h.db, "twitch")
	if err != nil {
		t.Fatalf("GetOAuthToken: %v", err)
	}
	if access != "streamer-access" || refresh != "streamer-refresh" {
		t.Fatalf("stored token = %q/%q", access, refresh)
	}
	if !strings.Contains(scope, "chat:read") {
		t.Fatalf("stored scope = %q", scope)
	}
}

func TestTwitchOAuthCallbackRejectsReplayedState(t *testing.T) {
	h, _, _ := newRelayHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/twitch/callback?code=authcode123&state=neverissued", nil)
	rec := httptest.NewRecorder()
	h.HandleTwitchOAuthCallback(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown state", rec.Code)
	}
}
