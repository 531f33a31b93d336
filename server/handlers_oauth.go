package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	dbpkg "github.com/fireflydesigns/meowbot/db"
	"github.com/fireflydesigns/meowbot/twitchapi"
)

// HandleTwitchOAuthStart initiates the Twitch OAuth flow by redirecting to Twitch.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_CLIENT_SECRET + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	// generate state
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", 500)
		return
	}
	st := hex.EncodeToString(b)
	h.addOAuthState(st, time.Now().Add(10*time.Minute))
	authURL, err := h.oauth.AuthorizeURL(st)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback handles the OAuth callback from Twitch. The
// resulting tokens are stored for the bot account so the refresher can keep
// its chat credential alive.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		http.Error(w, "oauth not configured", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", 400)
		return
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", 400)
		return
	}
	ctx := r.Context()
	tok, err := h.oauth.ExchangeAuthCode(ctx, code)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	scope := twitchapi.TokenScope(tok)
	if err := dbpkg.UpsertOAuthToken(ctx, h.db, "twitch", tok.AccessToken, tok.RefreshToken,
		twitchapi.ComputeExpiry(tok), scope); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "ok", "scope": scope, "expiry": tok.Expiry}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// authorizeBotRequest is the relay payload the invite page posts after a
// streamer completes the Twitch consent screen.
type authorizeBotRequest struct {
	Code string `json:"code"`
}

// HandleAuthorizeBot exchanges the streamer's authorization code, resolves
// which account granted it, and queues that channel for the bot to join.
func (h *Handlers) HandleAuthorizeBot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.oauth == nil || h.helix == nil {
		http.Error(w, "oauth relay not configured", http.StatusServiceUnavailable)
		return
	}
	var req authorizeBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	tok, err := h.oauth.ExchangeAuthCode(ctx, req.Code)
	if err != nil {
		slog.Warn("relay code exchange failed", slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, "code exchange failed", http.StatusBadGateway)
		return
	}
	user, err := h.helix.AuthorizedUser(ctx, tok.AccessToken)
	if err != nil {
		slog.Warn("relay user lookup failed", slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, "could not resolve authorizing user", http.StatusBadGateway)
		return
	}

	if err := h.queue.Append(user.Login); err != nil {
		slog.Error("relay queue append failed", slog.String("channel", user.Login), slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, "could not queue channel", http.StatusInternalServerError)
		return
	}
	if err := h.store.ApproveChannel(ctx, user.Login); err != nil {
		// The queued entry still gets the bot into the channel this run; the
		// approval is retried when the membership manager joins.
		slog.Warn("relay channel approval failed", slog.String("channel", user.Login), slog.Any("err", err), slog.String("component", "http"))
	}

	slog.Info("bot authorized for channel", slog.String("channel", user.Login), slog.String("component", "http"))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "queued", "channel": user.Login})
}
