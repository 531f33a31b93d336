// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/fireflydesigns/meowbot/config"
	"github.com/fireflydesigns/meowbot/joinqueue"
	"github.com/fireflydesigns/meowbot/meow"
	"github.com/fireflydesigns/meowbot/membership"
	"github.com/fireflydesigns/meowbot/twitchapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db      *sql.DB
	ctx     context.Context
	cfg     *config.Config
	store   *meow.Store
	queue   *joinqueue.Queue
	manager *membership.Manager
	oauth   *twitchapi.OAuthClient
	helix   *twitchapi.HelixClient

	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
// manager, oauth, and helix may be nil; the endpoints needing them answer with
// an error status instead of panicking.
func NewHandlers(ctx context.Context, db *sql.DB, cfg *config.Config, store *meow.Store, queue *joinqueue.Queue, manager *membership.Manager, oauthClient *twitchapi.OAuthClient, helix *twitchapi.HelixClient) *Handlers {
	return &Handlers{
		db:         db,
		ctx:        ctx,
		cfg:        cfg,
		store:      store,
		queue:      queue,
		manager:    manager,
		oauth:      oauthClient,
		helix:      helix,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
func (h *Handlers) addOAuthState(state string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	// Clean expired states periodically to prevent unbounded growth
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}

	// If we're still over the limit after cleanup, refuse to add more
	if len(h.stateStore) >= maxOAuthStates {
		// Don't add the state - this will cause the OAuth flow to fail
		// which is better than a memory exhaustion attack
		return
	}

	h.stateStore[state] = expiry
}

// consumeOAuthState validates and removes a state token, reporting validity.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return !time.Now().After(exp)
}
