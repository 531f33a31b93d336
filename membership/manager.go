// Package membership keeps the bot's set of joined channels in sync with the
// approved-channel list and the join-queue file produced by the OAuth relay.
package membership

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fireflydesigns/meowbot/joinqueue"
	"github.com/fireflydesigns/meowbot/meow"
	"github.com/fireflydesigns/meowbot/telemetry"
)

// Backoff policy for failed joins. After maxAttempts the channel is dropped
// until it is queued again.
const (
	backoffBase = 30 * time.Second
	backoffCap  = 15 * time.Minute
	maxAttempts = 6
)

// ChatJoiner is the slice of the chat bot the manager needs.
type ChatJoiner interface {
	Join(channel string) error
	Depart(channel string)
}

// Validator checks that a channel exists before the bot tries to join it.
// Typically backed by the Helix users endpoint. nil skips validation.
type Validator func(ctx context.Context, channel string) (bool, error)

type pendingJoin struct {
	attempts int
	nextTry  time.Time
}

// Manager drains the join queue, validates and joins channels, retries
// failures with exponential backoff, and records approved channels so they are
// rejoined on restart.
type Manager struct {
	bot      ChatJoiner
	store    *meow.Store
	queue    *joinqueue.Queue
	validate Validator
	clock    clockwork.Clock
	interval time.Duration

	mu      sync.Mutex
	joined  map[string]struct{}
	pending map[string]*pendingJoin
}

// NewManager builds a manager. interval is the queue poll period; the fsnotify
// watch on the queue file shortens the effective latency when it is available.
func NewManager(bot ChatJoiner, store *meow.Store, queue *joinqueue.Queue, validate Validator, clock clockwork.Clock, interval time.Duration) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		bot:      bot,
		store:    store,
		queue:    queue,
		validate: validate,
		clock:    clock,
		interval: interval,
		joined:   make(map[string]struct{}),
		pending:  make(map[string]*pendingJoin),
	}
}

// Bootstrap joins the statically configured channels plus every channel
// approved in a previous run. Failures go onto the retry list rather than
// aborting startup.
func (m *Manager) Bootstrap(ctx context.Context, static []string) error {
	channels := make([]string, 0, len(static))
	channels = append(channels, static...)

	approved, err := m.store.ApprovedChannels(ctx)
	if err != nil {
		// The bot can still serve the static channels; approved ones will be
		// picked up when the queue is next drained or on the next restart.
		slog.Warn("could not load approved channels", slog.Any("err", err), slog.String("component", "membership"))
	} else {
		channels = append(channels, approved...)
	}

	for _, c := range channels {
		m.enqueue(c)
	}
	m.processPending(ctx)
	return nil
}

// Run drains the queue on the poll interval and whenever the queue file
// changes, and works the retry list. Blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	wake := m.queue.Watch(ctx)
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	m.drainQueue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		case <-wake:
		}
		m.drainQueue(ctx)
		m.processPending(ctx)
	}
}

// drainQueue moves queued names onto the pending list and tries them.
func (m *Manager) drainQueue(ctx context.Context) {
	names, err := m.queue.Drain()
	if err != nil {
		slog.Error("join queue drain failed", slog.Any("err", err), slog.String("component", "membership"))
		return
	}
	for _, name := range names {
		m.enqueue(name)
	}
	m.processPending(ctx)
}

// enqueue adds a channel to the pending list unless it is joined or already
// pending. A re-queued name resets a previously exhausted entry.
func (m *Manager) enqueue(channel string) {
	channel = meow.NormalizeChannel(channel)
	if channel == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.joined[channel]; ok {
		return
	}
	if _, ok := m.pending[channel]; ok {
		return
	}
	m.pending[channel] = &pendingJoin{nextTry: m.clock.Now()}
	telemetry.SetJoinQueueDepth(len(m.pending))
}

// processPending attempts every pending join whose backoff has elapsed.
func (m *Manager) processPending(ctx context.Context) {
	now := m.clock.Now()

	m.mu.Lock()
	due := make([]string, 0, len(m.pending))
	for c, p := range m.pending {
		if !p.nextTry.After(now) {
			due = append(due, c)
		}
	}
	m.mu.Unlock()

	for _, c := range due {
		m.tryJoin(ctx, c)
	}
}

func (m *Manager) tryJoin(ctx context.Context, channel string) {
	telemetry.IncCounter(telemetry.JoinAttempts)

	if m.validate != nil {
		ok, err := m.validate(ctx, channel)
		if err != nil {
			slog.Warn("channel validation failed, will retry",
				slog.String("channel", channel), slog.Any("err", err), slog.String("component", "membership"))
			m.recordFailure(channel)
			return
		}
		if !ok {
			slog.Warn("channel does not exist, dropping",
				slog.String("channel", channel), slog.String("component", "membership"))
			m.drop(channel)
			return
		}
	}

	if err := m.bot.Join(channel); err != nil {
		slog.Warn("join failed, will retry",
			slog.String("channel", channel), slog.Any("err", err), slog.String("component", "membership"))
		m.recordFailure(channel)
		return
	}

	if err := m.store.ApproveChannel(ctx, channel); err != nil {
		// Joined for this process lifetime; approval will be retried the next
		// time the channel comes through the queue.
		slog.Error("could not persist channel approval",
			slog.String("channel", channel), slog.Any("err", err), slog.String("component", "membership"))
	}

	m.mu.Lock()
	m.joined[channel] = struct{}{}
	delete(m.pending, channel)
	telemetry.SetJoinQueueDepth(len(m.pending))
	m.mu.Unlock()
}

// recordFailure applies exponential backoff; entries past maxAttempts drop.
func (m *Manager) recordFailure(channel string) {
	telemetry.IncCounter(telemetry.JoinFailures)

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[channel]
	if !ok {
		return
	}
	p.attempts++
	if p.attempts >= maxAttempts {
		delete(m.pending, channel)
		telemetry.SetJoinQueueDepth(len(m.pending))
		slog.Error("giving up on channel after repeated join failures",
			slog.String("channel", channel), slog.Int("attempts", p.attempts), slog.String("component", "membership"))
		return
	}
	delay := backoffBase << (p.attempts - 1)
	if delay > backoffCap {
		delay = backoffCap
	}
	p.nextTry = m.clock.Now().Add(delay)
}

func (m *Manager) drop(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, channel)
	telemetry.SetJoinQueueDepth(len(m.pending))
}

// Leave departs a channel and forgets any pending retry for it. The approval
// row stays; removing a channel permanently means deleting it from the store.
func (m *Manager) Leave(channel string) {
	channel = meow.NormalizeChannel(channel)
	m.mu.Lock()
	delete(m.joined, channel)
	delete(m.pending, channel)
	telemetry.SetJoinQueueDepth(len(m.pending))
	m.mu.Unlock()
	m.bot.Depart(channel)
}

// Joined lists channels the manager has successfully joined.
func (m *Manager) Joined() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.joined))
	for c := range m.joined {
		out = append(out, c)
	}
	return out
}

// Pending lists channels waiting on a join attempt or backoff.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.pending))
	for c := range m.pending {
		out = append(out, c)
	}
	return out
}
