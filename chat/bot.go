// Package chat connects to Twitch IRC, counts meows in incoming messages, and
// answers the bot's chat commands.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/jonboulle/clockwork"

	"github.com/fireflydesigns/meowbot/meow"
	"github.com/fireflydesigns/meowbot/telemetry"
)

// ackInterval is the minimum gap between count-acknowledgement replies in a
// single channel, so a meow flood does not turn the bot into a spammer.
const ackInterval = 5 * time.Second

// Bot wires the IRC client to the classifier, the store, and the command
// dispatcher.
type Bot struct {
	client     *twitch.Client
	store      *meow.Store
	classifier *meow.Classifier
	dispatcher *Dispatcher
	username   string
	clock      clockwork.Clock
	send       func(channel, text string) // overridable in tests

	mu      sync.Mutex
	lastAck map[string]time.Time // channel -> last ack reply
	joined  map[string]struct{}
}

// NewBot builds a connected-on-Run bot. username and oauth are the bot
// account's login and its "oauth:"-prefixed chat token.
func NewBot(username, oauth string, store *meow.Store, classifier *meow.Classifier, dispatcher *Dispatcher, clock clockwork.Clock) *Bot {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	b := &Bot{
		client:     twitch.NewClient(username, oauth),
		store:      store,
		classifier: classifier,
		dispatcher: dispatcher,
		username:   strings.ToLower(username),
		clock:      clock,
		lastAck:    make(map[string]time.Time),
		joined:     make(map[string]struct{}),
	}
	b.send = b.client.Say
	b.client.OnPrivateMessage(b.onMessage)
	b.client.OnConnect(func() {
		slog.Info("connected to twitch chat", slog.String("component", "chat"))
	})
	return b
}

func (b *Bot) onMessage(msg twitch.PrivateMessage) {
	// Never process our own messages, or the ack loop would feed itself.
	if strings.EqualFold(msg.User.Name, b.username) {
		return
	}
	telemetry.IncCounter(telemetry.MessagesSeen)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	channel := meow.NormalizeChannel(msg.Channel)
	user := strings.ToLower(msg.User.Name)

	// Every line is counted, command or not, so meows hiding inside a
	// command line still land in the aggregates.
	isCmd := b.dispatcher != nil && b.dispatcher.IsCommand(msg.Message)
	if n := b.classifier.Count(msg.Message); n > 0 {
		res, err := b.store.RecordMeows(ctx, channel, user, n)
		if err != nil {
			slog.Error("failed to record meows",
				slog.String("channel", channel),
				slog.String("user", user),
				slog.Int("count", n),
				slog.Any("err", err),
				slog.String("component", "chat"))
		} else if !isCmd {
			// Command lines get the command's reply instead of an ack.
			b.ack(channel, user, n, res)
		}
	}

	if isCmd {
		b.dispatcher.Handle(ctx, channel, user, isBroadcaster(msg), msg.Message, func(text string) {
			b.Say(channel, text)
		})
	}
}

// ack sends the per-increment reply, at most once per ackInterval per channel.
func (b *Bot) ack(channel, user string, n int, res meow.RecordResult) {
	now := b.clock.Now()
	b.mu.Lock()
	if last, ok := b.lastAck[channel]; ok && now.Sub(last) < ackInterval {
		b.mu.Unlock()
		telemetry.IncCounter(telemetry.RepliesSuppressed)
		return
	}
	b.lastAck[channel] = now
	b.mu.Unlock()

	token := b.classifier.Token()
	b.Say(channel, fmt.Sprintf("@%s %sed x%d! You're at %d, the channel is at %d today and %d all time. 🐱",
		user, token, n, res.UserTotal, res.SessionTotal, res.AllTimeTotal))
}

func isBroadcaster(msg twitch.PrivateMessage) bool {
	if msg.User.Badges["broadcaster"] == 1 {
		return true
	}
	return strings.EqualFold(msg.User.Name, strings.TrimPrefix(msg.Channel, "#"))
}

// Say sends a message to a channel.
func (b *Bot) Say(channel, text string) {
	b.send(meow.NormalizeChannel(channel), text)
}

// Join joins a channel. Joining an already-joined channel is a no-op.
func (b *Bot) Join(channel string) error {
	channel = meow.NormalizeChannel(channel)
	b.mu.Lock()
	if _, ok := b.joined[channel]; ok {
		b.mu.Unlock()
		return nil
	}
	b.joined[channel] = struct{}{}
	n := len(b.joined)
	b.mu.Unlock()

	b.client.Join(channel)
	telemetry.SetChannelsJoined(n)
	slog.Info("joined channel", slog.String("channel", channel), slog.String("component", "chat"))
	return nil
}

// Depart leaves a channel.
func (b *Bot) Depart(channel string) {
	channel = meow.NormalizeChannel(channel)
	b.mu.Lock()
	delete(b.joined, channel)
	n := len(b.joined)
	b.mu.Unlock()

	b.client.Depart(channel)
	telemetry.SetChannelsJoined(n)
	slog.Info("departed channel", slog.String("channel", channel), slog.String("component", "chat"))
}

// Joined returns the channels this bot believes it is in, for status reporting.
func (b *Bot) Joined() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.joined))
	for c := range b.joined {
		out = append(out, c)
	}
	return out
}

// Run connects and blocks until the connection drops or ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			b.client.Disconnect()
		case <-done:
		}
	}()
	defer close(done)

	if err := b.client.Connect(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("twitch chat connect: %w", err)
	}
	return ctx.Err()
}
