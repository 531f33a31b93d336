package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fireflydesigns/meowbot/config"
	"github.com/fireflydesigns/meowbot/meow"
	"github.com/fireflydesigns/meowbot/telemetry"
)

// Dispatcher routes prefixed chat commands to handlers. It is independent of
// the IRC client so handlers can be tested with a plain reply func.
type Dispatcher struct {
	store  *meow.Store
	prefix byte
	token  string

	websiteURL string
	discordID  string
	requestURL string
}

// NewDispatcher builds a dispatcher from config. requestURL is where streamers
// authorize the bot; empty disables the pointer in !requestbot.
func NewDispatcher(store *meow.Store, cfg *config.Config, requestURL string) *Dispatcher {
	return &Dispatcher{
		store:      store,
		prefix:     cfg.CommandPrefix,
		token:      cfg.MeowToken,
		websiteURL: cfg.WebsiteURL,
		discordID:  cfg.DiscordID,
		requestURL: requestURL,
	}
}

// IsCommand reports whether the message line starts with the command prefix.
func (d *Dispatcher) IsCommand(line string) bool {
	return len(line) > 1 && line[0] == d.prefix
}

// Handle parses and executes one command line. Keywords match
// case-sensitively; unknown commands are ignored silently so the bot coexists
// with other bots sharing the prefix. The reply func sends a message back to
// the originating channel.
func (d *Dispatcher) Handle(ctx context.Context, channel, user string, isBroadcaster bool, line string, reply func(string)) {
	if !d.IsCommand(line) {
		return
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return
	}
	cmd := fields[0]
	args := fields[1:]
	channel = meow.NormalizeChannel(channel)
	user = strings.ToLower(user)

	var err error
	switch cmd {
	case "meow":
		err = d.cmdMeow(ctx, channel, user, args, reply)
	case "meowstream":
		err = d.cmdMeowStream(ctx, channel, reply)
	case "meowtotal":
		err = d.cmdMeowTotal(ctx, channel, reply)
	case "top":
		err = d.cmdTop(ctx, channel, reply)
	case "global":
		err = d.cmdGlobal(ctx, channel, reply)
	case "optinglobal":
		err = d.cmdOptGlobal(ctx, channel, user, isBroadcaster, true, reply)
	case "optoutglobal":
		err = d.cmdOptGlobal(ctx, channel, user, isBroadcaster, false, reply)
	case "requestbot":
		err = d.cmdRequestBot(ctx, channel, isBroadcaster, reply)
	case "botinfo":
		d.cmdBotInfo(reply)
	case "meowhelp":
		d.cmdHelp(reply)
	default:
		return
	}

	telemetry.CountCommand(cmd)
	if err != nil {
		telemetry.IncCounter(telemetry.CommandErrors)
		slog.Error("command failed",
			slog.String("command", cmd),
			slog.String("channel", channel),
			slog.String("user", user),
			slog.Any("err", err),
			slog.String("component", "chat"))
		if meow.IsStorageUnavailable(err) {
			reply("The meow counter is napping right now, try again in a bit. 🐱")
		}
	}
}

// cmdMeow reports a user's count in this channel; with an argument it looks up
// another user instead.
func (d *Dispatcher) cmdMeow(ctx context.Context, channel, user string, args []string, reply func(string)) error {
	target := user
	if len(args) > 0 {
		target = strings.ToLower(strings.TrimPrefix(args[0], "@"))
	}
	n, err := d.store.UserMeows(ctx, channel, target)
	if err != nil {
		return err
	}
	if target == user {
		reply(fmt.Sprintf("@%s you have %sed %s in this channel! 🐱", user, d.token, times(n)))
	} else {
		reply(fmt.Sprintf("@%s has %sed %s in this channel! 🐱", target, d.token, times(n)))
	}
	return nil
}

func (d *Dispatcher) cmdMeowStream(ctx context.Context, channel string, reply func(string)) error {
	n, err := d.store.SessionMeows(ctx, channel)
	if err != nil {
		return err
	}
	reply(fmt.Sprintf("Chat has %sed %s so far today! 🐱", d.token, times(n)))
	return nil
}

func (d *Dispatcher) cmdMeowTotal(ctx context.Context, channel string, reply func(string)) error {
	n, err := d.store.AllTimeMeows(ctx, channel)
	if err != nil {
		return err
	}
	reply(fmt.Sprintf("This channel has %sed %s all time! 🐱", d.token, times(n)))
	return nil
}

func (d *Dispatcher) cmdTop(ctx context.Context, channel string, reply func(string)) error {
	rows, err := d.store.TopUsers(ctx, channel, meow.DefaultLeaderboardSize)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		reply(fmt.Sprintf("Nobody has %sed here yet. Be the first! 🐱", d.token))
		return nil
	}
	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = fmt.Sprintf("%d. %s (%d)", i+1, r.User, r.Meows)
	}
	reply("🏆 Top " + d.token + "ers here: " + strings.Join(parts, " | "))
	return nil
}

// cmdGlobal shows the cross-channel leaderboard. Viewing is itself gated on
// the channel's opt-in, so channels that stay private never surface it.
func (d *Dispatcher) cmdGlobal(ctx context.Context, channel string, reply func(string)) error {
	optedIn, err := d.store.GlobalOptIn(ctx, channel)
	if err != nil {
		return err
	}
	if !optedIn {
		reply(fmt.Sprintf("The global leaderboard is opt-in only! The broadcaster can join with %coptinglobal 🐱", d.prefix))
		return nil
	}
	rows, err := d.store.TopGlobal(ctx, meow.DefaultLeaderboardSize)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		reply(fmt.Sprintf("No channels are on the global leaderboard yet. Streamers can join with %coptinglobal 🐱", d.prefix))
		return nil
	}
	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = fmt.Sprintf("%d. %s (%d)", i+1, r.Channel, r.Meows)
	}
	reply("🏆 Global " + d.token + " leaderboard: " + strings.Join(parts, " | "))
	return nil
}

func (d *Dispatcher) cmdOptGlobal(ctx context.Context, channel, user string, isBroadcaster, optIn bool, reply func(string)) error {
	if !isBroadcaster {
		reply(fmt.Sprintf("@%s only the broadcaster can change the global leaderboard setting.", user))
		return nil
	}
	if err := d.store.SetGlobalOptIn(ctx, channel, optIn); err != nil {
		return err
	}
	if optIn {
		reply("This channel now appears on the global leaderboard! 🐱")
	} else {
		reply("This channel has been removed from the global leaderboard.")
	}
	return nil
}

// cmdRequestBot points viewers to the OAuth setup. A broadcaster asking in
// their own channel is approved on the spot so the bot rejoins on restart.
func (d *Dispatcher) cmdRequestBot(ctx context.Context, channel string, isBroadcaster bool, reply func(string)) error {
	if isBroadcaster {
		if err := d.store.ApproveChannel(ctx, channel); err != nil {
			return err
		}
		reply(fmt.Sprintf("✅ This channel is approved, %s counting is active! 🐱", d.token))
		return nil
	}
	msg := "Want the bot in your channel? 🐱"
	if d.requestURL != "" {
		msg += " Authorize it at " + d.requestURL
	} else {
		msg += " Reach out on Discord: " + d.discordID
	}
	reply(msg)
	return nil
}

func (d *Dispatcher) cmdBotInfo(reply func(string)) {
	reply(fmt.Sprintf("I count %ss! Made by Firefly Designs (%s). Questions? Discord: %s 🐱",
		d.token, d.websiteURL, d.discordID))
}

func (d *Dispatcher) cmdHelp(reply func(string)) {
	p := string(d.prefix)
	reply(fmt.Sprintf("Commands: %[1]smeow [user], %[1]smeowstream, %[1]smeowtotal, %[1]stop, %[1]sglobal, %[1]soptinglobal, %[1]soptoutglobal, %[1]srequestbot, %[1]sbotinfo", p))
}

// times renders "1 time" / "n times".
func times(n int64) string {
	if n == 1 {
		return "1 time"
	}
	return fmt.Sprintf("%d times", n)
}
