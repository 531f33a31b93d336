// Command meowbot is the main entrypoint for the meow-counting chat bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the embedded sqlite database and runs idempotent migrations.
//   - Connects to Twitch chat, counts meows, and answers commands.
//   - Runs the membership manager that drains the join-queue file.
//   - Exposes an HTTP server with /healthz, /status, /metrics, the global
//     leaderboard, and the OAuth relay streamers use to invite the bot.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/fireflydesigns/meowbot/chat"
	"github.com/fireflydesigns/meowbot/config"
	"github.com/fireflydesigns/meowbot/db"
	"github.com/fireflydesigns/meowbot/joinqueue"
	"github.com/fireflydesigns/meowbot/meow"
	"github.com/fireflydesigns/meowbot/membership"
	"github.com/fireflydesigns/meowbot/oauth"
	"github.com/fireflydesigns/meowbot/server"
	"github.com/fireflydesigns/meowbot/telemetry"
	"github.com/fireflydesigns/meowbot/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("meowbot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Run database migrations using dual-system approach:
	// 1. Primary: versioned migrations (golang-migrate) from db/migrations/
	// 2. Fallback: embedded SQL (db.Migrate) for backward compatibility
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to legacy embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("legacy embedded SQL migration completed successfully",
			slog.String("component", "db_migrate"))
	} else {
		slog.Info("versioned migrations completed successfully",
			slog.String("component", "db_migrate"))
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	store := meow.NewStore(database, clock)
	classifier := meow.NewClassifier(cfg.MeowToken)
	queue := joinqueue.New(cfg.JoinQueuePath)

	// Helix client for channel validation and relay user lookup; only useful
	// when app credentials are configured.
	var helix *twitchapi.HelixClient
	var validator membership.Validator
	if err := cfg.ValidateRelayReady(); err == nil {
		helix = &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID:       cfg.TwitchClientID,
		}
		validator = helix.ChannelExists
	} else {
		slog.Info("helix validation disabled (missing app credentials)")
	}

	// Chat bot
	var bot *chat.Bot
	var manager *membership.Manager
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Warn("chat disabled", slog.Any("err", err))
	} else {
		dispatcher := chat.NewDispatcher(store, cfg, cfg.TwitchRedirectURI)
		bot = chat.NewBot(cfg.TwitchBotUsername, cfg.TwitchOAuthToken, store, classifier, dispatcher, clock)
		manager = membership.NewManager(bot, store, queue, validator, clock, cfg.JoinPollInterval)
		if err := manager.Bootstrap(ctx, cfg.TwitchChannels); err != nil {
			slog.Error("membership bootstrap failed", slog.Any("err", err))
		}
		go manager.Run(ctx)
		go func() {
			if err := bot.Run(ctx); err != nil {
				slog.Error("chat connection ended", slog.Any("err", err))
			}
		}()
	}

	// OAuth relay and token refresher need the app client credentials.
	var oauthClient *twitchapi.OAuthClient
	if err := cfg.ValidateRelayReady(); err == nil {
		oauthClient = twitchapi.NewOAuthClient(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURI, cfg.TwitchScopes)
		oauth.StartRefresher(ctx, database, "twitch", 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
			tok, err := oauthClient.RefreshToken(rctx, refreshToken)
			if err != nil {
				return "", "", time.Time{}, "", err
			}
			return tok.AccessToken, tok.RefreshToken, twitchapi.ComputeExpiry(tok), twitchapi.TokenScope(tok), nil
		})
	} else {
		slog.Info("oauth relay disabled", slog.Any("err", err))
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/metrics/leaderboard/relay)
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handlers := server.NewHandlers(ctx, database, cfg, store, queue, manager, oauthClient, helix)
	go func() {
		if err := server.Start(ctx, handlers, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
