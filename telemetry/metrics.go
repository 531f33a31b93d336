// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MeowsCounted      prometheus.Counter
	MessagesSeen      prometheus.Counter
	Commands          *prometheus.CounterVec
	CommandErrors     prometheus.Counter
	StorageErrors     prometheus.Counter
	CacheServedReads  prometheus.Counter
	JoinAttempts      prometheus.Counter
	JoinFailures      prometheus.Counter
	RepliesSuppressed prometheus.Counter

	// Histograms (seconds)
	RecordDuration prometheus.Observer

	// Gauges
	ChannelsJoinedGauge prometheus.Gauge
	JoinQueueDepthGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MeowsCounted = promauto.NewCounter(prometheus.CounterOpts{Name: "meow_counted_total", Help: "Number of meows detected and recorded"})
		MessagesSeen = promauto.NewCounter(prometheus.CounterOpts{Name: "meow_chat_messages_total", Help: "Number of chat messages processed"})
		Commands = promauto.NewCounterVec(prometheus.CounterOpts{Name: "meow_commands_total", Help: "Number of chat commands handled"}, []string{"command"})
		CommandErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "meow_command_errors_total", Help: "Number of chat commands that failed"})
		StorageErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "meow_storage_errors_total", Help: "Number of failed store operations"})
		CacheServedReads = promauto.NewCounter(prometheus.CounterOpts{Name: "meow_cache_served_reads_total", Help: "Reads answered from the in-memory cache while storage was unavailable"})
		JoinAttempts = promauto.NewCounter(prometheus.CounterOpts{Name: "meow_join_attempts_total", Help: "Number of channel join attempts"})
		JoinFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "meow_join_failures_total", Help: "Number of failed channel join attempts"})
		RepliesSuppressed = promauto.NewCounter(prometheus.CounterOpts{Name: "meow_replies_suppressed_total", Help: "Automatic replies dropped by the per-channel rate limit"})
		RecordDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "meow_record_duration_seconds", Help: "Duration of RecordMeows transactions", Buckets: prometheus.DefBuckets})
		ChannelsJoinedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "meow_channels_joined", Help: "Number of channels the bot is currently joined to"})
		JoinQueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "meow_join_queue_depth", Help: "Channels waiting in the join queue at last drain"})
	})
}

// SetChannelsJoined records the current membership size.
func SetChannelsJoined(n int) {
	if ChannelsJoinedGauge != nil {
		ChannelsJoinedGauge.Set(float64(n))
	}
}

// SetJoinQueueDepth records how many names the last queue drain produced.
func SetJoinQueueDepth(n int) {
	if JoinQueueDepthGauge != nil {
		JoinQueueDepthGauge.Set(float64(n))
	}
}

// CountCommand increments the per-command counter if metrics are initialized.
func CountCommand(name string) {
	if Commands != nil {
		Commands.WithLabelValues(name).Inc()
	}
}

// IncCounter increments c if metrics are initialized.
func IncCounter(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// AddCounter adds n to c if metrics are initialized.
func AddCounter(c prometheus.Counter, n float64) {
	if c != nil {
		c.Add(n)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
