package meow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/fireflydesigns/meowbot/telemetry"
)

// DefaultLeaderboardSize is the number of rows returned by leaderboard
// queries when the caller does not ask for a specific limit.
const DefaultLeaderboardSize = 5

// ChannelCount is one global leaderboard row.
type ChannelCount struct {
	Channel string `json:"channel"`
	Meows   int64  `json:"meows"`
}

// UserCount is one per-channel leaderboard row.
type UserCount struct {
	User  string `json:"user"`
	Meows int64  `json:"meows"`
}

// RecordResult carries the updated aggregates after an increment, for
// immediate reply formatting.
type RecordResult struct {
	UserTotal    int64
	SessionTotal int64
	AllTimeTotal int64
}

// Store persists meow counts in sqlite. All three aggregates (user, session,
// all-time) move in a single transaction, so the per-channel sum invariant
// holds after every call. A small in-memory cache of last-known-good values
// keeps reads answering while the database is unavailable.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock

	mu       sync.RWMutex
	users    map[string]int64 // channel \x00 user
	sessions map[string]int64 // channel \x00 date
	totals   map[string]int64 // channel
}

// NewStore wraps an open database. Pass clockwork.NewRealClock() outside tests.
func NewStore(database *sql.DB, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		db:       database,
		clock:    clock,
		users:    make(map[string]int64),
		sessions: make(map[string]int64),
		totals:   make(map[string]int64),
	}
}

// NormalizeChannel lowercases a channel name and strips any IRC '#' prefix.
func NormalizeChannel(channel string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#"))
}

// sessionDate returns the current UTC calendar day, the session key.
func (s *Store) sessionDate() string {
	return s.clock.Now().UTC().Format("2006-01-02")
}

func cacheKey(parts ...string) string { return strings.Join(parts, "\x00") }

// unavailable tags err with ErrStorageUnavailable while keeping the cause
// inspectable via errors.Is/As.
func unavailable(op string, err error) error {
	telemetry.IncCounter(telemetry.StorageErrors)
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStorageUnavailable, err))
}

// RecordMeows increments the caller's count, today's session count and the
// channel all-time total by n, atomically. n <= 0 leaves the database
// untouched and returns the current aggregates.
func (s *Store) RecordMeows(ctx context.Context, channel, user string, n int) (RecordResult, error) {
	channel = NormalizeChannel(channel)
	user = strings.ToLower(strings.TrimSpace(user))
	if channel == "" || user == "" {
		return RecordResult{}, fmt.Errorf("record meows: empty channel or user")
	}
	if n <= 0 {
		return s.currentCounts(ctx, channel, user)
	}

	date := s.sessionDate()
	now := s.clock.Now().UTC()
	var res RecordResult

	err := func() error {
		var txErr error
		telemetry.TimeFunc(telemetry.RecordDuration, func() {
			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				txErr = err
				return
			}
			defer func() { _ = tx.Rollback() }()

			if _, err := tx.ExecContext(ctx, `INSERT INTO user_meows (channel, user_id, meow_count, first_meow_at, last_meow_at)
				VALUES ($1,$2,$3,$4,$4)
				ON CONFLICT(channel, user_id) DO UPDATE SET
					meow_count = meow_count + excluded.meow_count,
					last_meow_at = excluded.last_meow_at`, channel, user, n, now); err != nil {
				txErr = err
				return
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO stream_sessions (channel, session_date, meow_count, updated_at)
				VALUES ($1,$2,$3,$4)
				ON CONFLICT(channel, session_date) DO UPDATE SET
					meow_count = meow_count + excluded.meow_count,
					updated_at = excluded.updated_at`, channel, date, n, now); err != nil {
				txErr = err
				return
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO streamer_totals (channel, total_meows, first_meow_at, last_meow_at)
				VALUES ($1,$2,$3,$3)
				ON CONFLICT(channel) DO UPDATE SET
					total_meows = total_meows + excluded.total_meows,
					last_meow_at = excluded.last_meow_at`, channel, n, now); err != nil {
				txErr = err
				return
			}

			if err := tx.QueryRowContext(ctx, `SELECT meow_count FROM user_meows WHERE channel=$1 AND user_id=$2`, channel, user).Scan(&res.UserTotal); err != nil {
				txErr = err
				return
			}
			if err := tx.QueryRowContext(ctx, `SELECT meow_count FROM stream_sessions WHERE channel=$1 AND session_date=$2`, channel, date).Scan(&res.SessionTotal); err != nil {
				txErr = err
				return
			}
			if err := tx.QueryRowContext(ctx, `SELECT total_meows FROM streamer_totals WHERE channel=$1`, channel).Scan(&res.AllTimeTotal); err != nil {
				txErr = err
				return
			}

			txErr = tx.Commit()
		})
		return txErr
	}()
	if err != nil {
		slog.Warn("record meows failed",
			slog.String("channel", channel),
			slog.String("class", ClassifyStorageError(err).String()),
			slog.Any("err", err),
			slog.String("component", "meow_store"))
		return RecordResult{}, unavailable("record meows", err)
	}

	telemetry.AddCounter(telemetry.MeowsCounted, float64(n))
	s.mu.Lock()
	s.users[cacheKey(channel, user)] = res.UserTotal
	s.sessions[cacheKey(channel, date)] = res.SessionTotal
	s.totals[channel] = res.AllTimeTotal
	s.mu.Unlock()
	return res, nil
}

// currentCounts reads the three aggregates without writing (the n<=0 path).
func (s *Store) currentCounts(ctx context.Context, channel, user string) (RecordResult, error) {
	var res RecordResult
	var err error
	if res.UserTotal, err = s.UserMeows(ctx, channel, user); err != nil {
		return RecordResult{}, err
	}
	if res.SessionTotal, err = s.SessionMeows(ctx, channel); err != nil {
		return RecordResult{}, err
	}
	if res.AllTimeTotal, err = s.AllTimeMeows(ctx, channel); err != nil {
		return RecordResult{}, err
	}
	return res, nil
}

// readCount runs a single-value count query, falling back to the given cache
// map when the database cannot answer. A cache hit during an outage is
// returned as a success; only a cold cache surfaces the storage error.
func (s *Store) readCount(ctx context.Context, op, query string, cache map[string]int64, key string, args ...any) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		s.mu.RLock()
		cached, ok := cache[key]
		s.mu.RUnlock()
		if ok {
			telemetry.IncCounter(telemetry.CacheServedReads)
			slog.Warn("storage read failed, serving cached value",
				slog.String("op", op), slog.Any("err", err), slog.String("component", "meow_store"))
			return cached, nil
		}
		return 0, unavailable(op, err)
	}
	s.mu.Lock()
	cache[key] = count
	s.mu.Unlock()
	return count, nil
}

// UserMeows returns the all-time count for a user in a channel (0 if absent).
func (s *Store) UserMeows(ctx context.Context, channel, user string) (int64, error) {
	channel = NormalizeChannel(channel)
	user = strings.ToLower(strings.TrimSpace(user))
	return s.readCount(ctx, "user meows",
		`SELECT meow_count FROM user_meows WHERE channel=$1 AND user_id=$2`,
		s.users, cacheKey(channel, user), channel, user)
}

// SessionMeows returns today's count for a channel (0 if no session row yet).
// Past days remain as history rows and are never overwritten.
func (s *Store) SessionMeows(ctx context.Context, channel string) (int64, error) {
	channel = NormalizeChannel(channel)
	date := s.sessionDate()
	return s.readCount(ctx, "session meows",
		`SELECT meow_count FROM stream_sessions WHERE channel=$1 AND session_date=$2`,
		s.sessions, cacheKey(channel, date), channel, date)
}

// AllTimeMeows returns the channel's all-time total (0 if absent).
func (s *Store) AllTimeMeows(ctx context.Context, channel string) (int64, error) {
	channel = NormalizeChannel(channel)
	return s.readCount(ctx, "all-time meows",
		`SELECT total_meows FROM streamer_totals WHERE channel=$1`,
		s.totals, channel, channel)
}

// SetGlobalOptIn persists the channel's leaderboard opt-in flag. Broadcaster
// gating is the dispatcher's job, not the store's.
func (s *Store) SetGlobalOptIn(ctx context.Context, channel string, optIn bool) error {
	channel = NormalizeChannel(channel)
	v := 0
	if optIn {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO channel_settings (channel, global_opt_in, updated_at)
		VALUES ($1,$2,$3)
		ON CONFLICT(channel) DO UPDATE SET
			global_opt_in = excluded.global_opt_in,
			updated_at = excluded.updated_at`, channel, v, s.clock.Now().UTC())
	if err != nil {
		return unavailable("set global opt-in", err)
	}
	return nil
}

// GlobalOptIn reports whether the channel has opted into the global
// leaderboard. Absence of a settings row means not opted in.
func (s *Store) GlobalOptIn(ctx context.Context, channel string) (bool, error) {
	channel = NormalizeChannel(channel)
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT global_opt_in FROM channel_settings WHERE channel=$1`, channel).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, unavailable("global opt-in", err)
	}
	return v == 1, nil
}

// TopGlobal returns the top channels by all-time total among opted-in
// channels, ordered by count descending with channel name as the
// deterministic tie-break.
func (s *Store) TopGlobal(ctx context.Context, limit int) ([]ChannelCount, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardSize
	}
	rows, err := s.db.QueryContext(ctx, `SELECT st.channel, st.total_meows
		FROM streamer_totals st
		JOIN channel_settings cs ON cs.channel = st.channel
		WHERE cs.global_opt_in = 1
		ORDER BY st.total_meows DESC, st.channel ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, unavailable("top global", err)
	}
	defer rows.Close()
	var out []ChannelCount
	for rows.Next() {
		var cc ChannelCount
		if err := rows.Scan(&cc.Channel, &cc.Meows); err != nil {
			return nil, unavailable("top global scan", err)
		}
		out = append(out, cc)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("top global rows", err)
	}
	return out, nil
}

// TopUsers returns the channel's top meowers of all time.
func (s *Store) TopUsers(ctx context.Context, channel string, limit int) ([]UserCount, error) {
	channel = NormalizeChannel(channel)
	if limit <= 0 {
		limit = DefaultLeaderboardSize
	}
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, meow_count
		FROM user_meows
		WHERE channel=$1
		ORDER BY meow_count DESC, user_id ASC
		LIMIT $2`, channel, limit)
	if err != nil {
		return nil, unavailable("top users", err)
	}
	defer rows.Close()
	var out []UserCount
	for rows.Next() {
		var uc UserCount
		if err := rows.Scan(&uc.User, &uc.Meows); err != nil {
			return nil, unavailable("top users scan", err)
		}
		out = append(out, uc)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("top users rows", err)
	}
	return out, nil
}

// ApproveChannel marks a channel as approved for joining so the bot rejoins
// it after a restart.
func (s *Store) ApproveChannel(ctx context.Context, channel string) error {
	channel = NormalizeChannel(channel)
	_, err := s.db.ExecContext(ctx, `INSERT INTO channel_settings (channel, join_approved, updated_at)
		VALUES ($1,1,$2)
		ON CONFLICT(channel) DO UPDATE SET
			join_approved = 1,
			updated_at = excluded.updated_at`, channel, s.clock.Now().UTC())
	if err != nil {
		return unavailable("approve channel", err)
	}
	return nil
}

// ApprovedChannels lists channels previously approved for joining.
func (s *Store) ApprovedChannels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel FROM channel_settings WHERE join_approved = 1 ORDER BY channel`)
	if err != nil {
		return nil, unavailable("approved channels", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, unavailable("approved channels scan", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("approved channels rows", err)
	}
	return out, nil
}
