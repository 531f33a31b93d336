// Package joinqueue implements the newline-delimited file queue shared
// between the OAuth relay and the bot: the relay appends authorized channel
// names, the membership manager drains them. Delivery is at-least-once; the
// consumer deduplicates.
package joinqueue

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Queue is an append-only file of channel names, one per line.
type Queue struct {
	path string
	mu   sync.Mutex
}

// New returns a queue backed by the file at path. The file is created lazily
// on first append.
func New(path string) *Queue {
	return &Queue{path: path}
}

// Path returns the backing file path.
func (q *Queue) Path() string { return q.path }

func normalize(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#"))
}

// Append adds a channel name unless it is already queued. Writes use O_APPEND
// so a concurrent producer cannot interleave partial lines.
func (q *Queue) Append(name string) error {
	name = normalize(name)
	if name == "" {
		return errors.New("joinqueue: empty channel name")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	existing, err := q.readLines()
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e == name {
			return nil
		}
	}

	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(name + "\n"); err != nil {
		return err
	}
	return f.Sync()
}

// Drain returns all queued names (deduplicated, in first-seen order) and
// truncates the file. A missing file is an empty queue, not an error.
func (q *Queue) Drain() ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	lines, err := q.readLines()
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}

	if err := os.Truncate(q.path, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// readLines reads and normalizes the queue file; callers hold q.mu.
func (q *Queue) readLines() ([]string, error) {
	f, err := os.Open(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if l := normalize(sc.Text()); l != "" {
			lines = append(lines, l)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// Watch emits a signal whenever the queue file changes, letting the consumer
// drain immediately instead of waiting out its poll interval. The watcher is
// best-effort: if fsnotify cannot watch the directory the channel stays
// silent and polling remains the only trigger. The watch stops when ctx ends.
func (q *Queue) Watch(ctx context.Context) <-chan struct{} {
	events := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("join queue watcher unavailable, relying on polling", slog.Any("err", err), slog.String("component", "joinqueue"))
		return events
	}
	// Watch the directory: the file itself may not exist yet, and truncation
	// by Drain would otherwise drop the watch on some platforms.
	dir := filepath.Dir(q.path)
	if err := watcher.Add(dir); err != nil {
		slog.Warn("join queue watcher add failed, relying on polling", slog.String("dir", dir), slog.Any("err", err), slog.String("component", "joinqueue"))
		_ = watcher.Close()
		return events
	}

	go func() {
		defer watcher.Close()
		base := filepath.Base(q.path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				select {
				case events <- struct{}{}:
				default:
					// a drain is already pending
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Debug("join queue watcher error", slog.Any("err", err), slog.String("component", "joinqueue"))
			}
		}
	}()
	return events
}
