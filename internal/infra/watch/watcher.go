// Package watch reports debounced changes to template source files.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"idxtmpl/internal/infra/telemetry"
)

const DefaultDebounce = 500 * time.Millisecond

type Options struct {
	Dirs     []string
	Debounce time.Duration
	Logger   *zap.Logger
}

type Watcher struct {
	dirs     []string
	debounce time.Duration
	logger   *zap.Logger
}

func New(opts Options) *Watcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		dirs:     append([]string(nil), opts.Dirs...),
		debounce: debounce,
		logger:   logger.Named("watch"),
	}
}

// Watch registers the directories and returns a channel that receives the sorted set
// of changed .json files once events have been quiet for the debounce interval. The
// channel is closed when ctx is done.
func (w *Watcher) Watch(ctx context.Context) (<-chan []string, error) {
	if len(w.dirs) == 0 {
		return nil, fmt.Errorf("no directories to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	for _, dir := range w.dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	out := make(chan []string, 1)
	go w.run(ctx, watcher, out)
	return out, nil
}

func (w *Watcher) run(ctx context.Context, watcher *fsnotify.Watcher, out chan<- []string) {
	defer close(out)
	defer watcher.Close()

	pending := make(map[string]struct{})
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("template watcher error", zap.Error(err))
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isSourceEvent(event) {
				continue
			}
			pending[event.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
		case <-timerChan(timer):
			timer = nil
			changed := drain(pending)
			w.logger.Info("template sources changed",
				telemetry.EventField(telemetry.EventSourceChanged),
				zap.Strings("files", changed),
			)
			select {
			case out <- changed:
			case <-ctx.Done():
				return
			}
		}
	}
}

func isSourceEvent(event fsnotify.Event) bool {
	if event.Name == "" || event.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".json")
}

func drain(pending map[string]struct{}) []string {
	out := make([]string, 0, len(pending))
	for name := range pending {
		out = append(out, name)
		delete(pending, name)
	}
	sort.Strings(out)
	return out
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
