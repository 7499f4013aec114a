package triggerfile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Handler receives the freshly parsed content of a changed file.
type Handler func(ctx context.Context, f File)

// Watcher reloads definition files when they are created or written.
// Removing a file leaves its triggers in place.
type Watcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	handler  Handler
	debounce time.Duration

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher on dir. debounce <= 0 uses 200ms; editors
// often write a file in several steps.
func NewWatcher(dir string, debounce time.Duration, handler Handler) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		dir:      dir,
		watcher:  fw,
		handler:  handler,
		debounce: debounce,
		done:     make(chan struct{}),
	}, nil
}

// Start runs the event loop until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
}

// Stop closes the underlying watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	pending := map[string]struct{}{}
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !IsDefinitionFile(ev.Name) || !(ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) {
				continue
			}
			pending[ev.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("trigger watcher error", "dir", w.dir, "error", err)
		case <-timerC:
			timerC = nil
			for path := range pending {
				defs, err := ParseFile(path)
				if err != nil {
					slog.Warn("trigger file rejected", "path", path, "error", err)
				}
				w.handler(ctx, File{Path: path, Triggers: defs, Err: err})
			}
			clear(pending)
		}
	}
}
