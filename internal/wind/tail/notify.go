package tail

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// dirNotifier turns fsnotify events for matching files in one directory into
// coalesced wake-ups on C. It only triggers ticks; all reading still goes
// through Engine.Tick.
type dirNotifier struct {
	watcher *fsnotify.Watcher
	C       chan struct{}
	done    chan struct{}
}

func newDirNotifier(dir, pattern string, logger *slog.Logger) (*dirNotifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	n := &dirNotifier{
		watcher: w,
		C:       make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go n.loop(pattern, logger)
	return n, nil
}

func (n *dirNotifier) loop(pattern string, logger *slog.Logger) {
	defer close(n.done)
	for {
		select {
		case ev, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if matched, _ := filepath.Match(pattern, filepath.Base(ev.Name)); !matched {
				continue
			}
			select {
			case n.C <- struct{}{}:
			default:
				// A wake-up is already pending.
			}
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("file notifier error", "error", err)
		}
	}
}

// Close stops the watcher and waits for the event loop to exit.
func (n *dirNotifier) Close() error {
	err := n.watcher.Close()
	<-n.done
	return err
}
