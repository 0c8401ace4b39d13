// Package watch provides an optional fsnotify-based change-notification
// helper. It never decides what changed or how — that's the incremental
// diff protocol in internal/adapter and internal/aggregator — it only
// wakes a long-lived caller so it can trigger a rescan instead of polling.
package watch

import (
	"io"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay coalesces bursts of filesystem events (a JSONL file
// receiving many rapid appends, a SQLite WAL checkpoint) into one signal.
const DebounceDelay = 150 * time.Millisecond

// Watch watches each of roots non-recursively and returns a channel that
// receives a value whenever any of them changes, debounced. The channel
// closes when the returned closer is closed. A root that does not exist
// yet is skipped rather than failing the whole watch, since not every
// adapter's directory need exist on a given machine.
func Watch(roots []string) (<-chan struct{}, io.Closer, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}

	added := 0
	for _, root := range roots {
		if root == "" {
			continue
		}
		if err := watcher.Add(root); err == nil {
			added++
		}
	}
	_ = added // zero watched roots is not an error: the channel then never signals

	signal := make(chan struct{}, 1)

	go func() {
		var (
			mu     sync.Mutex
			timer  *time.Timer
			closed bool
		)

		defer func() {
			mu.Lock()
			closed = true
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			close(signal)
		}()

		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(DebounceDelay, func() {
					mu.Lock()
					defer mu.Unlock()
					if closed {
						return
					}
					select {
					case signal <- struct{}{}:
					default:
					}
				})
				mu.Unlock()

			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return signal, watcher, nil
}
