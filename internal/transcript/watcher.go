package transcript

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes local transcript roots and reports changed .jsonl files so
// a daemon can trigger incremental reconstruction without polling. Events are
// debounced: agent CLIs append many lines in quick bursts and one
// reconstruction pass per burst is enough.
type Watcher struct {
	roots    []string
	debounce time.Duration
	onChange func(path string)
}

const defaultDebounce = 2 * time.Second

func NewWatcher(roots []string, onChange func(path string)) *Watcher {
	return &Watcher{
		roots:    roots,
		debounce: defaultDebounce,
		onChange: onChange,
	}
}

// Run blocks until the context is cancelled. Watch registration failures on
// individual directories are logged and skipped; a root that disappears later
// simply stops producing events.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	for _, root := range w.roots {
		w.addRecursive(fsw, root)
	}

	pending := make(map[string]bool)
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	flush := func() {
		for path := range pending {
			delete(pending, path)
			if w.onChange != nil {
				w.onChange(path)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-fire:
			flush()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addRecursive(fsw, event.Name)
					continue
				}
			}
			if !strings.HasSuffix(strings.ToLower(event.Name), ".jsonl") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending[event.Name] = true
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("transcript watcher error: %v", err)
		}
	}
}

func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, root string) {
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if addErr := fsw.Add(path); addErr != nil {
				log.Printf("transcript watcher: cannot watch %s: %v", path, addErr)
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("transcript watcher: walking %s: %v", root, err)
	}
}
