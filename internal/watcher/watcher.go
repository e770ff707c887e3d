package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ImportFunc receives the contents of <pageID>.json after it settles.
type ImportFunc func(ctx context.Context, pageID string, data []byte) error

// Watcher imports page documents edited on disk. Each file in the watched
// directory named <pageID>.json is imported once writes to it have been
// quiet for the debounce window.
type Watcher struct {
	fs       *fsnotify.Watcher
	dir      string
	debounce time.Duration
	onImport ImportFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	timers map[string]*time.Timer // pageID -> pending import
	wg     sync.WaitGroup
	done   chan struct{}
}

// New starts watching dir.
func New(dir string, debounce time.Duration, onImport ImportFunc) (*Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(abs); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", abs, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		fs:       fsw,
		dir:      abs,
		debounce: debounce,
		onImport: onImport,
		ctx:      ctx,
		cancel:   cancel,
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	go w.watchLoop()
	return w, nil
}

// Sync imports every page file already in the directory.
func (w *Watcher) Sync(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		pageID, ok := pageIDFor(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		if err := w.importFile(ctx, pageID); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the watcher and drops pending imports.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.fs.Close()
	<-w.done

	w.mu.Lock()
	for id, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, id)
	}
	w.mu.Unlock()
	w.wg.Wait()
	return err
}

func (w *Watcher) watchLoop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if pageID, ok := pageIDFor(filepath.Base(event.Name)); ok {
				w.schedule(pageID)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Printf("[WATCH] watcher error: %v", err)
		}
	}
}

// schedule (re)arms the debounce timer for pageID.
func (w *Watcher) schedule(pageID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx.Err() != nil {
		return
	}
	if t, ok := w.timers[pageID]; ok && t.Stop() {
		t.Reset(w.debounce)
		return
	}
	w.wg.Add(1)
	w.timers[pageID] = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		delete(w.timers, pageID)
		w.mu.Unlock()
		if err := w.importFile(w.ctx, pageID); err != nil {
			log.Printf("[WATCH] %v", err)
		}
	})
}

func (w *Watcher) importFile(ctx context.Context, pageID string) error {
	path := filepath.Join(w.dir, pageID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		// Editors truncate before writing; wait for the content.
		return nil
	}
	if err := w.onImport(ctx, pageID, data); err != nil {
		return fmt.Errorf("import %s: %w", pageID, err)
	}
	log.Printf("[WATCH] imported %s", pageID)
	return nil
}

func pageIDFor(name string) (string, bool) {
	id, ok := strings.CutSuffix(name, ".json")
	if !ok || id == "" || strings.HasPrefix(id, ".") {
		return "", false
	}
	return id, true
}
