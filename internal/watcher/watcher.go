// Package watcher converts images as they appear in a folder.
package watcher

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"webp-shrink/internal/config"
	"webp-shrink/internal/converter"
	"webp-shrink/internal/logger"
	"webp-shrink/internal/saver"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is how long a file must stay quiet before it is converted.
const DefaultDebounce = 500 * time.Millisecond

// Result is the conversion and save of one dropped file.
type Result struct {
	Outcome converter.Outcome
	Save    saver.SaveAllResult
	SaveErr error
}

// Watcher monitors a folder and converts new or changed images.
type Watcher struct {
	cfg       *config.Config
	log       *logrus.Logger
	converter *converter.Converter
	saver     *saver.Saver
	outputDir string
	debounce  time.Duration

	watcher *fsnotify.Watcher
	ready   chan string
	results chan Result

	mu         sync.Mutex
	pending    map[string]*time.Timer
	started    bool
	stopped    bool
	wg         sync.WaitGroup
	done       chan struct{}
	workerDone chan struct{}
}

// NewWatcher creates a watcher that saves converted files into outputDir.
func NewWatcher(
	cfg *config.Config,
	log *logrus.Logger,
	conv *converter.Converter,
	sv *saver.Saver,
	outputDir string,
) (*Watcher, error) {
	if outputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		cfg:        cfg,
		log:        log,
		converter:  conv,
		saver:      sv,
		outputDir:  filepath.Clean(outputDir),
		debounce:   DefaultDebounce,
		watcher:    fsWatcher,
		ready:      make(chan string, 100),
		results:    make(chan Result, 100),
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
		workerDone: make(chan struct{}),
	}, nil
}

// SetDebounce changes the quiet period. It must be called before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start begins monitoring dir.
func (w *Watcher) Start(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch folder %s: %w", dir, err)
	}
	w.log.WithFields(logrus.Fields{
		"directory": dir,
		"output":    w.outputDir,
	}).Info("Watching folder")

	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.processEvents()
	go w.processReady()
	return nil
}

// Results returns converted files as they finish. Results are dropped when
// nobody reads them.
func (w *Watcher) Results() <-chan Result {
	return w.results
}

// Stop stops watching and waits for queued and in-flight conversions.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	for path, timer := range w.pending {
		if timer.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()

	err := w.watcher.Close()
	if started {
		<-w.done
	}
	w.wg.Wait()
	close(w.ready)
	if started {
		<-w.workerDone
	}
	close(w.results)
	return err
}

func (w *Watcher) processEvents() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.shouldHandle(event) {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Errorf("Watcher error: %v", err)
		}
	}
}

// processReady converts queued files one at a time.
func (w *Watcher) processReady() {
	defer close(w.workerDone)

	for path := range w.ready {
		w.handleFile(path)
	}
}

// schedule queues path for conversion once it has been quiet for the
// debounce period.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if timer, exists := w.pending[path]; exists {
		if timer.Stop() {
			w.wg.Done()
		}
	}

	w.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == timer {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		w.ready <- path
	})
	w.pending[path] = timer
}

// shouldHandle reports whether event refers to a new or rewritten source
// image outside the output directory.
func (w *Watcher) shouldHandle(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}

	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if filepath.Dir(filepath.Clean(event.Name)) == w.outputDir {
		return false
	}
	return w.cfg.IsSupportedExtension(filepath.Ext(base))
}

func (w *Watcher) handleFile(path string) {
	log := logger.WithFileOperation(w.log, path, "watch")

	state := converter.NewBatchState([]string{path}, w.converter.DefaultParams())
	state = w.converter.Convert(state)
	outcome := state.Outcomes[0]

	res := Result{Outcome: outcome}
	if outcome.Success() {
		res.Save, res.SaveErr = w.saver.SaveAll(state, w.outputDir, nil)
		if res.SaveErr != nil {
			log.Errorf("Failed to save converted file: %v", res.SaveErr)
		}
	} else {
		log.Warnf("Conversion failed: %s", outcome.Message())
	}

	select {
	case w.results <- res:
	default:
		log.Debug("Result dropped, no reader")
	}
}
