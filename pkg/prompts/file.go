package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// FileSource reads the system prompt from a file and reloads it when the
// file changes. Turns already in progress keep the prompt they started with.
type FileSource struct {
	path     string
	debounce time.Duration

	mu     sync.RWMutex
	prompt string

	watcher  *fsnotify.Watcher
	done     chan struct{}
	timer    *time.Timer
	timerMu  sync.Mutex
	stopOnce sync.Once
	onReload func(string)
}

// FileSourceConfig holds configuration for a FileSource
type FileSourceConfig struct {
	Path     string
	Debounce time.Duration
	// OnReload is called after each successful reload
	OnReload func(prompt string)
}

// NewFileSource loads the prompt file. Call Watch to follow changes.
func NewFileSource(config FileSourceConfig) (*FileSource, error) {
	if config.Debounce == 0 {
		config.Debounce = 100 * time.Millisecond
	}

	fs := &FileSource{
		path:     config.Path,
		debounce: config.Debounce,
		done:     make(chan struct{}),
		onReload: config.OnReload,
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

// SystemPrompt returns the most recently loaded prompt
func (f *FileSource) SystemPrompt() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.prompt
}

func (f *FileSource) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read prompt file: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return fmt.Errorf("prompt file %s is empty", f.path)
	}

	f.mu.Lock()
	f.prompt = prompt
	f.mu.Unlock()
	return nil
}

// Watch starts following the prompt file for changes.
// The parent directory is watched so editors that replace the file are seen.
func (f *FileSource) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch prompt directory: %w", err)
	}
	f.watcher = watcher

	go f.eventLoop()

	log.Info().Str("path", f.path).Msg("Prompt watcher started")
	return nil
}

// Close stops watching
func (f *FileSource) Close() error {
	var err error
	f.stopOnce.Do(func() {
		close(f.done)

		f.timerMu.Lock()
		if f.timer != nil {
			f.timer.Stop()
		}
		f.timerMu.Unlock()

		if f.watcher != nil {
			err = f.watcher.Close()
		}
	})
	return err
}

func (f *FileSource) eventLoop() {
	target := filepath.Clean(f.path)
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			f.scheduleReload()

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Prompt watcher error")

		case <-f.done:
			return
		}
	}
}

// scheduleReload debounces bursts of writes into one reload
func (f *FileSource) scheduleReload() {
	f.timerMu.Lock()
	defer f.timerMu.Unlock()

	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.debounce, func() {
		select {
		case <-f.done:
			return
		default:
		}

		if err := f.load(); err != nil {
			log.Warn().Err(err).Str("path", f.path).Msg("Prompt reload failed, keeping previous prompt")
			return
		}
		log.Info().Str("path", f.path).Msg("System prompt reloaded")
		if f.onReload != nil {
			f.onReload(f.SystemPrompt())
		}
	})
}
