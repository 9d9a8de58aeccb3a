package remedy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// patternFile is the on-disk operator pattern format.
type patternFile struct {
	Patterns []*Pattern `yaml:"patterns" validate:"required,dive,required"`
}

// Loader combines the builtin patterns with an operator pattern file and
// keeps the registry current when the file changes. Operator patterns are
// registered after the builtins and may override any builtin by ID.
type Loader struct {
	path     string
	registry *Registry
	validate *validator.Validate
	logger   zerolog.Logger

	watcher *fsnotify.Watcher
}

// NewLoader creates a loader for the given pattern file path. An empty path
// means builtins only.
func NewLoader(path string, registry *Registry, logger zerolog.Logger) *Loader {
	return &Loader{
		path:     path,
		registry: registry,
		validate: validator.New(),
		logger:   logger.With().Str("component", "pattern-loader").Logger(),
	}
}

// Load replaces the registry contents with builtins plus the operator file.
// A missing file is not an error; a malformed one is, and leaves the
// registry untouched.
func (l *Loader) Load() error {
	patterns := BuiltinPatterns()

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("failed to read pattern file: %w", err)
			}
		} else {
			var file patternFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("failed to parse pattern file %s: %w", l.path, err)
			}
			if err := l.validate.Struct(&file); err != nil {
				return fmt.Errorf("invalid pattern file %s: %w", l.path, err)
			}
			patterns = append(patterns, file.Patterns...)
		}
	}

	if err := l.registry.Replace(patterns); err != nil {
		return fmt.Errorf("failed to load patterns: %w", err)
	}

	l.logger.Debug().Int("count", l.registry.Len()).Msg("patterns loaded")
	return nil
}

// Watch reloads the pattern file when it changes, with a short debounce to
// coalesce editor write bursts. A reload that fails validation is logged
// and the previous pattern set stays active.
func (l *Loader) Watch(ctx context.Context) error {
	if l.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: editors typically replace the file by rename,
	// which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(l.path), err)
	}
	l.watcher = watcher

	go l.processEvents(ctx)

	l.logger.Debug().Str("path", l.path).Msg("watching pattern file")
	return nil
}

func (l *Loader) processEvents(ctx context.Context) {
	var reloadTimer *time.Timer
	const reloadDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = l.watcher.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(l.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := l.Load(); err != nil {
					l.logger.Error().Err(err).Msg("pattern reload failed, keeping previous set")
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn().Err(err).Msg("pattern watcher error")
		}
	}
}
