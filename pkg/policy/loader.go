package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDelay debounces bursts of file events.
const reloadDelay = 500 * time.Millisecond

// Loader reads policies from .rego and .json files.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadFromPaths loads policies from a list of file or directory paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}

		if !info.IsDir() {
			p, err := l.loadFile(path)
			if err != nil {
				return nil, err
			}
			all = append(all, *p)
			continue
		}

		err = filepath.WalkDir(path, func(file string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isPolicyFile(file) {
				return nil
			}
			p, err := l.loadFile(file)
			if err != nil {
				return err
			}
			all = append(all, *p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", path, err)
		}
	}

	l.logger.Debug().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return all, nil
}

func isPolicyFile(path string) bool {
	return strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, ".json")
}

// loadFile loads one policy file.
func (l *Loader) loadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var policy Policy
	switch {
	case strings.HasSuffix(path, ".rego"):
		policy = Policy{
			Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
			Description: leadingComment(string(data)),
			Rego:        string(data),
			Enabled:     true,
		}
	case strings.HasSuffix(path, ".json"):
		policy.Enabled = true
		if err := json.Unmarshal(data, &policy); err != nil {
			return nil, fmt.Errorf("failed to parse JSON policy %s: %w", path, err)
		}
		if policy.Name == "" {
			policy.Name = strings.TrimSuffix(filepath.Base(path), ".json")
		}
	default:
		return nil, fmt.Errorf("unsupported policy file: %s", path)
	}

	policy.LoadedAt = time.Now()
	policy.Metadata = map[string]interface{}{"source": path}

	l.logger.Debug().Str("path", path).Str("policy", policy.Name).Msg("Policy loaded from file")
	return &policy, nil
}

// leadingComment joins the comment lines at the top of a Rego module.
func leadingComment(content string) string {
	var parts []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" && len(parts) > 0 {
				break
			}
			continue
		}
		if c := strings.TrimSpace(strings.TrimPrefix(trimmed, "#")); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " ")
}

// Watch reloads policies from paths whenever a policy file changes, until ctx
// is done.
func (l *Loader) Watch(ctx context.Context, paths []string, reload func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch policy path")
		}
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !isPolicyFile(event.Name) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDelay, func() {
					policies, err := l.LoadFromPaths(ctx, paths)
					if err == nil {
						err = reload(policies)
					}
					if err != nil {
						l.logger.Error().Err(err).Msg("Failed to reload policies")
						return
					}
					l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error().Err(err).Msg("Watcher error")
			}
		}
	}()

	return nil
}
