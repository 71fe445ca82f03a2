package ratelimit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Overrides holds per-tenant limit overrides loaded from a YAML file.
// The file can be edited while the process runs; Watch picks up
// changes. A malformed file is logged and ignored, keeping the last
// good set.
type Overrides struct {
	mu     sync.RWMutex
	path   string
	limits map[string]int

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

type overridesFile struct {
	Limits map[string]int `yaml:"limits"`
}

// LoadOverrides reads the overrides file at path. A missing file is
// not an error: it yields an empty override set.
func LoadOverrides(path string) (*Overrides, error) {
	o := &Overrides{
		path:   path,
		limits: make(map[string]int),
		done:   make(chan struct{}),
	}

	if err := o.reload(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		log.Debug().Str("path", path).Msg("Tenant overrides file not present yet")
	}

	return o, nil
}

// Limit returns the override for a tenant, if one exists.
func (o *Overrides) Limit(tenantID string) (int, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	limit, ok := o.limits[tenantID]
	return limit, ok
}

// Len returns the number of configured overrides.
func (o *Overrides) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.limits)
}

func (o *Overrides) reload() error {
	data, err := os.ReadFile(o.path)
	if err != nil {
		return err
	}

	var parsed overridesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parsing overrides file: %w", err)
	}

	limits := make(map[string]int, len(parsed.Limits))
	for tenantID, limit := range parsed.Limits {
		if limit < 1 {
			log.Warn().
				Str("tenant_id", tenantID).
				Int("limit", limit).
				Msg("Ignoring non-positive tenant limit override")
			continue
		}
		limits[tenantID] = limit
	}

	o.mu.Lock()
	o.limits = limits
	o.mu.Unlock()

	log.Info().Str("path", o.path).Int("count", len(limits)).Msg("Tenant limit overrides loaded")
	return nil
}

// Watch reloads the overrides whenever the file changes. It watches
// the containing directory so editors that replace the file (rename
// over it) are still observed.
func (o *Overrides) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	dir := filepath.Dir(o.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	o.watcher = watcher

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.watchLoop()
	}()

	return nil
}

func (o *Overrides) watchLoop() {
	target := filepath.Clean(o.path)

	for {
		select {
		case <-o.done:
			return
		case event, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := o.reload(); err != nil {
				log.Warn().Err(err).Str("path", o.path).Msg("Failed to reload tenant overrides, keeping previous set")
			}
		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Tenant overrides watcher error")
		}
	}
}

// Close stops watching for changes.
func (o *Overrides) Close() error {
	close(o.done)
	var err error
	if o.watcher != nil {
		err = o.watcher.Close()
	}
	o.wg.Wait()
	return err
}
