// Package hotreload watches the gateway's config file and re-applies the
// subset of settings safe to retune without a restart (cluster window and
// similarity threshold, log level), per SPEC_FULL.md's config hot-reload
// requirement.
package hotreload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"aegismind-siem/internal/config"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Config configures the reloader itself.
type Config struct {
	Enabled          bool          `yaml:"enabled"`
	WatchInterval    time.Duration `yaml:"watch_interval"`
	DebounceInterval time.Duration `yaml:"debounce_interval"`
	ValidateOnReload bool          `yaml:"validate_on_reload"`
}

// DefaultConfig returns sane polling/debounce intervals with reload off by
// default; operators opt in via gateway config.
func DefaultConfig() Config {
	return Config{
		Enabled:          false,
		WatchInterval:    5 * time.Second,
		DebounceInterval: 1 * time.Second,
		ValidateOnReload: true,
	}
}

// Stats reports reloader activity for the health endpoint.
type Stats struct {
	TotalReloads      int64     `json:"total_reloads"`
	SuccessfulReloads int64     `json:"successful_reloads"`
	FailedReloads     int64     `json:"failed_reloads"`
	LastReloadTime    time.Time `json:"last_reload_time"`
	LastError         string    `json:"last_error,omitempty"`
}

// ConfigReloader watches configFile for changes and invokes onChanged with
// the newly loaded configuration whenever its content hash changes.
type ConfigReloader struct {
	config     Config
	logger     *logrus.Logger
	configFile string

	currentHash string

	watcher *fsnotify.Watcher

	onChanged func(*config.Config)
	onError   func(error)

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	mu    sync.Mutex
	stats Stats
}

// New constructs a ConfigReloader. When cfg.Enabled is false, Start is a
// no-op — callers never need to branch on whether hot-reload is configured.
func New(cfg Config, configFile string, logger *logrus.Logger) (*ConfigReloader, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if !cfg.Enabled {
		return &ConfigReloader{config: cfg, logger: logger, configFile: configFile}, nil
	}
	if cfg.WatchInterval == 0 {
		cfg.WatchInterval = 5 * time.Second
	}
	if cfg.DebounceInterval == 0 {
		cfg.DebounceInterval = time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("hotreload: create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cr := &ConfigReloader{
		config:     cfg,
		logger:     logger,
		configFile: configFile,
		watcher:    watcher,
		ctx:        ctx,
		cancel:     cancel,
	}
	if hash, err := cr.fileHash(); err == nil {
		cr.currentHash = hash
	}
	return cr, nil
}

// OnChanged registers the callback invoked with the newly loaded config
// after a successful reload. OnError is invoked when loading or validating
// the new config fails; the previous configuration stays in effect.
func (cr *ConfigReloader) OnChanged(onChanged func(*config.Config), onError func(error)) {
	cr.onChanged = onChanged
	cr.onError = onError
}

// Start begins watching configFile and its containing directory.
func (cr *ConfigReloader) Start() error {
	if !cr.config.Enabled {
		return nil
	}
	if cr.running.Swap(true) {
		return fmt.Errorf("hotreload: already running")
	}

	absPath, err := filepath.Abs(cr.configFile)
	if err != nil {
		return fmt.Errorf("hotreload: resolve config path: %w", err)
	}
	if err := cr.watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("hotreload: watch config directory: %w", err)
	}

	cr.wg.Add(1)
	go cr.watch(absPath)

	cr.logger.WithFields(logrus.Fields{
		"component":   "hotreload",
		"config_file": absPath,
	}).Info("hotreload_started")
	return nil
}

// Stop stops watching and joins the watch goroutine.
func (cr *ConfigReloader) Stop() error {
	if !cr.running.Swap(false) {
		return nil
	}
	cr.cancel()
	if cr.watcher != nil {
		cr.watcher.Close()
	}
	cr.wg.Wait()
	return nil
}

func (cr *ConfigReloader) watch(absPath string) {
	defer cr.wg.Done()

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-cr.ctx.Done():
			return
		case event, ok := <-cr.watcher.Events:
			if !ok {
				return
			}
			if !cr.relevant(event, absPath) {
				continue
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(cr.config.DebounceInterval)
			pending = true
		case err, ok := <-cr.watcher.Errors:
			if !ok {
				return
			}
			cr.logger.WithError(err).Warn("hotreload_watch_error")
		case <-debounce.C:
			if pending {
				pending = false
				cr.reload()
			}
		}
	}
}

func (cr *ConfigReloader) relevant(event fsnotify.Event, absPath string) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	eventPath, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return eventPath == absPath
}

func (cr *ConfigReloader) reload() {
	cr.mu.Lock()
	cr.stats.TotalReloads++
	cr.stats.LastReloadTime = time.Now()
	cr.mu.Unlock()

	newHash, err := cr.fileHash()
	if err != nil {
		cr.fail(fmt.Errorf("hotreload: hash config file: %w", err))
		return
	}
	if newHash == cr.currentHash {
		return
	}

	newConfig, err := config.LoadConfig(cr.configFile)
	if err != nil {
		cr.fail(fmt.Errorf("hotreload: load config: %w", err))
		return
	}
	if cr.config.ValidateOnReload {
		if err := config.ValidateConfig(newConfig); err != nil {
			cr.fail(fmt.Errorf("hotreload: validate config: %w", err))
			return
		}
	}

	cr.currentHash = newHash
	cr.mu.Lock()
	cr.stats.SuccessfulReloads++
	cr.mu.Unlock()

	cr.logger.WithFields(logrus.Fields{
		"component": "hotreload",
		"hash":      newHash[:8],
	}).Info("config_reloaded")

	if cr.onChanged != nil {
		cr.onChanged(newConfig)
	}
}

func (cr *ConfigReloader) fail(err error) {
	cr.mu.Lock()
	cr.stats.FailedReloads++
	cr.stats.LastError = err.Error()
	cr.mu.Unlock()
	cr.logger.WithError(err).Warn("hotreload_failed")
	if cr.onError != nil {
		cr.onError(err)
	}
}

func (cr *ConfigReloader) fileHash() (string, error) {
	file, err := os.Open(cr.configFile)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// Stats returns a snapshot of reload activity.
func (cr *ConfigReloader) Stats() Stats {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.stats
}
