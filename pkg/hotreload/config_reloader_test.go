package hotreload

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/goleak"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func writeConfig(t *testing.T, path string, windowSeconds int) {
	t.Helper()
	body := fmt.Sprintf("clusterer:\n  window_seconds: %d\n  similarity_threshold: 0.7\ncorrelator:\n  window_seconds: %d\n", windowSeconds, windowSeconds)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReloaderDetectsFileChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	writeConfig(t, configPath, 120)

	cr, err := New(Config{Enabled: true, WatchInterval: 5 * time.Second, DebounceInterval: 10 * time.Millisecond, ValidateOnReload: false}, configPath, newTestLogger())
	if err != nil {
		t.Fatal(err)
	}

	if err := cr.Start(); err != nil {
		t.Fatal(err)
	}
	defer cr.Stop()

	time.Sleep(20 * time.Millisecond)
	writeConfig(t, configPath, 60)
	time.Sleep(200 * time.Millisecond)

	stats := cr.Stats()
	if stats.TotalReloads == 0 {
		t.Fatal("expected at least one reload attempt after file write")
	}
}

func TestReloaderDisabledNeverStarts(t *testing.T) {
	cr, err := New(DefaultConfig(), filepath.Join(t.TempDir(), "config.yaml"), newTestLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := cr.Start(); err != nil {
		t.Fatal(err)
	}
	if err := cr.Stop(); err != nil {
		t.Fatal(err)
	}
}
