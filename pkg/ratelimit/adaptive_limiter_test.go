package ratelimit

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestAllowConsumesBurstThenBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialRPS = 1
	cfg.InitialBurst = 3
	cfg.AdaptationInterval = time.Hour

	rl := New(cfg, newTestLogger())
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("call %d: expected allow within burst", i)
		}
	}
	if rl.Allow() {
		t.Error("expected call beyond burst to be blocked")
	}
}

func TestAllowAlwaysTrueWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	rl := New(cfg, newTestLogger())
	defer rl.Stop()

	for i := 0; i < 100; i++ {
		if !rl.Allow() {
			t.Fatal("expected every call to be allowed when disabled")
		}
	}
}

func TestStatsTracksAllowedAndBlocked(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialRPS = 1
	cfg.InitialBurst = 2
	cfg.AdaptationInterval = time.Hour

	rl := New(cfg, newTestLogger())
	defer rl.Stop()

	rl.Allow()
	rl.Allow()
	rl.Allow()

	stats := rl.Stats()
	if stats.AllowedRequests != 2 {
		t.Errorf("expected 2 allowed, got %d", stats.AllowedRequests)
	}
	if stats.BlockedRequests != 1 {
		t.Errorf("expected 1 blocked, got %d", stats.BlockedRequests)
	}
}

func TestRecordLatencyFeedsAdaptation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialRPS = 10
	cfg.LatencyTargetMS = 50
	cfg.AdaptationInterval = time.Hour

	rl := New(cfg, newTestLogger())
	defer rl.Stop()

	for i := 0; i < 10; i++ {
		rl.RecordLatency(500 * time.Millisecond)
	}
	rl.adapt()

	stats := rl.Stats()
	if stats.CurrentRPS >= cfg.InitialRPS {
		t.Errorf("expected rate to tighten under sustained high latency, got %f (was %f)", stats.CurrentRPS, cfg.InitialRPS)
	}
}
