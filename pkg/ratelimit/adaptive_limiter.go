// Package ratelimit implements a latency-adaptive token bucket: it loosens
// its rate when recent request latency is comfortably under target and
// tightens it when latency creeps up, rather than enforcing one fixed RPS
// regardless of downstream load. Used to bound /ingest request admission.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config tunes the adaptive limiter's bounds and adaptation cadence.
type Config struct {
	Enabled bool `yaml:"enabled"`

	InitialRPS float64 `yaml:"initial_rps"`
	MinRPS     float64 `yaml:"min_rps"`
	MaxRPS     float64 `yaml:"max_rps"`

	InitialBurst int `yaml:"initial_burst"`
	MinBurst     int `yaml:"min_burst"`
	MaxBurst     int `yaml:"max_burst"`

	LatencyTargetMS    int           `yaml:"latency_target_ms"`
	LatencyTolerance   float64       `yaml:"latency_tolerance"`
	AdaptationInterval time.Duration `yaml:"adaptation_interval"`
	LatencyWindowSize  int           `yaml:"latency_window_size"`
	AdaptationFactor   float64       `yaml:"adaptation_factor"`
	SmoothingFactor    float64       `yaml:"smoothing_factor"`
}

// DefaultConfig matches the reference implementation's defaults: 10 rps
// admitted for /ingest, adapting between 1 and 1000 rps around a 500ms
// latency target.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		InitialRPS:         10,
		MinRPS:             1,
		MaxRPS:             1000,
		InitialBurst:       20,
		MinBurst:           1,
		MaxBurst:           2000,
		LatencyTargetMS:    500,
		LatencyTolerance:   0.2,
		AdaptationInterval: 30 * time.Second,
		LatencyWindowSize:  100,
		AdaptationFactor:   0.1,
		SmoothingFactor:    0.8,
	}
}

// Stats is a snapshot of limiter activity.
type Stats struct {
	TotalRequests    int64     `json:"total_requests"`
	AllowedRequests  int64     `json:"allowed_requests"`
	BlockedRequests  int64     `json:"blocked_requests"`
	CurrentRPS       float64   `json:"current_rps"`
	CurrentBurst     int       `json:"current_burst"`
	AverageLatencyMS float64   `json:"average_latency_ms"`
	AdaptationCount  int64     `json:"adaptation_count"`
	LastAdaptation   time.Time `json:"last_adaptation"`
}

// latencyWindow is a fixed-size ring buffer of recent latency samples.
type latencyWindow struct {
	samples []time.Duration
	index   int
	mu      sync.Mutex
}

func newLatencyWindow(size int) *latencyWindow {
	return &latencyWindow{samples: make([]time.Duration, size)}
}

func (w *latencyWindow) add(latency time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.index] = latency
	w.index = (w.index + 1) % len(w.samples)
}

func (w *latencyWindow) average() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total time.Duration
	count := 0
	for _, sample := range w.samples {
		if sample > 0 {
			total += sample
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / time.Duration(count)
}

// AdaptiveLimiter is a token bucket whose rate and burst retune periodically
// based on observed request latency.
type AdaptiveLimiter struct {
	config Config
	logger *logrus.Logger

	mu           sync.Mutex
	currentRPS   float64
	currentBurst int
	tokens       float64
	lastRefill   time.Time
	latency      *latencyWindow
	stats        Stats

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs an AdaptiveLimiter and starts its background adaptation
// loop. Stop releases the loop's goroutine.
func New(config Config, logger *logrus.Logger) *AdaptiveLimiter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if config.InitialRPS == 0 {
		config.InitialRPS = 10
	}
	if config.MinRPS == 0 {
		config.MinRPS = 1
	}
	if config.MaxRPS == 0 {
		config.MaxRPS = 1000
	}
	if config.InitialBurst == 0 {
		config.InitialBurst = int(config.InitialRPS * 2)
	}
	if config.MinBurst == 0 {
		config.MinBurst = 1
	}
	if config.MaxBurst == 0 {
		config.MaxBurst = int(config.MaxRPS * 2)
	}
	if config.LatencyTargetMS == 0 {
		config.LatencyTargetMS = 500
	}
	if config.LatencyTolerance == 0 {
		config.LatencyTolerance = 0.2
	}
	if config.AdaptationInterval == 0 {
		config.AdaptationInterval = 30 * time.Second
	}
	if config.LatencyWindowSize == 0 {
		config.LatencyWindowSize = 100
	}
	if config.AdaptationFactor == 0 {
		config.AdaptationFactor = 0.1
	}
	if config.SmoothingFactor == 0 {
		config.SmoothingFactor = 0.8
	}

	ctx, cancel := context.WithCancel(context.Background())
	rl := &AdaptiveLimiter{
		config:       config,
		logger:       logger,
		currentRPS:   config.InitialRPS,
		currentBurst: config.InitialBurst,
		tokens:       float64(config.InitialBurst),
		lastRefill:   time.Now(),
		latency:      newLatencyWindow(config.LatencyWindowSize),
		ctx:          ctx,
		cancel:       cancel,
	}
	if config.Enabled {
		go rl.adaptationLoop()
	}
	return rl
}

// Allow reports whether a single request may proceed, consuming a token if so.
func (rl *AdaptiveLimiter) Allow() bool {
	if !rl.config.Enabled {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.stats.TotalRequests++

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.lastRefill = now
	rl.tokens = math.Min(rl.tokens+elapsed*rl.currentRPS, float64(rl.currentBurst))

	if rl.tokens >= 1 {
		rl.tokens--
		rl.stats.AllowedRequests++
		return true
	}

	rl.stats.BlockedRequests++
	return false
}

// RecordLatency feeds a completed request's latency into the adaptation window.
func (rl *AdaptiveLimiter) RecordLatency(latency time.Duration) {
	if !rl.config.Enabled {
		return
	}
	rl.latency.add(latency)
}

func (rl *AdaptiveLimiter) adaptationLoop() {
	ticker := time.NewTicker(rl.config.AdaptationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.ctx.Done():
			return
		case <-ticker.C:
			rl.adapt()
		}
	}
}

func (rl *AdaptiveLimiter) adapt() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	avgLatency := rl.latency.average()
	if avgLatency == 0 {
		return
	}

	target := time.Duration(rl.config.LatencyTargetMS) * time.Millisecond
	tolerance := float64(target) * (1 + rl.config.LatencyTolerance)

	var adapt bool
	newRPS := rl.currentRPS

	switch {
	case float64(avgLatency) > tolerance:
		newRPS = rl.currentRPS * (1 - rl.config.AdaptationFactor)
		adapt = true
	case float64(avgLatency) < float64(target)*0.8:
		newRPS = rl.currentRPS * (1 + rl.config.AdaptationFactor)
		adapt = true
	}

	if !adapt {
		rl.stats.AverageLatencyMS = float64(avgLatency.Milliseconds())
		return
	}

	newRPS = math.Max(newRPS, rl.config.MinRPS)
	newRPS = math.Min(newRPS, rl.config.MaxRPS)

	burstRatio := float64(rl.currentBurst) / rl.currentRPS
	newBurst := int(math.Max(newRPS*burstRatio, float64(rl.config.MinBurst)))
	newBurst = int(math.Min(float64(newBurst), float64(rl.config.MaxBurst)))

	if rl.stats.AdaptationCount > 0 {
		newRPS = rl.currentRPS*rl.config.SmoothingFactor + newRPS*(1-rl.config.SmoothingFactor)
	}

	rl.currentRPS = newRPS
	rl.currentBurst = newBurst
	rl.stats.AdaptationCount++
	rl.stats.LastAdaptation = time.Now()
	rl.stats.AverageLatencyMS = float64(avgLatency.Milliseconds())

	rl.logger.WithFields(logrus.Fields{
		"component":      "ratelimit",
		"new_rps":        rl.currentRPS,
		"new_burst":      rl.currentBurst,
		"avg_latency_ms": avgLatency.Milliseconds(),
	}).Info("rate_limit_adapted")
}

// Stats returns a snapshot of limiter activity.
func (rl *AdaptiveLimiter) Stats() Stats {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	stats := rl.stats
	stats.CurrentRPS = rl.currentRPS
	stats.CurrentBurst = rl.currentBurst
	return stats
}

// Stop releases the adaptation loop's goroutine.
func (rl *AdaptiveLimiter) Stop() {
	rl.cancel()
}
