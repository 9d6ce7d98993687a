package config

import (
	"strings"
	"testing"

	"aegismind-siem/pkg/clusterer"
	"aegismind-siem/pkg/correlator"
)

func validConfig() *Config {
	config := &Config{}
	applyDefaults(config)
	return config
}

func TestValidConfigPasses(t *testing.T) {
	if err := ValidateConfig(validConfig()); err != nil {
		t.Fatalf("expected valid config to pass, got %v", err)
	}
}

func TestInvalidSimilarityThresholdRejected(t *testing.T) {
	config := validConfig()
	config.Clusterer = clusterer.Config{WindowSeconds: 120, SimilarityThreshold: 1.5}

	err := ValidateConfig(config)
	if err == nil || !strings.Contains(err.Error(), "similarity_threshold") {
		t.Fatalf("expected similarity_threshold validation error, got %v", err)
	}
}

func TestZeroClusterWindowRejected(t *testing.T) {
	config := validConfig()
	config.Clusterer = clusterer.Config{WindowSeconds: 0, SimilarityThreshold: 0.75}

	err := ValidateConfig(config)
	if err == nil || !strings.Contains(err.Error(), "window_seconds") {
		t.Fatalf("expected clusterer window validation error, got %v", err)
	}
}

func TestZeroCorrelatorWindowRejected(t *testing.T) {
	config := validConfig()
	config.Correlator = correlator.Config{WindowSeconds: 0}

	err := ValidateConfig(config)
	if err == nil || !strings.Contains(err.Error(), "window_seconds") {
		t.Fatalf("expected correlator window validation error, got %v", err)
	}
}

func TestZeroGatewayPortRejected(t *testing.T) {
	config := validConfig()
	config.Gateway.Port = 0

	err := ValidateConfig(config)
	if err == nil || !strings.Contains(err.Error(), "gateway.port") {
		t.Fatalf("expected gateway port validation error, got %v", err)
	}
}
