package normalizer

import (
	"strings"
	"testing"
)

func TestNormalizeDefaultsAndFingerprint(t *testing.T) {
	n := New(nil)

	raw := map[string]interface{}{
		"source": "fw",
		"host":   "edge-01",
		"verb":   "deny",
		"entity": map[string]interface{}{"ip": "10.0.0.7"},
		"object": map[string]interface{}{"proto": "tcp", "dport": float64(22)},
		"outcome": "block",
	}

	evt, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.Source != "fw" || evt.Host != "edge-01" {
		t.Fatalf("unexpected source/host: %+v", evt)
	}
	if len(evt.Fingerprint) != 16 {
		t.Fatalf("expected 16 hex char fingerprint, got %q", evt.Fingerprint)
	}
	if len(evt.TraceID) != 16 {
		t.Fatalf("expected 16 hex char trace id, got %q", evt.TraceID)
	}
}

func TestNormalizeMissingSourceHostDefaults(t *testing.T) {
	n := New(nil)
	evt, err := n.Normalize(map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.Source != "unknown" || evt.Host != "unknown" {
		t.Fatalf("expected unknown defaults, got %+v", evt)
	}
}

func TestFingerprintDeterminism(t *testing.T) {
	n := New(nil)
	raw1 := map[string]interface{}{
		"source": "fw", "host": "edge-01",
		"entity": map[string]interface{}{"ip": "10.0.0.7"},
		"object": map[string]interface{}{"proto": "tcp", "dport": float64(22)},
	}
	raw2 := map[string]interface{}{
		"source": "fw", "host": "edge-01",
		"entity": map[string]interface{}{"ip": "10.0.0.7"},
		"object": map[string]interface{}{"proto": "tcp", "dport": float64(22)},
		"verb":   "deny", // differs, but not part of the fingerprint inputs
	}
	e1, _ := n.Normalize(raw1)
	e2, _ := n.Normalize(raw2)
	if e1.Fingerprint != e2.Fingerprint {
		t.Fatalf("expected identical fingerprints, got %q vs %q", e1.Fingerprint, e2.Fingerprint)
	}

	raw3 := map[string]interface{}{
		"source": "fw", "host": "edge-01",
		"entity": map[string]interface{}{"ip": "10.0.0.8"},
		"object": map[string]interface{}{"proto": "tcp", "dport": float64(22)},
	}
	e3, _ := n.Normalize(raw3)
	if e1.Fingerprint == e3.Fingerprint {
		t.Fatalf("expected differing fingerprints for differing ip")
	}
}

func TestRedactionRemovesSecretValue(t *testing.T) {
	n := New(nil)
	raw := map[string]interface{}{
		"source": "app",
		"host":   "web-02",
		"verb":   "auth",
		"object": map[string]interface{}{
			"password": "s3cr3t",
		},
	}
	evt, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// password isn't in the allowlist so it never reaches features; redaction
	// is defense in depth for allowlisted sub-objects carrying a secret key.
	for k, v := range evt.Features {
		if s, ok := v.(string); ok && strings.Contains(s, "s3cr3t") {
			t.Fatalf("found raw secret value under key %q", k)
		}
	}
}

func TestExtractFeaturesOneHot(t *testing.T) {
	n := New(nil)
	evt, _ := n.Normalize(map[string]interface{}{
		"source": "ids", "host": "h1", "verb": "upload", "outcome": "alert",
		"object": map[string]interface{}{"proto": "https"},
	})
	feats := ExtractFeatures(evt)
	for _, key := range []string{"verb_upload", "proto_https", "outcome_alert"} {
		if feats[key] != 1 {
			t.Fatalf("expected one-hot key %q == 1, got %v", key, feats[key])
		}
	}
	if len(feats) != 3 {
		t.Fatalf("expected exactly 3 one-hot features, got %d: %+v", len(feats), feats)
	}
}
