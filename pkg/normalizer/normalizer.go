// Package normalizer reduces raw heterogeneous security telemetry to the
// normalized Event schema: allowlisted feature extraction, secret redaction,
// and deterministic fingerprinting.
package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"aegismind-siem/pkg/events"
	"aegismind-siem/pkg/ids"
	"aegismind-siem/pkg/security"

	"github.com/sirupsen/logrus"
)

// freeTextSanitizer catches secret-shaped substrings (API keys, tokens,
// credit-card-like digit runs) embedded in string values whose key isn't
// one of secretFields — e.g. a "message" field that happens to quote a
// bearer token. Stateless regex matching, safe to share across calls.
var freeTextSanitizer = security.NewSanitizer(security.DefaultSanitizerConfig())

// secretFields is the redaction set: any object key matching one of these,
// anywhere under features, has its value replaced before the fingerprint is
// computed.
var secretFields = map[string]bool{
	"password":   true,
	"token":      true,
	"api_key":    true,
	"secret":     true,
	"credential": true,
}

const redactedValue = "***REDACTED***"

// Normalizer is stateless and safe for concurrent use; the logger is the
// only shared field and logrus.Logger is itself concurrency-safe.
type Normalizer struct {
	logger *logrus.Logger
}

// New constructs a Normalizer. A nil logger falls back to logrus's standard
// logger, matching the rest of this codebase's constructor convention.
func New(logger *logrus.Logger) *Normalizer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Normalizer{logger: logger}
}

// NormalizeBatch normalizes each element independently, dropping malformed
// items with a warning. The call itself never fails and preserves input
// order for the items that succeed.
func (n *Normalizer) NormalizeBatch(raw []map[string]interface{}) []events.Event {
	out := make([]events.Event, 0, len(raw))
	for _, item := range raw {
		evt, err := n.Normalize(item)
		if err != nil {
			n.logger.WithFields(logrus.Fields{
				"component": "normalizer",
				"error":     err.Error(),
			}).Warn("normalization_failed")
			continue
		}
		out = append(out, evt)
	}
	return out
}

// Normalize converts a single raw event into the normalized schema. It only
// returns an error for inputs so malformed that no timestamp-tolerant,
// default-filling normalization can proceed (in practice, never — the
// fallback rules in §4.2 tolerate everything well-formed enough to be a
// JSON object), kept for symmetry with other pipeline stages' signatures.
func (n *Normalizer) Normalize(raw map[string]interface{}) (events.Event, error) {
	var evt events.Event

	evt.TS = parseTimestamp(raw)
	evt.Source = stringOrDefault(raw, "source", "unknown")
	evt.Host = stringOrDefault(raw, "host", "unknown")
	evt.TraceID = ids.NewTraceID()

	features := extractRawFeatures(raw)
	redactSecrets(features)
	evt.Features = features

	evt.Fingerprint = computeFingerprint(evt)

	return evt, nil
}

// parseTimestamp adopts raw["ts"] if present and ISO-8601, else now().
func parseTimestamp(raw map[string]interface{}) time.Time {
	v, ok := raw["ts"]
	if !ok {
		return time.Now()
	}
	s, ok := v.(string)
	if !ok {
		return time.Now()
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now()
}

func stringOrDefault(raw map[string]interface{}, key, def string) string {
	v, ok := raw[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// extractRawFeatures copies the allowlisted fields into the features
// subtree: verb/outcome from the top level, proto/dport/sport/user from
// object.*, ip/user from entity.* (entity.user overrides object.user, matching
// the reference implementation's assignment order).
func extractRawFeatures(raw map[string]interface{}) map[string]interface{} {
	features := make(map[string]interface{})

	if v, ok := raw["verb"]; ok {
		features["verb"] = v
	}
	if v, ok := raw["outcome"]; ok {
		features["outcome"] = v
	}

	if obj, ok := raw["object"].(map[string]interface{}); ok {
		for _, key := range []string{"proto", "dport", "sport", "user"} {
			if v, ok := obj[key]; ok {
				features[key] = v
			}
		}
	}

	if entity, ok := raw["entity"].(map[string]interface{}); ok {
		for _, key := range []string{"ip", "user"} {
			if v, ok := entity[key]; ok {
				features[key] = v
			}
		}
	}

	return features
}

// redactSecrets recursively replaces any value whose key matches the
// redaction set, anywhere under obj.
func redactSecrets(obj map[string]interface{}) {
	for k, v := range obj {
		if secretFields[k] {
			obj[k] = redactedValue
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			redactSecrets(nested)
			continue
		}
		if s, ok := v.(string); ok {
			obj[k] = freeTextSanitizer.Sanitize(s)
		}
	}
}

// computeFingerprint hashes "source:host:ip:proto:dport" with SHA-256,
// keeping the first 8 bytes hex-encoded (16 hex chars). ip/proto default to
// "none" and dport to "0" when absent.
func computeFingerprint(evt events.Event) string {
	ip := "none"
	if v, ok := evt.Features["ip"]; ok {
		ip = fmt.Sprintf("%v", v)
	}
	proto := "none"
	if v, ok := evt.Features["proto"]; ok {
		proto = fmt.Sprintf("%v", v)
	}
	dport := "0"
	if v, ok := evt.Features["dport"]; ok {
		dport = fmt.Sprintf("%v", asInt(v))
	}

	raw := fmt.Sprintf("%s:%s:%s:%s:%s", evt.Source, evt.Host, ip, proto, dport)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}

// asInt coerces a decoded-JSON numeric value (float64 from encoding/json, or
// already an int) to int, matching the reference implementation's
// dport.get<int>() cast; non-numeric values fall back to 0.
func asInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}

// ExtractFeatures one-hot encodes the nominal features (verb, proto,
// outcome) present on an already-normalized event, keyed "<name>_<value>" ->
// 1. This is the vector the clusterer's similarity functions consume;
// dport/sport/user/ip/bytes are not one-hot encoded and do not enter it.
func ExtractFeatures(evt events.Event) map[string]float64 {
	out := make(map[string]float64)
	for _, name := range []string{"verb", "proto", "outcome"} {
		if v, ok := evt.Features[name]; ok {
			out[name+"_"+fmt.Sprintf("%v", v)] = 1
		}
	}
	return out
}
