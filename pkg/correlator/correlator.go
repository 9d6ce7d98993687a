// Package correlator implements the entity-based correlation engine: it
// groups clustered events by entity key, creates or updates Incidents in a
// caller-owned map, and derives severity and title deterministically from
// each batch's event group.
package correlator

import (
	"time"

	"aegismind-siem/pkg/events"
	"aegismind-siem/pkg/ids"

	"github.com/sirupsen/logrus"
)

// Config is informational: the correlator itself doesn't expire incidents on
// a window, but the window is a useful knob for callers deciding how long to
// keep an incident's status eligible for "open incident" matching.
type Config struct {
	WindowSeconds int `yaml:"window_seconds"`
}

// DefaultConfig matches the reference implementation's default.
func DefaultConfig() Config {
	return Config{WindowSeconds: 120}
}

// Correlator mutates a caller-supplied incident map under the caller's
// exclusion; it holds no state of its own.
type Correlator struct {
	config Config
	logger *logrus.Logger
}

// New constructs a Correlator.
func New(config Config, logger *logrus.Logger) *Correlator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Correlator{config: config, logger: logger}
}

// CorrelateEvents groups events by entity key, finds-or-creates an incident
// per group in incidents, and returns the affected incident IDs in the order
// groups were processed (insertion order of first appearance, for
// determinism within a single call).
func (c *Correlator) CorrelateEvents(evts []events.Event, incidents map[string]*events.Incident) []string {
	groupOrder := make([]string, 0)
	groups := make(map[string][]events.Event)

	for _, evt := range evts {
		key := entityKey(evt)
		if _, ok := groups[key]; !ok {
			groupOrder = append(groupOrder, key)
		}
		groups[key] = append(groups[key], evt)
	}

	now := time.Now()
	affected := make([]string, 0, len(groupOrder))

	for _, key := range groupOrder {
		group := groups[key]
		if len(group) == 0 {
			continue
		}

		incidentID, found := seedFromExisting(group)
		if !found {
			incidentID, found = findOpenIncident(incidents, key)
		}

		if !found {
			incidentID = c.createIncident(group, key, now, incidents)
		} else {
			c.updateIncident(incidents[incidentID], group, now)
		}

		affected = append(affected, incidentID)
	}

	return affected
}

// entityKey is features.ip if present, else host — see the design note on
// entity equivalence: two events for the same IP on different hosts merge,
// two events for different IPs on the same host split.
func entityKey(evt events.Event) string {
	if v, ok := evt.Features["ip"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return evt.Host
}

// seedFromExisting returns the incident_id already carried by any event in
// the group, if one exists — events re-entering correlation (e.g. from a
// retried batch) stay attached to their incident rather than re-matching.
func seedFromExisting(group []events.Event) (string, bool) {
	for _, evt := range group {
		if evt.IncidentID != "" {
			return evt.IncidentID, true
		}
	}
	return "", false
}

// findOpenIncident returns the first open incident (map iteration order,
// which Go randomizes per call — callers relying on deterministic tie-breaks
// across multiple equally-eligible open incidents should not exist; the
// spec only requires "the first match" within a single, otherwise
// unambiguous, scan) whose entity key equals entityKey.
func findOpenIncident(incidents map[string]*events.Incident, entityKey string) (string, bool) {
	for id, inc := range incidents {
		if inc.Status != events.StatusOpen {
			continue
		}
		incKey, ok := inc.Entity["ip"]
		if !ok {
			incKey, ok = inc.Entity["host"]
		}
		if ok && incKey == entityKey {
			return id, true
		}
	}
	return "", false
}

func (c *Correlator) createIncident(group []events.Event, entityKey string, now time.Time, incidents map[string]*events.Incident) string {
	id := ids.NewIncidentID()

	entity := map[string]string{}
	if v, ok := group[0].Features["ip"]; ok {
		if s, ok := v.(string); ok {
			entity["ip"] = s
		}
	}
	entity["host"] = group[0].Host

	inc := &events.Incident{
		ID:          id,
		Status:      events.StatusOpen,
		Title:       generateTitle(group),
		Severity:    determineSeverity(group),
		Entity:      entity,
		ClusterIDs:  collectClusterIDs(group, nil),
		Scores:      map[string]float64{"anomaly": 0.85, "confidence": 0.80},
		CreatedAt:   now,
		UpdatedAt:   now,
		LastEventTS: group[len(group)-1].TS,
	}
	incidents[id] = inc
	return id
}

func (c *Correlator) updateIncident(inc *events.Incident, group []events.Event, now time.Time) {
	inc.UpdatedAt = now
	inc.LastEventTS = group[len(group)-1].TS
	inc.ClusterIDs = collectClusterIDs(group, inc.ClusterIDs)
	// Severity is recomputed fresh from the current batch group only (see
	// the design note on correlator severity freshness); this can lower a
	// long-running incident's severity if its latest batch is quieter than
	// its history.
	inc.Severity = determineSeverity(group)
}

// collectClusterIDs unions the group's cluster IDs into prior, preserving
// prior order and appending only-new IDs in first-seen order. Deduplicated
// and stable across repeated calls with the same inputs.
func collectClusterIDs(group []events.Event, prior []string) []string {
	seen := make(map[string]bool, len(prior)+len(group))
	out := make([]string, 0, len(prior)+len(group))
	for _, id := range prior {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, evt := range group {
		if evt.ClusterID == "" || seen[evt.ClusterID] {
			continue
		}
		seen[evt.ClusterID] = true
		out = append(out, evt.ClusterID)
	}
	return out
}

// determineSeverity implements the severity ladder in §4.4.2, scanning the
// group for the four counters and applying them in priority order.
func determineSeverity(group []events.Event) events.Severity {
	var denyCount, failCount int
	var hasExfil, hasMalware bool

	for _, evt := range group {
		if outcome, ok := stringFeature(evt, "outcome"); ok {
			if outcome == "deny" || outcome == "block" {
				denyCount++
			}
			if outcome == "fail" {
				failCount++
			}
		}
		if verb, ok := stringFeature(evt, "verb"); ok {
			if verb == "exfil" || verb == "upload" {
				hasExfil = true
			}
			if verb == "malware" {
				hasMalware = true
			}
		}
	}

	switch {
	case hasExfil || hasMalware:
		return events.SeverityCritical
	case failCount >= 10 || denyCount >= 10:
		return events.SeverityHigh
	case failCount >= 5 || denyCount >= 5:
		return events.SeverityMedium
	default:
		return events.SeverityLow
	}
}

// generateTitle implements §4.4.1: tally verb values (ties broken by
// first-seen), then apply the fixed rule table.
func generateTitle(group []events.Event) string {
	if len(group) == 0 {
		return "Unknown incident"
	}

	order := make([]string, 0)
	counts := make(map[string]int)
	for _, evt := range group {
		verb, ok := stringFeature(evt, "verb")
		if !ok {
			continue
		}
		if _, seen := counts[verb]; !seen {
			order = append(order, verb)
		}
		counts[verb]++
	}

	mostCommon := "activity"
	maxCount := 0
	for _, verb := range order {
		if counts[verb] > maxCount {
			maxCount = counts[verb]
			mostCommon = verb
		}
	}

	source := group[0].Source

	switch {
	case mostCommon == "auth" && maxCount >= 5:
		return "SSH brute force attempt"
	case mostCommon == "deny":
		return "Repeated access denials"
	case mostCommon == "exfil":
		return "Data exfiltration detected"
	}

	if maxCount == 0 {
		return "activity on " + source
	}
	return mostCommon + " on " + source
}

func stringFeature(evt events.Event, key string) (string, bool) {
	v, ok := evt.Features[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
