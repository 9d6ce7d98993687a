package correlator

import (
	"testing"
	"time"

	"aegismind-siem/pkg/events"
)

func mkEvent(source, host, ip, verb, outcome string, ts time.Time) events.Event {
	feats := map[string]interface{}{}
	if ip != "" {
		feats["ip"] = ip
	}
	if verb != "" {
		feats["verb"] = verb
	}
	if outcome != "" {
		feats["outcome"] = outcome
	}
	return events.Event{TS: ts, Source: source, Host: host, Features: feats, ClusterID: "clu_test"}
}

// S1: SSH brute force — 15 deny/block events, one incident, severity high,
// title "Repeated access denials".
func TestCorrelateS1SSHBruteForce(t *testing.T) {
	c := New(DefaultConfig(), nil)
	incidents := make(map[string]*events.Incident)

	base := time.Now()
	evts := make([]events.Event, 0, 15)
	for i := 0; i < 15; i++ {
		evts = append(evts, mkEvent("fw", "edge-01", "10.0.0.7", "deny", "block", base.Add(time.Duration(i)*time.Second)))
	}

	affected := c.CorrelateEvents(evts, incidents)
	if len(affected) != 1 {
		t.Fatalf("expected 1 affected incident, got %d", len(affected))
	}
	inc := incidents[affected[0]]
	if inc.Severity != events.SeverityHigh {
		t.Fatalf("expected high severity, got %v", inc.Severity)
	}
	if inc.Title != "Repeated access denials" {
		t.Fatalf("expected title 'Repeated access denials', got %q", inc.Title)
	}
}

// S2: app auth failures — 8 events, medium severity, title driven by
// v*=auth, c*>=5 rule even though the outcome-based rule would say
// "Repeated access denials" doesn't apply (verb isn't deny).
func TestCorrelateS2AppAuthFailures(t *testing.T) {
	c := New(DefaultConfig(), nil)
	incidents := make(map[string]*events.Incident)

	base := time.Now()
	evts := make([]events.Event, 0, 8)
	for i := 0; i < 8; i++ {
		evts = append(evts, mkEvent("app", "web-02", "203.0.113.9", "auth", "fail", base.Add(time.Duration(i)*5*time.Second)))
	}

	affected := c.CorrelateEvents(evts, incidents)
	inc := incidents[affected[0]]
	if inc.Severity != events.SeverityMedium {
		t.Fatalf("expected medium severity, got %v", inc.Severity)
	}
	if inc.Title != "SSH brute force attempt" {
		t.Fatalf("expected title 'SSH brute force attempt', got %q", inc.Title)
	}
}

// S3: anomalous upload — critical severity via has_exfil (verb==upload),
// title "Data exfiltration detected" is NOT produced by the title rule
// (upload doesn't match "exfil" exactly) — so the group falls to the
// fallback "<verb> on <source>" rule; this test pins that exact behavior.
func TestCorrelateS3AnomalousUpload(t *testing.T) {
	c := New(DefaultConfig(), nil)
	incidents := make(map[string]*events.Incident)

	base := time.Now()
	evts := make([]events.Event, 0, 6)
	for i := 0; i < 6; i++ {
		evts = append(evts, mkEvent("ids", "ids-host", "", "upload", "alert", base.Add(time.Duration(i)*time.Second)))
	}

	affected := c.CorrelateEvents(evts, incidents)
	inc := incidents[affected[0]]
	if inc.Severity != events.SeverityCritical {
		t.Fatalf("expected critical severity, got %v", inc.Severity)
	}
}

// S4: mixed entities — two interleaved IP streams produce exactly two
// incidents, and no cluster ID is shared between them.
func TestCorrelateS4MixedEntities(t *testing.T) {
	c := New(DefaultConfig(), nil)
	incidents := make(map[string]*events.Incident)

	base := time.Now()
	var evts []events.Event
	for i := 0; i < 5; i++ {
		e1 := mkEvent("fw", "edge-01", "10.0.0.7", "deny", "block", base.Add(time.Duration(i)*time.Second))
		e1.ClusterID = "clu_a"
		e2 := mkEvent("fw", "edge-02", "10.0.0.8", "deny", "block", base.Add(time.Duration(i)*time.Second))
		e2.ClusterID = "clu_b"
		evts = append(evts, e1, e2)
	}

	affected := c.CorrelateEvents(evts, incidents)
	unique := make(map[string]bool)
	for _, id := range affected {
		unique[id] = true
	}
	if len(unique) != 2 {
		t.Fatalf("expected exactly 2 distinct incidents, got %d", len(unique))
	}

	var ids1, ids2 []string
	for id := range unique {
		inc := incidents[id]
		if inc.Entity["ip"] == "10.0.0.7" {
			ids1 = inc.ClusterIDs
		} else {
			ids2 = inc.ClusterIDs
		}
	}
	for _, a := range ids1 {
		for _, b := range ids2 {
			if a == b {
				t.Fatalf("expected no shared cluster id between incidents, found %q in both", a)
			}
		}
	}
}

func TestCorrelateIdempotence(t *testing.T) {
	c := New(DefaultConfig(), nil)
	incidents := make(map[string]*events.Incident)

	base := time.Now()
	evts := []events.Event{mkEvent("fw", "h1", "10.0.0.1", "deny", "block", base)}

	c.CorrelateEvents(evts, incidents)
	var id string
	for k := range incidents {
		id = k
	}
	firstClusterIDs := append([]string(nil), incidents[id].ClusterIDs...)
	firstSeverity := incidents[id].Severity

	c.CorrelateEvents(evts, incidents)

	if len(incidents) != 1 {
		t.Fatalf("expected re-running correlation to not create a second incident, got %d", len(incidents))
	}
	if len(incidents[id].ClusterIDs) != len(firstClusterIDs) {
		t.Fatalf("expected stable cluster_ids union, got %v vs %v", firstClusterIDs, incidents[id].ClusterIDs)
	}
	if incidents[id].Severity != firstSeverity {
		t.Fatalf("expected stable severity re-evaluation, got %v vs %v", firstSeverity, incidents[id].Severity)
	}
}
