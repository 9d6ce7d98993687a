// Package clusterer implements the windowed online clusterer: it attaches a
// cluster_id to each normalized event by grouping on fingerprint equality and
// feature-set similarity, maintaining an in-memory map of active clusters
// that expires on inactivity.
package clusterer

import (
	"math"
	"sync"
	"time"

	"aegismind-siem/pkg/events"
	"aegismind-siem/pkg/ids"
	"aegismind-siem/pkg/normalizer"

	"github.com/sirupsen/logrus"
)

// Config controls clustering sensitivity. Both fields are safe to hot-reload
// between batches (see internal/config) since assignClusters reads them
// fresh on every call.
type Config struct {
	WindowSeconds       int     `yaml:"window_seconds"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// DefaultConfig matches the reference implementation's defaults.
func DefaultConfig() Config {
	return Config{WindowSeconds: 120, SimilarityThreshold: 0.75}
}

// Stats reports the clusterer's current in-memory footprint.
type Stats struct {
	ActiveClusters int
}

// Clusterer is single-writer: AssignClusters must not be called concurrently
// on the same instance (see package docs and spec's shared-resource note on
// the active-cluster map). Multiple independent Clusterer instances are
// fine; do not share one across unrelated pipelines.
type Clusterer struct {
	mu     sync.Mutex
	config Config
	active map[string]*events.Cluster
	logger *logrus.Logger
}

// New constructs a Clusterer with the given configuration.
func New(config Config, logger *logrus.Logger) *Clusterer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Clusterer{
		config: config,
		active: make(map[string]*events.Cluster),
		logger: logger,
	}
}

// SetConfig atomically swaps the clustering configuration, for hot-reload.
func (c *Clusterer) SetConfig(config Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config = config
}

// Stats returns a snapshot of the clusterer's current state.
func (c *Clusterer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{ActiveClusters: len(c.active)}
}

// AssignClusters garbage-collects stale clusters, then assigns a cluster_id
// to each event in input order, mutating the slice in place. Total over
// well-formed events; an event with an empty fingerprint is logged and left
// unclustered (the clusterer invariant violation case in the error table).
func (c *Clusterer) AssignClusters(evts []events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked(time.Now())

	for i := range evts {
		if evts[i].Fingerprint == "" {
			c.logger.WithFields(logrus.Fields{
				"component": "clusterer",
			}).Warn("cluster_invariant_violation: empty fingerprint")
			continue
		}
		features := normalizer.ExtractFeatures(evts[i])
		evts[i].ClusterID = c.findOrCreateLocked(evts[i], features)
	}
}

func (c *Clusterer) cleanupLocked(now time.Time) {
	window := time.Duration(c.config.WindowSeconds) * time.Second
	for id, cl := range c.active {
		if now.Sub(cl.LastUpdated) > window {
			delete(c.active, id)
		}
	}
}

// findOrCreateLocked implements §4.3(b)-(e): find the active cluster with a
// matching fingerprint and the maximum Jaccard similarity over 0, joining
// it if that similarity clears the threshold; otherwise create a new one.
// Must be called with c.mu held.
func (c *Clusterer) findOrCreateLocked(evt events.Event, features map[string]float64) string {
	var bestID string
	bestSim := 0.0

	for id, cl := range c.active {
		if cl.Fingerprint != evt.Fingerprint {
			continue
		}
		sim := Jaccard(features, cl.Centroid)
		if sim > bestSim {
			bestSim = sim
			bestID = id
		}
	}

	if bestID != "" && bestSim >= c.config.SimilarityThreshold {
		cl := c.active[bestID]
		cl.EventCount++
		cl.LastUpdated = evt.TS
		for key, val := range features {
			if old, ok := cl.Centroid[key]; ok {
				cl.Centroid[key] = (old*float64(cl.EventCount-1) + val) / float64(cl.EventCount)
			} else {
				cl.Centroid[key] = val
			}
		}
		return bestID
	}

	newID := ids.NewClusterID(evt.Fingerprint)
	centroid := make(map[string]float64, len(features))
	for k, v := range features {
		centroid[k] = v
	}
	c.active[newID] = &events.Cluster{
		ID:          newID,
		Fingerprint: evt.Fingerprint,
		Centroid:    centroid,
		LastUpdated: evt.TS,
		EventCount:  1,
	}
	return newID
}

// Jaccard computes |A∩B| / |A∪B| over the key-sets of a and b. Both-empty is
// defined as 1.0 (two clusters with no features are maximally similar); one
// empty and the other not is 0.0.
func Jaccard(a, b map[string]float64) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}

	union := make(map[string]bool, len(a)+len(b))
	intersection := 0
	for k := range a {
		union[k] = true
	}
	for k := range b {
		if !union[k] {
			union[k] = true
		}
		if _, ok := a[k]; ok {
			intersection++
		}
	}
	if len(union) == 0 {
		return 0.0
	}
	return float64(intersection) / float64(len(union))
}

// Cosine computes the cosine similarity of a and b over their numeric
// entries. Zero magnitude on either side returns 0.0. Available for callers
// that want an alternative similarity metric; the clusterer itself uses
// Jaccard by default.
func Cosine(a, b map[string]float64) float64 {
	var dot, magA, magB float64
	for k, va := range a {
		magA += va * va
		if vb, ok := b[k]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		magB += vb * vb
	}
	if magA == 0 || magB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
