package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"aegismind-siem/internal/tracing"
	"aegismind-siem/pkg/changestream"
	"aegismind-siem/pkg/clusterer"
	"aegismind-siem/pkg/correlator"
	"aegismind-siem/pkg/events"
	"aegismind-siem/pkg/normalizer"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory pipelineStore: enough to exercise processBatch
// and the query handlers without a live MongoDB, per the correlator and
// query-surface contracts in pkg/store.
type fakeStore struct {
	mu        sync.Mutex
	incidents map[string]*events.Incident
	evts      []events.Event
	audits    []*events.AuditEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{incidents: make(map[string]*events.Incident)}
}

func (f *fakeStore) UpsertIncident(ctx context.Context, incident *events.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *incident
	f.incidents[incident.ID] = &cp
	return nil
}

func (f *fakeStore) GetIncident(ctx context.Context, id string) (*events.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inc, ok := f.incidents[id]; ok {
		cp := *inc
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) QueryIncidents(ctx context.Context, status *events.Status, limit int, afterID string) ([]*events.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*events.Incident, 0, len(f.incidents))
	for _, inc := range f.incidents {
		if status != nil && inc.Status != *status {
			continue
		}
		cp := *inc
		out = append(out, &cp)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) InsertEvents(ctx context.Context, evts []events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evts = append(f.evts, evts...)
	return nil
}

func (f *fakeStore) QueryRecentEvents(ctx context.Context, limit int) ([]events.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > 0 && limit < len(f.evts) {
		return f.evts[len(f.evts)-limit:], nil
	}
	return f.evts, nil
}

func (f *fakeStore) InsertAudit(ctx context.Context, entry *events.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, entry)
	return nil
}

func (f *fakeStore) Watch(ctx context.Context) (<-chan changestream.Change, <-chan error) {
	changes := make(chan changestream.Change)
	errs := make(chan error)
	go func() {
		<-ctx.Done()
		close(changes)
		close(errs)
	}()
	return changes, errs
}

func (f *fakeStore) Close(ctx context.Context) error { return nil }

// newTestApp builds an App wired entirely in-process: a fake store, a noop
// tracer, and the real normalizer/clusterer/correlator, so processBatch runs
// the actual pipeline logic without any network dependency.
func newTestApp(t *testing.T) (*App, *fakeStore) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	tracingManager, err := tracing.NewManager(tracing.Config{Enabled: false}, logger)
	require.NoError(t, err)

	fs := newFakeStore()
	a := &App{
		logger:     logger,
		store:      fs,
		normalizer: normalizer.New(logger),
		clusterer:  clusterer.New(clusterer.DefaultConfig(), logger),
		correlator: correlator.New(correlator.DefaultConfig(), logger),
		tracing:    tracingManager,
		incidents:  make(map[string]*events.Incident),
	}
	return a, fs
}

// rawSSHFailure builds a raw ingest document matching an SSH auth failure,
// mirroring scenario S1 from the component design: repeated failed logins
// from one source IP against one host should cluster and correlate into a
// single incident.
func rawSSHFailure(host, ip string, ts time.Time) map[string]interface{} {
	return map[string]interface{}{
		"ts":     ts.Format(time.RFC3339),
		"source": "sshd",
		"host":   host,
		"verb":   "login",
		"outcome": "failure",
		"object": map[string]interface{}{
			"proto": "tcp",
			"dport": float64(22),
		},
		"entity": map[string]interface{}{
			"ip": ip,
		},
	}
}

func TestProcessBatch_SSHBruteForceClustersIntoOneIncident(t *testing.T) {
	a, fs := newTestApp(t)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	raw := make([]map[string]interface{}, 0, 6)
	for i := 0; i < 6; i++ {
		raw = append(raw, rawSSHFailure("web-01", "203.0.113.7", now.Add(time.Duration(i)*time.Second)))
	}

	accepted := a.processBatch(context.Background(), raw)
	assert.Equal(t, 6, accepted)

	incidents, err := fs.QueryIncidents(context.Background(), nil, 50, "")
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, "203.0.113.7", incidents[0].Entity["ip"])
	assert.NotEmpty(t, incidents[0].ClusterIDs)

	recent, err := fs.QueryRecentEvents(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, recent, 6)
	for _, ev := range recent {
		assert.NotEmpty(t, ev.ClusterID)
		assert.NotEmpty(t, ev.IncidentID)
	}
}

func TestProcessBatch_DistinctEntitiesProduceSeparateIncidents(t *testing.T) {
	a, fs := newTestApp(t)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	raw := []map[string]interface{}{
		rawSSHFailure("web-01", "203.0.113.7", now),
		rawSSHFailure("web-01", "203.0.113.7", now.Add(time.Second)),
		rawSSHFailure("db-02", "198.51.100.9", now),
		rawSSHFailure("db-02", "198.51.100.9", now.Add(time.Second)),
	}

	accepted := a.processBatch(context.Background(), raw)
	assert.Equal(t, 4, accepted)

	incidents, err := fs.QueryIncidents(context.Background(), nil, 50, "")
	require.NoError(t, err)
	assert.Len(t, incidents, 2)
}

func TestProcessBatch_MalformedEventsAreDroppedNotAccepted(t *testing.T) {
	a, _ := newTestApp(t)

	raw := []map[string]interface{}{
		{"source": "sshd"}, // no timestamp, no entity -- normalizer should reject or tolerate per its own rules
	}

	accepted := a.processBatch(context.Background(), raw)
	assert.LessOrEqual(t, accepted, len(raw))
}

func TestHandleUpdateStatus_RejectsBackwardTransition(t *testing.T) {
	assert.False(t, isForwardTransition(events.StatusAck, events.StatusOpen))
	assert.False(t, isForwardTransition(events.StatusClosed, events.StatusAck))
	assert.True(t, isForwardTransition(events.StatusOpen, events.StatusAck))
	assert.True(t, isForwardTransition(events.StatusAck, events.StatusClosed))
	assert.False(t, isForwardTransition(events.StatusOpen, events.StatusOpen))
}

func TestCountOpenLocked_CountsOnlyOpenStatus(t *testing.T) {
	a, _ := newTestApp(t)
	a.incidents["a"] = &events.Incident{ID: "a", Status: events.StatusOpen}
	a.incidents["b"] = &events.Incident{ID: "b", Status: events.StatusClosed}
	a.incidents["c"] = &events.Incident{ID: "c", Status: events.StatusOpen}

	assert.Equal(t, 2, a.countOpenLocked())
}
