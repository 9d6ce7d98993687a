package store

import (
	"context"
	"testing"

	"aegismind-siem/pkg/changestream"
	"aegismind-siem/pkg/events"

	"github.com/stretchr/testify/assert"
)

// memStore is an in-memory IncidentStore/EventStore used to test that
// callers of the interfaces (not the MongoDB wire path) behave correctly
// without requiring a live MongoDB instance.
type memStore struct {
	incidents map[string]*events.Incident
	evts      []events.Event
}

func newMemStore() *memStore {
	return &memStore{incidents: make(map[string]*events.Incident)}
}

func (m *memStore) UpsertIncident(ctx context.Context, incident *events.Incident) error {
	m.incidents[incident.ID] = incident
	return nil
}

func (m *memStore) GetIncident(ctx context.Context, id string) (*events.Incident, error) {
	inc, ok := m.incidents[id]
	if !ok {
		return nil, nil
	}
	return inc, nil
}

func (m *memStore) QueryIncidents(ctx context.Context, status *events.Status, limit int, afterID string) ([]*events.Incident, error) {
	var out []*events.Incident
	for _, inc := range m.incidents {
		if status != nil && inc.Status != *status {
			continue
		}
		out = append(out, inc)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) InsertEvents(ctx context.Context, evts []events.Event) error {
	m.evts = append(m.evts, evts...)
	return nil
}

func (m *memStore) QueryRecentEvents(ctx context.Context, limit int) ([]events.Event, error) {
	if limit > len(m.evts) {
		limit = len(m.evts)
	}
	return m.evts[:limit], nil
}

func TestMemStoreSatisfiesIncidentStore(t *testing.T) {
	var _ IncidentStore = newMemStore()
	var _ EventStore = newMemStore()
}

func TestMemStoreUpsertThenGet(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()

	inc := &events.Incident{ID: "inc_1", Status: events.StatusOpen, Title: "test"}
	assert.NoError(t, s.UpsertIncident(ctx, inc))

	got, err := s.GetIncident(ctx, "inc_1")
	assert.NoError(t, err)
	assert.Equal(t, "test", got.Title)
}

func TestMemStoreGetMissingReturnsNilNil(t *testing.T) {
	s := newMemStore()
	got, err := s.GetIncident(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestMongoStoreSatisfiesChangeSource(t *testing.T) {
	var _ changestream.ChangeSource = (*MongoStore)(nil)
}
