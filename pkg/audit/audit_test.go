package audit

import (
	"context"
	"testing"

	"aegismind-siem/pkg/events"

	"github.com/stretchr/testify/assert"
)

type fakeInserter struct {
	entries []*events.AuditEntry
}

func (f *fakeInserter) InsertAudit(ctx context.Context, entry *events.AuditEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func TestLogStateChangeRecordsBeforeAfter(t *testing.T) {
	store := &fakeInserter{}
	w := New(store, nil)

	err := w.LogStateChange(context.Background(), "operator-1", "inc_abc", "open", "closed")
	assert.NoError(t, err)
	assert.Len(t, store.entries, 1)
	assert.Equal(t, "update_status", store.entries[0].Action)
	assert.Equal(t, "open", store.entries[0].Before)
	assert.Equal(t, "closed", store.entries[0].After)
}

func TestLogActionRecordsDetails(t *testing.T) {
	store := &fakeInserter{}
	w := New(store, nil)

	err := w.LogAction(context.Background(), "automation", "alert_dispatched", "inc_xyz", map[string]string{"action": "block"})
	assert.NoError(t, err)
	assert.Len(t, store.entries, 1)
	assert.Equal(t, "alert_dispatched", store.entries[0].Action)
	assert.Equal(t, "inc_xyz", store.entries[0].IncidentID)
}
