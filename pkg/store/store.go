// Package store defines the persistence contracts the core pipeline
// consumes (IncidentStore, EventStore) and publishes a change-source to
// (changestream.ChangeSource), plus the one concrete MongoDB-backed
// implementation.
package store

import (
	"context"

	"aegismind-siem/pkg/events"
)

// IncidentStore is the persistence contract the correlator's output is
// written through and the query surface reads from.
type IncidentStore interface {
	// UpsertIncident writes an incident by its id (primary key), creating
	// or overwriting as needed.
	UpsertIncident(ctx context.Context, incident *events.Incident) error
	// GetIncident returns the incident with the given id, or (nil, nil) if
	// it doesn't exist.
	GetIncident(ctx context.Context, id string) (*events.Incident, error)
	// QueryIncidents returns incidents sorted by updated_at descending,
	// cursor-paginated by id. A nil status matches any status.
	QueryIncidents(ctx context.Context, status *events.Status, limit int, afterID string) ([]*events.Incident, error)
}

// EventStore is the append-only persistence contract for normalized events.
type EventStore interface {
	// InsertEvents appends a batch of events. A no-op for an empty batch.
	InsertEvents(ctx context.Context, evts []events.Event) error
	// QueryRecentEvents returns the most recent events, sorted by ts
	// descending, capped at limit.
	QueryRecentEvents(ctx context.Context, limit int) ([]events.Event, error)
}
