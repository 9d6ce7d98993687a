package store

import (
	"context"
	"time"

	"aegismind-siem/pkg/changestream"
	"aegismind-siem/pkg/errors"
	"aegismind-siem/pkg/events"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig configures the MongoDB-backed store.
type MongoConfig struct {
	URI           string `yaml:"uri"`
	Database      string `yaml:"database"`
	RetentionDays int    `yaml:"retention_days"`
}

// DefaultMongoConfig matches the reference implementation's defaults.
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{URI: "mongodb://localhost:27017", Database: "aegismind", RetentionDays: 30}
}

const (
	collEvents    = "events_ts"
	collIncidents = "incidents"
	collAlerts    = "alerts"
	collAudits    = "audits"
)

// MongoStore is the one concrete IncidentStore/EventStore implementation,
// and also a changestream.ChangeSource over the incidents collection.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	config MongoConfig
	logger *logrus.Logger
}

// Connect dials MongoDB and returns a MongoStore. Callers should call
// Initialize once after Connect to create collections and indexes.
func Connect(ctx context.Context, config MongoConfig, logger *logrus.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, errors.PersistenceError("connect", err.Error())
	}
	return &MongoStore{
		client: client,
		db:     client.Database(config.Database),
		config: config,
		logger: logger,
	}, nil
}

// Close disconnects the underlying client.
func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Initialize creates the collections and indexes this store depends on,
// tolerating "collection already exists" on repeated calls.
func (m *MongoStore) Initialize(ctx context.Context) error {
	for _, name := range []string{collEvents, collIncidents, collAlerts, collAudits} {
		if err := m.db.CreateCollection(ctx, name); err != nil {
			m.logger.WithFields(logrus.Fields{
				"component":  "store",
				"collection": name,
				"error":      err.Error(),
			}).Warn("collection_exists")
		}
	}
	return m.createIndexes(ctx)
}

func (m *MongoStore) createIndexes(ctx context.Context) error {
	incidents := m.db.Collection(collIncidents)
	_, err := incidents.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "updated_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "entity.host", Value: 1}}},
		{Keys: bson.D{{Key: "severity", Value: 1}}},
	})
	if err != nil {
		return errors.PersistenceError("create_indexes", err.Error())
	}

	alerts := m.db.Collection(collAlerts)
	if _, err := alerts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "incident_id", Value: 1}}},
		{Keys: bson.D{{Key: "ts", Value: -1}}},
	}); err != nil {
		return errors.PersistenceError("create_indexes", err.Error())
	}

	audits := m.db.Collection(collAudits)
	if _, err := audits.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "incident_id", Value: 1}}},
		{Keys: bson.D{{Key: "ts", Value: -1}}},
	}); err != nil {
		return errors.PersistenceError("create_indexes", err.Error())
	}

	return nil
}

// InsertEvents implements EventStore.
func (m *MongoStore) InsertEvents(ctx context.Context, evts []events.Event) error {
	if len(evts) == 0 {
		return nil
	}
	docs := make([]interface{}, len(evts))
	for i, e := range evts {
		docs[i] = e
	}
	if _, err := m.db.Collection(collEvents).InsertMany(ctx, docs); err != nil {
		return errors.PersistenceError("insert_events", err.Error())
	}
	return nil
}

// QueryRecentEvents implements EventStore.
func (m *MongoStore) QueryRecentEvents(ctx context.Context, limit int) ([]events.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "ts", Value: -1}}).SetLimit(int64(limit))
	cursor, err := m.db.Collection(collEvents).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, errors.PersistenceError("query_recent_events", err.Error())
	}
	defer cursor.Close(ctx)

	var out []events.Event
	if err := cursor.All(ctx, &out); err != nil {
		return nil, errors.PersistenceError("query_recent_events", err.Error())
	}
	return out, nil
}

// PruneExpiredEvents deletes normalized events older than the configured
// retention window, grounded on the reference implementation's periodic
// TTL sweep over events_ts.
func (m *MongoStore) PruneExpiredEvents(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-time.Duration(m.config.RetentionDays) * 24 * time.Hour)
	res, err := m.db.Collection(collEvents).DeleteMany(ctx, bson.M{"ts": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, errors.PersistenceError("prune_expired_events", err.Error())
	}
	return res.DeletedCount, nil
}

// UpsertIncident implements IncidentStore.
func (m *MongoStore) UpsertIncident(ctx context.Context, incident *events.Incident) error {
	filter := bson.M{"_id": incident.ID}
	update := bson.M{"$set": incident}
	opts := options.Update().SetUpsert(true)
	if _, err := m.db.Collection(collIncidents).UpdateOne(ctx, filter, update, opts); err != nil {
		return errors.PersistenceError("upsert_incident", err.Error())
	}
	return nil
}

// GetIncident implements IncidentStore.
func (m *MongoStore) GetIncident(ctx context.Context, id string) (*events.Incident, error) {
	var incident events.Incident
	err := m.db.Collection(collIncidents).FindOne(ctx, bson.M{"_id": id}).Decode(&incident)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.PersistenceError("get_incident", err.Error())
	}
	return &incident, nil
}

// QueryIncidents implements IncidentStore.
func (m *MongoStore) QueryIncidents(ctx context.Context, status *events.Status, limit int, afterID string) ([]*events.Incident, error) {
	filter := bson.M{}
	if status != nil {
		filter["status"] = string(*status)
	}
	if afterID != "" {
		filter["_id"] = bson.M{"$gt": afterID}
	}

	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}).SetLimit(int64(limit))
	cursor, err := m.db.Collection(collIncidents).Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.PersistenceError("query_incidents", err.Error())
	}
	defer cursor.Close(ctx)

	var out []*events.Incident
	if err := cursor.All(ctx, &out); err != nil {
		return nil, errors.PersistenceError("query_incidents", err.Error())
	}
	return out, nil
}

// InsertAlert persists an out-of-core alert payload.
func (m *MongoStore) InsertAlert(ctx context.Context, alert *events.Alert) error {
	if _, err := m.db.Collection(collAlerts).InsertOne(ctx, alert); err != nil {
		return errors.PersistenceError("insert_alert", err.Error())
	}
	return nil
}

// InsertAudit persists an audit trail entry (see pkg/audit).
func (m *MongoStore) InsertAudit(ctx context.Context, entry *events.AuditEntry) error {
	if _, err := m.db.Collection(collAudits).InsertOne(ctx, entry); err != nil {
		return errors.PersistenceError("insert_audit", err.Error())
	}
	return nil
}

// Watch implements changestream.ChangeSource over the incidents collection,
// filtered to insert/update/replace with full post-image lookup.
func (m *MongoStore) Watch(ctx context.Context) (<-chan changestream.Change, <-chan error) {
	changesCh := make(chan changestream.Change)
	errCh := make(chan error, 1)

	go func() {
		defer close(changesCh)

		pipeline := mongo.Pipeline{
			bson.D{{Key: "$match", Value: bson.D{
				{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace"}}}},
			}}},
		}
		opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

		stream, err := m.db.Collection(collIncidents).Watch(ctx, pipeline, opts)
		if err != nil {
			errCh <- errors.ChangeStreamError("watch", err.Error())
			return
		}
		defer stream.Close(ctx)

		for stream.Next(ctx) {
			var raw bson.M
			if err := stream.Decode(&raw); err != nil {
				m.logger.WithFields(logrus.Fields{
					"component": "store",
					"error":     err.Error(),
				}).Warn("change_process_error")
				continue
			}

			opType, _ := raw["operationType"].(string)
			change := changestream.Change{OperationType: opType}
			if full, ok := raw["fullDocument"]; ok {
				change.FullDocument = full
			} else if key, ok := raw["documentKey"]; ok {
				change.DocumentKey = key
			}

			select {
			case changesCh <- change:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			errCh <- errors.ChangeStreamError("watch", err.Error())
		}
	}()

	return changesCh, errCh
}
