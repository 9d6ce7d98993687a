// Package audit records the incident audit trail: who changed what, and
// what generic actions operators or automation took against an incident.
package audit

import (
	"context"
	"time"

	"aegismind-siem/pkg/events"

	"github.com/sirupsen/logrus"
)

// Inserter is the persistence slice audit needs; *store.MongoStore
// satisfies it.
type Inserter interface {
	InsertAudit(ctx context.Context, entry *events.AuditEntry) error
}

// Writer records incident state changes and generic operator/automation
// actions to the audit trail.
type Writer struct {
	store  Inserter
	logger *logrus.Logger
}

// New builds a Writer backed by store.
func New(store Inserter, logger *logrus.Logger) *Writer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Writer{store: store, logger: logger}
}

// LogStateChange records an incident field transition, e.g. a status
// change from "open" to "closed" made by an operator or the API.
func (w *Writer) LogStateChange(ctx context.Context, actor, incidentID string, before, after interface{}) error {
	entry := &events.AuditEntry{
		TS:         time.Now(),
		Actor:      actor,
		Action:     "update_status",
		IncidentID: incidentID,
		Before:     before,
		After:      after,
	}

	if err := w.store.InsertAudit(ctx, entry); err != nil {
		return err
	}

	w.logger.WithFields(logrus.Fields{
		"component":   "audit",
		"actor":       actor,
		"incident_id": incidentID,
		"action":      entry.Action,
	}).Info("audit_logged")
	return nil
}

// LogAction records a generic operator or automation action that isn't a
// plain state transition, e.g. an alert dispatch or a manual override.
func (w *Writer) LogAction(ctx context.Context, actor, action, incidentID string, details interface{}) error {
	entry := &events.AuditEntry{
		TS:         time.Now(),
		Actor:      actor,
		Action:     action,
		IncidentID: incidentID,
		After:      details,
	}

	if err := w.store.InsertAudit(ctx, entry); err != nil {
		return err
	}

	w.logger.WithFields(logrus.Fields{
		"component": "audit",
		"actor":     actor,
		"action":    action,
	}).Info("audit_logged")
	return nil
}
