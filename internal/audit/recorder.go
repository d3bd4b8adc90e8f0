// Package audit appends audit trail rows next to mutations.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"

	"github.com/iliyamo/clinic-management/internal/metrics"
	"github.com/iliyamo/clinic-management/internal/model"
)

// Appender persists one audit row.
type Appender interface {
	Append(ctx context.Context, entry *model.AuditLog) error
}

// Entry describes one audited action.
type Entry struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Details    string
	Metadata   map[string]any
}

// Recorder writes entries after the mutation they describe has succeeded.
// The write is not part of the mutation's transaction: a failed write is
// logged and counted but never undoes the mutation or fails the request.
type Recorder struct {
	store Appender
}

func NewRecorder(store Appender) *Recorder { return &Recorder{store: store} }

// Record appends e. It returns whether the row was stored.
func (r *Recorder) Record(ctx context.Context, e Entry) bool {
	row := &model.AuditLog{
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Details:    e.Details,
	}
	if e.ActorID != "" {
		actor := e.ActorID
		row.UserID = &actor
	}
	if len(e.Metadata) > 0 {
		if raw, err := json.Marshal(e.Metadata); err == nil {
			row.Metadata = datatypes.JSON(raw)
		}
	}

	// the client may hang up once the mutation is done; keep the write alive
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := r.store.Append(wctx, row); err != nil {
		metrics.AuditFailures.Inc()
		log.Error().Err(err).
			Str("action", e.Action).
			Str("entity_type", e.EntityType).
			Str("entity_id", e.EntityID).
			Msg("audit: append failed")
		return false
	}
	return true
}
