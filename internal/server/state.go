package server

import (
	"strconv"
	"time"

	"github.com/tejusbharadwaj/babelgas/internal/models"
)

const (
	StateUnavailable = "unavailable"
	StateUnknown     = "unknown"

	entityDomain = "sensor"
)

// StateObject is the Home Assistant style rendering of an entity.
type StateObject struct {
	EntityID    string                 `json:"entity_id"`
	EntryID     string                 `json:"entry_id,omitempty"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastUpdated string                 `json:"last_updated,omitempty"`
}

// EntityID derives the entity id published for uniqueID.
func EntityID(uniqueID string) string {
	return entityDomain + "." + uniqueID
}

func renderState(s models.EntityState) StateObject {
	attrs := make(map[string]interface{}, len(s.Attributes)+4)
	for k, v := range s.Attributes {
		attrs[k] = v
	}
	attrs["friendly_name"] = s.Name
	attrs["icon"] = s.Icon
	attrs["unit_of_measurement"] = s.UnitOfMeasurement

	state := StateUnknown
	switch {
	case !s.Available:
		state = StateUnavailable
	case s.State != nil:
		state = strconv.FormatFloat(*s.State, 'f', -1, 64)
	}

	out := StateObject{
		EntityID:   EntityID(s.UniqueID),
		EntryID:    s.EntryID,
		State:      state,
		Attributes: attrs,
	}
	if !s.LastAttempt.IsZero() {
		out.LastUpdated = s.LastAttempt.UTC().Format(time.RFC3339Nano)
	}
	return out
}
