package outbox

import (
	"encoding/json"
	"time"
)

// ActorRef identifies who triggered the event: a validator recording a
// decision, or the workflow acting on its own.
type ActorRef struct {
	Subject string `json:"subject"`
	Role    string `json:"role,omitempty"`
}

// PayloadEnvelope is the versioned wrapper every quote lifecycle event is
// stored and published in. Consumers switch on Version before decoding Data,
// so payload shapes can evolve without breaking subscribers mid-stream.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
