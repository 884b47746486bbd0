package streams

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Envelope is the message written to the research event stream. Data holds
// the JSON encoding of one pipeline event.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	RunID          string          `json:"run_id"`
	Seq            int             `json:"seq"`
	OccurredAt     time.Time       `json:"occurred_at"`
	PayloadVersion string          `json:"payload_version"`
	Data           json.RawMessage `json:"data"`
}

// ErrInvalidEnvelope wraps every envelope field problem.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// ValidateBasic checks the envelope fields before schema validation. A zero
// OccurredAt is stamped with the current time.
func (e *Envelope) ValidateBasic() error {
	var problems []string
	for field, missing := range map[string]bool{
		"event_id":        e.EventID == "",
		"event_type":      e.EventType == "",
		"run_id":          e.RunID == "",
		"payload_version": e.PayloadVersion == "",
		"data":            len(e.Data) == 0,
	} {
		if missing {
			problems = append(problems, field+" is required")
		}
	}
	if e.Seq < 1 {
		problems = append(problems, "seq must be >= 1")
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s", ErrInvalidEnvelope, strings.Join(problems, "; "))
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return nil
}

// Marshal validates and encodes e.
func (e *Envelope) Marshal() ([]byte, error) {
	if err := e.ValidateBasic(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// UnmarshalEnvelope parses and checks one stream entry.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := env.ValidateBasic(); err != nil {
		return env, err
	}
	return env, nil
}
