package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType identifies what an event describes.
type EventType string

const (
	// EventState marks an engine state transition.
	EventState EventType = "state"
	// EventProgress is a periodic snapshot of the run counters.
	EventProgress EventType = "progress"
	// EventReport carries the final run report.
	EventReport EventType = "report"
)

// Validate checks that the event type is known.
func (t EventType) Validate() error {
	switch t {
	case EventState, EventProgress, EventReport:
		return nil
	}
	return fmt.Errorf("invalid event type: %q", t)
}

// Counts mirrors the run counters at the moment an event was emitted.
type Counts struct {
	Candidates int `json:"candidates"`
	Selected   int `json:"selected"`
	Attempted  int `json:"attempted"`
	Succeeded  int `json:"succeeded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Event is one message on the run events channel.
type Event struct {
	RunID  string          `json:"run_id"`
	Job    string          `json:"job"`
	Type   EventType       `json:"type"`
	State  string          `json:"state"`
	At     time.Time       `json:"at"`
	DryRun bool            `json:"dry_run,omitempty"`
	Counts Counts          `json:"counts"`
	Report json.RawMessage `json:"report,omitempty"`
}

// Validate checks the fields required to route and store an event.
func (e *Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run_id is required")
	}
	if e.Job == "" {
		return errors.New("job is required")
	}
	if err := e.Type.Validate(); err != nil {
		return err
	}
	if e.Type == EventReport && len(e.Report) == 0 {
		return errors.New("report events must carry a report")
	}
	return nil
}

// RunStatus is the latest stored status of a run.
type RunStatus struct {
	RunID     string
	Job       string
	State     string
	StartedAt time.Time
	UpdatedAt time.Time
	Counts    Counts
	Report    json.RawMessage
}
