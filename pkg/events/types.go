package events

import "encoding/json"

// Event name constants
const (
	StageStarted  = "sequence.stage"
	StageFinished = "sequence.finished"
	Snapshot      = "sequence.snapshot"
	Awaiting      = "sequence.awaiting"
	RunAborted    = "sequence.aborted"
	SafetyStop    = "safety.stop"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// StageEvent is the payload of sequence.stage and sequence.finished.
type StageEvent struct {
	RunID   string `json:"runId"`
	Stage   int    `json:"stage"`
	Name    string `json:"name"`
	Outcome string `json:"outcome,omitempty"`
	Next    string `json:"next,omitempty"`
	Ts      int64  `json:"ts"`
}

// AwaitingEvent is the payload of sequence.awaiting. An empty Prompt
// means the question was answered.
type AwaitingEvent struct {
	RunID  string `json:"runId"`
	Stage  int    `json:"stage"`
	Prompt string `json:"prompt"`
	Ts     int64  `json:"ts"`
}

// AbortEvent is the payload of sequence.aborted and safety.stop.
type AbortEvent struct {
	RunID     string `json:"runId,omitempty"`
	Reason    string `json:"reason"`
	HeatersOK bool   `json:"heatersOk"`
	Ts        int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.StageEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Stage, payload.Name)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
