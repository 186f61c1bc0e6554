package events

import "encoding/json"

// Event name constants
const (
	// CellPrefix is followed by the aggregator event kind, e.g.
	// "cell.percent-changed".
	CellPrefix    = "cell."
	WarningLevel  = "warning.level"
	PowerAction   = "power.action"
	ProfileSample = "profile.sample"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
	Time int64           // Unix seconds when published
}

// CellEvent is the typed payload for cell.* events.
type CellEvent struct {
	Kind         string  `json:"kind"`
	Event        string  `json:"event"`
	Percentage   float64 `json:"percentage"`
	Charging     bool    `json:"charging"`
	Discharging  bool    `json:"discharging"`
	DeviceID     string  `json:"deviceId,omitempty"`
	Capacity     float64 `json:"capacity,omitempty"`
	RecallVendor string  `json:"recallVendor,omitempty"`
	RecallURL    string  `json:"recallUrl,omitempty"`
	Message      string  `json:"message,omitempty"`
}

// WarningEvent is the typed payload for warning.level.
type WarningEvent struct {
	Kind       string  `json:"kind"`
	Level      string  `json:"level"`
	Title      string  `json:"title,omitempty"`
	Percentage float64 `json:"percentage"`
	// TimeRemaining is in seconds.
	TimeRemaining int64  `json:"timeRemaining"`
	Message       string `json:"message,omitempty"`
}

// PowerActionEvent is the typed payload for power.action. The daemon only
// announces the action; something else has to carry it out.
type PowerActionEvent struct {
	Kind   string `json:"kind"`
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// ProfileSampleEvent is the typed payload for profile.sample.
type ProfileSampleEvent struct {
	Percentage  int     `json:"percentage"`
	Discharging bool    `json:"discharging"`
	Result      string  `json:"result"`
	Accuracy    float64 `json:"accuracy"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.WarningEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Kind, payload.Level)
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
