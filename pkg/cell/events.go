package cell

// EventKind is the type of a domain event raised by an Aggregator.
type EventKind int

const (
	EventCollectionChanged EventKind = iota
	EventPercentChanged
	EventChargingChanged
	EventDischargingChanged
	EventFullyCharged
	EventLowCapacity
	EventPerhapsRecall
)

func (k EventKind) String() string {
	switch k {
	case EventCollectionChanged:
		return "collection-changed"
	case EventPercentChanged:
		return "percent-changed"
	case EventChargingChanged:
		return "charging-changed"
	case EventDischargingChanged:
		return "discharging-changed"
	case EventFullyCharged:
		return "fully-charged"
	case EventLowCapacity:
		return "low-capacity"
	case EventPerhapsRecall:
		return "perhaps-recall"
	default:
		return "unknown"
	}
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is one state transition of an Aggregator.
type Event struct {
	Kind EventKind `json:"kind"`
	// Composite is the status right after the transition.
	Composite Composite `json:"composite"`

	// DeviceID, Capacity and the recall fields are only set on per-device
	// events.
	DeviceID     string  `json:"deviceId,omitempty"`
	Capacity     float64 `json:"capacity,omitempty"`
	RecallVendor string  `json:"recallVendor,omitempty"`
	RecallURL    string  `json:"recallUrl,omitempty"`
}

// Observer receives aggregator events in emission order.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}
