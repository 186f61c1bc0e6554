package warning

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battime/pkg/cell"
)

// DefaultTrustFloor is the profile accuracy average below which no automatic
// power action is triggered for the primary battery.
const DefaultTrustFloor = 40

// Trust reports how well the runtime profile has been learned.
type Trust interface {
	AccuracyAverage(discharging bool) float64
}

// Decision is the outcome of one Evaluate call.
type Decision struct {
	Kind  cell.Kind `json:"kind"`
	Level Level     `json:"level"`
	// Emit is set when Level is new for this discharge episode.
	Emit bool `json:"emit"`
	// TriggerAction is set when a power action should run.
	TriggerAction bool `json:"triggerAction"`
}

type power struct {
	seen     bool
	charging bool
	onAC     bool
}

// Engine remembers the highest level reported per kind, so each level is
// reported at most once until the power state changes.
type Engine struct {
	mu sync.Mutex

	policy     Policy
	thresholds Thresholds
	trust      Trust
	trustFloor float64

	last  map[cell.Kind]Level
	power map[cell.Kind]power
}

// NewEngine creates an engine. trust may be nil, in which case no action is
// ever triggered for the primary battery.
func NewEngine(policy Policy, th Thresholds, trust Trust) *Engine {
	return &Engine{
		policy:     policy,
		thresholds: th,
		trust:      trust,
		trustFloor: DefaultTrustFloor,
		last:       make(map[cell.Kind]Level),
		power:      make(map[cell.Kind]power),
	}
}

func (e *Engine) SetPolicy(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = p
}

func (e *Engine) SetThresholds(th Thresholds) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.thresholds = th
}

func (e *Engine) Policy() Policy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.policy
}

// Last returns the last emitted level for kind.
func (e *Engine) Last(kind cell.Kind) Level {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last[kind]
}

// Reset forgets the last emitted level for kind.
func (e *Engine) Reset(kind cell.Kind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last[kind] = LevelNone
}

// Evaluate classifies c and decides whether the result is worth reporting.
// Levels only escalate. A change of the charging state or of the AC state
// starts a new episode.
func (e *Engine) Evaluate(c cell.Composite, onAC bool) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := logrus.WithField("kind", c.Kind.String())

	p := e.power[c.Kind]
	if p.seen && (p.charging != c.IsCharging || p.onAC != onAC) {
		if e.last[c.Kind] != LevelNone {
			entry.WithFields(logrus.Fields{
				"last":     e.last[c.Kind].String(),
				"charging": c.IsCharging,
				"onAC":     onAC,
			}).Debug("power state changed, resetting warning level")
		}
		e.last[c.Kind] = LevelNone
	}
	e.power[c.Kind] = power{seen: true, charging: c.IsCharging, onAC: onAC}

	d := Decision{
		Kind:  c.Kind,
		Level: Classify(c, e.policy, e.thresholds),
	}
	if d.Level <= e.last[c.Kind] {
		entry.WithField("level", d.Level.String()).Trace("warning level not escalated")
		return d
	}

	e.last[c.Kind] = d.Level
	d.Emit = true

	if d.Level == LevelAction {
		d.TriggerAction = e.actionAllowedLocked(c.Kind)
		if !d.TriggerAction {
			entry.Warn("action level reached but the runtime profile is not trusted yet, not triggering an action")
		}
	}

	entry.WithFields(logrus.Fields{
		"level":  d.Level.String(),
		"action": d.TriggerAction,
	}).Debug("warning level escalated")
	return d
}

func (e *Engine) actionAllowedLocked(kind cell.Kind) bool {
	if kind != cell.KindPrimary {
		return true
	}
	if e.trust == nil {
		return false
	}
	return e.trust.AccuracyAverage(true) >= e.trustFloor
}
