// Package types holds the payloads shared by the daemon and its clients.
package types

import (
	"github.com/charlie0129/battime/pkg/cell"
	"github.com/charlie0129/battime/pkg/profile"
)

// KindStatus is the composite of one cell kind.
type KindStatus struct {
	Composite    cell.Composite `json:"composite"`
	Description  string         `json:"description"`
	WarningLevel string         `json:"warningLevel"`
	Condition    string         `json:"condition,omitempty"`
}

type Status struct {
	OnAC    bool   `json:"onAC"`
	Summary string `json:"summary"`
	// ProfileIdentity names the primary battery set the profile belongs to.
	ProfileIdentity string       `json:"profileIdentity"`
	ProfileTrusted  bool         `json:"profileTrusted"`
	Kinds           []KindStatus `json:"kinds"`
}

// Profile is one direction of the learned runtime profile.
type Profile struct {
	Identity        string           `json:"identity"`
	Mode            string           `json:"mode"`
	AccuracyAverage float64          `json:"accuracyAverage"`
	Trusted         bool             `json:"trusted"`
	Buckets         []profile.Bucket `json:"buckets"`
	// Estimate is the profile time from the current percentage in seconds.
	Estimate int64 `json:"estimate"`
}

type RatePoint struct {
	Time       int64 `json:"time"`
	Percentage int64 `json:"percentage"`
	// PercentPerHour is the magnitude of the percentage slope.
	PercentPerHour float64 `json:"percentPerHour"`
}

// Rate is the smoothed charge or discharge rate over recent history.
type Rate struct {
	Kind   string      `json:"kind"`
	Since  int64       `json:"since"`
	Slew   int         `json:"slew"`
	Points []RatePoint `json:"points"`
}
