package config

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battime/pkg/warning"
)

type Config interface {
	Policy() warning.Policy
	Thresholds() warning.Thresholds
	Smoothing() int
	UseProfile() bool
	GapFill() bool
	ChargedThreshold() float64
	ChargedMargin() float64
	ProfileDir() string
	HistoryEnabled() bool
	HistoryPath() string
	HistoryRetention() time.Duration
	PollInterval() time.Duration
	AllowNonRootAccess() bool

	SetPolicy(warning.Policy)
	SetThresholds(warning.Thresholds) error
	SetSmoothing(int) error
	SetUseProfile(bool)
	SetGapFill(bool)
	SetAllowNonRootAccess(bool)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error

	LogrusFields() logrus.Fields
}
