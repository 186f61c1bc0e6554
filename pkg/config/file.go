package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/charlie0129/battime/pkg/warning"
)

const (
	DefaultPath = "/etc/battime.json"
	EnvPrefix   = "BATTIME"
)

// Duration is a time.Duration written as "10s" in the config file.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type HistoryConfig struct {
	Enabled   bool     `mapstructure:"enabled" json:"enabled"`
	Path      string   `mapstructure:"path" json:"path"`
	Retention Duration `mapstructure:"retention" json:"retention"`
}

type RawFileConfig struct {
	Policy             warning.Policy     `mapstructure:"policy" json:"policy"`
	Thresholds         warning.Thresholds `mapstructure:"thresholds" json:"thresholds"`
	Smoothing          int                `mapstructure:"smoothing" json:"smoothing"`
	UseProfile         bool               `mapstructure:"useProfile" json:"useProfile"`
	GapFill            bool               `mapstructure:"gapFill" json:"gapFill"`
	ChargedThreshold   float64            `mapstructure:"chargedThreshold" json:"chargedThreshold"`
	ChargedMargin      float64            `mapstructure:"chargedMargin" json:"chargedMargin"`
	ProfileDir         string             `mapstructure:"profileDir" json:"profileDir"`
	History            HistoryConfig      `mapstructure:"history" json:"history"`
	PollInterval       Duration           `mapstructure:"pollInterval" json:"pollInterval"`
	AllowNonRootAccess bool               `mapstructure:"allowNonRootAccess" json:"allowNonRootAccess"`
}

func setDefaults(v *viper.Viper) {
	th := warning.DefaultThresholds()
	v.SetDefault("policy", warning.PolicyTime.String())
	v.SetDefault("thresholds.percentageLow", th.PercentageLow)
	v.SetDefault("thresholds.percentageCritical", th.PercentageCritical)
	v.SetDefault("thresholds.percentageAction", th.PercentageAction)
	v.SetDefault("thresholds.timeLow", th.TimeLow)
	v.SetDefault("thresholds.timeCritical", th.TimeCritical)
	v.SetDefault("thresholds.timeAction", th.TimeAction)
	v.SetDefault("smoothing", 80)
	v.SetDefault("useProfile", false)
	v.SetDefault("gapFill", false)
	v.SetDefault("chargedThreshold", 90.0)
	v.SetDefault("chargedMargin", 5.0)
	v.SetDefault("profileDir", "/var/lib/battime")
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "/var/lib/battime/history.db")
	v.SetDefault("history.retention", "720h")
	v.SetDefault("pollInterval", "10s")
	v.SetDefault("allowNonRootAccess", false)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
		)
	}
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	return v
}

// DefaultRawFileConfig returns the built-in defaults.
func DefaultRawFileConfig() *RawFileConfig {
	c, err := decode(newViper(DefaultPath))
	if err != nil {
		// defaults are static, this cannot fail
		panic(err)
	}
	return c
}

func decode(v *viper.Viper) (*RawFileConfig, error) {
	conf := &RawFileConfig{}
	if err := v.Unmarshal(conf, decodeHook()); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to decode config")
	}
	return conf, nil
}

// Validate checks value ranges.
func (c *RawFileConfig) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.Smoothing < 0 || c.Smoothing > 100 {
		return fmt.Errorf("smoothing must be between 0 and 100, got %d", c.Smoothing)
	}
	if c.ChargedThreshold <= 0 || c.ChargedThreshold > 100 {
		return fmt.Errorf("chargedThreshold must be between 0 and 100, got %v", c.ChargedThreshold)
	}
	if c.ChargedMargin < 0 || c.ChargedMargin >= c.ChargedThreshold {
		return fmt.Errorf("chargedMargin must be between 0 and chargedThreshold, got %v", c.ChargedMargin)
	}
	if time.Duration(c.PollInterval) < time.Second {
		return fmt.Errorf("pollInterval must be at least 1s, got %s", time.Duration(c.PollInterval))
	}
	if c.History.Retention < 0 {
		return fmt.Errorf("history.retention cannot be negative")
	}
	return nil
}

// NewRawFileConfigFromConfig snapshots any Config into its file form.
func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	return &RawFileConfig{
		Policy:           c.Policy(),
		Thresholds:       c.Thresholds(),
		Smoothing:        c.Smoothing(),
		UseProfile:       c.UseProfile(),
		GapFill:          c.GapFill(),
		ChargedThreshold: c.ChargedThreshold(),
		ChargedMargin:    c.ChargedMargin(),
		ProfileDir:       c.ProfileDir(),
		History: HistoryConfig{
			Enabled:   c.HistoryEnabled(),
			Path:      c.HistoryPath(),
			Retention: Duration(c.HistoryRetention()),
		},
		PollInterval:       Duration(c.PollInterval()),
		AllowNonRootAccess: c.AllowNonRootAccess(),
	}, nil
}

var _ Config = &File{}

// File is a JSON config file layered with BATTIME_* environment overrides.
type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string

	watcher *viper.Viper
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = DefaultRawFileConfig()
	}

	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

func (f *File) Path() string {
	return f.filepath
}

func (f *File) Policy() warning.Policy {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.c.Policy
}

func (f *File) Thresholds() warning.Thresholds {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.c.Thresholds
}

func (f *File) Smoothing() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.c.Smoothing
}

func (f *File) UseProfile() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.c.UseProfile
}

func (f *File) GapFill() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.c.GapFill
}

func (f *File) ChargedThreshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.c.ChargedThreshold
}

func (f *File) ChargedMargin() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.c.ChargedMargin
}

func (f *File) ProfileDir() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.c.ProfileDir
}

func (f *File) HistoryEnabled() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.c.History.Enabled
}

func (f *File) HistoryPath() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.c.History.Path
}

func (f *File) HistoryRetention() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return time.Duration(f.c.History.Retention)
}

func (f *File) PollInterval() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return time.Duration(f.c.PollInterval)
}

func (f *File) AllowNonRootAccess() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.c.AllowNonRootAccess
}

func (f *File) SetPolicy(p warning.Policy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Policy = p
}

func (f *File) SetThresholds(th warning.Thresholds) error {
	if err := th.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Thresholds = th
	return nil
}

func (f *File) SetSmoothing(i int) error {
	if i < 0 || i > 100 {
		return fmt.Errorf("smoothing must be between 0 and 100, got %d", i)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Smoothing = i
	return nil
}

func (f *File) SetUseProfile(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.UseProfile = b
}

func (f *File) SetGapFill(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.GapFill = b
}

func (f *File) SetAllowNonRootAccess(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.AllowNonRootAccess = b
}

// Raw returns a copy of the current values.
func (f *File) Raw() RawFileConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return *f.c
}

// Load reads the file and the environment on top of the defaults. A missing
// or empty file yields the defaults.
func (f *File) Load() error {
	v := newViper(f.filepath)

	b, err := os.ReadFile(f.filepath)
	switch {
	case os.IsNotExist(err):
		logrus.WithField("path", f.filepath).Debug("config file does not exist, using defaults")
	case err != nil:
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	case len(bytes.TrimSpace(b)) == 0:
		logrus.WithField("path", f.filepath).Debug("config file is empty, using defaults")
	default:
		if err := v.ReadConfig(bytes.NewReader(b)); err != nil {
			return pkgerrors.Wrapf(err, "failed to parse config file %s", f.filepath)
		}
	}

	conf, err := decode(v)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to load config from %s", f.filepath)
	}
	if err := conf.Validate(); err != nil {
		return pkgerrors.Wrapf(err, "invalid config in %s", f.filepath)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c = conf
	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	if err := os.MkdirAll(filepath.Dir(f.filepath), 0755); err != nil {
		return pkgerrors.Wrapf(err, "failed to create directory for %s", f.filepath)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f.c); err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config for %s", f.filepath)
	}

	// Write then rename so a watcher never reads a half-written file.
	tmp := f.filepath + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return pkgerrors.Wrapf(err, "failed to write file %s", tmp)
	}
	if err := os.Rename(tmp, f.filepath); err != nil {
		_ = os.Remove(tmp)
		return pkgerrors.Wrapf(err, "failed to replace file %s", f.filepath)
	}

	return nil
}

// Watch reloads the file whenever it is written and then calls onChange.
// Invalid edits are logged and the previous values are kept.
func (f *File) Watch(onChange func()) {
	v := newViper(f.filepath)
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		entry := logrus.WithFields(logrus.Fields{
			"path": e.Name,
			"op":   e.Op.String(),
		})
		if err := f.Load(); err != nil {
			entry.WithError(err).Error("config file changed but could not be loaded, keeping the previous config")
			return
		}
		entry.WithFields(f.LogrusFields()).Info("config reloaded")
		if onChange != nil {
			onChange()
		}
	})
	v.WatchConfig()

	f.mu.Lock()
	f.watcher = v
	f.mu.Unlock()
}

func (f *File) LogrusFields() logrus.Fields {
	c := f.Raw()
	return logrus.Fields{
		"policy":             c.Policy.String(),
		"thresholds":         c.Thresholds,
		"smoothing":          c.Smoothing,
		"useProfile":         c.UseProfile,
		"gapFill":            c.GapFill,
		"chargedThreshold":   c.ChargedThreshold,
		"chargedMargin":      c.ChargedMargin,
		"profileDir":         c.ProfileDir,
		"historyEnabled":     c.History.Enabled,
		"historyPath":        c.History.Path,
		"historyRetention":   time.Duration(c.History.Retention).String(),
		"pollInterval":       time.Duration(c.PollInterval).String(),
		"allowNonRootAccess": c.AllowNonRootAccess,
	}
}
