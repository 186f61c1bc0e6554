package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/battime/pkg/warning"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "battime.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewFile_Defaults(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, warning.PolicyTime, f.Policy())
	assert.Equal(t, warning.DefaultThresholds(), f.Thresholds())
	assert.Equal(t, 80, f.Smoothing())
	assert.False(t, f.UseProfile())
	assert.False(t, f.GapFill())
	assert.Equal(t, 90.0, f.ChargedThreshold())
	assert.Equal(t, 5.0, f.ChargedMargin())
	assert.Equal(t, "/var/lib/battime", f.ProfileDir())
	assert.True(t, f.HistoryEnabled())
	assert.Equal(t, 720*time.Hour, f.HistoryRetention())
	assert.Equal(t, 10*time.Second, f.PollInterval())
	assert.False(t, f.AllowNonRootAccess())
}

func TestNewFile_Empty(t *testing.T) {
	f, err := NewFile(writeConfig(t, "  \n"))
	require.NoError(t, err)
	assert.Equal(t, 80, f.Smoothing())
}

func TestNewFile_PartialOverrides(t *testing.T) {
	path := writeConfig(t, `{
  "policy": "percentage",
  "thresholds": {"percentageLow": 15},
  "useProfile": true,
  "history": {"retention": "48h"},
  "pollInterval": "30s"
}`)
	f, err := NewFile(path)
	require.NoError(t, err)

	assert.Equal(t, warning.PolicyPercentage, f.Policy())
	th := f.Thresholds()
	assert.Equal(t, 15.0, th.PercentageLow)
	assert.Equal(t, 3.0, th.PercentageCritical)
	assert.Equal(t, int64(1200), th.TimeLow)
	assert.True(t, f.UseProfile())
	assert.Equal(t, 48*time.Hour, f.HistoryRetention())
	assert.True(t, f.HistoryEnabled())
	assert.Equal(t, 30*time.Second, f.PollInterval())
}

func TestNewFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad json", `{"policy": `},
		{"smoothing out of range", `{"smoothing": 150}`},
		{"thresholds out of order", `{"thresholds": {"percentageCritical": 50}}`},
		{"unknown policy", `{"policy": "auto"}`},
		{"poll too fast", `{"pollInterval": "10ms"}`},
		{"margin above threshold", `{"chargedThreshold": 50, "chargedMargin": 60}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFile(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestNewFile_EnvOverride(t *testing.T) {
	t.Setenv("BATTIME_SMOOTHING", "50")
	t.Setenv("BATTIME_HISTORY_ENABLED", "false")
	f, err := NewFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, 50, f.Smoothing())
	assert.False(t, f.HistoryEnabled())
}

func TestFile_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "battime.json")
	f := NewFileFromConfig(nil, path)

	f.SetPolicy(warning.PolicyPercentage)
	f.SetUseProfile(true)
	f.SetGapFill(true)
	f.SetAllowNonRootAccess(true)
	require.NoError(t, f.SetSmoothing(60))
	th := warning.DefaultThresholds()
	th.TimeLow = 1800
	require.NoError(t, f.SetThresholds(th))
	require.NoError(t, f.Save())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"policy": "percentage"`)
	assert.Contains(t, string(b), `"retention": "720h0m0s"`)

	g, err := NewFile(path)
	require.NoError(t, err)
	assert.Equal(t, f.Raw(), g.Raw())
}

func TestFile_SettersValidate(t *testing.T) {
	f := NewFileFromConfig(nil, "")
	assert.Error(t, f.SetSmoothing(-1))
	assert.Equal(t, 80, f.Smoothing())

	th := warning.DefaultThresholds()
	th.TimeAction = th.TimeLow + 1
	assert.Error(t, f.SetThresholds(th))
	assert.Equal(t, warning.DefaultThresholds(), f.Thresholds())
}

func TestNewRawFileConfigFromConfig(t *testing.T) {
	_, err := NewRawFileConfigFromConfig(nil)
	assert.Error(t, err)

	f := NewFileFromConfig(nil, "")
	f.SetGapFill(true)
	raw, err := NewRawFileConfigFromConfig(f)
	require.NoError(t, err)
	assert.Equal(t, f.Raw(), *raw)
}

func TestFile_LogrusFields(t *testing.T) {
	f := NewFileFromConfig(nil, "")
	fields := f.LogrusFields()
	assert.Equal(t, "time", fields["policy"])
	assert.Equal(t, "10s", fields["pollInterval"])
}
