package telemetry

import (
	pkgerrors "github.com/pkg/errors"
	"github.com/shirou/gopsutil/load"
)

// SystemLoad reads the one-minute load average.
type SystemLoad struct{}

func (SystemLoad) Load() (float64, error) {
	avg, err := load.Avg()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to read load average")
	}
	return avg.Load1, nil
}
