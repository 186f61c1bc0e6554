package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battime/pkg/series"
)

// ErrCorrupt is returned when a persisted table cannot be used.
var ErrCorrupt = errors.New("corrupt profile table")

// Store persists one table per identity and mode.
type Store interface {
	Load(identity string, charging bool) (*Table, error)
	Save(identity string, charging bool, t *Table) error
}

var _ Store = &FileStore{}

// FileStore keeps tables as text files in a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

var identityReplacer = strings.NewReplacer(`\`, "_", "\t", "_", `"`, "_", "'", "_", " ", "_", "/", "_")

// Path returns the file used for identity and mode.
func (s *FileStore) Path(identity string, charging bool) string {
	return filepath.Join(s.dir, fmt.Sprintf("profile-%s-%s.csv", identityReplacer.Replace(identity), modeString(charging)))
}

func (s *FileStore) Load(identity string, charging bool) (*Table, error) {
	path := s.Path(identity, charging)
	fp, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open profile %s", path)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", path)
		}
	}(fp)

	s2 := series.New()
	s2.MaxPoints = 0
	s2.MaxWidth = 0
	if _, err := s2.ReadFrom(fp); err != nil {
		return nil, pkgerrors.Wrapf(ErrCorrupt, "failed to parse profile %s: %v", path, err)
	}

	t, err := tableFromSeries(s2)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "profile %s has %d usable lines", path, s2.Len())
	}
	return t, nil
}

// Save replaces the whole file.
func (s *FileStore) Save(identity string, charging bool, t *Table) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return pkgerrors.Wrapf(err, "failed to create profile directory %s", s.dir)
	}

	path := s.Path(identity, charging)
	tmp := path + ".tmp"
	fp, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", tmp)
	}

	_, err = t.toSeries().WriteTo(fp)
	if cerr := fp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return pkgerrors.Wrapf(err, "failed to write profile %s", tmp)
	}

	if err := os.Rename(tmp, path); err != nil {
		return pkgerrors.Wrapf(err, "failed to replace profile %s", path)
	}
	return nil
}

func modeString(charging bool) string {
	if charging {
		return "charging"
	}
	return "discharging"
}
