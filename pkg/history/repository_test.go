package history

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/battime/pkg/cell"
)

func newTestRepository(t *testing.T) (Repository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db", "history.db")
	repo, err := NewRepository(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo, path
}

func TestRepository_RecordSincePrune(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i := 0; i < 5; i++ {
		c := cell.Composite{
			Kind:          cell.KindPrimary,
			IsDischarging: true,
			Percentage:    float64(80 - i),
			Rate:          9000,
			TimeDischarge: int64(20000 - i*300),
		}
		require.NoError(t, repo.Record(ctx, SampleFromComposite(base.Add(time.Duration(i)*time.Minute), c, false, "none")))
	}
	require.NoError(t, repo.Record(ctx, Sample{Time: base, Kind: cell.KindUPS, Percentage: 100, OnAC: true, WarningLevel: "none"}))

	got, err := repo.Since(ctx, cell.KindPrimary, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 78.0, got[0].Percentage)
	assert.Equal(t, int64(19400), got[0].TimeDischarge)
	assert.True(t, got[0].Discharging)
	assert.False(t, got[0].Charging)
	assert.Equal(t, base.Add(2*time.Minute).Unix(), got[0].Time.Unix())
	assert.Equal(t, cell.KindPrimary, got[2].Kind)

	ups, err := repo.Since(ctx, cell.KindUPS, time.Time{})
	require.NoError(t, err)
	require.Len(t, ups, 1)
	assert.True(t, ups[0].OnAC)

	n, err := repo.Prune(ctx, base.Add(3*time.Minute))
	require.NoError(t, err)
	// three primary samples and the ups one
	assert.Equal(t, int64(4), n)

	got, err = repo.Since(ctx, cell.KindPrimary, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRepository_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	repo, err := NewRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.Record(context.Background(), Sample{Time: time.Unix(100, 0), Kind: cell.KindPrimary, Percentage: 42}))
	require.NoError(t, repo.Close())

	repo, err = NewRepository(path)
	require.NoError(t, err)
	defer repo.Close()
	got, err := repo.Since(context.Background(), cell.KindPrimary, time.Unix(0, 0))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 42.0, got[0].Percentage)
}

func TestRepository_OldSchemaRecreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at INTEGER NOT NULL);
		INSERT INTO schema_versions VALUES (99, 0);
		CREATE TABLE samples (id INTEGER PRIMARY KEY, legacy TEXT);`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	repo, err := NewRepository(path)
	require.NoError(t, err)
	defer repo.Close()
	require.NoError(t, repo.Record(context.Background(), Sample{Time: time.Unix(100, 0), Kind: cell.KindPrimary}))
}

func TestNewRepository_EmptyPath(t *testing.T) {
	_, err := NewRepository("")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestPercentSeries(t *testing.T) {
	s := PercentSeries([]Sample{
		{Time: time.Unix(10, 0), Percentage: 50.6},
		{Time: time.Unix(20, 0), Percentage: 49, Discharging: true},
	})
	require.Equal(t, 2, s.Len())
	p, _ := s.Get(0)
	assert.Equal(t, int64(10), p.X)
	assert.Equal(t, int64(50), p.Y)
	assert.Equal(t, int64(0), p.Tag)
	p, _ = s.Get(1)
	assert.Equal(t, int64(1), p.Tag)
}
