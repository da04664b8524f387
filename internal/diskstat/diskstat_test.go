package diskstat

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshCountsUploads(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "uploads"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "db"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uploads", "temp_a.jpg"), make([]byte, 100), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "db", "deepscan.db"), make([]byte, 40), 0o644))

	c := New(dir, time.Hour)
	c.Refresh()
	s := c.Get()
	assert.EqualValues(t, 140, s.DataBytes)
	assert.EqualValues(t, 100, s.UploadsBytes)
	assert.EqualValues(t, 40, s.LedgerBytes)
	assert.NotZero(t, s.TotalBytes)
	assert.False(t, s.CapturedAt.IsZero())
}

func TestAdmits(t *testing.T) {
	assert.True(t, Stats{}.Admits(1<<40, 0))

	s := Stats{TotalBytes: 1000, FreeBytes: 300, CapturedAt: time.Now()}
	assert.True(t, s.Admits(100, 200))
	assert.False(t, s.Admits(101, 200))
	assert.InDelta(t, 30, s.PctFree(), 1e-9)
}

func TestStopIsIdempotent(t *testing.T) {
	c := New(t.TempDir(), time.Millisecond)
	c.Start()
	c.Stop()
	c.Stop()
}
