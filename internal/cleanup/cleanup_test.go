package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deepscan "github.com/YannKr/deepscan"
	"github.com/YannKr/deepscan/internal/db"
	"github.com/YannKr/deepscan/internal/testsupport"
)

func age(t *testing.T, path string, d time.Duration) {
	t.Helper()
	old := time.Now().Add(-d)
	require.NoError(t, os.Chtimes(path, old, old))
}

func TestSweepRemovesOnlyOldArtifacts(t *testing.T) {
	dir := t.TempDir()
	write := func(name string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		return p
	}
	oldTemp := write("temp_old.jpg")
	oldConverted := write("converted_old.jpg")
	freshTemp := write("temp_new.jpg")
	keep := write("README")
	frames := filepath.Join(dir, "frames_abc")
	require.NoError(t, os.MkdirAll(frames, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(frames, "frame_0001.jpg"), []byte("f"), 0o644))

	age(t, oldTemp, 2*time.Hour)
	age(t, oldConverted, 2*time.Hour)
	age(t, keep, 2*time.Hour)
	age(t, frames, 2*time.Hour)

	c := &Cleaner{UploadsDir: dir, MaxAge: time.Hour}
	c.RunOnce(time.Now())

	assert.ElementsMatch(t, []string{"temp_new.jpg", "README"}, testsupport.Entries(t, dir))
	assert.FileExists(t, freshTemp)
}

func TestRunOncePrunesLedger(t *testing.T) {
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.Migrate(database, deepscan.MigrationFS))

	require.NoError(t, db.UpsertJob(database, "j", "u"))
	require.NoError(t, db.FailJob(database, "j", "boom"))

	c := &Cleaner{DB: database, UploadsDir: filepath.Join(t.TempDir(), "missing"), MaxAge: time.Hour}
	c.RunOnce(time.Now().Add(ledgerRetention + time.Hour))

	job, err := db.GetJob(database, "j")
	require.NoError(t, err)
	assert.Nil(t, job)
}
