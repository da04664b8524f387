package db

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deepscan "github.com/YannKr/deepscan"
	"github.com/YannKr/deepscan/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, Migrate(database, deepscan.MigrationFS))
	return database
}

func TestMigrateIsIdempotent(t *testing.T) {
	database := openTestDB(t)
	require.NoError(t, Migrate(database, deepscan.MigrationFS))

	var n int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM _migrations`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestJobLifecycle(t *testing.T) {
	database := openTestDB(t)

	job, err := GetJob(database, "missing")
	require.NoError(t, err)
	assert.Nil(t, job)

	require.NoError(t, UpsertJob(database, "j1", "https://x/a.png"))
	require.NoError(t, SetJobMediaKind(database, "j1", model.MediaImage))
	require.NoError(t, CompleteJob(database, "j1", model.RiskHigh, 0.85))

	job, err = GetJob(database, "j1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, model.JobReportedSuccess, job.State)
	assert.Equal(t, "image", job.MediaKind)
	assert.Equal(t, "HIGHRISK", job.RiskLevel)
	require.NotNil(t, job.Score)
	assert.Equal(t, 0.85, *job.Score)
	require.NotNil(t, job.FinishedAt)

	// Resubmission resets the row.
	require.NoError(t, UpsertJob(database, "j1", "https://x/b.png"))
	job, err = GetJob(database, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.State)
	assert.Equal(t, "https://x/b.png", job.SourceURL)
	assert.Nil(t, job.Score)
	assert.Nil(t, job.FinishedAt)

	require.NoError(t, FailJob(database, "j1", "fetch: status 404"))
	job, err = GetJob(database, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobReportedError, job.State)
	assert.Equal(t, "fetch: status 404", job.Error)
}

func TestCallbackDeliveries(t *testing.T) {
	database := openTestDB(t)
	status := 200
	old := time.Now().Add(-48 * time.Hour)

	require.NoError(t, CreateCallbackDelivery(database, &model.CallbackDelivery{
		ID: "d1", JobID: "j1", Kind: "result", ResponseStatus: &status, BodyPreview: "ok", AttemptedAt: old,
	}))
	require.NoError(t, CreateCallbackDelivery(database, &model.CallbackDelivery{
		ID: "d2", JobID: "j1", Kind: "error", ErrorMessage: "connection refused", AttemptedAt: time.Now(),
	}))

	ds, err := ListCallbackDeliveries(database, "j1")
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, "d1", ds[0].ID)
	require.NotNil(t, ds[0].ResponseStatus)
	assert.Equal(t, 200, *ds[0].ResponseStatus)
	assert.Nil(t, ds[1].ResponseStatus)
	assert.Equal(t, "connection refused", ds[1].ErrorMessage)

	n, err := PruneOldCallbackDeliveries(database, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestPruneFinishedJobs(t *testing.T) {
	database := openTestDB(t)
	require.NoError(t, UpsertJob(database, "done", "u"))
	require.NoError(t, FailJob(database, "done", "x"))
	require.NoError(t, UpsertJob(database, "open", "u"))

	n, err := PruneFinishedJobs(database, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	job, err := GetJob(database, "open")
	require.NoError(t, err)
	assert.NotNil(t, job)
}
