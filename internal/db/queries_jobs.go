package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/YannKr/deepscan/internal/model"
)

// UpsertJob records a job as PENDING, resetting any earlier run with the
// same id.
func UpsertJob(database *sql.DB, id, sourceURL string) error {
	_, err := database.Exec(
		`INSERT INTO jobs (id, source_url, state) VALUES (?, ?, 'PENDING')
		 ON CONFLICT(id) DO UPDATE SET
		     source_url = excluded.source_url,
		     media_kind = '',
		     state = 'PENDING',
		     risk_level = '',
		     score = NULL,
		     error = '',
		     created_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now'),
		     finished_at = NULL`,
		id, sourceURL,
	)
	return err
}

func SetJobMediaKind(database *sql.DB, id string, kind model.MediaKind) error {
	_, err := database.Exec(`UPDATE jobs SET media_kind = ? WHERE id = ?`, string(kind), id)
	return err
}

// CompleteJob stores the terminal success state.
func CompleteJob(database *sql.DB, id string, risk model.RiskLevel, score float64) error {
	_, err := database.Exec(
		`UPDATE jobs SET state = 'REPORTED_SUCCESS', risk_level = ?, score = ?, error = '',
		     finished_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ?`,
		string(risk), score, id,
	)
	return err
}

// FailJob stores the terminal error state.
func FailJob(database *sql.DB, id, errorMsg string) error {
	_, err := database.Exec(
		`UPDATE jobs SET state = 'REPORTED_ERROR', error = ?,
		     finished_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ?`,
		errorMsg, id,
	)
	return err
}

// GetJob returns nil, nil when the job is unknown.
func GetJob(database *sql.DB, id string) (*model.JobRecord, error) {
	j := &model.JobRecord{}
	var score sql.NullFloat64
	var createdAt, finishedAt SQLiteTime
	err := database.QueryRow(
		`SELECT id, source_url, media_kind, state, risk_level, score, error, created_at, finished_at
		 FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.SourceURL, &j.MediaKind, &j.State, &j.RiskLevel, &score, &j.Error, &createdAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if score.Valid {
		j.Score = &score.Float64
	}
	j.CreatedAt = createdAt.Time
	if finishedAt.Valid {
		j.FinishedAt = &finishedAt.Time
	}
	return j, nil
}

// PruneFinishedJobs deletes terminal jobs finished before cutoff.
func PruneFinishedJobs(database *sql.DB, cutoff time.Time) (int64, error) {
	res, err := database.Exec(
		`DELETE FROM jobs WHERE state != 'PENDING' AND finished_at < ?`,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
