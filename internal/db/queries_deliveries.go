package db

import (
	"database/sql"
	"time"

	"github.com/YannKr/deepscan/internal/model"
)

func CreateCallbackDelivery(database *sql.DB, d *model.CallbackDelivery) error {
	var status sql.NullInt64
	if d.ResponseStatus != nil {
		status = sql.NullInt64{Int64: int64(*d.ResponseStatus), Valid: true}
	}
	_, err := database.Exec(
		`INSERT INTO callback_deliveries (id, job_id, kind, response_status, body_preview, error_message, attempted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.JobID, d.Kind, status, d.BodyPreview, d.ErrorMessage, formatTime(d.AttemptedAt),
	)
	return err
}

// ListCallbackDeliveries returns a job's deliveries, oldest first.
func ListCallbackDeliveries(database *sql.DB, jobID string) ([]model.CallbackDelivery, error) {
	rows, err := database.Query(
		`SELECT id, job_id, kind, response_status, body_preview, error_message, attempted_at
		 FROM callback_deliveries WHERE job_id = ? ORDER BY attempted_at ASC, rowid ASC`, jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CallbackDelivery
	for rows.Next() {
		var d model.CallbackDelivery
		var status sql.NullInt64
		var attemptedAt SQLiteTime
		if err := rows.Scan(&d.ID, &d.JobID, &d.Kind, &status, &d.BodyPreview, &d.ErrorMessage, &attemptedAt); err != nil {
			return nil, err
		}
		if status.Valid {
			code := int(status.Int64)
			d.ResponseStatus = &code
		}
		d.AttemptedAt = attemptedAt.Time
		out = append(out, d)
	}
	return out, rows.Err()
}

func PruneOldCallbackDeliveries(database *sql.DB, cutoff time.Time) (int64, error) {
	res, err := database.Exec(
		`DELETE FROM callback_deliveries WHERE attempted_at < ?`,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
