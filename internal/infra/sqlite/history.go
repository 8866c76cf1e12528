package sqlite

import (
	"database/sql"
	"errors"

	"github.com/synapseshield/shield/internal/domain"
)

// ─── Score History ──────────────────────────────────────────────────────────

// RecordScore inserts a scored telemetry record.
func (d *DB) RecordScore(rec domain.ScoreRecord) error {
	_, err := d.db.Exec(
		`INSERT INTO scores (id, device_id, score, threshold, is_anomaly, recommended_action, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.DeviceID, rec.Score, rec.Threshold, rec.IsAnomaly,
		rec.RecommendedAction, rec.Source, unixMilli(rec.CreatedAt),
	)
	return err
}

const scoreColumns = `id, device_id, score, threshold, is_anomaly, recommended_action, source, created_at`

// DeviceScores returns the most recent scores for a device, newest first.
func (d *DB) DeviceScores(deviceID string, limit int) ([]domain.ScoreRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(
		`SELECT `+scoreColumns+` FROM scores WHERE device_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, deviceID, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectScores(rows)
}

// RecentAnomalies returns the most recent anomalous scores across devices.
func (d *DB) RecentAnomalies(limit int) ([]domain.ScoreRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(
		`SELECT `+scoreColumns+` FROM scores WHERE is_anomaly = 1
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectScores(rows)
}

// ScoreStats returns total and anomalous score counts.
func (d *DB) ScoreStats() (total, anomalies int64, err error) {
	err = d.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_anomaly THEN 1 ELSE 0 END), 0) FROM scores`,
	).Scan(&total, &anomalies)
	return total, anomalies, err
}

func collectScores(rows *sql.Rows) ([]domain.ScoreRecord, error) {
	defer rows.Close()
	var out []domain.ScoreRecord
	for rows.Next() {
		rec, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanScore(s scanner) (domain.ScoreRecord, error) {
	var rec domain.ScoreRecord
	var created int64
	err := s.Scan(&rec.ID, &rec.DeviceID, &rec.Score, &rec.Threshold, &rec.IsAnomaly,
		&rec.RecommendedAction, &rec.Source, &created)
	if err != nil {
		return domain.ScoreRecord{}, err
	}
	rec.CreatedAt = fromUnixMilli(created)
	return rec, nil
}

// ─── Training Runs ──────────────────────────────────────────────────────────

// RecordTrainingRun inserts a completed training run.
func (d *DB) RecordTrainingRun(run domain.TrainingRun) error {
	_, err := d.db.Exec(
		`INSERT INTO training_runs (id, row_count, input_dim, epochs, batch_size, final_loss, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Rows, run.InputDim, run.Epochs, run.BatchSize, run.FinalLoss,
		unixMilli(run.StartedAt), unixMilli(run.FinishedAt),
	)
	return err
}

const runColumns = `id, row_count, input_dim, epochs, batch_size, final_loss, started_at, finished_at`

// LatestTrainingRun returns the most recently finished run, or nil if none.
func (d *DB) LatestTrainingRun() (*domain.TrainingRun, error) {
	row := d.db.QueryRow(`SELECT ` + runColumns + ` FROM training_runs ORDER BY finished_at DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListTrainingRuns returns recent runs, newest first.
func (d *DB) ListTrainingRuns(limit int) ([]domain.TrainingRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.Query(`SELECT `+runColumns+` FROM training_runs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TrainingRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(s scanner) (domain.TrainingRun, error) {
	var run domain.TrainingRun
	var started, finished int64
	err := s.Scan(&run.ID, &run.Rows, &run.InputDim, &run.Epochs, &run.BatchSize,
		&run.FinalLoss, &started, &finished)
	if err != nil {
		return domain.TrainingRun{}, err
	}
	run.StartedAt = fromUnixMilli(started)
	run.FinishedAt = fromUnixMilli(finished)
	return run, nil
}
