// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Job model:
// a small SQLite-backed work queue with at-least-once delivery, bounded
// retries, and exponential backoff.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/corkline/wa-sales-backend/internal/domain"
)

// ErrNoJob indicates no runnable job is currently queued.
var ErrNoJob = errors.New("no runnable job")

// EnqueueJob inserts a queued job row.
func EnqueueJob(ctx context.Context, db *gorm.DB, kind, payload string, maxAttempts int, runAt time.Time) (*domain.Job, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	now := time.Now().UTC()
	j := &domain.Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     payload,
		Status:      domain.JobQueued,
		MaxAttempts: maxAttempts,
		RunAt:       runAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return j, db.WithContext(ctx).Create(j).Error
}

// ClaimJob atomically moves the oldest runnable job to running and returns
// it. The guarded UPDATE makes the claim safe across concurrent workers; a
// worker whose UPDATE hits zero rows lost the race and retries the select.
func ClaimJob(ctx context.Context, db *gorm.DB, now time.Time) (*domain.Job, error) {
	for {
		var j domain.Job
		err := db.WithContext(ctx).
			Where("status = ? AND run_at <= ?", domain.JobQueued, now).
			Order("run_at ASC, created_at ASC").
			First(&j).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoJob
		}
		if err != nil {
			return nil, err
		}

		res := db.WithContext(ctx).Model(&domain.Job{}).
			Where("id = ? AND status = ?", j.ID, domain.JobQueued).
			Updates(map[string]any{
				"status":     domain.JobRunning,
				"attempts":   gorm.Expr("attempts + 1"),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue // lost the race, try the next candidate
		}
		j.Status = domain.JobRunning
		j.Attempts++
		return &j, nil
	}
}

// CompleteJob marks a running job done.
func CompleteJob(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     domain.JobDone,
			"updated_at": time.Now().UTC(),
		}).Error
}

// FailJob records a failed attempt. Jobs with attempts left are requeued
// with exponential backoff (backoff * 2^(attempts-1)); exhausted jobs go to
// the dead state and stay for inspection.
func FailJob(ctx context.Context, db *gorm.DB, j *domain.Job, jobErr error, backoff time.Duration) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"last_error": jobErr.Error(),
		"updated_at": now,
	}
	if j.Attempts >= j.MaxAttempts {
		updates["status"] = domain.JobDead
	} else {
		delay := backoff << (j.Attempts - 1)
		updates["status"] = domain.JobQueued
		updates["run_at"] = now.Add(delay)
	}
	return db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ?", j.ID).
		Updates(updates).Error
}

// RequeueStaleRunning returns running jobs older than cutoff to the queue.
// Covers workers that died mid-job; the reply receipt ledger keeps the rerun
// from double-answering.
func RequeueStaleRunning(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Model(&domain.Job{}).
		Where("status = ? AND updated_at < ?", domain.JobRunning, cutoff).
		Updates(map[string]any{
			"status":     domain.JobQueued,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// CountJobs returns job counts grouped by status.
func CountJobs(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := db.WithContext(ctx).Model(&domain.Job{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
