// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides aggregate statistics for the
// operational endpoints.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/corkline/wa-sales-backend/internal/domain"
)

// Totals is a point-in-time snapshot of stored volumes.
type Totals struct {
	Conversations int64            `json:"conversations"`
	Messages      int64            `json:"messages"`
	Customers     int64            `json:"customers"`
	Jobs          map[string]int64 `json:"jobs"`
}

// GetTotals aggregates row counts across all models.
func GetTotals(ctx context.Context, db *gorm.DB) (*Totals, error) {
	t := &Totals{}

	if err := db.WithContext(ctx).Model(&domain.Conversation{}).Count(&t.Conversations).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(&domain.Message{}).Count(&t.Messages).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(&domain.Customer{}).Count(&t.Customers).Error; err != nil {
		return nil, err
	}
	jobs, err := CountJobs(ctx, db)
	if err != nil {
		return nil, err
	}
	t.Jobs = jobs
	return t, nil
}
