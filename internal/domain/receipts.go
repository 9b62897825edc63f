// Package domain defines the core persistence models for the application.
// This file holds the replay-safe completion ledger and the durable job rows
// backing the at-least-once intake queue.
package domain

import "time"

// ReplyReceipt records that a given channel message id has already produced a
// successfully delivered reply. It is distinct from the in-memory dedup set:
// the dedup set absorbs duplicate webhook deliveries, while this ledger guards
// against a queue retry re-answering a message after a crash that happened
// post-send. Rows expire so the table stays bounded.
type ReplyReceipt struct {
	MessageID      string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	ConversationID string    `gorm:"type:TEXT NOT NULL;index"`
	RepliedAt      time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (ReplyReceipt) TableName() string { return "reply_receipts" }

// Job statuses.
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobDone    = "done"
	JobDead    = "dead"
)

// Job is one unit of work on the durable queue. Workers claim queued rows,
// run them, and either complete them or reschedule with backoff until
// MaxAttempts is reached, after which the row is marked dead for inspection.
type Job struct {
	ID          string    `gorm:"type:char(36);primaryKey"`
	Kind        string    `gorm:"type:varchar(32);not null;index:idx_jobs_claim,priority:2"`
	Payload     string    `gorm:"type:text;not null"` // JSON
	Status      string    `gorm:"type:varchar(16);not null;default:'queued';index:idx_jobs_claim,priority:1"`
	Attempts    int       `gorm:"not null;default:0"`
	MaxAttempts int       `gorm:"not null;default:3"`
	RunAt       time.Time `gorm:"type:DATETIME NOT NULL;index:idx_jobs_claim,priority:3"`
	LastError   string    `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName implements the GORM tabler interface.
func (Job) TableName() string { return "jobs" }
