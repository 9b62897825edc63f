// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the ReplyReceipt
// model: the durable ledger that stops a retried queue job from answering a
// message twice.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/corkline/wa-sales-backend/internal/domain"
)

// WasReplied reports whether a non-expired receipt exists for messageID.
func WasReplied(ctx context.Context, db *gorm.DB, messageID string, now time.Time) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.ReplyReceipt{}).
		Where("message_id = ? AND expires_at > ?", messageID, now).
		Count(&count).Error
	return count > 0, err
}

// MarkReplied records a receipt for messageID. Re-marking an already-replied
// message is a no-op, not an error, so a retry that raced another worker can
// finish cleanly.
func MarkReplied(ctx context.Context, db *gorm.DB, messageID, conversationID string, ttl time.Duration) error {
	now := time.Now().UTC()
	rec := &domain.ReplyReceipt{
		MessageID:      messageID,
		ConversationID: conversationID,
		RepliedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	err := db.WithContext(ctx).Create(rec).Error
	if err != nil && isUniqueViolation(err) {
		return nil
	}
	return err
}

// PurgeExpiredReceipts deletes receipts past their expiry and returns the
// number removed.
func PurgeExpiredReceipts(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.ReplyReceipt{})
	return res.RowsAffected, res.Error
}
