// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model. Message content is encrypted at this boundary; everything above the
// repo layer sees plaintext, everything below sees ciphertext envelopes.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/corkline/wa-sales-backend/internal/domain"
	"github.com/corkline/wa-sales-backend/internal/secure"
)

// AppendMessage inserts one message row, encrypting content at rest.
func AppendMessage(ctx context.Context, db *gorm.DB, codec *secure.Codec, conversationID, role, content, provider, deliveryStatus string) (*domain.Message, error) {
	enc, err := codec.Encrypt(content)
	if err != nil {
		return nil, err
	}
	m := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        enc,
		Provider:       provider,
		DeliveryStatus: deliveryStatus,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	touchConversation(ctx, db, conversationID)
	m.Content = content
	return m, nil
}

// ListRecentMessages returns the newest limit messages in chronological
// order, decrypted. Rows whose envelope fails to decrypt are skipped rather
// than failing the whole context load.
func ListRecentMessages(ctx context.Context, db *gorm.DB, codec *secure.Codec, conversationID string, limit int) ([]domain.Message, error) {
	var rows []domain.Message
	q := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]domain.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		m := rows[i]
		plain, err := codec.Decrypt(m.Content)
		if err != nil {
			continue
		}
		m.Content = plain
		out = append(out, m)
	}
	return out, nil
}

// ListMessagesPage returns a decrypted page ordered (CreatedAt ASC, ID ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, codec *secure.Codec, conversationID string, offset, limit int) ([]domain.Message, error) {
	var rows []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if plain, err := codec.Decrypt(rows[i].Content); err == nil {
			rows[i].Content = plain
		}
	}
	return rows, nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).Scan(&total).Error
	return total, err
}

// UpdateDeliveryStatus marks a message sent or failed after the channel call.
func UpdateDeliveryStatus(ctx context.Context, db *gorm.DB, messageID, status string) error {
	res := db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ?", messageID).
		Update("delivery_status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func touchConversation(ctx context.Context, db *gorm.DB, conversationID string) {
	db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		Update("updated_at", time.Now().UTC())
}
