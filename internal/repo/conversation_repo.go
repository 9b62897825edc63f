// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation and Customer models.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/corkline/wa-sales-backend/internal/domain"
	"github.com/corkline/wa-sales-backend/internal/secure"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// GetOrCreateConversation returns the active conversation for a customer
// phone number, creating conversation and customer rows on first contact.
func GetOrCreateConversation(ctx context.Context, db *gorm.DB, customerID string) (*domain.Conversation, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, ErrNotFound
	}

	var conv domain.Conversation
	err := db.WithContext(ctx).Where("customer_id = ?", customerID).First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	conv = domain.Conversation{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Status:     domain.ConversationActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.WithContext(ctx).Create(&conv).Error; err != nil {
		// A concurrent first message may have won the insert.
		if isUniqueViolation(err) {
			var existing domain.Conversation
			if err2 := db.WithContext(ctx).Where("customer_id = ?", customerID).First(&existing).Error; err2 == nil {
				return &existing, nil
			}
		}
		return nil, err
	}

	// Customer row is best-effort companion data, keyed by the same phone.
	cust := domain.Customer{
		ID:        uuid.NewString(),
		Phone:     customerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(&cust).Error; err != nil && !isUniqueViolation(err) {
		return nil, err
	}
	return &conv, nil
}

// GetConversation fetches a conversation by ID.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := db.WithContext(ctx).Where("id = ?", id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// UpdateConversationStatus transitions a conversation between active, closed,
// and archived.
func UpdateConversationStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	res := db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConversationsPage returns a page ordered by most recent activity.
func ListConversationsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Order("updated_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountConversations uses a raw COUNT so a missing table surfaces as an error.
func CountConversations(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM conversations WHERE deleted_at IS NULL").Scan(&total).Error
	return total, err
}

// UpsertCustomerProfile stores name and email for a phone number, encrypting
// both at the boundary.
func UpsertCustomerProfile(ctx context.Context, db *gorm.DB, codec *secure.Codec, phone, name, email string) error {
	encName, err := codec.Encrypt(name)
	if err != nil {
		return err
	}
	encEmail, err := codec.Encrypt(email)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	res := db.WithContext(ctx).Model(&domain.Customer{}).
		Where("phone = ?", phone).
		Updates(map[string]any{"name": encName, "email": encEmail, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&domain.Customer{
		ID:        uuid.NewString(),
		Phone:     phone,
		Name:      encName,
		Email:     encEmail,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error
}

// isUniqueViolation matches the driver's unique constraint errors.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
