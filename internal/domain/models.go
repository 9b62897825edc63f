// Package domain defines the persistence models for conversations, messages,
// and customers. These types are mapped with GORM and form the core data layer
// of the sales-bot application.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Conversation statuses.
const (
	ConversationActive   = "active"
	ConversationClosed   = "closed"
	ConversationArchived = "archived"
)

// Message roles.
const (
	RoleCustomer = "customer"
	RoleAgent    = "agent"
)

// Message delivery statuses.
const (
	DeliveryPending = "pending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
)

// Conversation represents the message history with one customer, keyed by
// their normalized phone number. Created on the first inbound message;
// closure/archival is driven externally.
type Conversation struct {
	ID         string         `json:"id"          gorm:"type:char(36);primaryKey"`
	CustomerID string         `json:"customer_id" gorm:"type:varchar(32);not null;uniqueIndex:ux_conv_customer"`
	Status     string         `json:"status"      gorm:"type:varchar(16);not null;default:'active';check:status IN ('active','closed','archived')"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-"           gorm:"index"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message is a single utterance within a conversation, authored either by the
// "customer" or the "agent". Content is stored encrypted; the repository layer
// applies the codec on save/load so callers only ever see plaintext.
type Message struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string         `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conv_msgs,priority:1"`
	Role           string         `json:"role"            gorm:"type:varchar(16);not null;check:role IN ('customer','agent')"`
	Content        string         `json:"content"         gorm:"type:text;not null"`
	DeliveryStatus string         `json:"delivery_status" gorm:"type:varchar(16);not null;default:'pending'"`
	Provider       string         `json:"provider,omitempty" gorm:"type:varchar(24)"` // which response source served an agent message
	CreatedAt      time.Time      `json:"created_at"      gorm:"index:idx_conv_msgs,priority:2"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Customer holds the profile for one phone number. Name and Email are
// encrypted at rest; Phone stays plaintext because it is the lookup key.
type Customer struct {
	ID        string         `json:"id"    gorm:"type:char(36);primaryKey"`
	Phone     string         `json:"phone" gorm:"type:varchar(32);not null;uniqueIndex"`
	Name      string         `json:"name,omitempty"  gorm:"type:text"`
	Email     string         `json:"email,omitempty" gorm:"type:text"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Customer.
func (Customer) TableName() string { return "customers" }
