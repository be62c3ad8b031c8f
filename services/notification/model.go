package notification

import (
	"time"

	"gorm.io/datatypes"
)

// Type classifies a notification for client rendering and filtering.
type Type string

const (
	TypeVouchReceived Type = "vouch_received"
	TypeCompleted     Type = "promise_completed"
	TypeFailed        Type = "promise_failed"
	TypeReminder      Type = "reminder"
	TypeSystemMessage Type = "system_message"
)

// Notification is the durable record of one delivery. The persisted row
// is the source of truth; the websocket push is best-effort on top.
type Notification struct {
	ID      string `gorm:"column:id;primaryKey" json:"id"`
	UserID  string `gorm:"column:user_id;index" json:"user_id"`
	Type    Type   `gorm:"column:type" json:"type"`
	Title   string `gorm:"column:title" json:"title"`
	Content string `gorm:"column:content" json:"content"`

	// LinkID points at the promise the notification is about, when any.
	LinkID *string        `gorm:"column:link_id" json:"link_id,omitempty"`
	Data   datatypes.JSON `gorm:"column:data" json:"data,omitempty"`

	IsRead    bool      `gorm:"column:is_read;index" json:"is_read"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }
