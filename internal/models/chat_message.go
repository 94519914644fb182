package models

import (
	"strings"
	"time"
)

// ChatMessage is immutable once created. Admin senders carry an "admin_"
// prefix on SenderID to distinguish them from end-user uids.
type ChatMessage struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	ChatRoomID string    `gorm:"size:64;not null;index" json:"chat_room_id"`
	SenderID   string    `gorm:"size:80;not null" json:"sender_id"`
	SenderName string    `gorm:"size:255" json:"sender_name"`
	Text       string    `gorm:"size:4096" json:"text"`
	ImageURL   string    `gorm:"size:512" json:"image_url,omitempty"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

const AdminSenderPrefix = "admin_"

func (m ChatMessage) FromAdmin() bool {
	return strings.HasPrefix(m.SenderID, AdminSenderPrefix)
}
