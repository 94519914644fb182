package models

import "time"

// ChatRoom is the live chat-room document. Its ID equals the end user's uid,
// so a user has at most one room. Preview fields (LastMessage, LastMessageAt)
// and the unread counters are denormalized copies updated on every send.
type ChatRoom struct {
	ID               string    `gorm:"primaryKey;size:64" json:"id"`
	ParticipantID    string    `gorm:"size:64;not null;index" json:"participant_id"`
	ParticipantName  string    `gorm:"size:255" json:"participant_name"`
	ParticipantPhoto string    `gorm:"size:512" json:"participant_photo"`
	LastMessage      string    `gorm:"size:1024" json:"last_message"`
	LastMessageAt    time.Time `gorm:"index" json:"last_message_at"`
	AdminUnread      int       `gorm:"not null;default:0" json:"admin_unread"`
	UserUnread       int       `gorm:"not null;default:0" json:"user_unread"`
	ChatBanned       bool      `gorm:"not null;default:false" json:"chat_banned"`
	ChatBanReason    string    `gorm:"size:512" json:"chat_ban_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
