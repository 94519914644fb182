package services

import (
	"time"

	"nihongo-admin/internal/adminapi"
	"nihongo-admin/internal/models"
)

// ViewRoom is the merged render model for one room: the live document plus
// whatever enrichment the admin API returned for it. It is built at render
// time on every emit; the two sources are never folded into a stored record.
type ViewRoom struct {
	ID            string            `json:"id"`
	ParticipantID string            `json:"participant_id"`
	DisplayName   string            `json:"display_name"`
	PhotoURL      string            `json:"photo_url"`
	LastMessage   string            `json:"last_message"`
	LastMessageAt time.Time         `json:"last_message_at"`
	AdminUnread   int               `json:"admin_unread"`
	UserUnread    int               `json:"user_unread"`
	ChatBanned    bool              `json:"chat_banned"`
	ChatBanReason string            `json:"chat_ban_reason,omitempty"`
	Meta          *adminapi.RoomMeta `json:"meta,omitempty"`
}

// MergeRoom layers the enrichment record onto the live room. A missing meta
// record is valid: the denormalized room fields carry the view on their own.
// Where both sources know a field, meta wins (it is the authoritative side
// for moderation state and profile data).
func MergeRoom(room models.ChatRoom, meta *adminapi.RoomMeta) ViewRoom {
	view := ViewRoom{
		ID:            room.ID,
		ParticipantID: room.ParticipantID,
		DisplayName:   room.ParticipantName,
		PhotoURL:      room.ParticipantPhoto,
		LastMessage:   room.LastMessage,
		LastMessageAt: room.LastMessageAt,
		AdminUnread:   room.AdminUnread,
		UserUnread:    room.UserUnread,
		ChatBanned:    room.ChatBanned,
		ChatBanReason: room.ChatBanReason,
		Meta:          meta,
	}
	if meta == nil {
		return view
	}

	view.ChatBanned = meta.ChatBanned
	if meta.ChatBanReason != "" {
		view.ChatBanReason = meta.ChatBanReason
	}
	if meta.User != nil {
		if meta.User.DisplayName != "" {
			view.DisplayName = meta.User.DisplayName
		}
		if meta.User.PhotoURL != "" {
			view.PhotoURL = meta.User.PhotoURL
		}
	}
	return view
}
