package store

import (
	"errors"
	"log"
	"sync"
	"time"

	"nihongo-admin/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ImagePreview is the room preview text used when a message carries only an
// image and no body text.
const ImagePreview = "[Hình ảnh]"

var ErrRoomNotFound = errors.New("chat room not found")

// Store is the live chat document store: chat-room documents plus a message
// subcollection per room. All reads happen through subscriptions that deliver
// the complete current snapshot on every change, never a delta.
type Store struct {
	db *gorm.DB

	mu       sync.Mutex
	roomSubs map[*RoomSubscription]struct{}
	msgSubs  map[*MessageSubscription]struct{}
}

func New(db *gorm.DB) *Store {
	return &Store{
		db:       db,
		roomSubs: make(map[*RoomSubscription]struct{}),
		msgSubs:  make(map[*MessageSubscription]struct{}),
	}
}

// Rooms returns all chat rooms ordered by last message time descending.
func (s *Store) Rooms() ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	err := s.db.Order("last_message_at DESC").Find(&rooms).Error
	return rooms, err
}

// Messages returns the room's messages ordered by creation time ascending.
// An empty room id yields an empty list, not an error.
func (s *Store) Messages(roomID string) ([]models.ChatMessage, error) {
	if roomID == "" {
		return []models.ChatMessage{}, nil
	}
	var msgs []models.ChatMessage
	err := s.db.Where("chat_room_id = ?", roomID).Order("created_at ASC").Find(&msgs).Error
	return msgs, err
}

func (s *Store) Room(roomID string) (*models.ChatRoom, error) {
	var room models.ChatRoom
	if err := s.db.First(&room, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// EnsureRoom creates the room document for the given participant if it does
// not exist yet, and otherwise merges the participant fields into the
// existing document. Counters and preview fields are never overwritten.
func (s *Store) EnsureRoom(participantID, name, photoURL string) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.First(&room, "id = ?", participantID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			room = models.ChatRoom{
				ID:               participantID,
				ParticipantID:    participantID,
				ParticipantName:  name,
				ParticipantPhoto: photoURL,
				LastMessageAt:    time.Now(),
			}
			return tx.Create(&room).Error
		}
		if err != nil {
			return err
		}
		room.ParticipantName = name
		room.ParticipantPhoto = photoURL
		return tx.Model(&room).Updates(map[string]interface{}{
			"participant_name":  name,
			"participant_photo": photoURL,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	s.notifyRooms()
	return &room, nil
}

// AppendMessage writes a message into the room's subcollection and updates
// the room document in the same transaction: preview text, last message time
// and the unread counter of the side that has not seen the message yet. The
// room is created on first contact if it does not exist.
func (s *Store) AppendMessage(msg *models.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	preview := msg.Text
	if preview == "" && msg.ImageURL != "" {
		preview = ImagePreview
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var room models.ChatRoom
		err := tx.First(&room, "id = ?", msg.ChatRoomID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			room = models.ChatRoom{
				ID:            msg.ChatRoomID,
				ParticipantID: msg.ChatRoomID,
				LastMessageAt: msg.CreatedAt,
			}
			if !msg.FromAdmin() {
				room.ParticipantName = msg.SenderName
			}
			if err := tx.Create(&room).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"last_message":    preview,
			"last_message_at": msg.CreatedAt,
		}
		if msg.FromAdmin() {
			updates["user_unread"] = gorm.Expr("user_unread + 1")
		} else {
			updates["admin_unread"] = gorm.Expr("admin_unread + 1")
		}
		return tx.Model(&models.ChatRoom{}).Where("id = ?", msg.ChatRoomID).
			Updates(updates).Error
	})
	if err != nil {
		return err
	}

	s.notifyRooms()
	s.notifyMessages(msg.ChatRoomID)
	return nil
}

// ResetAdminUnread zeroes the admin-side unread counter for the room.
func (s *Store) ResetAdminUnread(roomID string) error {
	res := s.db.Model(&models.ChatRoom{}).Where("id = ?", roomID).
		Update("admin_unread", 0)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	s.notifyRooms()
	return nil
}

// SetChatBan updates the denormalized ban fields on the room document.
func (s *Store) SetChatBan(roomID string, banned bool, reason string) error {
	res := s.db.Model(&models.ChatRoom{}).Where("id = ?", roomID).
		Updates(map[string]interface{}{
			"chat_banned":     banned,
			"chat_ban_reason": reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	s.notifyRooms()
	return nil
}

// DeleteRoom removes the room document and its whole message subcollection.
func (s *Store) DeleteRoom(roomID string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_room_id = ?", roomID).
			Delete(&models.ChatMessage{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.ChatRoom{}, "id = ?", roomID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRoomNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notifyRooms()
	s.notifyMessages(roomID)
	return nil
}

func (s *Store) notifyRooms() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.roomSubs) == 0 {
		return
	}
	rooms, err := s.Rooms()
	if err != nil {
		log.Printf("store: room snapshot query failed: %v", err)
		return
	}
	for sub := range s.roomSubs {
		sub.push(rooms)
	}
}

func (s *Store) notifyMessages(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var watching []*MessageSubscription
	for sub := range s.msgSubs {
		if sub.roomID == roomID {
			watching = append(watching, sub)
		}
	}
	if len(watching) == 0 {
		return
	}
	msgs, err := s.Messages(roomID)
	if err != nil {
		log.Printf("store: message snapshot query failed: %v", err)
		return
	}
	for _, sub := range watching {
		sub.push(msgs)
	}
}
