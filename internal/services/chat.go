package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"nihongo-admin/internal/adminapi"
	"nihongo-admin/internal/models"
	"nihongo-admin/internal/storage"
	"nihongo-admin/internal/store"
)

// ErrSendInFlight is returned when a send for the same room is still
// outstanding. The second attempt is dropped, not queued.
var ErrSendInFlight = errors.New("a send for this room is already in flight")

// MetaClient is the slice of the upstream admin API the chat side needs.
type MetaClient interface {
	FetchChatRooms(ctx context.Context, uids []string) (map[string]adminapi.RoomMeta, error)
	UpdateChatRoom(ctx context.Context, uid string, fields map[string]interface{}) error
}

type ChatService struct {
	store   *store.Store
	meta    MetaClient
	objects storage.ObjectStore
	tasks   *TaskQueue

	mu      sync.Mutex
	sending map[string]bool
}

func NewChatService(st *store.Store, meta MetaClient, objects storage.ObjectStore, tasks *TaskQueue) *ChatService {
	return &ChatService{
		store:   st,
		meta:    meta,
		objects: objects,
		tasks:   tasks,
		sending: make(map[string]bool),
	}
}

// SendAdminMessage appends an admin message to the room. A per-room
// single-flight guard drops concurrent duplicates. On success the
// last-admin-reply timestamp is recorded upstream as a best-effort write.
func (s *ChatService) SendAdminMessage(roomID, text, imageURL string, admin *models.Admin) (*models.ChatMessage, error) {
	if text == "" && imageURL == "" {
		return nil, errors.New("message is empty")
	}

	s.mu.Lock()
	if s.sending[roomID] {
		s.mu.Unlock()
		return nil, ErrSendInFlight
	}
	s.sending[roomID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sending, roomID)
		s.mu.Unlock()
	}()

	msg := &models.ChatMessage{
		ChatRoomID: roomID,
		SenderID:   fmt.Sprintf("%s%d", models.AdminSenderPrefix, admin.ID),
		SenderName: admin.Email,
		Text:       text,
		ImageURL:   imageURL,
	}
	if err := s.store.AppendMessage(msg); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	s.tasks.Enqueue("last-admin-reply", func(ctx context.Context) error {
		return s.meta.UpdateChatRoom(ctx, roomID, map[string]interface{}{
			"last_admin_reply_at": time.Now().UTC().Format(time.RFC3339),
		})
	})
	return msg, nil
}

// UploadChatImage stores an image for the room and returns its public URL.
// Upload failure aborts the send path; the caller keeps its draft.
func (s *ChatService) UploadChatImage(roomID, filename string, r io.Reader) (string, error) {
	url, err := s.objects.Upload(storage.ChatImagePath(roomID, filename), r)
	if err != nil {
		return "", fmt.Errorf("upload chat image: %w", err)
	}
	return url, nil
}

// CreateChat opens (or re-opens) the room for a user, set-merge style:
// existing preview fields and counters survive.
func (s *ChatService) CreateChat(uid, displayName, photoURL string) (*models.ChatRoom, error) {
	return s.store.EnsureRoom(uid, displayName, photoURL)
}

// DeleteChat removes the room and all of its messages.
func (s *ChatService) DeleteChat(roomID string) error {
	return s.store.DeleteRoom(roomID)
}

// UpdateRoomMeta proxies a moderation-metadata update (ban toggle, admin
// note) to the upstream admin API and mirrors ban fields onto the live room
// document. Callers observe the upstream effect by re-fetching.
func (s *ChatService) UpdateRoomMeta(ctx context.Context, uid string, fields map[string]interface{}) error {
	if err := s.meta.UpdateChatRoom(ctx, uid, fields); err != nil {
		return err
	}

	if banned, ok := fields["chat_banned"].(bool); ok {
		reason, _ := fields["chat_ban_reason"].(string)
		if err := s.store.SetChatBan(uid, banned, reason); err != nil && !errors.Is(err, store.ErrRoomNotFound) {
			return err
		}
	}
	return nil
}
