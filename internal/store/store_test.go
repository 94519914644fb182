package store

import (
	"testing"
	"time"

	"nihongo-admin/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection so every session sees the same in-memory database.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.ChatRoom{}, &models.ChatMessage{}))
	return New(db)
}

func recv[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		panic("unreachable")
	}
}

func TestWatchRooms_InitialAndUpdates(t *testing.T) {
	s := newTestStore(t)

	sub := s.WatchRooms()
	defer sub.Close()

	assert.Empty(t, recv(t, sub.C), "initial snapshot should be empty")

	_, err := s.EnsureRoom("user-1", "Hana", "http://x/hana.png")
	require.NoError(t, err)

	rooms := recv(t, sub.C)
	require.Len(t, rooms, 1)
	assert.Equal(t, "user-1", rooms[0].ID)
	assert.Equal(t, "Hana", rooms[0].ParticipantName)
}

func TestWatchRooms_OrderedByLastMessageDesc(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.EnsureRoom(id, id, "")
		require.NoError(t, err)
	}
	require.NoError(t, s.AppendMessage(&models.ChatMessage{ChatRoomID: "b", SenderID: "b", Text: "newest"}))

	sub := s.WatchRooms()
	defer sub.Close()

	rooms := recv(t, sub.C)
	require.Len(t, rooms, 3)
	assert.Equal(t, "b", rooms[0].ID, "most recently active room first")
}

func TestWatchRooms_SlowReaderGetsLatestSnapshot(t *testing.T) {
	s := newTestStore(t)

	sub := s.WatchRooms()
	defer sub.Close()

	// Nobody reads between these mutations; the channel must hold only the
	// final state.
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.EnsureRoom(id, id, "")
		require.NoError(t, err)
	}

	rooms := recv(t, sub.C)
	assert.Len(t, rooms, 3)
}

func TestWatchMessages_EmptyRoomID(t *testing.T) {
	s := newTestStore(t)

	sub := s.WatchMessages("")
	defer sub.Close()

	assert.Empty(t, recv(t, sub.C))

	// Traffic into real rooms must not reach the no-room subscription.
	require.NoError(t, s.AppendMessage(&models.ChatMessage{ChatRoomID: "a", SenderID: "a", Text: "hi"}))
	select {
	case msgs := <-sub.C:
		t.Fatalf("unexpected snapshot on empty-room subscription: %v", msgs)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatchMessages_ScopedToRoom(t *testing.T) {
	s := newTestStore(t)

	subA := s.WatchMessages("a")
	defer subA.Close()
	recv(t, subA.C)

	require.NoError(t, s.AppendMessage(&models.ChatMessage{ChatRoomID: "b", SenderID: "b", Text: "other room"}))
	require.NoError(t, s.AppendMessage(&models.ChatMessage{ChatRoomID: "a", SenderID: "a", Text: "first"}))

	msgs := recv(t, subA.C)
	require.Len(t, msgs, 1)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "a", msgs[0].ChatRoomID)
}

func TestAppendMessage_CountersAndPreview(t *testing.T) {
	s := newTestStore(t)

	// User message: creates the room on first contact, bumps admin unread.
	require.NoError(t, s.AppendMessage(&models.ChatMessage{
		ChatRoomID: "user-1",
		SenderID:   "user-1",
		SenderName: "Hana",
		Text:       "konnichiwa",
	}))

	room, err := s.Room("user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, room.AdminUnread)
	assert.Equal(t, 0, room.UserUnread)
	assert.Equal(t, "konnichiwa", room.LastMessage)
	assert.Equal(t, "Hana", room.ParticipantName)

	// Admin reply: bumps user unread instead.
	require.NoError(t, s.AppendMessage(&models.ChatMessage{
		ChatRoomID: "user-1",
		SenderID:   models.AdminSenderPrefix + "1",
		SenderName: "admin@example.com",
		Text:       "hello",
	}))

	room, err = s.Room("user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, room.AdminUnread)
	assert.Equal(t, 1, room.UserUnread)
	assert.Equal(t, "hello", room.LastMessage)
}

func TestAppendMessage_ImageOnlyPreview(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AppendMessage(&models.ChatMessage{
		ChatRoomID: "user-1",
		SenderID:   "user-1",
		ImageURL:   "http://x/pic.png",
	}))

	room, err := s.Room("user-1")
	require.NoError(t, err)
	assert.Equal(t, ImagePreview, room.LastMessage)
}

func TestEnsureRoom_MergePreservesCounters(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AppendMessage(&models.ChatMessage{
		ChatRoomID: "user-1",
		SenderID:   "user-1",
		Text:       "hi",
	}))

	room, err := s.EnsureRoom("user-1", "Hana Renamed", "http://x/new.png")
	require.NoError(t, err)

	got, err := s.Room("user-1")
	require.NoError(t, err)
	assert.Equal(t, "Hana Renamed", got.ParticipantName)
	assert.Equal(t, 1, got.AdminUnread, "merge must not reset counters")
	assert.Equal(t, "hi", got.LastMessage, "merge must not clear the preview")
	assert.Equal(t, room.ID, got.ID)
}

func TestResetAdminUnread(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AppendMessage(&models.ChatMessage{ChatRoomID: "u", SenderID: "u", Text: "x"}))
	require.NoError(t, s.ResetAdminUnread("u"))

	room, err := s.Room("u")
	require.NoError(t, err)
	assert.Zero(t, room.AdminUnread)

	assert.ErrorIs(t, s.ResetAdminUnread("missing"), ErrRoomNotFound)
}

func TestDeleteRoom_Cascades(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AppendMessage(&models.ChatMessage{ChatRoomID: "u", SenderID: "u", Text: "one"}))
	require.NoError(t, s.AppendMessage(&models.ChatMessage{ChatRoomID: "u", SenderID: "u", Text: "two"}))

	require.NoError(t, s.DeleteRoom("u"))

	_, err := s.Room("u")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	msgs, err := s.Messages("u")
	require.NoError(t, err)
	assert.Empty(t, msgs, "messages must be deleted with the room")

	assert.ErrorIs(t, s.DeleteRoom("u"), ErrRoomNotFound)
}

func TestMessages_OrderedAscending(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	for i, text := range []string{"first", "second", "third"} {
		require.NoError(t, s.AppendMessage(&models.ChatMessage{
			ChatRoomID: "u",
			SenderID:   "u",
			Text:       text,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	msgs, err := s.Messages("u")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "third", msgs[2].Text)
}

func TestSubscriptionClose_StopsDelivery(t *testing.T) {
	s := newTestStore(t)

	sub := s.WatchRooms()
	recv(t, sub.C)
	sub.Close()

	_, err := s.EnsureRoom("a", "a", "")
	require.NoError(t, err)

	if _, ok := <-sub.C; ok {
		t.Fatal("closed subscription must not deliver snapshots")
	}
}
