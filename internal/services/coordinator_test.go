package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"nihongo-admin/internal/adminapi"
	"nihongo-admin/internal/models"
	"nihongo-admin/internal/store"
	"nihongo-admin/internal/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.ChatRoom{}, &models.ChatMessage{}))
	return store.New(db)
}

type metaUpdate struct {
	uid    string
	fields map[string]interface{}
}

type metaCall struct {
	uids  []string
	reply chan map[string]adminapi.RoomMeta
}

// fakeMeta answers batch fetches either automatically from auto, or under
// test control through the calls channel.
type fakeMeta struct {
	mu      sync.Mutex
	auto    map[string]adminapi.RoomMeta
	updates []metaUpdate
	calls   chan *metaCall
}

func (f *fakeMeta) FetchChatRooms(ctx context.Context, uids []string) (map[string]adminapi.RoomMeta, error) {
	if f.calls != nil {
		call := &metaCall{uids: uids, reply: make(chan map[string]adminapi.RoomMeta, 1)}
		select {
		case f.calls <- call:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		select {
		case metas := <-call.reply:
			return metas, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]adminapi.RoomMeta)
	for _, uid := range uids {
		if meta, ok := f.auto[uid]; ok {
			out[uid] = meta
		}
	}
	return out, nil
}

func (f *fakeMeta) UpdateChatRoom(_ context.Context, uid string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, metaUpdate{uid: uid, fields: fields})
	return nil
}

func (f *fakeMeta) updatedFields(uid string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]interface{}
	for _, u := range f.updates {
		if u.uid == uid {
			out = append(out, u.fields)
		}
	}
	return out
}

type fakeSink struct {
	mu   sync.Mutex
	msgs []ws.WSMessage
}

func (f *fakeSink) Send(msg ws.WSMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeSink) all() []ws.WSMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ws.WSMessage, len(f.msgs))
	copy(out, f.msgs)
	return out
}

// waitFor polls the sink until a message of the given type satisfies pred.
func (f *fakeSink) waitFor(t *testing.T, msgType string, pred func(ws.WSMessage) bool) ws.WSMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, msg := range f.all() {
			if msg.Type == msgType && pred(msg) {
				return msg
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no %q message matched", msgType)
	panic("unreachable")
}

func roomsData(msg ws.WSMessage) (bool, []ViewRoom) {
	data := msg.Data.(map[string]interface{})
	return data["loading"].(bool), data["rooms"].([]ViewRoom)
}

type coordFixture struct {
	store  *store.Store
	meta   *fakeMeta
	sink   *fakeSink
	chrome *fakeChrome
	coord  *Coordinator
	cancel context.CancelFunc
	done   chan struct{}
}

func startCoordinator(t *testing.T, st *store.Store, meta *fakeMeta) *coordFixture {
	t.Helper()
	sink := &fakeSink{}
	chrome := &fakeChrome{}
	tasks := NewTaskQueue(16)
	t.Cleanup(tasks.Close)

	coord := NewCoordinator(st, meta, newTestBadge(chrome), tasks, sink)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		coord.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &coordFixture{store: st, meta: meta, sink: sink, chrome: chrome, coord: coord, cancel: cancel, done: done}
}

func TestCoordinator_EmitsRoomsAndBadge(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.AppendMessage(&models.ChatMessage{ChatRoomID: "u1", SenderID: "u1", SenderName: "Hana", Text: "hi"}))
	require.NoError(t, st.AppendMessage(&models.ChatMessage{ChatRoomID: "u1", SenderID: "u1", Text: "are you there"}))

	fx := startCoordinator(t, st, &fakeMeta{})

	msg := fx.sink.waitFor(t, "rooms", func(m ws.WSMessage) bool {
		loading, rooms := roomsData(m)
		return !loading && len(rooms) == 1
	})
	_, rooms := roomsData(msg)
	assert.Equal(t, "u1", rooms[0].ID)
	assert.Equal(t, 2, rooms[0].AdminUnread)

	// Aggregate unread reaches the tab chrome.
	require.Eventually(t, func() bool {
		return fx.chrome.last().title == "(2) Nhaikanji Admin"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCoordinator_SelectTriggersSideEffects(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.AppendMessage(&models.ChatMessage{ChatRoomID: "u1", SenderID: "u1", Text: "hi"}))

	fx := startCoordinator(t, st, &fakeMeta{})
	fx.sink.waitFor(t, "rooms", func(m ws.WSMessage) bool {
		loading, _ := roomsData(m)
		return !loading
	})

	fx.coord.Select("u1")

	// Unread reset is fire-and-forget but must land.
	require.Eventually(t, func() bool {
		room, err := st.Room("u1")
		return err == nil && room.AdminUnread == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Once the recount round-trips, the title drops its prefix again.
	require.Eventually(t, func() bool {
		return fx.chrome.last().title == "Nhaikanji Admin"
	}, 2*time.Second, 10*time.Millisecond)

	// last_opened_at recorded upstream.
	require.Eventually(t, func() bool {
		for _, fields := range fx.meta.updatedFields("u1") {
			if _, ok := fields["last_opened_at"]; ok {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	fx.sink.waitFor(t, "selected", func(m ws.WSMessage) bool {
		return m.Data.(map[string]string)["room_id"] == "u1"
	})
}

func TestCoordinator_TimelineFollowsSelection(t *testing.T) {
	st := newTestStore(t)
	base := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.AppendMessage(&models.ChatMessage{ChatRoomID: "u1", SenderID: "u1", Text: "one", CreatedAt: base}))
	require.NoError(t, st.AppendMessage(&models.ChatMessage{ChatRoomID: "u1", SenderID: "u1", Text: "two", CreatedAt: base.Add(30 * time.Second)}))
	require.NoError(t, st.AppendMessage(&models.ChatMessage{ChatRoomID: "u2", SenderID: "u2", Text: "other"}))

	fx := startCoordinator(t, st, &fakeMeta{})
	fx.coord.Select("u1")

	msg := fx.sink.waitFor(t, "timeline", func(m ws.WSMessage) bool {
		data := m.Data.(map[string]interface{})
		return data["room_id"] == "u1" && len(data["entries"].([]TimelineEntry)) == 2
	})

	entries := msg.Data.(map[string]interface{})["entries"].([]TimelineEntry)
	assert.True(t, entries[0].FirstInGroup)
	assert.False(t, entries[0].LastInGroup, "30s apart, same sender: one group")
	assert.Equal(t, "one", entries[0].Message.Text)

	// Switching rooms must never deliver the old room's messages.
	fx.coord.Select("u2")
	msg = fx.sink.waitFor(t, "timeline", func(m ws.WSMessage) bool {
		return m.Data.(map[string]interface{})["room_id"] == "u2"
	})
	entries = msg.Data.(map[string]interface{})["entries"].([]TimelineEntry)
	require.Len(t, entries, 1)
	assert.Equal(t, "other", entries[0].Message.Text)
}

func TestCoordinator_MergesMetaIntoRooms(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.AppendMessage(&models.ChatMessage{ChatRoomID: "u1", SenderID: "u1", SenderName: "Raw Name", Text: "hi"}))

	meta := &fakeMeta{auto: map[string]adminapi.RoomMeta{
		"u1": {
			UID:        "u1",
			ChatBanned: true,
			User:       &adminapi.MetaUser{DisplayName: "Enriched Name", PhotoURL: "http://x/enriched.png"},
		},
	}}
	fx := startCoordinator(t, st, meta)

	msg := fx.sink.waitFor(t, "rooms", func(m ws.WSMessage) bool {
		_, rooms := roomsData(m)
		return len(rooms) == 1 && rooms[0].Meta != nil
	})
	_, rooms := roomsData(msg)
	assert.Equal(t, "Enriched Name", rooms[0].DisplayName)
	assert.True(t, rooms[0].ChatBanned, "meta ban state is authoritative")
}

func TestCoordinator_PartialMetaFallsBack(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.AppendMessage(&models.ChatMessage{ChatRoomID: "a", SenderID: "a", SenderName: "Plain A", Text: "hi"}))
	require.NoError(t, st.AppendMessage(&models.ChatMessage{ChatRoomID: "b", SenderID: "b", SenderName: "Plain B", Text: "yo"}))

	meta := &fakeMeta{auto: map[string]adminapi.RoomMeta{
		"b": {UID: "b", User: &adminapi.MetaUser{DisplayName: "Enriched B"}},
	}}
	fx := startCoordinator(t, st, meta)

	msg := fx.sink.waitFor(t, "rooms", func(m ws.WSMessage) bool {
		_, rooms := roomsData(m)
		if len(rooms) != 2 {
			return false
		}
		for _, room := range rooms {
			if room.ID == "b" && room.Meta != nil {
				return true
			}
		}
		return false
	})

	_, rooms := roomsData(msg)
	byID := map[string]ViewRoom{}
	for _, room := range rooms {
		byID[room.ID] = room
	}
	assert.Equal(t, "Plain A", byID["a"].DisplayName, "missing meta falls back to denormalized fields")
	assert.Nil(t, byID["a"].Meta)
	assert.Equal(t, "Enriched B", byID["b"].DisplayName)
}

func TestCoordinator_StaleMetaBatchDropped(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.AppendMessage(&models.ChatMessage{ChatRoomID: "a", SenderID: "a", Text: "hi"}))

	meta := &fakeMeta{calls: make(chan *metaCall, 4)}
	fx := startCoordinator(t, st, meta)

	// First batch fetch for {a} arrives; hold it open.
	first := <-meta.calls

	// Room set changes; a second fetch for {a,b} goes out.
	require.NoError(t, st.AppendMessage(&models.ChatMessage{ChatRoomID: "b", SenderID: "b", Text: "yo"}))
	second := <-meta.calls
	require.ElementsMatch(t, []string{"a", "b"}, second.uids)

	second.reply <- map[string]adminapi.RoomMeta{
		"a": {UID: "a", User: &adminapi.MetaUser{DisplayName: "fresh"}},
	}
	fx.sink.waitFor(t, "rooms", func(m ws.WSMessage) bool {
		_, rooms := roomsData(m)
		for _, room := range rooms {
			if room.ID == "a" && room.DisplayName == "fresh" {
				return true
			}
		}
		return false
	})

	// Now the slow first batch lands with outdated data. It is stale by
	// generation and must be discarded silently.
	first.reply <- map[string]adminapi.RoomMeta{
		"a": {UID: "a", User: &adminapi.MetaUser{DisplayName: "stale"}},
	}
	time.Sleep(200 * time.Millisecond)

	for _, msg := range fx.sink.all() {
		if msg.Type != "rooms" {
			continue
		}
		_, rooms := roomsData(msg)
		for _, room := range rooms {
			assert.NotEqual(t, "stale", room.DisplayName, "stale meta batch must never render")
		}
	}
}

func TestCoordinator_RefreshRefetchesMeta(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.AppendMessage(&models.ChatMessage{ChatRoomID: "a", SenderID: "a", Text: "hi"}))

	meta := &fakeMeta{calls: make(chan *metaCall, 4)}
	fx := startCoordinator(t, st, meta)

	first := <-meta.calls
	first.reply <- map[string]adminapi.RoomMeta{}

	fx.coord.RefreshMeta()
	select {
	case call := <-meta.calls:
		assert.Equal(t, []string{"a"}, call.uids)
		call.reply <- map[string]adminapi.RoomMeta{}
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not trigger a batch fetch")
	}
}
