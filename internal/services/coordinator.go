package services

import (
	"context"
	"log"
	"strings"
	"time"

	"nihongo-admin/internal/adminapi"
	"nihongo-admin/internal/models"
	"nihongo-admin/internal/store"
	"nihongo-admin/internal/ws"
)

// Sink delivers view events to one admin tab.
type Sink interface {
	Send(msg ws.WSMessage) error
}

type metaResult struct {
	gen   uint64
	metas map[string]adminapi.RoomMeta
}

// Coordinator drives the chat view for a single connection. It composes the
// room stream, the message stream of the selected room, the metadata
// enricher and the badge propagator, and pushes full view snapshots to its
// sink. All state lives in the Run goroutine; the exported methods hand
// commands to it over channels.
type Coordinator struct {
	store *store.Store
	meta  MetaClient
	badge *BadgeService
	tasks *TaskQueue
	sink  Sink

	selectCh  chan string
	refreshCh chan struct{}
	metaCh    chan metaResult
	done      chan struct{}

	// owned by Run
	ctx        context.Context
	selected   string
	rooms      []models.ChatRoom
	loaded     bool
	metas      map[string]adminapi.RoomMeta
	metaGen    uint64
	lastUIDKey string
}

func NewCoordinator(st *store.Store, meta MetaClient, badge *BadgeService, tasks *TaskQueue, sink Sink) *Coordinator {
	return &Coordinator{
		store:     st,
		meta:      meta,
		badge:     badge,
		tasks:     tasks,
		sink:      sink,
		selectCh:  make(chan string),
		refreshCh: make(chan struct{}, 1),
		metaCh:    make(chan metaResult, 1),
		done:      make(chan struct{}),
		metas:     make(map[string]adminapi.RoomMeta),
	}
}

// Select switches the view to the given room id. An empty id deselects.
func (c *Coordinator) Select(roomID string) {
	select {
	case c.selectCh <- roomID:
	case <-c.done:
	}
}

// RefreshMeta re-runs the metadata batch fetch for the current room set,
// typically after an explicit mutation completed.
func (c *Coordinator) RefreshMeta() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled, consuming stream snapshots and commands.
// On return all subscriptions are closed and the chrome is restored.
func (c *Coordinator) Run(ctx context.Context) {
	c.ctx = ctx

	roomSub := c.store.WatchRooms()
	msgSub := c.store.WatchMessages(c.selected)

	defer func() {
		roomSub.Close()
		msgSub.Close()
		c.badge.Close()
		close(c.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case rooms, ok := <-roomSub.C:
			if !ok {
				return
			}
			c.handleRooms(rooms)

		case msgs, ok := <-msgSub.C:
			if !ok {
				return
			}
			c.emitTimeline(msgs)

		case roomID := <-c.selectCh:
			if roomID == c.selected {
				continue
			}
			// Close the old stream before opening the new one so a late
			// snapshot from the previous room can never cross over.
			msgSub.Close()
			c.selected = roomID
			msgSub = c.store.WatchMessages(roomID)
			c.handleSelected()

		case <-c.refreshCh:
			c.fetchMeta(c.roomUIDs())

		case res := <-c.metaCh:
			if res.gen != c.metaGen {
				// A newer batch fetch superseded this response.
				continue
			}
			c.metas = res.metas
			c.emitRooms()
		}
	}
}

func (c *Coordinator) handleRooms(rooms []models.ChatRoom) {
	c.rooms = rooms
	c.loaded = true

	uids := c.roomUIDs()
	if key := strings.Join(uids, ","); key != c.lastUIDKey {
		c.lastUIDKey = key
		c.fetchMeta(uids)
	}

	total := 0
	for _, room := range rooms {
		total += room.AdminUnread
	}
	c.badge.Set(total)

	// The open room counts as read even when new messages arrive while it
	// is selected.
	if room := c.findRoom(c.selected); room != nil && room.AdminUnread > 0 {
		c.enqueueResetUnread(room.ID)
	}

	c.emitRooms()
}

func (c *Coordinator) handleSelected() {
	roomID := c.selected
	if roomID != "" {
		if room := c.findRoom(roomID); room != nil && room.AdminUnread > 0 {
			c.enqueueResetUnread(roomID)
		}
		c.tasks.Enqueue("last-opened", func(ctx context.Context) error {
			return c.meta.UpdateChatRoom(ctx, roomID, map[string]interface{}{
				"last_opened_at": time.Now().UTC().Format(time.RFC3339),
			})
		})
	}

	if err := c.sink.Send(ws.WSMessage{Type: "selected", Data: map[string]string{"room_id": roomID}}); err != nil {
		log.Printf("coordinator: send selected: %v", err)
	}
}

func (c *Coordinator) enqueueResetUnread(roomID string) {
	c.tasks.Enqueue("reset-admin-unread", func(context.Context) error {
		return c.store.ResetAdminUnread(roomID)
	})
}

// fetchMeta launches a generation-stamped batch fetch. Responses racing each
// other resolve by generation, not by arrival order, so a stale batch can
// never overwrite a newer one.
func (c *Coordinator) fetchMeta(uids []string) {
	if len(uids) == 0 {
		return
	}
	c.metaGen++
	gen := c.metaGen
	ctx := c.ctx

	go func() {
		metas, err := c.meta.FetchChatRooms(ctx, uids)
		if err != nil {
			log.Printf("coordinator: fetch room meta: %v", err)
			return
		}
		select {
		case c.metaCh <- metaResult{gen: gen, metas: metas}:
		case <-ctx.Done():
		}
	}()
}

func (c *Coordinator) emitRooms() {
	views := make([]ViewRoom, len(c.rooms))
	for i, room := range c.rooms {
		views[i] = MergeRoom(room, c.metaFor(room.ID))
	}
	err := c.sink.Send(ws.WSMessage{Type: "rooms", Data: map[string]interface{}{
		"loading": !c.loaded,
		"rooms":   views,
	}})
	if err != nil {
		log.Printf("coordinator: send rooms: %v", err)
	}
}

func (c *Coordinator) emitTimeline(msgs []models.ChatMessage) {
	err := c.sink.Send(ws.WSMessage{Type: "timeline", Data: map[string]interface{}{
		"room_id": c.selected,
		"entries": GroupMessages(msgs),
	}})
	if err != nil {
		log.Printf("coordinator: send timeline: %v", err)
	}
}

func (c *Coordinator) metaFor(roomID string) *adminapi.RoomMeta {
	if meta, ok := c.metas[roomID]; ok {
		return &meta
	}
	return nil
}

func (c *Coordinator) findRoom(roomID string) *models.ChatRoom {
	if roomID == "" {
		return nil
	}
	for i := range c.rooms {
		if c.rooms[i].ID == roomID {
			return &c.rooms[i]
		}
	}
	return nil
}

func (c *Coordinator) roomUIDs() []string {
	uids := make([]string, len(c.rooms))
	for i, room := range c.rooms {
		uids[i] = room.ID
	}
	return uids
}
