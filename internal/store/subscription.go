package store

import (
	"log"
	"sync"

	"nihongo-admin/internal/models"
)

// RoomSubscription is a live view of the room collection ordered by last
// message time descending. The channel carries full snapshots; a slow reader
// only ever misses intermediate states, never the latest one.
type RoomSubscription struct {
	C chan []models.ChatRoom

	store *Store
	once  sync.Once
}

// WatchRooms opens a room subscription and delivers the current snapshot
// immediately. The caller must Close the subscription when done with it.
func (s *Store) WatchRooms() *RoomSubscription {
	sub := &RoomSubscription{
		C:     make(chan []models.ChatRoom, 1),
		store: s,
	}

	s.mu.Lock()
	s.roomSubs[sub] = struct{}{}
	rooms, err := s.Rooms()
	if err == nil {
		sub.push(rooms)
	} else {
		// No error surfaces to the subscriber; it stays in its loading
		// state until a later change delivers a snapshot.
		log.Printf("store: initial room snapshot failed: %v", err)
	}
	s.mu.Unlock()

	return sub
}

func (sub *RoomSubscription) push(rooms []models.ChatRoom) {
	select {
	case sub.C <- rooms:
	default:
		// Drop the unread stale snapshot and replace it.
		select {
		case <-sub.C:
		default:
		}
		sub.C <- rooms
	}
}

// Close detaches the subscription; no snapshots are delivered afterwards.
func (sub *RoomSubscription) Close() {
	sub.once.Do(func() {
		sub.store.mu.Lock()
		delete(sub.store.roomSubs, sub)
		close(sub.C)
		sub.store.mu.Unlock()
	})
}

// MessageSubscription is a live view of one room's message subcollection
// ordered by creation time ascending.
type MessageSubscription struct {
	C chan []models.ChatMessage

	store  *Store
	roomID string
	once   sync.Once
}

// WatchMessages opens a message subscription for the given room and delivers
// the current snapshot immediately. An empty room id is a valid "no room
// selected" state: the subscriber gets a single empty snapshot and nothing
// more. The caller must Close the subscription when done with it.
func (s *Store) WatchMessages(roomID string) *MessageSubscription {
	sub := &MessageSubscription{
		C:      make(chan []models.ChatMessage, 1),
		store:  s,
		roomID: roomID,
	}

	s.mu.Lock()
	s.msgSubs[sub] = struct{}{}
	msgs, err := s.Messages(roomID)
	if err == nil {
		sub.push(msgs)
	} else {
		log.Printf("store: initial message snapshot failed: %v", err)
	}
	s.mu.Unlock()

	return sub
}

func (sub *MessageSubscription) push(msgs []models.ChatMessage) {
	select {
	case sub.C <- msgs:
	default:
		select {
		case <-sub.C:
		default:
		}
		sub.C <- msgs
	}
}

// Close detaches the subscription; no snapshots are delivered afterwards.
func (sub *MessageSubscription) Close() {
	sub.once.Do(func() {
		sub.store.mu.Lock()
		delete(sub.store.msgSubs, sub)
		close(sub.C)
		sub.store.mu.Unlock()
	})
}
