package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Client wraps one admin tab's connection. Writes are serialized: the view
// coordinator and the badge compositor push from different goroutines.
type Client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Send(msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Hub tracks connected tabs per admin, for out-of-band broadcasts that are
// not scoped to one view (new feedback / notification signals).
type Hub struct {
	mu     sync.RWMutex
	admins map[uint]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{
		admins: make(map[uint]map[*Client]bool),
	}
}

func (h *Hub) AddConnection(adminID uint, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.admins[adminID] == nil {
		h.admins[adminID] = make(map[*Client]bool)
	}
	h.admins[adminID][client] = true
	log.Printf("ws: admin %d connected (tabs: %d)", adminID, len(h.admins[adminID]))
}

func (h *Hub) RemoveConnection(adminID uint, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.admins[adminID]; ok {
		delete(clients, client)
		client.Close()
		if len(clients) == 0 {
			delete(h.admins, adminID)
		}
		log.Printf("ws: admin %d disconnected", adminID)
	}
}

// Broadcast sends to every tab of every connected admin.
func (h *Hub) Broadcast(msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for adminID, clients := range h.admins {
		for client := range clients {
			if err := client.Send(msg); err != nil {
				log.Printf("ws: write to admin %d failed: %v", adminID, err)
			}
		}
	}
}
