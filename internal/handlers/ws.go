package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"

	"nihongo-admin/internal/services"
	"nihongo-admin/internal/store"
	"nihongo-admin/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	hub         *ws.Hub
	authService *services.AuthService
	store       *store.Store
	meta        services.MetaClient
	tasks       *services.TaskQueue
	siteTitle   string
	faviconPNG  []byte
}

func NewWSHandler(
	hub *ws.Hub,
	authService *services.AuthService,
	st *store.Store,
	meta services.MetaClient,
	tasks *services.TaskQueue,
	siteTitle string,
	faviconPNG []byte,
) *WSHandler {
	return &WSHandler{
		hub:         hub,
		authService: authService,
		store:       st,
		meta:        meta,
		tasks:       tasks,
		siteTitle:   siteTitle,
		faviconPNG:  faviconPNG,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientCommand is what a tab sends upstream: room selection and explicit
// metadata refreshes.
type clientCommand struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// chromeSink pushes title/favicon state to one tab. A nil icon tells the tab
// to fall back to its original favicon.
type chromeSink struct {
	client *ws.Client
}

func (s chromeSink) Apply(title string, iconPNG []byte) {
	var icon interface{}
	if iconPNG != nil {
		icon = "data:image/png;base64," + base64.StdEncoding.EncodeToString(iconPNG)
	}
	err := s.client.Send(ws.WSMessage{Type: "badge", Data: map[string]interface{}{
		"title": title,
		"icon":  icon,
	}})
	if err != nil {
		log.Printf("ws: badge push failed: %v", err)
	}
}

// HandleChat godoc
// @Summary      WebSocket stream of the chat view
// @Description  Pushes room list, message timeline and badge state; accepts
// @Description  select/refresh commands. Authenticated by token query param.
// @Tags         websocket
// @Param        token query string true "JWT"
// @Param        id query string false "Initially selected room"
// @Router       /ws/chat [get]
func (h *WSHandler) HandleChat(c *gin.Context) {
	adminID, err := h.authService.ValidateToken(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid or expired token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	client := ws.NewClient(conn)
	h.hub.AddConnection(adminID, client)
	defer h.hub.RemoveConnection(adminID, client)

	badge := services.NewBadgeService(chromeSink{client: client}, h.siteTitle, h.faviconPNG)
	coord := services.NewCoordinator(h.store, h.meta, badge, h.tasks, client)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		coord.Run(ctx)
	}()

	// Selection survives reloads: the tab passes the room id it navigated
	// to as a query parameter.
	if roomID := c.Query("id"); roomID != "" {
		coord.Select(roomID)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Printf("ws: bad client command: %v", err)
			continue
		}
		switch cmd.Type {
		case "select":
			coord.Select(cmd.RoomID)
		case "refresh":
			coord.RefreshMeta()
		}
	}

	cancel()
	<-runDone
}
