package handlers

import (
	"errors"
	"net/http"

	"nihongo-admin/internal/services"
	"nihongo-admin/internal/store"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	chatService *services.ChatService
	authService *services.AuthService
}

func NewChatHandler(chatService *services.ChatService, authService *services.AuthService) *ChatHandler {
	return &ChatHandler{chatService: chatService, authService: authService}
}

type SendMessageRequest struct {
	Text     string `json:"text"`
	ImageURL string `json:"image_url"`
}

type CreateChatRequest struct {
	UID         string `json:"uid" binding:"required"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
}

type UpdateMetaRequest struct {
	Fields map[string]interface{} `json:"chat_room" binding:"required"`
}

type UploadResponse struct {
	URL string `json:"url"`
}

// SendMessage godoc
// @Summary      Send an admin message into a chat room
// @Tags         chat
// @Accept       json
// @Produce      json
// @Param        id path string true "Room ID"
// @Param        request body SendMessageRequest true "Message"
// @Success      201 {object} ChatMessage
// @Failure      400 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /api/v1/chats/{id}/messages [post]
func (h *ChatHandler) SendMessage(c *gin.Context) {
	adminID := c.GetUint("admin_id")
	admin, err := h.authService.GetAdmin(adminID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	msg, err := h.chatService.SendAdminMessage(c.Param("id"), req.Text, req.ImageURL, admin)
	if err != nil {
		if errors.Is(err, services.ErrSendInFlight) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// UploadImage godoc
// @Summary      Upload a chat image
// @Tags         chat
// @Accept       multipart/form-data
// @Produce      json
// @Param        id path string true "Room ID"
// @Param        file formData file true "Image file"
// @Success      201 {object} UploadResponse
// @Failure      400 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /api/v1/chats/{id}/images [post]
func (h *ChatHandler) UploadImage(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file is required"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	defer src.Close()

	url, err := h.chatService.UploadChatImage(c.Param("id"), file.Filename, src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, UploadResponse{URL: url})
}

// CreateChat godoc
// @Summary      Open a chat room with a user
// @Tags         chat
// @Accept       json
// @Produce      json
// @Param        request body CreateChatRequest true "User"
// @Success      201 {object} ChatRoom
// @Failure      400 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /api/v1/chats [post]
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	room, err := h.chatService.CreateChat(req.UID, req.DisplayName, req.PhotoURL)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, room)
}

// DeleteChat godoc
// @Summary      Delete a chat room and all of its messages
// @Tags         chat
// @Produce      json
// @Param        id path string true "Room ID"
// @Success      200 {object} MessageResponse
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /api/v1/chats/{id} [delete]
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	if err := h.chatService.DeleteChat(c.Param("id")); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "chat deleted"})
}

// UpdateMeta godoc
// @Summary      Update moderation metadata for a room
// @Description  Proxies a partial update (ban toggle, admin note) to the
// @Description  upstream admin API. Clients re-fetch to observe the result.
// @Tags         chat
// @Accept       json
// @Produce      json
// @Param        id path string true "Room UID"
// @Param        request body UpdateMetaRequest true "Partial fields"
// @Success      200 {object} MessageResponse
// @Failure      400 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /api/v1/chats/{id}/meta [patch]
func (h *ChatHandler) UpdateMeta(c *gin.Context) {
	var req UpdateMetaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.chatService.UpdateRoomMeta(c.Request.Context(), c.Param("id"), req.Fields); err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "metadata updated"})
}
