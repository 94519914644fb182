package handlers

import "nihongo-admin/internal/models"

type ErrorResponse struct {
	Error string `json:"error" example:"something went wrong"`
}

type MessageResponse struct {
	Message string `json:"message" example:"operation successful"`
}

// Type aliases so swag can resolve models in annotations.
type ChatRoom = models.ChatRoom
type ChatMessage = models.ChatMessage
