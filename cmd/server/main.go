package main

import (
	"log"
	"os"

	"nihongo-admin/internal/adminapi"
	"nihongo-admin/internal/config"
	"nihongo-admin/internal/database"
	"nihongo-admin/internal/handlers"
	"nihongo-admin/internal/middleware"
	"nihongo-admin/internal/services"
	"nihongo-admin/internal/storage"
	"nihongo-admin/internal/store"
	"nihongo-admin/internal/ws"

	_ "nihongo-admin/docs"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Nihongo Admin Chat API
// @version         1.0
// @description     Admin chat gateway: live room/message streams, metadata enrichment and moderation actions
// @host            localhost:8080
// @BasePath        /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Enter "Bearer {token}"

func main() {
	cfg := config.Load()

	db := database.Connect(cfg)
	database.AutoMigrate(db)

	hub := ws.NewHub()
	chatStore := store.New(db)
	metaClient := adminapi.NewClient(cfg.AdminAPIBaseURL, cfg.AdminAPIToken)
	objectStore := storage.NewDiskStore(cfg.UploadDir, "/uploads")
	tasks := services.NewTaskQueue(64)
	defer tasks.Close()

	authService := services.NewAuthService(db, cfg.JWTSecret)
	chatService := services.NewChatService(chatStore, metaClient, objectStore, tasks)

	favicon, err := os.ReadFile(cfg.FaviconPath)
	if err != nil {
		log.Printf("favicon not readable at %s, badge uses fallback icon: %v", cfg.FaviconPath, err)
	}

	authHandler := handlers.NewAuthHandler(authService)
	chatHandler := handlers.NewChatHandler(chatService, authService)
	wsHandler := handlers.NewWSHandler(hub, authService, chatStore, metaClient, tasks, cfg.SiteTitle, favicon)

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.Static("/uploads", cfg.UploadDir)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/ws/chat", wsHandler.HandleChat)

	api := r.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		chats := api.Group("/chats")
		chats.Use(middleware.JWTAuth(authService))
		{
			chats.POST("", chatHandler.CreateChat)
			chats.DELETE("/:id", chatHandler.DeleteChat)
			chats.POST("/:id/messages", chatHandler.SendMessage)
			chats.POST("/:id/images", chatHandler.UploadImage)
			chats.PATCH("/:id/meta", chatHandler.UpdateMeta)
		}
	}

	log.Printf("server listening on :%s", cfg.ServerPort)
	if err := r.Run(":" + cfg.ServerPort); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
