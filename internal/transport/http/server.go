package http

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"insightchat/internal/analysis"
	appsvc "insightchat/internal/app"
	"insightchat/internal/bootstrap"
	"insightchat/internal/cache"
	"insightchat/internal/platform/rabbitmq"
	"insightchat/internal/repository"
	"insightchat/internal/transport/http/handler"
	"insightchat/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) (*gin.Engine, error) {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	userRepo := repository.NewUserRepository(app.MySQL)
	projectRepo := repository.NewProjectRepository(app.MySQL)
	datasetRepo := repository.NewDatasetRepository(app.MySQL)
	chatRepo := repository.NewChatRepository(app.MySQL)
	messageRepo := repository.NewMessageRepository(app.MySQL)

	dispatcher, err := analysis.NewClient(
		app.Config.Analysis.BaseURL,
		time.Duration(app.Config.Analysis.TimeoutSeconds)*time.Second,
	)
	if err != nil {
		return nil, fmt.Errorf("build analysis client failed: %w", err)
	}

	historyCache := cache.NewHistoryCache(
		app.Redis,
		time.Duration(app.Config.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(app.Config.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	replyLock := cache.NewReplyLock(
		app.Redis,
		time.Duration(app.Config.Redis.ReplyLockTTLSeconds)*time.Second,
	)
	retentionPublisher := rabbitmq.NewRetentionPublisher(app.MQConn, app.Config.RabbitMQ.RetentionQueue)

	authService := appsvc.NewAuthService(
		userRepo,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)
	guard := appsvc.NewAccessGuard(projectRepo)
	chatService := appsvc.NewChatService(
		guard,
		chatRepo,
		messageRepo,
		datasetRepo,
		dispatcher,
		historyCache,
		replyLock,
		retentionPublisher,
		app.Config.App.PublicBaseURL,
		app.Config.Analysis.RecentTurns,
	)

	authHandler := handler.NewAuthHandler(authService)
	chatHandler := handler.NewChatHandler(chatService)
	datasetHandler := handler.NewDatasetHandler(datasetRepo)
	healthHandler := handler.NewHealthHandler(app)

	router.GET("/healthz", healthHandler.Check)
	router.GET("/files/datasets/:key", datasetHandler.Content)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(app.Config.Auth.JWTSecret), authHandler.Me)

	projects := v1.Group("/projects/:projectID")
	projects.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	projects.POST("/messages", chatHandler.SubmitMessage)
	projects.POST("/chats", chatHandler.CreateChat)
	projects.PATCH("/chats/:chatID", chatHandler.RenameChat)
	projects.POST("/chats/:chatID/reply", chatHandler.RequestReply)
	projects.GET("/chats/:chatID/history", chatHandler.GetHistory)

	return router, nil
}
