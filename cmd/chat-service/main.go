package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	authHandler "github.com/bzaromedia/securi-comm-network-sub001/internal/handler/http/auth"
	conversationHandler "github.com/bzaromedia/securi-comm-network-sub001/internal/handler/http/conversation"
	messageHandler "github.com/bzaromedia/securi-comm-network-sub001/internal/handler/http/message"
	presenceHandler "github.com/bzaromedia/securi-comm-network-sub001/internal/handler/http/presence"
	securityHandler "github.com/bzaromedia/securi-comm-network-sub001/internal/handler/http/security"
	wsHandler "github.com/bzaromedia/securi-comm-network-sub001/internal/handler/ws"
	"github.com/bzaromedia/securi-comm-network-sub001/internal/middleware"
	"github.com/bzaromedia/securi-comm-network-sub001/internal/repository/cassandra"
	"github.com/bzaromedia/securi-comm-network-sub001/internal/repository/cockroach"
	redisRepo "github.com/bzaromedia/securi-comm-network-sub001/internal/repository/redis"
	authService "github.com/bzaromedia/securi-comm-network-sub001/internal/service/auth"
	conversationService "github.com/bzaromedia/securi-comm-network-sub001/internal/service/conversation"
	messageService "github.com/bzaromedia/securi-comm-network-sub001/internal/service/message"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/config"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/database"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/jwt"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	jwtManager := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry, cfg.JWT.RefreshTokenExpiry)

	ctx := context.Background()

	cockroachDB, err := database.NewCockroachDB(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to CockroachDB", zap.Error(err))
	}
	defer cockroachDB.Close()
	logger.Info("connected to CockroachDB")

	cassandraDB, err := database.NewCassandraDB(&cfg.Cassandra)
	if err != nil {
		logger.Fatal("failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()
	logger.Info("connected to Cassandra")

	redisDB, err := database.NewRedisDB(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	logger.Info("connected to Redis")

	// Repositories
	userRepo := cockroach.NewUserRepository(cockroachDB.Pool)
	conversationRepo := cockroach.NewConversationRepository(cockroachDB.Pool)
	messageRepo := cassandra.NewMessageRepository(cassandraDB.Session)
	presenceRepo := redisRepo.NewPresenceRepository(redisDB.Client)

	// Services
	authSvc := authService.NewService(userRepo, jwtManager)
	conversationSvc := conversationService.NewService(conversationRepo, userRepo)
	publisher := &messageService.RedisAdapter{Client: redisDB.Client}
	messageSvc := messageService.NewService(messageRepo, conversationRepo, publisher)

	// Handlers
	authHdlr := authHandler.NewHandler(authSvc)
	conversationHdlr := conversationHandler.NewHandler(conversationSvc)
	messageHdlr := messageHandler.NewHandler(messageSvc)
	presenceHdlr := presenceHandler.NewHandler(presenceRepo)
	securityHdlr := securityHandler.NewHandler()
	hub := wsHandler.NewHub(redisDB.Client, conversationSvc)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.Prometheus())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": cfg.Server.ServiceName,
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler())

	v1 := router.Group("/v1")
	{
		v1.POST("/auth/register", authHdlr.Register)
		v1.POST("/auth/login", authHdlr.Login)
	}

	authed := v1.Group("")
	authed.Use(middleware.AuthMiddleware(jwtManager))
	{
		authed.GET("/conversations", conversationHdlr.List)
		authed.POST("/conversations/direct", conversationHdlr.CreateDirect)
		authed.POST("/conversations/group", conversationHdlr.CreateGroup)
		authed.GET("/conversations/:id", conversationHdlr.Get)
		authed.PATCH("/conversations/:id", conversationHdlr.Update)
		authed.POST("/conversations/:id/participants", conversationHdlr.AddParticipant)
		authed.DELETE("/conversations/:id/participants/:uid", conversationHdlr.RemoveParticipant)
		authed.POST("/conversations/:id/key-rotation", conversationHdlr.RotateKey)

		authed.GET("/conversations/:id/messages", messageHdlr.List)
		authed.POST("/conversations/:id/messages", messageHdlr.Send)
		authed.POST("/messages/:id/read", messageHdlr.MarkRead)
		authed.DELETE("/messages/:id", messageHdlr.Delete)

		authed.POST("/presence", presenceHdlr.Update)
		authed.GET("/security/scan", securityHdlr.Scan)

		authed.GET("/ws", hub.ServeWS)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info("chat service starting",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
