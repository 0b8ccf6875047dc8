package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"anonpair/backend/internal/analysis"
	"anonpair/backend/internal/api/handler"
	"anonpair/backend/internal/chathub"
	"anonpair/backend/internal/config"
	"anonpair/backend/internal/presence"
	"anonpair/backend/internal/rate"
	"anonpair/backend/internal/storage"
	"anonpair/backend/internal/telegram"
)

func setupDependencies(cfg *config.Config) (*gorm.DB, *redis.Client) {
	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect PostgreSQL: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("Failed to connect Redis: %v", err)
	}

	return db, rdb
}

func main() {
	log.Println("Starting anonpair backend...")
	cfg := config.Load()

	db, rdb := setupDependencies(cfg)
	store := storage.NewService(db, rdb)
	if err := store.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database and Redis connections established, migrations complete.")

	bus := chathub.NewEventBus(rdb, store)
	tracker := presence.NewTracker(store, config.PresenceDebounce, config.HeartbeatTTL)
	sessions := chathub.NewSessionManager(store, bus, config.SessionRetryAttempts, config.SessionRetryBase)
	queue := chathub.NewQueueService(store, bus)
	matcher := chathub.NewMatcher(store, tracker, sessions, queue, bus,
		config.MatchScanAttempts, config.MatchScanBackoff, config.SkipRequeueDelay)
	hub := chathub.NewHub(store, bus, sessions, analysis.NewKeywordProvider(), config.AnalysisEveryN)
	limiter := rate.NewLimiter(rate.NewRedisWindowStore(rdb), config.QueueJoinsPerMinute, time.Minute)

	ctx := context.Background()
	go bus.Run(ctx)
	go hub.Run(ctx)

	if cfg.TelegramToken != "" {
		bot, err := telegram.NewBotService(cfg.TelegramToken, hub, store, queue, matcher, tracker)
		if err != nil {
			log.Fatalf("Failed to start Telegram bot: %v", err)
		}
		go bot.Run()
	}

	r := gin.Default()
	h := handler.NewHandler(hub, matcher, queue, sessions, tracker, limiter, store, []byte(cfg.JWTSecret))

	r.GET("/anonid", h.GetAnonID)
	r.GET("/ws", h.ServeWebSocket)

	authed := r.Group("/", h.AuthRequired())
	authed.POST("/queue/join", h.JoinQueue)
	authed.POST("/queue/leave", h.LeaveQueue)
	authed.GET("/queue/position", h.QueuePosition)
	authed.POST("/match", h.FindMatch)
	authed.POST("/sessions/:id/end", h.EndSession)
	authed.POST("/sessions/:id/skip", h.SkipSession)
	authed.GET("/sessions/:id/messages", h.ListMessages)
	authed.POST("/sessions/:id/messages", h.SendMessage)
	authed.GET("/sessions/:id/presence", h.PartnerPresence)
	authed.GET("/profile", h.GetProfile)
	authed.POST("/profile", h.UpdateProfile)
	authed.POST("/presence/heartbeat", h.Heartbeat)
	authed.POST("/presence/visibility", h.Visibility)

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	log.Fatal(server.ListenAndServe())
}
