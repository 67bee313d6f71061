package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jordnaer/chat/internal/bus"
	"github.com/jordnaer/chat/internal/bus/membus"
	"github.com/jordnaer/chat/internal/bus/redisbus"
	"github.com/jordnaer/chat/internal/config"
	"github.com/jordnaer/chat/internal/handler"
	"github.com/jordnaer/chat/internal/logger"
	"github.com/jordnaer/chat/internal/middleware"
	"github.com/jordnaer/chat/internal/push"
	"github.com/jordnaer/chat/internal/router"
	"github.com/jordnaer/chat/internal/startup"
	"github.com/jordnaer/chat/internal/store/postgres"
	"github.com/jordnaer/chat/internal/ws"
	"github.com/jordnaer/chat/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and an in-process queue (no external services required)")
	flag.Parse()

	logger.Info("starting chat service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	st := postgres.New(pool)

	// Queue: Redis Streams in normal operation, in-process channels in -dev.
	var commandBus bus.Bus
	var pushSvc *push.Service
	if *dev {
		commandBus = membus.New()
		pushSvc = push.NewService(nil, nil)
	} else {
		busCtx, busCancel := context.WithTimeout(context.Background(), 30*time.Second)
		commandBus, err = redisbus.New(busCtx, cfg.Redis.URL, cfg.QueueConsumer)
		busCancel()
		if err != nil {
			logger.Errorf("redis bus: %v", err)
			os.Exit(1)
		}
		if cfg.Features.WebPush {
			keys, err := push.EnsureVAPIDKeys("")
			if err != nil {
				logger.Errorf("vapid keys: %v (web push disabled)", err)
				pushSvc = push.NewService(nil, nil)
			} else {
				rdb := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
				pushSvc = push.NewService(rdb, keys)
			}
		} else {
			pushSvc = push.NewService(nil, nil)
		}
	}
	defer commandBus.Close()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(st, ws.Options{
		MaxConns:       cfg.MaxWSConnections,
		SendBufSize:    cfg.WSSendBufferSize,
		WriteTimeout:   time.Duration(cfg.WSWriteTimeout) * time.Second,
		PongTimeout:    time.Duration(cfg.WSPongTimeout) * time.Second,
		MaxMessageSize: int64(cfg.WSMaxMessageSize),
	})
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	rt := router.New(st, push.NewNotifier(hub, pushSvc))
	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	if err := rt.Subscribe(consumerCtx, commandBus); err != nil {
		logger.Errorf("subscribe consumers: %v", err)
		os.Exit(1)
	}
	logger.Info("command consumers running")

	chatH := handler.NewChatHandler(st, commandBus)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)
	pushH := handler.NewPushHandler(pushSvc, cfg.PushVAPIDPublicKey)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Never compress WebSocket responses: a compressing ResponseWriter does
	// not implement http.Hijacker and the upgrade fails with a 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id", "X-Timestamp", "X-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/push/vapid-public-key", pushH.VAPIDPublicKey)

	r.Group(func(r chi.Router) {
		r.Use(middleware.UserAuth(cfg.AuthSecret))
		r.Post("/api/chat/start-chat", chatH.StartChat)
		r.Post("/api/chat/send-message", chatH.SendMessage)
		r.Put("/api/chat/set-chat-name", chatH.SetChatName)
		r.Get("/api/chat/chats", chatH.GetChats)
		r.Get("/api/chat/unread", chatH.GetTotalUnread)
		r.Get("/api/chat/by-users", chatH.GetChatByUsers)
		r.Get("/api/chat/{chatId}/messages", chatH.GetMessages)
		r.Post("/api/chat/{chatId}/read", chatH.MarkRead)
		r.Get("/api/chat/{chatId}/unread", chatH.GetUnreadCount)
		r.Delete("/api/chat/messages/{messageId}", chatH.DeleteMessage)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	consumerCancel()
	logger.Info("consumers stopping")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	files := []string{"001_init.sql"}
	for _, f := range files {
		data, err := migrations.Files.ReadFile(f)
		if err != nil {
			logger.Errorf("read migration %s: %v", f, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", f, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "jordnaer"
		password = "jordnaer_secret"
		database = "jordnaer"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
