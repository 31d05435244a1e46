package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"go-messenger/internal/call"
	"go-messenger/internal/fabric"
	"go-messenger/internal/files"
	"go-messenger/internal/middleware"
	"go-messenger/internal/models"
	"go-messenger/internal/notify"
	"go-messenger/internal/presence"
	"go-messenger/internal/roster"
	"go-messenger/internal/session"
	"go-messenger/internal/store/sqlstore"
	"go-messenger/internal/unread"
	"go-messenger/internal/user"
)

func main() {
	// 1. Config & Flags
	addr := flag.String("addr", ":8080", "http service address")
	flag.Parse()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("❌ DB_DSN is not set")
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("❌ JWT_SECRET is not set")
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	uploadDir := os.Getenv("UPLOAD_DIR")
	if uploadDir == "" {
		uploadDir = "uploads"
	}
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost" + *addr
	}

	// 2. Platform layer: Postgres, Redis, blob directory
	st, err := sqlstore.New("pgx", dsn)
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL")

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	log.Println("✅ Connected to Redis")

	blobs, err := files.NewDiskStore(uploadDir, baseURL)
	if err != nil {
		log.Fatalf("❌ Failed to prepare upload dir: %v", err)
	}

	// 3. Fan-out plumbing. The fabric is constructed once and injected
	// everywhere; no package-global pub/sub state.
	bus := fabric.NewRedis(redisClient)
	relay := notify.NewRelay(bus)
	tracker := presence.NewTracker(st, bus)
	books := unread.NewBookkeeper(st, relay)

	// 4. Features
	userService := user.NewService(st, jwtSecret)
	userHandler := user.NewHandler(userService)
	rosterHandler := roster.NewHandler(st, bus)
	fileHandler := files.NewHandler(st, blobs)
	authMiddleware := middleware.NewAuthMiddleware(userService)

	deps := &session.Deps{
		Store:     st,
		Fabric:    bus,
		Relay:     relay,
		Books:     books,
		Presence:  tracker,
		Blobs:     blobs,
		Validator: userService,
	}

	// 5. Routes
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	// Sockets authenticate themselves: a bad token closes with 4001
	// from inside the consumer, not a 401 from middleware.
	r.Get("/ws/chat/room/{id}", session.ServeConversation(deps, models.KindRoom))
	r.Get("/ws/group/{id}", session.ServeConversation(deps, models.KindGroup))
	r.Get("/ws/channel/{id}", session.ServeConversation(deps, models.KindChannel))
	r.Get("/ws/notifications", session.ServeNotifications(deps))
	r.Get("/ws/presence", session.ServePresence(deps))
	r.Get("/ws/call/room/{id}", call.Serve(deps, models.KindRoom))
	r.Get("/ws/call/group/{id}", call.Serve(deps, models.KindGroup))

	// Protected REST
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)

		r.Post("/api/conversations", rosterHandler.StartConversation)
		r.Post("/api/groups", rosterHandler.CreateGroup)
		r.Post("/api/channels", rosterHandler.CreateChannel)
		r.Get("/api/groups/{id}/members", rosterHandler.Members(models.KindGroup))
		r.Post("/api/groups/{id}/members", rosterHandler.AddMember(models.KindGroup))
		r.Patch("/api/groups/{id}/members/{userID}", rosterHandler.UpdateRole)
		r.Delete("/api/groups/{id}/members/{userID}", rosterHandler.RemoveMember(models.KindGroup))
		r.Get("/api/channels/{id}/members", rosterHandler.Members(models.KindChannel))
		r.Post("/api/channels/{id}/members", rosterHandler.AddMember(models.KindChannel))
		r.Delete("/api/channels/{id}/members/{userID}", rosterHandler.RemoveMember(models.KindChannel))

		r.Get("/api/files", fileHandler.ListFiles)
		r.Get("/api/files/{fileID}/download", fileHandler.Download)
		r.Get("/files/{name}", fileHandler.ServeBlob)
	})

	log.Printf("🚀 Server starting on %s", *addr)
	if err := http.ListenAndServe(*addr, r); err != nil {
		log.Fatal(err)
	}
}
