// Package server exposes the engagement coordinators over HTTP and relays the
// change feed over WebSocket.
package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"engagement/internal/cache"
	"engagement/internal/changefeed"
	"engagement/internal/config"
	"engagement/internal/database"
	"engagement/internal/featureflags"
	"engagement/internal/middleware"
	"engagement/internal/models"
	"engagement/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	promOnce sync.Once
	prom     *fiberprometheus.FiberPrometheus
)

// metrics returns the process-wide HTTP metrics middleware. Collectors
// register once per process, however many servers are built.
func metrics() *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		prom = fiberprometheus.New("engagement-api")
	})
	return prom
}

// Server holds all dependencies and provides handlers
type Server struct {
	config    *config.Config
	db        *gorm.DB
	redis     *redis.Client
	app       *fiber.App
	feed      *changefeed.Feed
	flags     *featureflags.Manager
	debouncer *cache.Debouncer

	toggles  *service.ToggleService
	cascade  *service.CascadeService
	backfill *service.BackfillService
	posts    *service.PostService
	users    *service.UserService
	reaper   *service.ReaperService

	shutdownCtx context.Context
	shutdownFn  context.CancelFunc
	background  sync.WaitGroup
}

// NewServer connects the store and Redis and builds the server.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	cache.InitRedis(cfg.RedisURL)
	return NewServerWithDeps(cfg, db, cache.GetClient())
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil; the feed, debounce and profile cache then no-op.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	runner := database.NewTxRunner(db, database.TxOptionsFromConfig(cfg))
	repos := service.NewRepositories(db)
	feed := changefeed.NewFeed(redisClient)
	flags := featureflags.NewManager(cfg.FeatureFlags)
	backfill := service.NewBackfillService(runner, repos, feed, cfg.BackfillBatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:      cfg,
		db:          db,
		redis:       redisClient,
		feed:        feed,
		flags:       flags,
		debouncer:   cache.NewDebouncer(redisClient, cfg.ToggleDebounce()),
		toggles:     service.NewToggleService(runner, repos, feed),
		cascade:     service.NewCascadeService(runner, repos, feed),
		backfill:    backfill,
		posts:       service.NewPostService(runner, repos, feed),
		users:       service.NewUserService(runner, repos, feed, redisClient, backfill),
		reaper:      service.NewReaperService(repos, flags, cfg.ReaperBatchSize),
		shutdownCtx: ctx,
		shutdownFn:  cancel,
	}
	middleware.InitMiddleware(cfg)

	s.app = fiber.New(fiber.Config{
		AppName: "Engagement API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return models.RespondWithError(c, fe.Code, err)
			}
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(s.app)
	s.SetupRoutes(s.app)
	return s, nil
}

// App returns the fiber app, for tests and embedding.
func (s *Server) App() *fiber.App {
	return s.app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())
	app.Use(metrics().Middleware)
	app.Use(middleware.StructuredLogger())
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health", s.HealthCheck)
	metrics().RegisterAt(app, "/metrics")

	app.Get("/ws/feed", middleware.WebSocketAuthRequired, s.FeedUpgrade, s.FeedHandler())

	api := app.Group("/api", middleware.AuthRequired)

	posts := api.Group("/posts")
	posts.Post("/", s.CreatePost)
	// Define specific /:id/:resource routes BEFORE generic /:id route
	posts.Post("/:id/like", middleware.ToggleDebounce(s.debouncer, s.flags, models.KindLike), s.ToggleLike)
	posts.Post("/:id/save", middleware.ToggleDebounce(s.debouncer, s.flags, models.KindSave), s.ToggleSave)
	posts.Get("/:id/viewer", s.GetViewerState)
	posts.Get("/:id/comments", s.GetComments)
	posts.Post("/:id/comments", s.CreateComment)
	posts.Delete("/:id/comments/:commentId", s.DeleteComment)
	posts.Get("/:id", s.GetPost)
	posts.Patch("/:id", s.UpdatePost)
	posts.Delete("/:id", s.DeletePost)

	users := api.Group("/users")
	users.Post("/me", s.EnsureMyProfile)
	users.Patch("/me", s.UpdateMyProfile)
	users.Post("/me/backfill", s.BackfillMyPosts)
	users.Get("/me/saved", s.GetMySavedPosts)
	users.Get("/:id/card", s.GetProfileCard)
	users.Get("/:id/followers", s.GetFollowers)
	users.Get("/:id/following", s.GetFollowing)
	users.Get("/:id/posts", s.GetUserPosts)
	users.Get("/:id/follow", s.GetFollowState)
	users.Post("/:id/follow", middleware.ToggleDebounce(s.debouncer, s.flags, models.KindFollow), s.ToggleFollow)
	users.Get("/:id", s.GetUser)
}

// HealthCheck reports store and Redis reachability.
func (s *Server) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if sqlDB, err := s.db.DB(); err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	// Redis is optional; only a configured but unreachable client degrades health.
	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overall := "healthy"
	if dbStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}
	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now().UTC(),
	})
}

// Start runs the orphan reaper and serves HTTP until Shutdown.
func (s *Server) Start() error {
	s.goBackground(func(ctx context.Context) {
		s.reaper.Run(ctx, s.config.ReaperInterval())
	})

	log.Printf("Server starting on port %s...", s.config.Port)
	return s.app.Listen(":" + s.config.Port)
}

// goBackground runs fn on the server's lifetime context and tracks it for
// Shutdown.
func (s *Server) goBackground(fn func(ctx context.Context)) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		fn(s.shutdownCtx)
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		log.Printf("error shutting down HTTP server: %v", err)
	}

	// Stop the reaper; in-flight backfills finish their current batch.
	s.shutdownFn()
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("background work still running at shutdown: %v", ctx.Err())
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Printf("error closing sql DB: %v", cerr)
		}
	}
	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
