// Package api exposes the alert feed, risk, dose and acknowledgement surface
// over HTTP and a live alert stream over WebSocket.
package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pillpal/pillpald/internal/app"
	"github.com/pillpal/pillpald/internal/config"
	"github.com/pillpal/pillpald/internal/store"
)

// Server handles HTTP API and WebSocket
type Server struct {
	fiber  *fiber.App
	config *config.Config
	app    *app.App
	store  *store.Store
	logger *zap.Logger
}

// New creates a new API server
func New(cfg *config.Config, application *app.App, st *store.Store, logger *zap.Logger) *Server {
	f := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	})

	s := &Server{
		fiber:  f,
		config: cfg,
		app:    application,
		store:  st,
		logger: logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.fiber.Use(recover.New())
	s.fiber.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	s.fiber.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Security.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
	}))

	s.fiber.Get("/api/health", s.handleHealth)
	s.fiber.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := s.fiber.Group("/api/v1")

	api.Post("/auth/login", s.handleLogin)

	protected := api.Use(s.authMiddleware())

	protected.Get("/alerts/feed", s.handleAlertFeed)
	protected.Post("/alerts/ack-all", s.handleAckAll)
	protected.Post("/alerts/:id/ack", s.handleAck)

	protected.Get("/risk/today", s.handleRiskToday)
	protected.Get("/risk/insights", s.handleRiskInsights)

	protected.Get("/doses", s.handleDosesToday)
	protected.Get("/doses/today", s.handleDosesToday)
	protected.Get("/user/next-dose", s.handleNextDose)

	protected.Get("/medications", s.handleListMedications)
	protected.Get("/notifications", s.handleRecentNotifications)

	protected.Post("/engine/refresh", s.handleRefresh)

	s.fiber.Get("/ws", websocket.New(s.handleWebSocket))
}

// Start starts the server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Address, s.config.Server.Port)
	return s.fiber.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.fiber.ShutdownWithContext(ctx)
}
