// Package httpapi exposes the BrokerStats read endpoint (spec §6) over
// HTTP, grounded on control/internal/server/http_server.go's fiber
// bootstrap (same middleware stack: recover, logger, cors) and
// control/internal/handlers's handler-struct-over-service shape.
package httpapi

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xuandao/noslated/internal/controlplane"
)

// StatsHandler serves BrokerStats off a StateManager.
type StatsHandler struct {
	state *controlplane.StateManager
}

// NewStatsHandler constructs a StatsHandler reading through state.
func NewStatsHandler(state *controlplane.StateManager) *StatsHandler {
	return &StatsHandler{state: state}
}

// BrokerStatsResponse is a per-broker summary read off the control-plane
// stats mirror: function name, worker count, total active requests and the
// disposable/inspector flags. It does not list individual workers or their
// per-worker activeRequestCount.
type BrokerStatsResponse struct {
	FunctionName       string `json:"functionName"`
	WorkerCount        int    `json:"workerCount"`
	ActiveRequestCount int    `json:"activeRequestCount"`
	Disposable         bool   `json:"disposable"`
	IsInspector        bool   `json:"isInspector"`
}

// GetBrokerStats implements GET /brokers/:name/stats.
func (h *StatsHandler) GetBrokerStats(c *fiber.Ctx) error {
	name := c.Params("name")
	view, ok := h.state.View(name)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("no broker named %q", name),
		})
	}

	return c.JSON(BrokerStatsResponse{
		FunctionName:       view.Name,
		WorkerCount:        view.WorkerCount,
		ActiveRequestCount: view.ActiveRequestCount,
		Disposable:         view.Disposable,
		IsInspector:        view.IsInspector,
	})
}

// ListBrokerStats implements GET /brokers/stats.
func (h *StatsHandler) ListBrokerStats(c *fiber.Ctx) error {
	views := h.state.Snapshot()
	out := make([]BrokerStatsResponse, 0, len(views))
	for _, view := range views {
		out = append(out, BrokerStatsResponse{
			FunctionName:       view.Name,
			WorkerCount:        view.WorkerCount,
			ActiveRequestCount: view.ActiveRequestCount,
			Disposable:         view.Disposable,
			IsInspector:        view.IsInspector,
		})
	}
	return c.JSON(out)
}

// Server wraps a fiber.App exposing the stats API.
type Server struct {
	app  *fiber.App
	port int
}

// Config controls Server construction.
type Config struct {
	Port    int
	Handler *StatsHandler
}

// NewServer constructs a Server per config, wiring the same
// recover/logger/cors middleware stack the teacher's HTTPServer does. The
// app itself is not otel-instrumented; Handler exposes an otelhttp-wrapped
// form of it, while Start serves it unwrapped.
func NewServer(cfg Config) *Server {
	app := fiber.New(fiber.Config{AppName: "noslated Control API"})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,OPTIONS",
	}))

	app.Get("/brokers/stats", cfg.Handler.ListBrokerStats)
	app.Get("/brokers/:name/stats", cfg.Handler.GetBrokerStats)

	return &Server{app: app, port: cfg.Port}
}

// Handler returns an otelhttp-wrapped net/http handler for use behind a
// net/http.Server, for callers that want otel span propagation without
// going through Start/Listen.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(adaptor.FiberApp(s.app), "noslated.httpapi")
}

// Start listens on the configured port using fiber's own listener.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	log.Printf("httpapi: listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	log.Println("httpapi: shutting down")
	return s.app.Shutdown()
}
