// Package httpapi exposes the market over HTTP: order submission and
// cancellation plus read-only depth, slot, and stats views. The
// authoritative write path stays the instruction codec; JSON here is a
// convenience wrapper that encodes into it.
package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/dvrvsimi/openbook-dex/pkg/logger"
	"github.com/dvrvsimi/openbook-dex/service"
)

// Server wraps a fiber app around one market service.
type Server struct {
	app *fiber.App
	svc *service.MarketService
	log *logger.Logger
}

// New builds the app and mounts the routes.
func New(svc *service.MarketService, log *logger.Logger) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{DisableStartupMessage: true}),
		svc: svc,
		log: log,
	}

	s.app.Get("/health", s.health)
	s.app.Get("/stats", s.stats)
	s.app.Get("/depth", s.depth)

	orders := s.app.Group("/orders")
	orders.Post("/", s.postOrder)
	orders.Post("/cancel", s.cancelOrder)
	orders.Get("/:slot", s.getOpenOrders)

	s.app.Post("/settle/:slot", s.settle)
	s.app.Post("/credit", s.credit)

	return s
}

// Listen serves until Shutdown.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) stats(c *fiber.Ctx) error {
	return c.JSON(s.svc.Stats())
}
