package serial

import (
	"context"
	"net/url"

	"github.com/circuitdesk/server/internal/auth"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	bridge *Bridge
	secret string
}

// NewHandler serves the bridge over WebSocket. When secret is set, connections must carry a
// signed token in the "token" query parameter.
func NewHandler(bridge *Bridge, secret string) *Handler {
	return &Handler{bridge: bridge, secret: secret}
}

// UpgradeMiddleware checks the token, if required, before the WebSocket upgrade.
func (h *Handler) UpgradeMiddleware() fiber.Handler {
	check := func(c *fiber.Ctx) error { return c.Next() }
	if h.secret != "" {
		check = auth.QueryToken(h.secret)
	}
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return check(c)
	}
}

// WSHandler bridges /serial/:port?baudrate= to a monitor process.
func (h *Handler) WSHandler() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		port, err := url.PathUnescape(c.Params("port"))
		if err != nil {
			port = c.Params("port")
		}
		h.bridge.Serve(context.Background(), c, port, c.Query("baudrate"))
	})
}

// List serves GET /serial.
func (h *Handler) List(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "sessions": h.bridge.Registry().List()})
}
