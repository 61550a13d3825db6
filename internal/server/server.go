package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/circuitdesk/server/internal/auth"
	"github.com/circuitdesk/server/internal/build"
	"github.com/circuitdesk/server/internal/parts"
	"github.com/circuitdesk/server/internal/serial"
	"github.com/circuitdesk/server/internal/toolchain"
	"github.com/circuitdesk/server/internal/workspace"
)

type Options struct {
	AllowOrigins string
	BodyLimit    int
	// AuthSecret enables bearer token checks on /api when set.
	AuthSecret string
}

type Handlers struct {
	Toolchain *toolchain.Handler
	Workspace *workspace.Handler
	Parts     *parts.Handler
	Serial    *serial.Handler
	// Builds is nil when no database is configured.
	Builds *build.Handler
}

func New(opts Options, h Handlers) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "circuitdesk",
		BodyLimit:             opts.BodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: opts.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(compress.New(compress.Config{
		Next: func(c *fiber.Ctx) bool { return websocket.IsWebSocketUpgrade(c) },
	}))

	api := app.Group("/api")

	// Serial bridge (registered before the bearer token middleware; it checks ?token= itself)
	api.Use("/serial/:port", h.Serial.UpgradeMiddleware())
	api.Get("/serial/:port", h.Serial.WSHandler())

	protected := api
	if opts.AuthSecret != "" {
		protected = api.Group("", auth.JWTMiddleware(opts.AuthSecret, nil))
	}

	protected.Get("/", h.Toolchain.Root)
	protected.Get("/serial", h.Serial.List)

	protected.Get("/boards", h.Toolchain.Boards)
	protected.Get("/boards/available", h.Toolchain.AvailableBoards)
	protected.Get("/ports", h.Toolchain.Ports)

	protected.Get("/libraries", h.Toolchain.Libraries)
	protected.Post("/libraries/search", h.Toolchain.SearchLibraries)
	protected.Post("/libraries/install", h.Toolchain.InstallLibrary)
	protected.Post("/libraries/uninstall", h.Toolchain.UninstallLibrary)

	protected.Get("/cores", h.Toolchain.Cores)
	protected.Get("/cores/search", h.Toolchain.SearchCores)
	protected.Post("/cores/install", h.Toolchain.InstallCore)
	protected.Post("/cores/uninstall", h.Toolchain.UninstallCore)

	protected.Post("/compile", h.Toolchain.Compile)
	protected.Post("/upload", h.Toolchain.Upload)

	protected.Get("/files", h.Workspace.GetByQuery)
	protected.Get("/files/*", h.Workspace.GetByPath)
	protected.Post("/files", h.Workspace.Save)
	protected.Delete("/files", h.Workspace.Delete)
	protected.Get("/workspace", h.Workspace.Tree)
	protected.Post("/save-svg", h.Workspace.SaveSVG)

	protected.Get("/components", h.Parts.List)
	protected.Get("/components/:id/svg/:view", h.Parts.Graphic)
	protected.Post("/components/load", h.Parts.Load)

	if h.Builds != nil {
		protected.Get("/builds", h.Builds.List)
	}

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	return app
}
