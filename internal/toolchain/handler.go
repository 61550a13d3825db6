package toolchain

import (
	"encoding/json"
	"time"

	"github.com/go-logr/logr"
	"github.com/gofiber/fiber/v2"

	"github.com/circuitdesk/server/internal/build"
)

// Recorder persists compile and upload outcomes.
type Recorder interface {
	Create(b *build.Build) error
}

type Handler struct {
	cli      *CLI
	recorder Recorder
	log      logr.Logger
}

// NewHandler returns the arduino-cli HTTP handler. recorder may be nil.
func NewHandler(cli *CLI, recorder Recorder, log logr.Logger) *Handler {
	return &Handler{cli: cli, recorder: recorder, log: log.WithName("toolchain-http")}
}

func (h *Handler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"message": "Arduino Code Editor API"})
}

func (h *Handler) Boards(c *fiber.Ctx) error {
	return h.listing(c, "boards", "boards", "board list", "board", "listall")
}

func (h *Handler) AvailableBoards(c *fiber.Ctx) error {
	return h.listing(c, "boards", "boards", "available boards", "board", "listall")
}

func (h *Handler) Libraries(c *fiber.Ctx) error {
	return h.listing(c, "libraries", "installed_libraries", "library list", "lib", "list")
}

func (h *Handler) SearchLibraries(c *fiber.Ctx) error {
	var req librarySearchRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}

	args := []string{"lib", "search"}
	if req.Query != "" {
		args = append(args, req.Query)
	}
	return h.listing(c, "libraries", "libraries", "library search results", args...)
}

func (h *Handler) Cores(c *fiber.Ctx) error {
	return h.listing(c, "cores", "platforms", "cores", "core", "list")
}

func (h *Handler) SearchCores(c *fiber.Ctx) error {
	return h.listing(c, "platforms", "platforms", "available cores", "core", "search")
}

func (h *Handler) Ports(c *fiber.Ctx) error {
	var doc json.RawMessage
	res, err := h.cli.RunJSON(c.Context(), &doc, "board", "list")
	if !res.Success {
		return c.JSON(fiber.Map{"success": false, "error": res.Stderr})
	}
	if err != nil {
		return c.JSON(fiber.Map{"success": false, "error": "Failed to parse port list"})
	}
	return c.JSON(fiber.Map{"success": true, "ports": doc})
}

func (h *Handler) InstallLibrary(c *fiber.Ctx) error {
	return h.libraryAction(c, "install")
}

func (h *Handler) UninstallLibrary(c *fiber.Ctx) error {
	return h.libraryAction(c, "uninstall")
}

func (h *Handler) InstallCore(c *fiber.Ctx) error {
	return h.coreAction(c, "install")
}

func (h *Handler) UninstallCore(c *fiber.Ctx) error {
	return h.coreAction(c, "uninstall")
}

func (h *Handler) Compile(c *fiber.Ctx) error {
	var req compileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Board == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "board is required"})
	}

	start := time.Now()
	res := h.cli.Compile(c.Context(), req.Code, req.Board)
	h.record(build.KindCompile, req.Board, "", res, time.Since(start))

	return c.JSON(fiber.Map{"success": res.Success, "message": res.Message()})
}

func (h *Handler) Upload(c *fiber.Ctx) error {
	var req uploadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Board == "" || req.Port == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "board and port are required"})
	}

	start := time.Now()
	res := h.cli.Upload(c.Context(), req.Code, req.Board, req.Port)
	h.record(build.KindUpload, req.Board, req.Port, res, time.Since(start))

	return c.JSON(fiber.Map{"success": res.Success, "message": res.Message()})
}

// listing runs a "--format json" query and serves one field of the document under key.
// A missing or null field is served as an empty list.
func (h *Handler) listing(c *fiber.Ctx, key, field, what string, args ...string) error {
	var doc map[string]json.RawMessage
	res, err := h.cli.RunJSON(c.Context(), &doc, args...)
	if !res.Success {
		return c.JSON(fiber.Map{"success": false, "error": res.Stderr})
	}
	if err != nil {
		return c.JSON(fiber.Map{"success": false, "error": "Failed to parse " + what})
	}

	value, ok := doc[field]
	if !ok || string(value) == "null" {
		value = json.RawMessage("[]")
	}
	return c.JSON(fiber.Map{"success": true, key: value})
}

func (h *Handler) libraryAction(c *fiber.Ctx, action string) error {
	var req libraryRequest
	if err := c.BodyParser(&req); err != nil || req.LibraryName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "library_name is required"})
	}
	res := h.cli.Run(c.Context(), "lib", action, req.LibraryName)
	return c.JSON(fiber.Map{"success": res.Success, "message": res.Message()})
}

func (h *Handler) coreAction(c *fiber.Ctx, action string) error {
	var req coreRequest
	if err := c.BodyParser(&req); err != nil || req.CoreName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "core_name is required"})
	}
	res := h.cli.Run(c.Context(), "core", action, req.CoreName)
	return c.JSON(fiber.Map{"success": res.Success, "message": res.Message()})
}

func (h *Handler) record(kind build.Kind, board, port string, res Result, elapsed time.Duration) {
	if h.recorder == nil {
		return
	}
	output := res.Stdout
	if res.Stderr != "" {
		output = appendLine(output, res.Stderr)
	}
	b := &build.Build{
		Kind:       kind,
		Board:      board,
		Port:       port,
		Success:    res.Success,
		ExitCode:   res.ExitCode,
		Output:     output,
		DurationMS: elapsed.Milliseconds(),
	}
	if err := h.recorder.Create(b); err != nil {
		h.log.Error(err, "failed to record build", "kind", kind, "board", board)
	}
}
