package workspace

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

type fileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type saveSVGRequest struct {
	SVG      string `json:"svg"`
	FileName string `json:"fileName"`
}

// GetByPath serves GET /files/* where the wildcard is the file path.
func (h *Handler) GetByPath(c *fiber.Ctx) error {
	if c.Params("*") == "" {
		return h.GetByQuery(c)
	}
	path, err := url.PathUnescape(c.Params("*"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid path"})
	}
	return h.read(c, wildcardPath(path))
}

// GetByQuery serves GET /files?path=.
func (h *Handler) GetByQuery(c *fiber.Ctx) error {
	path := c.Query("path")
	if path == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "path is required"})
	}
	return h.read(c, path)
}

func (h *Handler) Save(c *fiber.Ctx) error {
	var req fileRequest
	if err := c.BodyParser(&req); err != nil || req.Path == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "path and content are required"})
	}

	size, err := h.store.Write(req.Path, req.Content)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "message": fmt.Sprintf("File saved successfully. Size: %d bytes", size)})
}

func (h *Handler) Delete(c *fiber.Ctx) error {
	path := c.Query("path")
	if path == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "path is required"})
	}
	if err := h.store.Delete(path); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "message": "File deleted successfully"})
}

// Tree serves GET /workspace[?path=].
func (h *Handler) Tree(c *fiber.Ctx) error {
	tree, err := h.store.Tree(c.Query("path"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "tree": tree})
}

func (h *Handler) SaveSVG(c *fiber.Ctx) error {
	var req saveSVGRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid request body"})
	}
	if req.SVG == "" {
		return c.JSON(fiber.Map{"success": false, "error": "No SVG content provided"})
	}

	path, err := h.store.SaveSVG(req.FileName, req.SVG)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "path": path})
}

func (h *Handler) read(c *fiber.Ctx, path string) error {
	content, err := h.store.Read(path)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "content": content})
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return c.JSON(fiber.Map{"success": false, "error": "File not found"})
	case errors.Is(err, ErrOutsideWorkspace):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": false, "error": err.Error()})
}

// wildcardPath restores the leading slash the router strips from virtual paths.
func wildcardPath(p string) string {
	trimmed := strings.TrimPrefix(p, "/")
	if strings.HasPrefix(trimmed, strings.TrimPrefix(VirtualRoot, "/")+"/") {
		return "/" + trimmed
	}
	return p
}
