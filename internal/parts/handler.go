package parts

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	catalog *Catalog
}

func NewHandler(catalog *Catalog) *Handler {
	return &Handler{catalog: catalog}
}

func (h *Handler) List(c *fiber.Ctx) error {
	components, err := h.catalog.Scan(c.Context())
	if err != nil {
		if !errors.Is(err, ErrPartsDirNotFound) {
			h.catalog.log.Error(err, "error fetching components")
		}
		return c.JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "components": components})
}

// Graphic serves GET /components/:id/svg/:view.
func (h *Handler) Graphic(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "component id must be an integer"})
	}
	c.Set(fiber.HeaderContentType, "image/svg+xml")
	return c.Send(h.catalog.Graphic(c.Context(), id, c.Params("view")))
}

// Load exists for clients that ask for the catalog to be loaded; scanning happens on every List.
func (h *Handler) Load(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "message": "Components loaded successfully"})
}
