package build

import (
	"github.com/gofiber/fiber/v2"
)

// Lister is the read side of the build history.
type Lister interface {
	List(limit int) ([]Build, error)
	ListByKind(kind Kind, limit int) ([]Build, error)
}

type Handler struct {
	repo Lister
}

func NewHandler(repo Lister) *Handler {
	return &Handler{repo: repo}
}

// List serves GET /builds?limit=&kind=.
func (h *Handler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", DefaultListLimit)

	var (
		builds []Build
		err    error
	)
	switch kind := Kind(c.Query("kind")); kind {
	case "":
		builds, err = h.repo.List(limit)
	case KindCompile, KindUpload:
		builds, err = h.repo.ListByKind(kind, limit)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "kind must be compile or upload"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list builds"})
	}

	result := make([]fiber.Map, len(builds))
	for i, b := range builds {
		result[i] = fiber.Map{
			"id":         b.ID,
			"kind":       b.Kind,
			"board":      b.Board,
			"port":       b.Port,
			"success":    b.Success,
			"exitCode":   b.ExitCode,
			"output":     b.Output,
			"durationMs": b.DurationMS,
			"createdAt":  b.CreatedAt,
		}
	}
	return c.JSON(fiber.Map{"success": true, "builds": result})
}
