package engine

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"smartkollect/internal/instrument"
	"smartkollect/internal/store"
)

// RunHandler exposes report execution history.
type RunHandler struct {
	store *store.Store
}

// NewRunHandler creates a RunHandler backed by the given store.
func NewRunHandler(s *store.Store) *RunHandler {
	return &RunHandler{store: s}
}

// List handles GET /api/reports/runs?status=&report=&limit=
func (h *RunHandler) List(c *fiber.Ctx) error {
	f := store.RunFilter{
		Status:     c.Query("status"),
		ReportName: c.Query("report"),
	}
	if f.Status != "" && f.Status != store.RunOK && f.Status != store.RunError {
		return InvalidPayloadError("status must be ok or error")
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return InvalidPayloadError("limit must be a positive integer")
		}
		f.Limit = n
	}

	runs, err := store.ListRuns(c.UserContext(), h.store, f)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": runs})
}

// GetStats handles GET /api/reports/runs/stats over the latest 500 runs.
func (h *RunHandler) GetStats(c *fiber.Ctx) error {
	runs, err := store.ListRuns(c.UserContext(), h.store, store.RunFilter{Limit: 500})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": instrument.ComputeStats(runs)})
}
