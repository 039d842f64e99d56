package engine

import (
	"github.com/gofiber/fiber/v2"
)

// RegisterReportRoutes mounts the report API under /api/reports and returns
// the group. mw runs before every report route (normally the auth
// middleware).
func RegisterReportRoutes(app *fiber.App, h *Handler, mw ...fiber.Handler) fiber.Router {
	reports := app.Group("/api/reports", mw...)

	reports.Get("/entities", h.ListEntities)
	reports.Get("/entities/:key", h.GetEntity)

	reports.Post("/validate", h.Validate)
	reports.Post("/execute", h.Execute)
	reports.Post("/export", h.Export)
	reports.Get("/exports/:file", h.DownloadExport)
	reports.Delete("/exports/:file", h.DeleteExport)

	reports.Get("/templates", h.ListTemplates)
	reports.Post("/templates", h.SaveTemplate)
	reports.Get("/templates/:id", h.GetTemplate)
	reports.Post("/templates/:id/execute", h.ExecuteTemplate)
	reports.Delete("/templates/:id", h.DeleteTemplate)
	return reports
}

// RegisterRunRoutes mounts the execution history under the report group,
// so its middleware has already run. mw adds route-specific checks.
func RegisterRunRoutes(reports fiber.Router, h *RunHandler, mw ...fiber.Handler) {
	runs := reports.Group("/runs", mw...)

	runs.Get("/", h.List)
	runs.Get("/stats", h.GetStats)
}

func RegisterHealthRoute(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}
