package engine

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"smartkollect/internal/export"
	"smartkollect/internal/metadata"
	"smartkollect/internal/report"
	"smartkollect/internal/storage"
	"smartkollect/internal/store"
)

// Handler serves the report API. templates and exports are optional; the
// routes that need them answer 404 when they are nil.
type Handler struct {
	builder   *report.Builder
	exec      Executor
	templates *store.TemplateStore
	exports   *storage.LocalStorage
	logger    *zap.Logger
	validate  *validator.Validate
}

func NewHandler(b *report.Builder, exec Executor, templates *store.TemplateStore, exports *storage.LocalStorage, logger *zap.Logger) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report violations under their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		builder:   b,
		exec:      exec,
		templates: templates,
		exports:   exports,
		logger:    logger.Named("http"),
		validate:  v,
	}
}

type templateRequest struct {
	Name        string            `json:"name" validate:"required,max=200"`
	Description string            `json:"description" validate:"max=2000"`
	Definition  report.Definition `json:"definition"`
}

type executeResponse struct {
	Success bool             `json:"success"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	Count   int              `json:"count"`
}

type executeFailure struct {
	Success bool      `json:"success"`
	Error   *AppError `json:"error"`
}

type validateResponse struct {
	Valid    bool            `json:"valid"`
	Problems report.Problems `json:"problems"`
}

// ListEntities handles GET /api/reports/entities
func (h *Handler) ListEntities(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.builder.Catalog().ListEntities()})
}

// GetEntity handles GET /api/reports/entities/:key
func (h *Handler) GetEntity(c *fiber.Ctx) error {
	key := c.Params("key")
	e, err := h.builder.Catalog().GetEntity(key)
	if err != nil {
		return UnknownEntityError(key)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"entity":     e,
		"categories": e.Categories(),
	}})
}

// Validate handles POST /api/reports/validate
func (h *Handler) Validate(c *fiber.Ctx) error {
	def, err := parseDefinition(c)
	if err != nil {
		return err
	}
	problems := h.builder.ValidateForExecution(def)
	if problems == nil {
		problems = report.Problems{}
	}
	return c.JSON(validateResponse{Valid: len(problems) == 0, Problems: problems})
}

// Execute handles POST /api/reports/execute
func (h *Handler) Execute(c *fiber.Ctx) error {
	def, err := parseDefinition(c)
	if err != nil {
		return err
	}
	return h.respondExecution(c, def)
}

// Export handles POST /api/reports/export. The CSV is streamed back as an
// attachment; with ?save=true it is also written to the export directory
// and the response describes the stored file instead.
func (h *Handler) Export(c *fiber.Ctx) error {
	def, err := parseDefinition(c)
	if err != nil {
		return err
	}
	rs, err := h.exec.Execute(c.UserContext(), def)
	if err != nil {
		return err
	}

	table := export.Table{Columns: rs.Columns, Rows: rs.Rows}
	filename := export.FileName(def.Name)

	if c.QueryBool("save") {
		if h.exports == nil {
			return NewAppError("EXPORTS_DISABLED", 404, "Export storage is not configured")
		}
		dir := ""
		if user := getUser(c); user != nil {
			dir = user.ID
		}
		path, err := h.exports.WriteFile(c.UserContext(), dir, filename, func(w io.Writer) error {
			return export.WriteCSV(w, table)
		})
		if err != nil {
			h.logger.Error("export write failed", zap.String("file", filename), zap.Error(err))
			return NewAppError("EXPORT_FAILED", 500, "The export file could not be written")
		}
		return c.Status(201).JSON(fiber.Map{"data": fiber.Map{
			"file":  filename,
			"path":  path,
			"count": rs.Count(),
		}})
	}

	c.Set(fiber.HeaderContentType, export.ContentType+"; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, export.ContentDisposition(filename))
	return export.WriteCSV(c, table)
}

// DownloadExport handles GET /api/reports/exports/:file, serving a CSV the
// caller saved earlier with ?save=true.
func (h *Handler) DownloadExport(c *fiber.Ctx) error {
	dir, filename, err := h.exportTarget(c)
	if err != nil {
		return err
	}
	rc, err := h.exports.Open(c.UserContext(), dir, filename)
	switch {
	case errors.Is(err, storage.ErrInvalidPath):
		return InvalidPayloadError("Invalid export name")
	case errors.Is(err, fs.ErrNotExist):
		return NotFoundError("export", filename)
	case err != nil:
		return err
	}
	defer rc.Close()

	c.Set(fiber.HeaderContentType, export.ContentType+"; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, export.ContentDisposition(filename))
	_, err = io.Copy(c, rc)
	return err
}

// DeleteExport handles DELETE /api/reports/exports/:file
func (h *Handler) DeleteExport(c *fiber.Ctx) error {
	dir, filename, err := h.exportTarget(c)
	if err != nil {
		return err
	}
	err = h.exports.Delete(c.UserContext(), dir, filename)
	if errors.Is(err, storage.ErrInvalidPath) {
		return InvalidPayloadError("Invalid export name")
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"deleted": true}})
}

// exportTarget locates :file in the caller's export directory.
func (h *Handler) exportTarget(c *fiber.Ctx) (string, string, error) {
	if h.exports == nil {
		return "", "", NewAppError("EXPORTS_DISABLED", 404, "Export storage is not configured")
	}
	filename, err := url.PathUnescape(c.Params("file"))
	if err != nil {
		return "", "", InvalidPayloadError("Malformed export name")
	}
	dir := ""
	if user := getUser(c); user != nil {
		dir = user.ID
	}
	return dir, filename, nil
}

// ListTemplates handles GET /api/reports/templates
func (h *Handler) ListTemplates(c *fiber.Ctx) error {
	if h.templates == nil {
		return NotFoundError("template store", "default")
	}
	list, err := h.templates.List(c.UserContext())
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}
	return c.JSON(fiber.Map{"data": list})
}

// SaveTemplate handles POST /api/reports/templates
func (h *Handler) SaveTemplate(c *fiber.Ctx) error {
	if h.templates == nil {
		return NotFoundError("template store", "default")
	}
	var req templateRequest
	if err := c.BodyParser(&req); err != nil {
		return InvalidPayloadError("Invalid request body")
	}
	if err := h.validateStruct(req); err != nil {
		return err
	}

	tpl := &store.Template{
		Name:        req.Name,
		Description: req.Description,
		Definition:  req.Definition,
	}
	if user := getUser(c); user != nil {
		tpl.CreatedBy = user.ID
	}
	if err := h.templates.Save(c.UserContext(), tpl); err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return c.Status(201).JSON(fiber.Map{"data": tpl})
}

// GetTemplate handles GET /api/reports/templates/:id
func (h *Handler) GetTemplate(c *fiber.Ctx) error {
	tpl, err := h.loadTemplate(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": tpl})
}

// ExecuteTemplate handles POST /api/reports/templates/:id/execute
func (h *Handler) ExecuteTemplate(c *fiber.Ctx) error {
	tpl, err := h.loadTemplate(c)
	if err != nil {
		return err
	}
	return h.respondExecution(c, tpl.Definition)
}

// DeleteTemplate handles DELETE /api/reports/templates/:id. Only the
// creator or an admin may delete a template.
func (h *Handler) DeleteTemplate(c *fiber.Ctx) error {
	tpl, err := h.loadTemplate(c)
	if err != nil {
		return err
	}
	user := getUser(c)
	if user != nil && tpl.CreatedBy != "" && tpl.CreatedBy != user.ID && !user.IsAdmin() {
		return ForbiddenError("Only the creator or an admin can delete this template")
	}
	if err := h.templates.Delete(c.UserContext(), tpl.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("template", tpl.ID)
		}
		return fmt.Errorf("delete template: %w", err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": tpl.ID}})
}

func (h *Handler) loadTemplate(c *fiber.Ctx) (*store.Template, error) {
	if h.templates == nil {
		return nil, NotFoundError("template store", "default")
	}
	id := c.Params("id")
	if err := h.validate.Var(id, "required,uuid"); err != nil {
		return nil, NotFoundError("template", id)
	}
	tpl, err := h.templates.Get(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError("template", id)
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return tpl, nil
}

// respondExecution runs def and writes the execution envelope. Validation
// and execution failures are answered here with success=false; anything
// else goes to the app error handler.
func (h *Handler) respondExecution(c *fiber.Ctx, def report.Definition) error {
	rs, err := h.exec.Execute(c.UserContext(), def)
	if err != nil {
		appErr, ok := AsAppError(err)
		if !ok {
			return err
		}
		return c.Status(appErr.Status).JSON(executeFailure{Success: false, Error: appErr})
	}
	resp := executeResponse{
		Success: true,
		Columns: rs.Columns,
		Rows:    rs.Rows,
		Count:   rs.Count(),
	}
	if resp.Columns == nil {
		resp.Columns = []string{}
	}
	if resp.Rows == nil {
		resp.Rows = []map[string]any{}
	}
	return c.JSON(resp)
}

func (h *Handler) validateStruct(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return InvalidPayloadError(err.Error())
	}
	details := make([]ErrorDetail, len(verrs))
	for i, fe := range verrs {
		details[i] = ErrorDetail{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Message: fmt.Sprintf("%s failed the %s rule", fe.Field(), fe.Tag()),
		}
	}
	return ValidationError(details)
}

func parseDefinition(c *fiber.Ctx) (report.Definition, error) {
	def := report.New()
	if err := c.BodyParser(&def); err != nil {
		return def, InvalidPayloadError("Invalid report definition: " + err.Error())
	}
	if def.SelectedFields == nil {
		def.SelectedFields = map[string][]string{}
	}
	return def, nil
}

func getUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}

// ErrorHandler converts errors returned by handlers into the JSON envelope.
// Unexpected errors are logged and reported as INTERNAL_ERROR.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		if appErr, ok := AsAppError(err); ok {
			return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(ErrorResponse{Error: &AppError{
				Code:    "HTTP_ERROR",
				Status:  fiberErr.Code,
				Message: fiberErr.Message,
			}})
		}

		logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: &AppError{
			Code:    "INTERNAL_ERROR",
			Status:  fiber.StatusInternalServerError,
			Message: "Internal server error",
		}})
	}
}
