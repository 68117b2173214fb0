package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/shirkeanjali/medgenix/pkg/stats"
	"github.com/shirkeanjali/medgenix/pkg/tracing"
)

// MedicineHandler handles medicine search statistics endpoints
type MedicineHandler struct {
	service  *stats.Service
	validate *validator.Validate
	logger   ectologger.Logger
}

// NewMedicineHandler creates a new medicine handler
func NewMedicineHandler(service *stats.Service, logger ectologger.Logger) *MedicineHandler {
	return &MedicineHandler{
		service:  service,
		validate: validator.New(),
		logger:   logger,
	}
}

// UpdateStatsRequest is the batch search update request body
type UpdateStatsRequest struct {
	GenericNames []string `json:"generic_names" validate:"required,min=1"`
}

// Register registers medicine stats routes. Middleware applied here only
// covers the write endpoint.
func (h *MedicineHandler) Register(g *echo.Group, writeMiddleware ...echo.MiddlewareFunc) {
	g.POST("/stats", h.UpdateStats, writeMiddleware...)
	g.GET("/trending", h.Trending)
	g.GET("/:name/trends", h.Trends)
	g.GET("/:name", h.GetByName)
	g.DELETE("/:name", h.Delete)
}

// UpdateStats counts one search per submitted generic name. Items are
// processed independently, so the response reports per-item outcomes.
func (h *MedicineHandler) UpdateStats(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MedicineHandler.UpdateStats")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	var req UpdateStatsRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	if err := h.validate.Struct(req); err != nil {
		return BadRequest("generic_names must contain at least one name")
	}

	result, err := h.service.RecordSearchBatch(ctx, req.GenericNames)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to update search stats")
		return err
	}

	return SuccessResponse(c, result)
}

// Trending returns the most searched medicines, highest all-time count first
func (h *MedicineHandler) Trending(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MedicineHandler.Trending")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	limit, err := ParseIntQuery(c, "limit", stats.DefaultTrendingLimit)
	if err != nil {
		return err
	}

	records, err := h.service.GetTrending(ctx, limit)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to get trending medicines")
		return err
	}

	return SuccessResponse(c, records)
}

// Trends returns a month-by-month series for one medicine, oldest first
func (h *MedicineHandler) Trends(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MedicineHandler.Trends")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	name, err := ParseName(c, "name")
	if err != nil {
		return err
	}

	months, err := ParseIntQuery(c, "months", stats.DefaultTrendMonths)
	if err != nil {
		return err
	}

	trend, err := h.service.GetMonthlyTrend(ctx, name, months)
	if err != nil {
		return err
	}

	return SuccessResponse(c, trend)
}

// GetByName returns the full search statistics record for one medicine
func (h *MedicineHandler) GetByName(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MedicineHandler.GetByName")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	name, err := ParseName(c, "name")
	if err != nil {
		return err
	}

	stat, err := h.service.GetByName(ctx, name)
	if err != nil {
		return err
	}

	return SuccessResponse(c, stat)
}

// Delete removes a medicine's search statistics
func (h *MedicineHandler) Delete(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MedicineHandler.Delete")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	name, err := ParseName(c, "name")
	if err != nil {
		return err
	}

	if err := h.service.DeleteByName(ctx, name); err != nil {
		return err
	}

	return NoContentResponse(c)
}
