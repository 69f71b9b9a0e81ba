package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"msgvault/internal/backup"
	"msgvault/internal/capture"
	"msgvault/internal/clean"
	"msgvault/internal/ledger"
	"msgvault/internal/logger"
	"msgvault/internal/pipeline"
	"msgvault/pkg/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type BaseHandler struct {
	Logger logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

type Handler struct {
	BaseHandler
	Capture   *capture.Service
	Clean     clean.Repository
	Ledger    ledger.Repository
	Snapshots *backup.Manager
	Runner    *pipeline.Runner
	Status    *StatusService
}

func NewHandler(
	captureSvc *capture.Service,
	cleanRepo clean.Repository,
	ledgerRepo ledger.Repository,
	snapshots *backup.Manager,
	runner *pipeline.Runner,
	status *StatusService,
	log logger.Logger,
) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{Logger: log},
		Capture:     captureSvc,
		Clean:       cleanRepo,
		Ledger:      ledgerRepo,
		Snapshots:   snapshots,
		Runner:      runner,
		Status:      status,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/messages", h.IngestMessage)
		v1.GET("/messages/clean", h.ListCleanMessages)

		batches := v1.Group("/batches")
		{
			batches.GET("", h.ListBatches)
			batches.GET("/:id", h.GetBatch)
		}

		snapshots := v1.Group("/snapshots")
		{
			snapshots.GET("", h.ListSnapshots)
			snapshots.GET("/stats", h.GetSnapshotStats)
			snapshots.POST("", h.CreateSnapshot)
		}

		v1.POST("/pipeline/run", h.RunPipeline)
		v1.GET("/status", h.GetStatus)
	}
}

func (h *Handler) IngestMessage(c *gin.Context) {
	var req capture.IncomingMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	msg, err := h.Capture.Ingest(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) ListCleanMessages(c *gin.Context) {
	ctx := c.Request.Context()
	limit := queryLimit(c)

	if batchID := c.Query("batch_id"); batchID != "" {
		msgs, err := h.Clean.ListByBatch(ctx, batchID)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, msgs)
		return
	}

	from, to, err := queryTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(err))
		return
	}

	msgs, err := h.Clean.ListByTimeRange(ctx, from, to, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) ListBatches(c *gin.Context) {
	batches, err := h.Ledger.ListRecent(c.Request.Context(), queryLimit(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, batches)
}

func (h *Handler) GetBatch(c *gin.Context) {
	batch, err := h.Ledger.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, batch)
}

func (h *Handler) ListSnapshots(c *gin.Context) {
	snapType := backup.SnapshotType(c.Query("type"))
	snaps, err := h.Snapshots.List(c.Request.Context(), snapType)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, snaps)
}

func (h *Handler) GetSnapshotStats(c *gin.Context) {
	stats, err := h.Snapshots.Statistics(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

type createSnapshotRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) CreateSnapshot(c *gin.Context) {
	var req createSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	snap, err := h.Snapshots.Create(c.Request.Context(), backup.TypeManual, req.Notes)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, snap)
}

func (h *Handler) RunPipeline(c *gin.Context) {
	report, err := h.Runner.Run(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func (h *Handler) GetStatus(c *gin.Context) {
	status, err := h.Status.Collect(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func queryLimit(c *gin.Context) int {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

func queryTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.ErrValidation.
				WithDetail("message", "from must be RFC3339").WithCause(err)
		}
		from = parsed
	}

	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.ErrValidation.
				WithDetail("message", "to must be RFC3339").WithCause(err)
		}
		to = parsed
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.ErrValidation.
			WithDetail("message", "from must be before to")
	}

	return from, to, nil
}
