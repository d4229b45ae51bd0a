package handlers

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/call-replay/analyzer/internal/models"
	"github.com/call-replay/analyzer/internal/storage/sqlite"
	"github.com/call-replay/analyzer/pkg/logger"
)

const maxHistoryLimit = 1000

type HistoryHandler struct {
	store         *sqlite.Client
	callIDPreview int
}

func NewHistoryHandler(store *sqlite.Client, callIDPreview int) *HistoryHandler {
	return &HistoryHandler{
		store:         store,
		callIDPreview: callIDPreview,
	}
}

// GetHistory returns filtered analysis records, newest first.
func (h *HistoryHandler) GetHistory(c *fiber.Ctx) error {
	filters, applied, err := parseFilters(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	records, err := h.store.QueryRecords(filters)
	if err != nil {
		logger.Error("Failed to query analysis history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve analysis history",
		})
	}

	return c.JSON(fiber.Map{
		"total_results":   len(records),
		"filters_applied": applied,
		"results":         newestFirst(records),
	})
}

// GetCallHistory returns every record for one call, the full reprocessing
// history, oldest first.
func (h *HistoryHandler) GetCallHistory(c *fiber.Ctx) error {
	callID := c.Params("call_id")
	if callID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "call_id is required",
		})
	}

	records, err := h.store.HistoryFor(callID)
	if err != nil {
		logger.Error("Failed to query call history",
			zap.String("call_id", callID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve call history",
		})
	}

	return c.JSON(fiber.Map{
		"call_id":       callID,
		"total_records": len(records),
		"results":       records,
	})
}

func (h *HistoryHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.store.Stats(h.callIDPreview)
	if err != nil {
		logger.Error("Failed to compute storage stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute statistics",
		})
	}
	return c.JSON(stats)
}

// Backup snapshots the analysis log. The optional body supplies a
// destination path; otherwise one is derived from the current time.
func (h *HistoryHandler) Backup(c *fiber.Ctx) error {
	var req struct {
		Path string `json:"path"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	path, err := h.store.Backup(req.Path)
	if err != nil {
		logger.Error("Backup failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": "error",
			"error":  "Backup failed",
		})
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": fmt.Sprintf("Backup created at %s", path),
	})
}

// Clear destructively empties the analysis log. Irreversible without a
// prior backup; no implicit backup is taken.
func (h *HistoryHandler) Clear(c *fiber.Ctx) error {
	if err := h.store.Clear(); err != nil {
		logger.Error("Clear failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": "error",
			"error":  "Failed to clear analysis data",
		})
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "All analysis data cleared",
	})
}

func parseFilters(c *fiber.Ctx) (sqlite.Filters, fiber.Map, error) {
	var filters sqlite.Filters
	applied := fiber.Map{}

	if raw := c.Query("start_date"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, nil, fmt.Errorf("start_date must be an ISO-8601 instant")
		}
		filters.StartDate = &parsed
		applied["start_date"] = raw
	}
	if raw := c.Query("end_date"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, nil, fmt.Errorf("end_date must be an ISO-8601 instant")
		}
		filters.EndDate = &parsed
		applied["end_date"] = raw
	}
	if callID := c.Query("call_id"); callID != "" {
		filters.CallID = callID
		applied["call_id"] = callID
	}
	if status := c.Query("status"); status != "" {
		switch models.RecordStatus(status) {
		case models.StatusAnalyzed, models.StatusSkipped, models.StatusError:
			filters.Status = models.RecordStatus(status)
			applied["status"] = status
		default:
			return filters, nil, fmt.Errorf("status must be one of analyzed, skipped, error")
		}
	}
	if limit := c.QueryInt("limit"); limit != 0 {
		if limit < 1 || limit > maxHistoryLimit {
			return filters, nil, fmt.Errorf("limit must be between 1 and %d", maxHistoryLimit)
		}
		filters.Limit = limit
		applied["limit"] = limit
	}

	return filters, applied, nil
}

func newestFirst(records []models.AnalysisRecord) []models.AnalysisRecord {
	out := make([]models.AnalysisRecord, len(records))
	for i, record := range records {
		out[len(records)-1-i] = record
	}
	return out
}
