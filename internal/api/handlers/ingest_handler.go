package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/call-replay/analyzer/internal/ingestion"
	"github.com/call-replay/analyzer/internal/models"
	"github.com/call-replay/analyzer/pkg/logger"
)

type IngestHandler struct {
	gateway *ingestion.Gateway
}

func NewIngestHandler(gateway *ingestion.Gateway) *IngestHandler {
	return &IngestHandler{gateway: gateway}
}

// HandleIngest is the webhook entry point for upstream call-handling
// systems. The transcript is stored before the response; analysis, when
// triggered, happens in the background.
func (h *IngestHandler) HandleIngest(c *fiber.Ctx) error {
	var transcript models.Transcript
	if err := c.BodyParser(&transcript); err != nil {
		logger.Error("Failed to parse ingestion payload", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := validateTranscript(transcript, false); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	receipt, err := h.gateway.Ingest(transcript)
	if err != nil {
		logger.Error("Failed to ingest transcript",
			zap.String("call_id", transcript.CallID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store transcript",
		})
	}

	return c.JSON(receipt)
}
