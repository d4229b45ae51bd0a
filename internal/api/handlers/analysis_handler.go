package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/call-replay/analyzer/internal/models"
	"github.com/call-replay/analyzer/internal/pipeline"
	"github.com/call-replay/analyzer/internal/prefilter"
	"github.com/call-replay/analyzer/pkg/logger"
)

type AnalysisHandler struct {
	orchestrator *pipeline.Orchestrator
	detector     *prefilter.Detector
	fixGen       pipeline.FixGenerator
	summarizer   pipeline.Summarizer
}

func NewAnalysisHandler(orchestrator *pipeline.Orchestrator, detector *prefilter.Detector, fixGen pipeline.FixGenerator, summarizer pipeline.Summarizer) *AnalysisHandler {
	return &AnalysisHandler{
		orchestrator: orchestrator,
		detector:     detector,
		fixGen:       fixGen,
		summarizer:   summarizer,
	}
}

// AnalyzeCall runs the prefilter-then-analyze path for a single transcript
// synchronously and returns its record.
func (h *AnalysisHandler) AnalyzeCall(c *fiber.Ctx) error {
	var transcript models.Transcript
	if err := c.BodyParser(&transcript); err != nil {
		logger.Error("Failed to parse transcript", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := validateTranscript(transcript, true); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	record := h.orchestrator.ProcessTranscript(c.Context(), transcript)
	return c.JSON(record)
}

// AnalyzeBatch processes a batch and returns per-item outcomes plus batch
// statistics, without the fix/summary stages of the full pipeline.
func (h *AnalysisHandler) AnalyzeBatch(c *fiber.Ctx) error {
	transcripts, ok := parseBatch(c)
	if !ok {
		return nil
	}

	records, stats := h.orchestrator.AnalyzeBatch(c.Context(), transcripts)
	return c.JSON(fiber.Map{
		"results":    records,
		"statistics": stats,
	})
}

// RunPipeline executes the full pipeline (analysis, fixes, summary) and
// persists the report.
func (h *AnalysisHandler) RunPipeline(c *fiber.Ctx) error {
	transcripts, ok := parseBatch(c)
	if !ok {
		return nil
	}

	report, err := h.orchestrator.Run(c.Context(), transcripts)
	if err != nil {
		logger.Error("Pipeline run failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Pipeline run failed",
		})
	}

	return c.JSON(report)
}

// PrefilterCheck dry-runs the failure heuristics without any external call.
// Useful for calibrating keyword sets and weights.
func (h *AnalysisHandler) PrefilterCheck(c *fiber.Ctx) error {
	var transcript models.Transcript
	if err := c.BodyParser(&transcript); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := validateTranscript(transcript, false); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	decision := h.detector.Evaluate(transcript)
	return c.JSON(fiber.Map{
		"call_id":       transcript.CallID,
		"would_analyze": decision.WouldAnalyze,
		"confidence":    decision.Confidence,
		"reasons":       decision.Reasons,
		"turn_count":    decision.TurnCount,
	})
}

// GenerateFixes produces detailed fix suggestions for an existing analysis
// result, without re-running analysis. The suggestion payload is the fix
// generator's structured JSON, returned as-is.
func (h *AnalysisHandler) GenerateFixes(c *fiber.Ctx) error {
	var analysis models.AnalysisResult
	if err := c.BodyParser(&analysis); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if analysis.Intent == "" && analysis.IssueReason == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "analysis must carry an intent or issue_reason",
		})
	}

	suggestion, err := h.fixGen.GenerateFixes(c.Context(), analysis)
	if err != nil {
		logger.Error("Fix generation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Fix generation failed",
		})
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.SendString(suggestion)
}

// GenerateSummary summarizes a set of existing analysis results across
// calls, surfacing patterns and common issues.
func (h *AnalysisHandler) GenerateSummary(c *fiber.Ctx) error {
	var req struct {
		Analyses []models.AnalysisResult `json:"analyses"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if len(req.Analyses) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "analyses is required and must be non-empty",
		})
	}

	summary, err := h.summarizer.Summarize(c.Context(), req.Analyses)
	if err != nil {
		logger.Error("Summary generation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Summary generation failed",
		})
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.SendString(summary)
}

func parseBatch(c *fiber.Ctx) ([]models.Transcript, bool) {
	var req struct {
		Transcripts []models.Transcript `json:"transcripts"`
	}
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse batch request", zap.Error(err))
		c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
		return nil, false
	}

	if len(req.Transcripts) == 0 {
		c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "transcripts is required and must be non-empty",
		})
		return nil, false
	}

	for i, t := range req.Transcripts {
		if err := validateTranscript(t, true); err != nil {
			c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("transcripts[%d]: %s", i, err.Error()),
			})
			return nil, false
		}
	}

	return req.Transcripts, true
}

// validateTranscript reports schema violations. Structurally valid but odd
// dialogs (all-bot, very short) are the prefilter's business, not an input
// error.
func validateTranscript(t models.Transcript, requireDialog bool) error {
	if t.CallID == "" {
		return fmt.Errorf("call_id is required")
	}
	if requireDialog && len(t.Dialog) == 0 {
		return fmt.Errorf("dialog must not be empty")
	}
	for i, turn := range t.Dialog {
		if turn.Speaker != models.SpeakerUser && turn.Speaker != models.SpeakerBot {
			return fmt.Errorf("dialog[%d]: speaker must be \"user\" or \"bot\"", i)
		}
	}
	return nil
}
