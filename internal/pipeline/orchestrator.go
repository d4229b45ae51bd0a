// Package pipeline drives transcripts end-to-end: prefilter, analysis, fix
// generation, batch summary, persistence. One bad transcript never aborts a
// batch; every outcome is recorded.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/call-replay/analyzer/internal/metrics"
	"github.com/call-replay/analyzer/internal/models"
	"github.com/call-replay/analyzer/internal/prefilter"
	"github.com/call-replay/analyzer/pkg/logger"
)

// Analyzer turns one transcript into an AnalysisResult through an external
// reasoning call. Retries happen inside; a returned error is final for the
// item.
type Analyzer interface {
	Analyze(ctx context.Context, t models.Transcript) (*models.AnalysisResult, error)
}

// FixGenerator produces fix suggestions for a call whose analysis detected
// an issue.
type FixGenerator interface {
	GenerateFixes(ctx context.Context, analysis models.AnalysisResult) (string, error)
}

// Summarizer produces one aggregate report over a batch's analyzed results.
type Summarizer interface {
	Summarize(ctx context.Context, analyses []models.AnalysisResult) (string, error)
}

// RecordStore is the slice of the storage contract the orchestrator needs.
type RecordStore interface {
	AppendRecord(record *models.AnalysisRecord) error
	SavePipelineReport(report *models.PipelineReport) error
}

// noAnalyzedSummary stands in for the summarizer when a batch produced no
// analyzed results; no external call is made in that case.
const noAnalyzedSummary = "No analyzed calls to summarize"

type Orchestrator struct {
	detector   *prefilter.Detector
	analyzer   Analyzer
	fixGen     FixGenerator
	summarizer Summarizer
	store      RecordStore
	workers    int
}

func NewOrchestrator(detector *prefilter.Detector, analyzer Analyzer, fixGen FixGenerator, summarizer Summarizer, store RecordStore, workers int) *Orchestrator {
	if workers < 1 {
		workers = 4
	}
	return &Orchestrator{
		detector:   detector,
		analyzer:   analyzer,
		fixGen:     fixGen,
		summarizer: summarizer,
		store:      store,
		workers:    workers,
	}
}

// ProcessTranscript takes one transcript through prefilter and, when
// flagged, analysis. The outcome is appended to the log before returning.
func (o *Orchestrator) ProcessTranscript(ctx context.Context, t models.Transcript) models.AnalysisRecord {
	decision := o.detector.Evaluate(t)
	metrics.PrefilterConfidence.Observe(decision.Confidence)

	var record models.AnalysisRecord
	record.CallID = t.CallID

	if !decision.WouldAnalyze {
		record.Status = models.StatusSkipped
		record.Reason = fmt.Sprintf("No issues detected (confidence: %.2f)", decision.Confidence)
	} else {
		analysis, err := o.analyzer.Analyze(ctx, t)
		if err != nil {
			record.Status = models.StatusError
			record.Error = err.Error()
			logger.Warn("Analysis failed",
				zap.String("call_id", t.CallID),
				zap.Error(err),
			)
		} else {
			record.Status = models.StatusAnalyzed
			record.Analysis = analysis
			if analysis.IssueDetected {
				metrics.IssuesDetected.Inc()
			}
		}
	}

	metrics.CallsProcessed.WithLabelValues(string(record.Status)).Inc()

	// Log order is completion order; a failed append is logged loudly but
	// cannot be allowed to take down the rest of the batch.
	if err := o.store.AppendRecord(&record); err != nil {
		logger.Error("Failed to append analysis record",
			zap.String("call_id", t.CallID),
			zap.Error(err),
		)
	}

	return record
}

// AnalyzeBatch processes transcripts with bounded concurrency and returns
// per-item outcomes in input order plus recomputed batch statistics.
// Completion order decides storage append order; the returned slice does
// not depend on it.
func (o *Orchestrator) AnalyzeBatch(ctx context.Context, transcripts []models.Transcript) ([]models.AnalysisRecord, models.BatchStatistics) {
	records := make([]models.AnalysisRecord, len(transcripts))

	sem := make(chan struct{}, o.workers)
	var wg sync.WaitGroup
	for i, t := range transcripts {
		wg.Add(1)
		go func(i int, t models.Transcript) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			records[i] = o.ProcessTranscript(ctx, t)
		}(i, t)
	}
	wg.Wait()

	return records, ComputeStatistics(records)
}

// Run executes the full pipeline over a batch and persists the report.
func (o *Orchestrator) Run(ctx context.Context, transcripts []models.Transcript) (*models.PipelineReport, error) {
	start := time.Now()
	pipelineID := newPipelineID(start)

	logger.Info("Pipeline started",
		zap.String("pipeline_id", pipelineID),
		zap.Int("input_count", len(transcripts)),
	)

	records, stats := o.AnalyzeBatch(ctx, transcripts)
	fixes := o.generateFixes(ctx, records)
	summary := o.summarize(ctx, records)

	report := &models.PipelineReport{
		PipelineID:      pipelineID,
		Timestamp:       start.UTC(),
		InputCount:      len(transcripts),
		AnalysisResults: records,
		FixResults:      fixes,
		Summary:         summary,
		Statistics:      stats,
	}

	if err := o.store.SavePipelineReport(report); err != nil {
		return nil, fmt.Errorf("failed to persist pipeline report %s: %w", pipelineID, err)
	}

	metrics.PipelineRuns.Inc()
	metrics.PipelineDuration.Observe(time.Since(start).Seconds())

	logger.Info("Pipeline completed",
		zap.String("pipeline_id", pipelineID),
		zap.Int("analyzed", stats.Analyzed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors),
		zap.Duration("duration", time.Since(start)),
	)

	return report, nil
}

// generateFixes runs the fix generator for every analyzed item with a
// detected issue. Items without an issue are never sent; a failed fix is
// isolated into its outcome entry.
func (o *Orchestrator) generateFixes(ctx context.Context, records []models.AnalysisRecord) map[string]models.FixOutcome {
	fixes := make(map[string]models.FixOutcome)

	for _, record := range records {
		if record.Status != models.StatusAnalyzed || record.Analysis == nil || !record.Analysis.IssueDetected {
			continue
		}

		suggestion, err := o.fixGen.GenerateFixes(ctx, *record.Analysis)
		if err != nil {
			logger.Warn("Fix generation failed",
				zap.String("call_id", record.CallID),
				zap.Error(err),
			)
			fixes[record.CallID] = models.FixOutcome{Error: err.Error()}
			continue
		}

		metrics.FixesGenerated.Inc()
		fixes[record.CallID] = models.FixOutcome{Suggestion: suggestion}
	}

	return fixes
}

// summarize collects analyzed results in batch order and makes a single
// summarizer call.
func (o *Orchestrator) summarize(ctx context.Context, records []models.AnalysisRecord) string {
	var analyses []models.AnalysisResult
	for _, record := range records {
		if record.Status == models.StatusAnalyzed && record.Analysis != nil {
			analyses = append(analyses, *record.Analysis)
		}
	}

	if len(analyses) == 0 {
		return noAnalyzedSummary
	}

	summary, err := o.summarizer.Summarize(ctx, analyses)
	if err != nil {
		logger.Warn("Summary generation failed", zap.Error(err))
		return "Summary unavailable"
	}
	return summary
}

func newPipelineID(t time.Time) string {
	return fmt.Sprintf("pipeline_%s_%s", t.UTC().Format("20060102_150405"), uuid.New().String()[:8])
}
