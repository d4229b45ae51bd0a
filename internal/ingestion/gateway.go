// Package ingestion accepts single transcripts from upstream call-handling
// systems. Every transcript is stored immediately; ones the prefilter flags
// are analyzed in the background without blocking the caller.
package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/call-replay/analyzer/internal/metrics"
	"github.com/call-replay/analyzer/internal/models"
	"github.com/call-replay/analyzer/internal/prefilter"
	"github.com/call-replay/analyzer/pkg/logger"
)

const (
	StatusReceived             = "received"
	StatusReceivedAndAnalyzing = "received_and_analyzing"
)

// TranscriptStore is the slice of the storage contract the gateway needs.
type TranscriptStore interface {
	SaveTranscript(t models.Transcript) error
}

// AnalysisRunner takes one transcript through the analysis path and records
// the outcome. Background task failures land in the same record log as
// batch processing, never in a separate silent failure mode.
type AnalysisRunner interface {
	ProcessTranscript(ctx context.Context, t models.Transcript) models.AnalysisRecord
}

type Receipt struct {
	Status  string `json:"status"`
	CallID  string `json:"call_id"`
	Message string `json:"message"`
}

type Gateway struct {
	store    TranscriptStore
	detector *prefilter.Detector
	runner   AnalysisRunner
	timeout  time.Duration

	wg sync.WaitGroup
}

func NewGateway(store TranscriptStore, detector *prefilter.Detector, runner AnalysisRunner, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Gateway{
		store:    store,
		detector: detector,
		runner:   runner,
		timeout:  timeout,
	}
}

// Ingest stores the transcript and returns without waiting for analysis.
// The receipt only says whether a background task was scheduled; it makes
// no promise about when that task completes.
func (g *Gateway) Ingest(t models.Transcript) (*Receipt, error) {
	if err := g.store.SaveTranscript(t); err != nil {
		// A failed store must never be reported back as "received".
		return nil, fmt.Errorf("failed to store transcript %s: %w", t.CallID, err)
	}

	decision := g.detector.Evaluate(t)
	if !decision.WouldAnalyze {
		metrics.IngestionsTotal.WithLabelValues(StatusReceived).Inc()
		logger.Info("Transcript ingested",
			zap.String("call_id", t.CallID),
			zap.Float64("prefilter_confidence", decision.Confidence),
		)
		return &Receipt{
			Status:  StatusReceived,
			CallID:  t.CallID,
			Message: "Transcript stored for batch processing",
		}, nil
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()

		record := g.runner.ProcessTranscript(ctx, t)
		logger.Info("Background analysis finished",
			zap.String("call_id", t.CallID),
			zap.String("status", string(record.Status)),
		)
	}()

	metrics.IngestionsTotal.WithLabelValues(StatusReceivedAndAnalyzing).Inc()
	logger.Info("Transcript ingested, analysis scheduled",
		zap.String("call_id", t.CallID),
		zap.Strings("reasons", decision.Reasons),
	)

	return &Receipt{
		Status:  StatusReceivedAndAnalyzing,
		CallID:  t.CallID,
		Message: "Transcript received and analysis started",
	}, nil
}

// Wait blocks until in-flight background analyses finish. Used at shutdown
// so scheduled work is not dropped.
func (g *Gateway) Wait() {
	g.wg.Wait()
}
