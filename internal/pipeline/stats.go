package pipeline

import "github.com/call-replay/analyzer/internal/models"

// ComputeStatistics derives batch statistics from final per-item statuses.
// Always recomputed, never independently mutated; analyzed+skipped+errors
// equals total by construction. Average confidence covers analyzed items
// only; skipped items carry no analyzer confidence to average.
func ComputeStatistics(records []models.AnalysisRecord) models.BatchStatistics {
	stats := models.BatchStatistics{Total: len(records)}

	var confidenceSum float64
	for _, record := range records {
		switch record.Status {
		case models.StatusAnalyzed:
			stats.Analyzed++
			if record.Analysis != nil {
				confidenceSum += record.Analysis.ConfidenceScore
				if record.Analysis.IssueDetected {
					stats.IssuesDetected++
				}
			}
		case models.StatusSkipped:
			stats.Skipped++
		case models.StatusError:
			stats.Errors++
		}
	}

	if stats.Analyzed > 0 {
		stats.IssueRate = float64(stats.IssuesDetected) / float64(stats.Analyzed)
		stats.AverageConfidence = confidenceSum / float64(stats.Analyzed)
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Analyzed) / float64(stats.Total)
		stats.ProcessingEfficiency = float64(stats.Analyzed+stats.Skipped) / float64(stats.Total)
	}

	return stats
}
