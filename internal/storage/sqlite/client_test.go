package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/call-replay/analyzer/internal/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(filepath.Join(t.TempDir(), "analysis.db"))
	require.NoError(t, err)
	require.NoError(t, client.InitSchema())
	t.Cleanup(func() { client.Close() })
	return client
}

func appendRecords(t *testing.T, client *Client, records ...models.AnalysisRecord) {
	t.Helper()
	for i := range records {
		require.NoError(t, client.AppendRecord(&records[i]))
	}
}

func sampleRecords() []models.AnalysisRecord {
	return []models.AnalysisRecord{
		{
			CallID: "call-a",
			Status: models.StatusAnalyzed,
			Analysis: &models.AnalysisResult{
				Intent:          "cancel order",
				IssueDetected:   true,
				IssueReason:     "bot never confirmed the cancellation",
				ConfidenceScore: 0.85,
			},
		},
		{
			CallID: "call-b",
			Status: models.StatusSkipped,
			Reason: "No issues detected (confidence: 0.20)",
		},
		{
			CallID: "call-c",
			Status: models.StatusAnalyzed,
			Analysis: &models.AnalysisResult{
				Intent:          "opening hours",
				IssueDetected:   false,
				ConfidenceScore: 0.95,
			},
		},
		{
			CallID: "call-a",
			Status: models.StatusError,
			Error:  "analysis failed for call call-a: model unavailable",
		},
	}
}

func TestAppendAndQueryInsertionOrder(t *testing.T) {
	client := newTestClient(t)
	appendRecords(t, client, sampleRecords()...)

	records, err := client.QueryRecords(Filters{})
	require.NoError(t, err)

	require.Len(t, records, 4)
	assert.Equal(t, "call-a", records[0].CallID)
	assert.Equal(t, "call-b", records[1].CallID)
	assert.Equal(t, "call-c", records[2].CallID)
	assert.Equal(t, "call-a", records[3].CallID)

	for i := 1; i < len(records); i++ {
		assert.False(t, records[i].Timestamp.Before(records[i-1].Timestamp))
	}
}

func TestAppendRoundTripsAnalysisPayload(t *testing.T) {
	client := newTestClient(t)
	appendRecords(t, client, sampleRecords()...)

	records, err := client.QueryRecords(Filters{})
	require.NoError(t, err)

	require.NotNil(t, records[0].Analysis)
	assert.Equal(t, "cancel order", records[0].Analysis.Intent)
	assert.True(t, records[0].Analysis.IssueDetected)
	assert.InDelta(t, 0.85, records[0].Analysis.ConfidenceScore, 1e-9)

	assert.Nil(t, records[1].Analysis)
	assert.Equal(t, "No issues detected (confidence: 0.20)", records[1].Reason)

	assert.Nil(t, records[3].Analysis)
	assert.Contains(t, records[3].Error, "model unavailable")
}

func TestQueryFiltersAreConjunctive(t *testing.T) {
	client := newTestClient(t)
	appendRecords(t, client, sampleRecords()...)

	records, err := client.QueryRecords(Filters{
		CallID: "call-a",
		Status: models.StatusAnalyzed,
	})
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, "call-a", records[0].CallID)
	assert.Equal(t, models.StatusAnalyzed, records[0].Status)
}

func TestQueryLimitKeepsMostRecent(t *testing.T) {
	client := newTestClient(t)
	appendRecords(t, client, sampleRecords()...)

	// Analyzed records are call-a then call-c; limit 1 keeps the most
	// recent match, still reported in insertion order.
	records, err := client.QueryRecords(Filters{
		Status: models.StatusAnalyzed,
		Limit:  1,
	})
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, "call-c", records[0].CallID)
}

func TestQueryLimitPreservesInsertionOrder(t *testing.T) {
	client := newTestClient(t)
	appendRecords(t, client, sampleRecords()...)

	records, err := client.QueryRecords(Filters{Limit: 3})
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, "call-b", records[0].CallID)
	assert.Equal(t, "call-c", records[1].CallID)
	assert.Equal(t, "call-a", records[2].CallID)
}

func TestQueryDateRange(t *testing.T) {
	client := newTestClient(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appendRecords(t, client,
		models.AnalysisRecord{CallID: "old", Status: models.StatusSkipped, Timestamp: base},
		models.AnalysisRecord{CallID: "mid", Status: models.StatusSkipped, Timestamp: base.Add(24 * time.Hour)},
		models.AnalysisRecord{CallID: "new", Status: models.StatusSkipped, Timestamp: base.Add(48 * time.Hour)},
	)

	start := base.Add(12 * time.Hour)
	end := base.Add(36 * time.Hour)
	records, err := client.QueryRecords(Filters{StartDate: &start, EndDate: &end})
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, "mid", records[0].CallID)
}

func TestQueryNoMatches(t *testing.T) {
	client := newTestClient(t)
	appendRecords(t, client, sampleRecords()...)

	records, err := client.QueryRecords(Filters{CallID: "call-missing"})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHistoryFor(t *testing.T) {
	client := newTestClient(t)
	appendRecords(t, client, sampleRecords()...)

	history, err := client.HistoryFor("call-a")
	require.NoError(t, err)

	require.Len(t, history, 2)
	assert.Equal(t, models.StatusAnalyzed, history[0].Status)
	assert.Equal(t, models.StatusError, history[1].Status)
}

func TestStats(t *testing.T) {
	client := newTestClient(t)
	appendRecords(t, client, sampleRecords()...)

	stats, err := client.Stats(10)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.UniqueCalls)
	assert.Equal(t, map[string]int{
		"analyzed": 2,
		"skipped":  1,
		"error":    1,
	}, stats.StatusBreakdown)
	require.NotNil(t, stats.DateRange)
	assert.False(t, stats.DateRange.Latest.Before(stats.DateRange.Earliest))
	assert.Equal(t, []string{"call-a", "call-b", "call-c"}, stats.CallIDs)
}

func TestStatsEmptyLog(t *testing.T) {
	client := newTestClient(t)

	stats, err := client.Stats(10)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Total)
	assert.Nil(t, stats.DateRange)
	assert.Empty(t, stats.StatusBreakdown)
	assert.Empty(t, stats.CallIDs)
}

func TestStatsCallIDPreviewTruncates(t *testing.T) {
	client := newTestClient(t)
	appendRecords(t, client, sampleRecords()...)

	stats, err := client.Stats(2)
	require.NoError(t, err)

	assert.Equal(t, []string{"call-a", "call-b"}, stats.CallIDs)
	assert.Equal(t, 3, stats.UniqueCalls)
}

func TestBackupSnapshotSurvivesClear(t *testing.T) {
	dir := t.TempDir()
	client, err := NewClient(filepath.Join(dir, "analysis.db"))
	require.NoError(t, err)
	require.NoError(t, client.InitSchema())
	defer client.Close()

	appendRecords(t, client, sampleRecords()...)

	backupPath, err := client.Backup(filepath.Join(dir, "snapshot.db"))
	require.NoError(t, err)
	require.NoError(t, client.Clear())

	cleared, err := client.QueryRecords(Filters{})
	require.NoError(t, err)
	assert.Empty(t, cleared)

	restored, err := NewClient(backupPath)
	require.NoError(t, err)
	defer restored.Close()

	records, err := restored.QueryRecords(Filters{})
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestBackupDefaultPath(t *testing.T) {
	dir := t.TempDir()
	client, err := NewClient(filepath.Join(dir, "analysis.db"))
	require.NoError(t, err)
	require.NoError(t, client.InitSchema())
	defer client.Close()

	backupPath, err := client.Backup("")
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(backupPath))
	assert.Regexp(t, `analysis_backup_\d{8}_\d{6}\.db$`, backupPath)
}

func TestBackupRefusesExistingTarget(t *testing.T) {
	dir := t.TempDir()
	client, err := NewClient(filepath.Join(dir, "analysis.db"))
	require.NoError(t, err)
	require.NoError(t, client.InitSchema())
	defer client.Close()

	target := filepath.Join(dir, "snapshot.db")
	_, err = client.Backup(target)
	require.NoError(t, err)

	_, err = client.Backup(target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestClearEmptiesOnlyTheLog(t *testing.T) {
	client := newTestClient(t)
	appendRecords(t, client, sampleRecords()...)

	transcript := models.Transcript{
		CallID: "call-kept",
		Dialog: []models.DialogTurn{{Speaker: models.SpeakerUser, Text: "hi"}},
	}
	require.NoError(t, client.SaveTranscript(transcript))

	require.NoError(t, client.Clear())

	records, err := client.QueryRecords(Filters{})
	require.NoError(t, err)
	assert.Empty(t, records)

	// Appends keep working after a clear.
	appendRecords(t, client, models.AnalysisRecord{CallID: "call-after", Status: models.StatusSkipped})
	records, err = client.QueryRecords(Filters{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSaveAndGetPipelineReport(t *testing.T) {
	client := newTestClient(t)

	report := &models.PipelineReport{
		PipelineID: "pipeline_20260301_120000_abcd1234",
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		InputCount: 2,
		AnalysisResults: []models.AnalysisRecord{
			{CallID: "call-a", Status: models.StatusSkipped, Reason: "No issues detected (confidence: 0.00)"},
		},
		FixResults: map[string]models.FixOutcome{},
		Summary:    "No analyzed calls to summarize",
		Statistics: models.BatchStatistics{Total: 2, Skipped: 2, ProcessingEfficiency: 1.0},
	}
	require.NoError(t, client.SavePipelineReport(report))

	loaded, err := client.GetPipelineReport(report.PipelineID)
	require.NoError(t, err)
	assert.Equal(t, report.PipelineID, loaded.PipelineID)
	assert.Equal(t, report.Summary, loaded.Summary)
	assert.Equal(t, report.Statistics, loaded.Statistics)
	require.Len(t, loaded.AnalysisResults, 1)
	assert.Equal(t, "call-a", loaded.AnalysisResults[0].CallID)
}
