package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/call-replay/analyzer/internal/ingestion"
	"github.com/call-replay/analyzer/internal/models"
	"github.com/call-replay/analyzer/internal/pipeline"
	"github.com/call-replay/analyzer/internal/prefilter"
	"github.com/call-replay/analyzer/internal/storage/sqlite"
)

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(_ context.Context, t models.Transcript) (*models.AnalysisResult, error) {
	return &models.AnalysisResult{
		Intent:          "test intent",
		IssueDetected:   true,
		IssueReason:     "stubbed issue",
		ConfidenceScore: 0.75,
	}, nil
}

const (
	stubFixJSON     = `{"priority": "high", "estimated_impact": "stubbed"}`
	stubSummaryJSON = `{"trends": "stubbed", "overall_quality_score": 0.5}`
)

func (stubAnalyzer) GenerateFixes(_ context.Context, _ models.AnalysisResult) (string, error) {
	return stubFixJSON, nil
}

func (stubAnalyzer) Summarize(_ context.Context, _ []models.AnalysisResult) (string, error) {
	return stubSummaryJSON, nil
}

type testEnv struct {
	app     *fiber.App
	store   *sqlite.Client
	gateway *ingestion.Gateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "analysis.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })

	detector := prefilter.NewDetector(prefilter.DefaultConfig())
	stub := stubAnalyzer{}
	orchestrator := pipeline.NewOrchestrator(detector, stub, stub, stub, store, 2)
	gateway := ingestion.NewGateway(store, detector, orchestrator, time.Minute)

	analysisHandler := NewAnalysisHandler(orchestrator, detector, stub, stub)
	ingestHandler := NewIngestHandler(gateway)
	historyHandler := NewHistoryHandler(store, 10)

	app := fiber.New()
	api := app.Group("/api/v1")
	api.Post("/calls/ingest", ingestHandler.HandleIngest)
	api.Post("/calls/analyze", analysisHandler.AnalyzeCall)
	api.Post("/calls/analyze-batch", analysisHandler.AnalyzeBatch)
	api.Post("/calls/prefilter-check", analysisHandler.PrefilterCheck)
	api.Post("/pipeline/run", analysisHandler.RunPipeline)
	api.Post("/fixes/generate", analysisHandler.GenerateFixes)
	api.Post("/summary/generate", analysisHandler.GenerateSummary)
	api.Get("/history", historyHandler.GetHistory)
	api.Get("/history/:call_id", historyHandler.GetCallHistory)
	api.Get("/stats", historyHandler.GetStats)
	api.Post("/storage/backup", historyHandler.Backup)
	api.Post("/storage/clear", historyHandler.Clear)

	return &testEnv{app: app, store: store, gateway: gateway}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)

	var payload map[string]interface{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &payload))
	}
	return resp, payload
}

func transcriptBody(callID string, turns ...map[string]string) map[string]interface{} {
	dialog := make([]map[string]string, 0, len(turns))
	dialog = append(dialog, turns...)
	return map[string]interface{}{
		"call_id": callID,
		"dialog":  dialog,
	}
}

func userTurn(text string) map[string]string { return map[string]string{"speaker": "user", "text": text} }
func botTurn(text string) map[string]string  { return map[string]string{"speaker": "bot", "text": text} }

func TestAnalyzeCallRejectsMissingCallID(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.request(t, http.MethodPost, "/api/v1/calls/analyze",
		transcriptBody("", userTurn("hi")))

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "call_id is required", payload["error"])
}

func TestAnalyzeCallRejectsEmptyDialog(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.request(t, http.MethodPost, "/api/v1/calls/analyze",
		transcriptBody("call-1"))

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "dialog must not be empty", payload["error"])
}

func TestAnalyzeCallRejectsUnknownSpeaker(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.request(t, http.MethodPost, "/api/v1/calls/analyze",
		transcriptBody("call-1", map[string]string{"speaker": "agent", "text": "hi"}))

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, payload["error"], "speaker must be")
}

func TestAnalyzeCallSkipsCleanTranscript(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.request(t, http.MethodPost, "/api/v1/calls/analyze",
		transcriptBody("call-clean",
			userTurn("Can I book a table for tonight please?"),
			botTurn("Absolutely, your table for tonight is confirmed at seven")))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "call-clean", payload["call_id"])
	assert.Equal(t, "skipped", payload["status"])
}

func TestAnalyzeCallAnalyzesFlaggedTranscript(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.request(t, http.MethodPost, "/api/v1/calls/analyze",
		transcriptBody("call-bad",
			userTurn("this is ridiculous, you are useless"),
			botTurn("I'm sorry, could you repeat that?")))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "analyzed", payload["status"])
	analysis, ok := payload["analysis"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, analysis["issue_detected"])
}

func TestAnalyzeBatchRejectsEmpty(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.request(t, http.MethodPost, "/api/v1/calls/analyze-batch",
		map[string]interface{}{"transcripts": []interface{}{}})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, payload["error"], "transcripts is required")
}

func TestAnalyzeBatchReportsPerItemValidation(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.request(t, http.MethodPost, "/api/v1/calls/analyze-batch",
		map[string]interface{}{"transcripts": []interface{}{
			transcriptBody("call-ok", userTurn("hello there"), botTurn("hello, how can I help you today?")),
			transcriptBody("", userTurn("hi")),
		}})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, payload["error"], "transcripts[1]")
}

func TestAnalyzeBatchReturnsResultsAndStatistics(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.request(t, http.MethodPost, "/api/v1/calls/analyze-batch",
		map[string]interface{}{"transcripts": []interface{}{
			transcriptBody("call-a",
				userTurn("that's not what i asked, useless"),
				botTurn("I'm sorry")),
			transcriptBody("call-b",
				userTurn("Can I get your opening hours?"),
				botTurn("We are open from nine in the morning until ten at night")),
		}})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	results, ok := payload["results"].([]interface{})
	require.True(t, ok)
	assert.Len(t, results, 2)

	stats, ok := payload["statistics"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(2), stats["total_calls"])
	assert.Equal(t, float64(1), stats["analyzed"])
	assert.Equal(t, float64(1), stats["skipped"])
}

func TestRunPipelineProducesReport(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.request(t, http.MethodPost, "/api/v1/pipeline/run",
		map[string]interface{}{"transcripts": []interface{}{
			transcriptBody("call-a",
				userTurn("wrong answer, this is ridiculous"),
				botTurn("I'm sorry")),
		}})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, payload["pipeline_id"])
	assert.Equal(t, stubSummaryJSON, payload["summary"])

	fixes, ok := payload["fix_results"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, fixes, "call-a")
}

func TestGenerateFixesFromExistingAnalysis(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.request(t, http.MethodPost, "/api/v1/fixes/generate",
		map[string]interface{}{
			"intent":         "cancel order",
			"issue_detected": true,
			"issue_reason":   "bot ignored the cancellation request",
		})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "high", payload["priority"])
}

func TestGenerateFixesRejectsEmptyAnalysis(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.request(t, http.MethodPost, "/api/v1/fixes/generate",
		map[string]interface{}{})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, payload["error"], "analysis must carry")
}

func TestGenerateSummaryFromExistingAnalyses(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.request(t, http.MethodPost, "/api/v1/summary/generate",
		map[string]interface{}{"analyses": []interface{}{
			map[string]interface{}{"intent": "booking", "issue_detected": true},
			map[string]interface{}{"intent": "hours", "issue_detected": false},
		}})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stubbed", payload["trends"])
}

func TestGenerateSummaryRejectsEmptyList(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.request(t, http.MethodPost, "/api/v1/summary/generate",
		map[string]interface{}{"analyses": []interface{}{}})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, payload["error"], "analyses is required")
}

func TestPrefilterCheckReportsDecision(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.request(t, http.MethodPost, "/api/v1/calls/prefilter-check",
		transcriptBody("call-check",
			userTurn("are you listening? hello?"),
			botTurn("I apologize, let me try again")))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "call-check", payload["call_id"])
	assert.Equal(t, true, payload["would_analyze"])
	reasons, ok := payload["reasons"].([]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, reasons)
}

func TestIngestReturnsReceipt(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.request(t, http.MethodPost, "/api/v1/calls/ingest",
		transcriptBody("call-in",
			userTurn("Do you deliver to the north side of town?"),
			botTurn("Yes, we deliver within five miles of the restaurant")))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ingestion.StatusReceived, payload["status"])
	assert.Equal(t, "call-in", payload["call_id"])
}

func TestIngestFlaggedTranscriptStartsAnalysis(t *testing.T) {
	env := newTestEnv(t)

	body := transcriptBody("call-hot",
		userTurn("this is ridiculous, wrong answer"),
		botTurn("I'm sorry"))
	body["metadata"] = map[string]interface{}{"status": "failed"}

	resp, payload := env.request(t, http.MethodPost, "/api/v1/calls/ingest", body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ingestion.StatusReceivedAndAnalyzing, payload["status"])

	// The background task lands its record in the log.
	env.gateway.Wait()
	history, err := env.store.HistoryFor("call-hot")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.StatusAnalyzed, history[0].Status)
}

func TestGetHistoryNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		record := models.AnalysisRecord{
			CallID: fmt.Sprintf("call-%d", i),
			Status: models.StatusSkipped,
			Reason: "No issues detected (confidence: 0.00)",
		}
		require.NoError(t, env.store.AppendRecord(&record))
	}

	resp, payload := env.request(t, http.MethodGet, "/api/v1/history", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), payload["total_results"])
	results := payload["results"].([]interface{})
	first := results[0].(map[string]interface{})
	last := results[2].(map[string]interface{})
	assert.Equal(t, "call-2", first["call_id"])
	assert.Equal(t, "call-0", last["call_id"])
}

func TestGetHistoryRejectsBadFilters(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.request(t, http.MethodGet, "/api/v1/history?status=finished", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.request(t, http.MethodGet, "/api/v1/history?start_date=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.request(t, http.MethodGet, "/api/v1/history?limit=5000", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetCallHistory(t *testing.T) {
	env := newTestEnv(t)
	for _, status := range []models.RecordStatus{models.StatusSkipped, models.StatusAnalyzed} {
		record := models.AnalysisRecord{CallID: "call-x", Status: status}
		if status == models.StatusAnalyzed {
			record.Analysis = &models.AnalysisResult{Intent: "x", ConfidenceScore: 0.5}
		}
		require.NoError(t, env.store.AppendRecord(&record))
	}

	resp, payload := env.request(t, http.MethodGet, "/api/v1/history/call-x", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "call-x", payload["call_id"])
	assert.Equal(t, float64(2), payload["total_records"])
	results := payload["results"].([]interface{})
	oldest := results[0].(map[string]interface{})
	assert.Equal(t, "skipped", oldest["status"])
}

func TestGetStats(t *testing.T) {
	env := newTestEnv(t)
	record := models.AnalysisRecord{CallID: "call-s", Status: models.StatusSkipped}
	require.NoError(t, env.store.AppendRecord(&record))

	resp, payload := env.request(t, http.MethodGet, "/api/v1/stats", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), payload["total_analyses"])
	assert.Equal(t, float64(1), payload["unique_calls"])
}

func TestBackupAndClear(t *testing.T) {
	env := newTestEnv(t)
	record := models.AnalysisRecord{CallID: "call-b", Status: models.StatusSkipped}
	require.NoError(t, env.store.AppendRecord(&record))

	target := filepath.Join(t.TempDir(), "snapshot.db")
	resp, payload := env.request(t, http.MethodPost, "/api/v1/storage/backup",
		map[string]interface{}{"path": target})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", payload["status"])
	assert.Contains(t, payload["message"], target)

	resp, payload = env.request(t, http.MethodPost, "/api/v1/storage/clear", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", payload["status"])

	records, err := env.store.QueryRecords(sqlite.Filters{})
	require.NoError(t, err)
	assert.Empty(t, records)
}
