// Package sqlite persists the append-only analysis log plus the raw
// transcripts and pipeline reports that surround it. Records are never
// updated or deleted individually; Clear is the only destructive operation.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/call-replay/analyzer/internal/models"
	"github.com/call-replay/analyzer/pkg/logger"
)

type Client struct {
	db     *sql.DB
	dbPath string
}

// Filters narrow a record query. Every supplied filter must hold
// (AND-combined); a zero field means no constraint on that dimension.
// Limit keeps the most recent N matching records.
type Filters struct {
	StartDate *time.Time
	EndDate   *time.Time
	CallID    string
	Status    models.RecordStatus
	Limit     int
}

type DateRange struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
	SpanDays int       `json:"span_days"`
}

type Stats struct {
	Total           int            `json:"total_analyses"`
	DateRange       *DateRange     `json:"date_range"`
	StatusBreakdown map[string]int `json:"status_breakdown"`
	UniqueCalls     int            `json:"unique_calls"`
	CallIDs         []string       `json:"call_ids"`
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps readers unblocked by the writer; busy_timeout serializes
	// concurrent appends from background ingestions and batch pipelines.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db, dbPath: dbPath}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS analysis_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		call_id TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		analysis TEXT,
		error TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_call ON analysis_records(call_id);
	CREATE INDEX IF NOT EXISTS idx_records_status ON analysis_records(status);
	CREATE INDEX IF NOT EXISTS idx_records_created ON analysis_records(created_at);

	CREATE TABLE IF NOT EXISTS transcripts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		call_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		received_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcripts_call ON transcripts(call_id);

	CREATE TABLE IF NOT EXISTS pipeline_reports (
		pipeline_id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// AppendRecord adds one record to the analysis log. The record's timestamp
// is assigned here when unset; stored at nanosecond precision so insertion
// order and timestamp order agree.
func (c *Client) AppendRecord(record *models.AnalysisRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	var analysisJSON interface{}
	if record.Analysis != nil {
		data, err := json.Marshal(record.Analysis)
		if err != nil {
			return fmt.Errorf("failed to marshal analysis: %w", err)
		}
		analysisJSON = string(data)
	}

	query := `INSERT INTO analysis_records (call_id, status, reason, analysis, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := c.db.Exec(
		query,
		record.CallID,
		string(record.Status),
		nullable(record.Reason),
		analysisJSON,
		nullable(record.Error),
		record.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to append analysis record: %w", err)
	}

	logger.Debug("Analysis record appended",
		zap.String("call_id", record.CallID),
		zap.String("status", string(record.Status)),
	)
	return nil
}

// QueryRecords returns matching records in insertion order. With a limit it
// keeps the most recent N matches, still returned oldest first.
func (c *Client) QueryRecords(f Filters) ([]models.AnalysisRecord, error) {
	query := `SELECT call_id, status, reason, analysis, error, created_at FROM analysis_records`
	var clauses []string
	var args []interface{}

	if f.StartDate != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.StartDate.UnixNano())
	}
	if f.EndDate != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, f.EndDate.UnixNano())
	}
	if f.CallID != "" {
		clauses = append(clauses, "call_id = ?")
		args = append(args, f.CallID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}

	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}

	if f.Limit > 0 {
		query += " ORDER BY id DESC LIMIT ?"
		args = append(args, f.Limit)
	} else {
		query += " ORDER BY id ASC"
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis records: %w", err)
	}
	defer rows.Close()

	var records []models.AnalysisRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read analysis records: %w", err)
	}

	if f.Limit > 0 {
		reverse(records)
	}
	return records, nil
}

// HistoryFor returns every record ever appended for one call, oldest first.
// Tracking a single call's reprocessing history is a first-class access
// pattern, hence the dedicated operation.
func (c *Client) HistoryFor(callID string) ([]models.AnalysisRecord, error) {
	return c.QueryRecords(Filters{CallID: callID})
}

func (c *Client) Stats(callIDPreview int) (*Stats, error) {
	if callIDPreview <= 0 {
		callIDPreview = 10
	}

	stats := &Stats{
		StatusBreakdown: make(map[string]int),
		CallIDs:         []string{},
	}

	row := c.db.QueryRow(`SELECT COUNT(*), COUNT(DISTINCT call_id) FROM analysis_records`)
	if err := row.Scan(&stats.Total, &stats.UniqueCalls); err != nil {
		return nil, fmt.Errorf("failed to count analysis records: %w", err)
	}

	if stats.Total == 0 {
		return stats, nil
	}

	var earliest, latest int64
	row = c.db.QueryRow(`SELECT MIN(created_at), MAX(created_at) FROM analysis_records`)
	if err := row.Scan(&earliest, &latest); err != nil {
		return nil, fmt.Errorf("failed to compute date range: %w", err)
	}
	earliestTime := time.Unix(0, earliest).UTC()
	latestTime := time.Unix(0, latest).UTC()
	stats.DateRange = &DateRange{
		Earliest: earliestTime,
		Latest:   latestTime,
		SpanDays: int(latestTime.Sub(earliestTime).Hours() / 24),
	}

	rows, err := c.db.Query(`SELECT status, COUNT(*) FROM analysis_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to compute status breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status breakdown: %w", err)
		}
		stats.StatusBreakdown[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read status breakdown: %w", err)
	}

	idRows, err := c.db.Query(`SELECT DISTINCT call_id FROM analysis_records ORDER BY id LIMIT ?`, callIDPreview)
	if err != nil {
		return nil, fmt.Errorf("failed to list call ids: %w", err)
	}
	defer idRows.Close()
	for idRows.Next() {
		var callID string
		if err := idRows.Scan(&callID); err != nil {
			return nil, fmt.Errorf("failed to scan call id: %w", err)
		}
		stats.CallIDs = append(stats.CallIDs, callID)
	}
	if err := idRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read call ids: %w", err)
	}

	return stats, nil
}

// Backup snapshots the database to destPath without touching the live log.
// VACUUM INTO writes a complete copy or fails; a partial target left by a
// failed run is removed. The resolved backup path is returned. An empty
// destPath derives a time-stamped file next to the live database.
func (c *Client) Backup(destPath string) (string, error) {
	if destPath == "" {
		timestamp := time.Now().UTC().Format("20060102_150405")
		destPath = filepath.Join(filepath.Dir(c.dbPath), fmt.Sprintf("analysis_backup_%s.db", timestamp))
	}

	if _, err := os.Stat(destPath); err == nil {
		return "", fmt.Errorf("backup target already exists: %s", destPath)
	}

	if _, err := c.db.Exec(`VACUUM INTO ?`, destPath); err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("failed to back up analysis log: %w", err)
	}

	logger.Info("Analysis log backed up", zap.String("path", destPath))
	return destPath, nil
}

// Clear destructively empties the analysis log. No implicit backup is taken;
// callers are responsible for calling Backup first.
func (c *Client) Clear() error {
	if _, err := c.db.Exec(`DELETE FROM analysis_records`); err != nil {
		return fmt.Errorf("failed to clear analysis log: %w", err)
	}
	logger.Info("Analysis log cleared")
	return nil
}

// SaveTranscript durably records one ingested transcript as its own row.
func (c *Client) SaveTranscript(t models.Transcript) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	query := `INSERT INTO transcripts (call_id, payload, received_at) VALUES (?, ?, ?)`
	if _, err := c.db.Exec(query, t.CallID, string(payload), time.Now().UTC().UnixNano()); err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}

	logger.Debug("Transcript stored", zap.String("call_id", t.CallID))
	return nil
}

// SavePipelineReport durably records one full pipeline run under its id.
func (c *Client) SavePipelineReport(report *models.PipelineReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline report: %w", err)
	}

	query := `INSERT INTO pipeline_reports (pipeline_id, payload, created_at) VALUES (?, ?, ?)`
	if _, err := c.db.Exec(query, report.PipelineID, string(payload), report.Timestamp.UnixNano()); err != nil {
		return fmt.Errorf("failed to save pipeline report: %w", err)
	}

	logger.Info("Pipeline report saved", zap.String("pipeline_id", report.PipelineID))
	return nil
}

// GetPipelineReport loads a persisted run by id.
func (c *Client) GetPipelineReport(pipelineID string) (*models.PipelineReport, error) {
	var payload string
	row := c.db.QueryRow(`SELECT payload FROM pipeline_reports WHERE pipeline_id = ?`, pipelineID)
	if err := row.Scan(&payload); err != nil {
		return nil, fmt.Errorf("failed to load pipeline report: %w", err)
	}

	var report models.PipelineReport
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pipeline report: %w", err)
	}
	return &report, nil
}

func scanRecord(rows *sql.Rows) (models.AnalysisRecord, error) {
	var record models.AnalysisRecord
	var reason, analysisJSON, errText sql.NullString
	var createdAt int64

	if err := rows.Scan(&record.CallID, &record.Status, &reason, &analysisJSON, &errText, &createdAt); err != nil {
		return record, fmt.Errorf("failed to scan analysis record: %w", err)
	}

	record.Reason = reason.String
	record.Error = errText.String
	record.Timestamp = time.Unix(0, createdAt).UTC()

	if analysisJSON.Valid && analysisJSON.String != "" {
		var analysis models.AnalysisResult
		if err := json.Unmarshal([]byte(analysisJSON.String), &analysis); err != nil {
			return record, fmt.Errorf("failed to unmarshal analysis payload: %w", err)
		}
		record.Analysis = &analysis
	}

	return record, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func reverse(records []models.AnalysisRecord) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}
