package models

import (
	"encoding/json"
	"time"
)

type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerBot  Speaker = "bot"
)

type DialogTurn struct {
	Speaker   Speaker    `json:"speaker"`
	Text      string     `json:"text"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// MetaStatusFailed is the one metadata value the system interprets: upstream
// call handlers set it to request immediate analysis.
const MetaStatusFailed = "failed"

// Metadata carries caller-supplied call context. Status is the recognized
// key; unrecognized keys ride along untouched in Extra.
type Metadata struct {
	Status string
	Extra  map[string]interface{}
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(m.Extra)+1)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Status != "" {
		out["status"] = m.Status
	}
	return json.Marshal(out)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if status, ok := raw["status"].(string); ok {
		m.Status = status
		delete(raw, "status")
	}
	if len(raw) > 0 {
		m.Extra = raw
	} else {
		m.Extra = nil
	}
	return nil
}

// Transcript is the unit of analysis: one call's ordered dialog plus
// metadata. Immutable once received; call_id is caller-supplied and not
// guaranteed unique across time.
type Transcript struct {
	CallID   string       `json:"call_id"`
	Dialog   []DialogTurn `json:"dialog"`
	Metadata Metadata     `json:"metadata"`
}

// AnalysisResult is the external analyzer's verdict on one call. Opaque to
// the core beyond this field contract.
type AnalysisResult struct {
	Intent             string  `json:"intent"`
	BotResponseSummary string  `json:"bot_response_summary"`
	IssueDetected      bool    `json:"issue_detected"`
	IssueReason        string  `json:"issue_reason"`
	SuggestedFix       string  `json:"suggested_fix"`
	ConfidenceScore    float64 `json:"confidence_score"`
}

type RecordStatus string

const (
	StatusAnalyzed RecordStatus = "analyzed"
	StatusSkipped  RecordStatus = "skipped"
	StatusError    RecordStatus = "error"
)

// AnalysisRecord is one immutable entry in the analysis log. Analysis is set
// iff status is analyzed; Error iff status is error. One call_id may
// accumulate many records over time through re-analysis.
type AnalysisRecord struct {
	CallID    string          `json:"call_id"`
	Status    RecordStatus    `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Analysis  *AnalysisResult `json:"analysis,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// FixOutcome is the per-call result of fix generation. Exactly one of
// Suggestion and Error is set; a failed fix never fails the batch.
type FixOutcome struct {
	Suggestion string `json:"suggestion,omitempty"`
	Error      string `json:"error,omitempty"`
}

type BatchStatistics struct {
	Total                int     `json:"total_calls"`
	Analyzed             int     `json:"analyzed"`
	Skipped              int     `json:"skipped"`
	Errors               int     `json:"errors"`
	IssuesDetected       int     `json:"issues_detected"`
	IssueRate            float64 `json:"issue_rate"`
	AverageConfidence    float64 `json:"average_confidence"`
	SuccessRate          float64 `json:"success_rate"`
	ProcessingEfficiency float64 `json:"processing_efficiency"`
}

type PipelineReport struct {
	PipelineID      string                `json:"pipeline_id"`
	Timestamp       time.Time             `json:"timestamp"`
	InputCount      int                   `json:"input_count"`
	AnalysisResults []AnalysisRecord      `json:"analysis_results"`
	FixResults      map[string]FixOutcome `json:"fix_results"`
	Summary         string                `json:"summary"`
	Statistics      BatchStatistics       `json:"statistics"`
}
