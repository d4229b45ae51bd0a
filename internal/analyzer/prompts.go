package analyzer

import (
	"fmt"
	"strings"

	"github.com/call-replay/analyzer/internal/models"
)

const systemPrompt = `You are an expert AI call quality analyst specializing in restaurant customer service calls.
Your job is to analyze conversations between customers and AI bots to identify issues and suggest improvements.

Key areas to focus on:
1. Intent recognition accuracy
2. Response relevance and helpfulness
3. Conversation flow and naturalness
4. Problem resolution effectiveness
5. Customer satisfaction indicators

Always respond in valid JSON format with the exact fields specified.`

func buildAnalysisPrompt(dialog []models.DialogTurn) string {
	return fmt.Sprintf(`ANALYZE THIS RESTAURANT CUSTOMER SERVICE CALL:

%s

Please provide a detailed analysis in the following JSON format:

{
    "intent": "Brief description of what the customer was trying to accomplish",
    "bot_response_summary": "Summary of how the bot responded throughout the conversation",
    "issue_detected": true/false,
    "issue_reason": "Detailed explanation of what went wrong (or 'No issues detected' if successful)",
    "suggested_fix": "Specific, actionable suggestions to improve the bot's performance",
    "confidence_score": 0.0-1.0
}

Focus on:
- Did the bot understand the customer's intent correctly?
- Were the responses relevant and helpful?
- Did the conversation flow naturally?
- Was the customer's problem resolved?
- What specific improvements would make this better?

Respond only with valid JSON.`, formatConversation(dialog))
}

func buildFixPrompt(analysis models.AnalysisResult) string {
	return fmt.Sprintf(`BASED ON THIS ANALYSIS, GENERATE SPECIFIC FIXES:

%s

Please provide detailed, actionable suggestions in JSON format:

{
    "prompt_improvements": [
        {
            "issue": "description of the prompt problem",
            "suggested_prompt": "improved prompt text",
            "rationale": "why this change would help"
        }
    ],
    "logic_improvements": [
        {
            "issue": "description of the logic problem",
            "current_behavior": "what the bot currently does",
            "suggested_behavior": "what the bot should do"
        }
    ],
    "priority": "high/medium/low",
    "estimated_impact": "description of expected improvement"
}`, formatAnalysis(analysis))
}

func buildSummaryPrompt(analyses []models.AnalysisResult) string {
	var blocks []string
	for i, analysis := range analyses {
		blocks = append(blocks, fmt.Sprintf("Call %d:\n%s", i+1, formatAnalysis(analysis)))
	}

	return fmt.Sprintf(`SUMMARIZE THESE CALL ANALYSES:

%s

Provide a summary in JSON format:

{
    "common_issues": [
        {
            "issue": "description",
            "frequency": "how often it occurs",
            "impact": "severity level"
        }
    ],
    "top_improvements": [
        {
            "improvement": "description",
            "priority": "high/medium/low",
            "expected_benefit": "what this would achieve"
        }
    ],
    "overall_quality_score": 0.0-1.0,
    "trends": "description of patterns across calls",
    "recommendations": [
        "specific action items"
    ]
}`, strings.Join(blocks, "\n\n"))
}

func formatConversation(dialog []models.DialogTurn) string {
	lines := make([]string, 0, len(dialog))
	for i, turn := range dialog {
		lines = append(lines, fmt.Sprintf("Turn %d - %s: %s", i+1, speakerLabel(turn.Speaker), strings.TrimSpace(turn.Text)))
	}
	return strings.Join(lines, "\n")
}

func speakerLabel(s models.Speaker) string {
	if s == models.SpeakerBot {
		return "Bot"
	}
	return "User"
}

func formatAnalysis(analysis models.AnalysisResult) string {
	return fmt.Sprintf(`Intent: %s
Issue Detected: %t
Issue Reason: %s
Suggested Fix: %s
Confidence: %.2f`,
		analysis.Intent,
		analysis.IssueDetected,
		analysis.IssueReason,
		analysis.SuggestedFix,
		analysis.ConfidenceScore,
	)
}
