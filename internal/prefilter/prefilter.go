// Package prefilter decides, without any external call, whether a call
// transcript merits deep analysis. It is a pure heuristic gate: weighted
// signals accumulate into a confidence score and the transcript is flagged
// when the score reaches the threshold.
package prefilter

import (
	"fmt"
	"strings"

	"github.com/call-replay/analyzer/internal/models"
)

// Decision is the prefilter verdict for one transcript. Reasons preserve
// signal evaluation order; every matched signal contributes, there is no
// single winning reason.
type Decision struct {
	WouldAnalyze bool     `json:"would_analyze"`
	Confidence   float64  `json:"confidence"`
	Reasons      []string `json:"reasons"`
	TurnCount    int      `json:"turn_count"`
}

type Config struct {
	Threshold              float64
	FrustrationWeight      float64
	ConfusionWeight        float64
	RepetitionWeight       float64
	ShortResponseWeight    float64
	AbruptEndingWeight     float64
	ShortResponseThreshold int
	FrustrationPhrases     []string
	ConfusionPhrases       []string
}

func DefaultConfig() Config {
	return Config{
		Threshold:              0.5,
		FrustrationWeight:      0.5,
		ConfusionWeight:        0.25,
		RepetitionWeight:       0.3,
		ShortResponseWeight:    0.2,
		AbruptEndingWeight:     0.3,
		ShortResponseThreshold: 10,
		FrustrationPhrases: []string{
			"not helpful", "hello?", "what?", "you there?", "makes no sense",
			"that's not what i asked", "i don't understand", "wrong answer",
			"that doesn't help", "can you hear me", "are you listening",
			"this is ridiculous", "useless", "stupid", "idiot",
		},
		ConfusionPhrases: []string{
			"i don't understand", "could you repeat", "i'm not sure",
			"let me try to help", "i apologize", "i'm sorry",
		},
	}
}

// Detector scans transcripts for failure signals. Safe for concurrent use;
// Evaluate is deterministic and never errors.
type Detector struct {
	cfg Config
}

func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.FrustrationWeight <= 0 {
		cfg.FrustrationWeight = def.FrustrationWeight
	}
	if cfg.ConfusionWeight <= 0 {
		cfg.ConfusionWeight = def.ConfusionWeight
	}
	if cfg.RepetitionWeight <= 0 {
		cfg.RepetitionWeight = def.RepetitionWeight
	}
	if cfg.ShortResponseWeight <= 0 {
		cfg.ShortResponseWeight = def.ShortResponseWeight
	}
	if cfg.AbruptEndingWeight <= 0 {
		cfg.AbruptEndingWeight = def.AbruptEndingWeight
	}
	if cfg.ShortResponseThreshold <= 0 {
		cfg.ShortResponseThreshold = def.ShortResponseThreshold
	}
	if cfg.FrustrationPhrases == nil {
		cfg.FrustrationPhrases = def.FrustrationPhrases
	}
	if cfg.ConfusionPhrases == nil {
		cfg.ConfusionPhrases = def.ConfusionPhrases
	}
	return &Detector{cfg: cfg}
}

// Evaluate scores one transcript. metadata.status == "failed" forces the
// decision regardless of signal weight; the signal scan still runs so the
// reasons stay informative.
func (d *Detector) Evaluate(t models.Transcript) Decision {
	forced := t.Metadata.Status == models.MetaStatusFailed
	reasons := []string{}
	confidence := 0.0

	if forced {
		confidence += 1.0
		reasons = append(reasons, "explicit failure status")
	}

	if len(t.Dialog) == 0 {
		if forced {
			return Decision{WouldAnalyze: true, Confidence: 1.0, Reasons: reasons, TurnCount: 0}
		}
		return Decision{WouldAnalyze: false, Confidence: 0.0, Reasons: reasons, TurnCount: 0}
	}

	var userTexts, botTexts []string
	for _, turn := range t.Dialog {
		switch turn.Speaker {
		case models.SpeakerUser:
			userTexts = append(userTexts, turn.Text)
		case models.SpeakerBot:
			botTexts = append(botTexts, turn.Text)
		}
	}

	for _, phrase := range matchPhrases(userTexts, d.cfg.FrustrationPhrases) {
		confidence += d.cfg.FrustrationWeight
		reasons = append(reasons, fmt.Sprintf("User frustration detected: '%s'", phrase))
	}

	for _, phrase := range matchPhrases(botTexts, d.cfg.ConfusionPhrases) {
		confidence += d.cfg.ConfusionWeight
		reasons = append(reasons, fmt.Sprintf("Bot confusion detected: '%s'", phrase))
	}

	if hasRepeatedResponse(botTexts) {
		confidence += d.cfg.RepetitionWeight
		reasons = append(reasons, "Bot repeated the same response")
	}

	if len(botTexts) > 0 && meanLength(botTexts) < float64(d.cfg.ShortResponseThreshold) {
		confidence += d.cfg.ShortResponseWeight
		reasons = append(reasons, "Bot responses unusually short")
	}

	last := t.Dialog[len(t.Dialog)-1]
	if len(t.Dialog) < 2 || last.Speaker == models.SpeakerUser {
		confidence += d.cfg.AbruptEndingWeight
		reasons = append(reasons, "Conversation ended abruptly")
	}

	if confidence > 1.0 {
		confidence = 1.0
	}

	return Decision{
		WouldAnalyze: forced || confidence >= d.cfg.Threshold,
		Confidence:   confidence,
		Reasons:      reasons,
		TurnCount:    len(t.Dialog),
	}
}

// matchPhrases returns the phrases that occur in at least one of the texts,
// in phrase-set order. Each distinct phrase counts once no matter how many
// turns contain it.
func matchPhrases(texts []string, phrases []string) []string {
	if len(texts) == 0 {
		return nil
	}
	lowered := make([]string, len(texts))
	for i, text := range texts {
		lowered[i] = strings.ToLower(text)
	}

	var matched []string
	for _, phrase := range phrases {
		for _, text := range lowered {
			if strings.Contains(text, phrase) {
				matched = append(matched, phrase)
				break
			}
		}
	}
	return matched
}

func hasRepeatedResponse(texts []string) bool {
	seen := make(map[string]struct{}, len(texts))
	for _, text := range texts {
		normalized := strings.ToLower(strings.TrimSpace(text))
		if _, ok := seen[normalized]; ok {
			return true
		}
		seen[normalized] = struct{}{}
	}
	return false
}

func meanLength(texts []string) float64 {
	total := 0
	for _, text := range texts {
		total += len(strings.TrimSpace(text))
	}
	return float64(total) / float64(len(texts))
}
