package assistant

import (
	"math"
	"regexp"
	"strings"
)

type Quality struct {
	WordCount               int     `json:"word_count"`
	ReadabilityScore        float64 `json:"readability_score"`
	HasMeasurableObjectives bool    `json:"has_measurable_objectives"`
	HasTimeline             bool    `json:"has_timeline"`
	HasBudget               bool    `json:"has_budget"`
}

var (
	measurableRe = regexp.MustCompile(`(?i)\d+\s*%|\d+\+?\s+(participants|people|students|audience)`)
	timelineRe   = regexp.MustCompile(`(?i)\d+\s+(months?|weeks?|days?|years?)`)
	budgetRe     = regexp.MustCompile(`(?i)\$\s?\d|\d+\s+(dollars|aud)`)
	sentenceRe   = regexp.MustCompile(`[.!?]+`)
	lettersRe    = regexp.MustCompile(`[^a-z]`)
)

// QuickQualityCheck is a local, model-free check of a draft.
func QuickQualityCheck(content string) Quality {
	return Quality{
		WordCount:               len(strings.Fields(content)),
		ReadabilityScore:        Readability(content),
		HasMeasurableObjectives: measurableRe.MatchString(content),
		HasTimeline:             timelineRe.MatchString(content),
		HasBudget:               budgetRe.MatchString(content),
	}
}

// Readability approximates Flesch reading ease, counting 0.4 syllables per
// letter, clamped to 0..100.
func Readability(content string) float64 {
	words := len(strings.Fields(content))
	if words == 0 {
		return 0
	}
	sentences := 0
	for _, s := range sentenceRe.Split(content, -1) {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}
	if sentences == 0 {
		sentences = 1
	}
	syllables := float64(len(lettersRe.ReplaceAllString(strings.ToLower(content), ""))) * 0.4

	score := 206.835 - 1.015*(float64(words)/float64(sentences)) - 84.6*(syllables/float64(words))
	score = math.Max(0, math.Min(100, score))
	return math.Round(score*10) / 10
}
