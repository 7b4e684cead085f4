package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/david/grant-desk/internal/ai"
)

// DefaultScore stands in for any score the model did not give us.
const DefaultScore = 70

const (
	MethodStructured = "structured"
	MethodText       = "text"
	MethodDefault    = "default"
)

const unparsedFeedback = "The reviewer response could not be read, so neutral default scores were used."

// GrantContext is what the assistant knows about the grant being written for.
type GrantContext struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Category     string   `json:"category"`
	Amount       float64  `json:"amount"`
	Requirements []string `json:"requirements"`
	Eligibility  []string `json:"eligibility"`
}

type Analysis struct {
	GrantAlignment   int      `json:"grant_alignment"`
	Completeness     int      `json:"completeness"`
	Clarity          int      `json:"clarity"`
	Persuasiveness   int      `json:"persuasiveness"`
	OverallScore     int      `json:"overall_score"`
	Feedback         []string `json:"feedback"`
	Suggestions      []string `json:"improvement_suggestions"`
	ComplianceIssues []string `json:"compliance_issues"`
	Method           string   `json:"method"`
}

func (a *Analysis) computeOverall() {
	sum := a.GrantAlignment + a.Completeness + a.Clarity + a.Persuasiveness
	a.OverallScore = int(math.Round(float64(sum) / 4))
}

// DefaultAnalysis is returned when the model could not be reached at all.
func DefaultAnalysis() Analysis {
	a := Analysis{
		GrantAlignment:   DefaultScore,
		Completeness:     DefaultScore,
		Clarity:          DefaultScore,
		Persuasiveness:   DefaultScore,
		Feedback:         []string{"Unable to analyze content at this time"},
		Suggestions:      []string{"Consider adding more specific details and measurable outcomes"},
		ComplianceIssues: []string{"Unable to check compliance at this time"},
		Method:           MethodDefault,
	}
	a.computeOverall()
	return a
}

var (
	alignmentRe      = regexp.MustCompile(`(?i)grant\s+alignment[*\s]*:[*\s]*\[?(\d+)`)
	completenessRe   = regexp.MustCompile(`(?i)completeness[*\s]*:[*\s]*\[?(\d+)`)
	clarityRe        = regexp.MustCompile(`(?i)clarity[*\s]*:[*\s]*\[?(\d+)`)
	persuasivenessRe = regexp.MustCompile(`(?i)persuasiveness[*\s]*:[*\s]*\[?(\d+)`)

	feedbackHeadRe   = regexp.MustCompile(`(?i)feedback\s*:`)
	suggestionHeadRe = regexp.MustCompile(`(?i)suggestions\s*:`)
	complianceHeadRe = regexp.MustCompile(`(?i)compliance\s*:`)

	bulletRe = regexp.MustCompile(`^\s*(?:[-•*]|\d+[.)])\s*`)
)

// ParseAnalysisText reads the SCORES/FEEDBACK/SUGGESTIONS/COMPLIANCE reply
// format. It never fails: missing scores become DefaultScore, scores are
// clamped to 0..100, and a reply with no recognisable score at all yields
// the default scores with a single explanatory feedback item.
func ParseAnalysisText(s string) Analysis {
	a := Analysis{Method: MethodText}

	found := 0
	score := func(re *regexp.Regexp) int {
		m := re.FindStringSubmatch(s)
		if m == nil {
			return DefaultScore
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return DefaultScore
		}
		found++
		return clamp(n)
	}
	a.GrantAlignment = score(alignmentRe)
	a.Completeness = score(completenessRe)
	a.Clarity = score(clarityRe)
	a.Persuasiveness = score(persuasivenessRe)
	a.computeOverall()

	if found == 0 {
		a.Feedback = []string{unparsedFeedback}
		a.Suggestions = []string{}
		a.ComplianceIssues = []string{}
		return a
	}

	a.Feedback = bulletSection(s, feedbackHeadRe, suggestionHeadRe, complianceHeadRe)
	a.Suggestions = bulletSection(s, suggestionHeadRe, complianceHeadRe)
	a.ComplianceIssues = bulletSection(s, complianceHeadRe)
	if len(a.Feedback) == 0 {
		a.Feedback = []string{"No specific feedback was returned."}
	}
	return a
}

// bulletSection returns the bullet lines after head and before the first of
// the stop headings that follows it.
func bulletSection(s string, head *regexp.Regexp, stops ...*regexp.Regexp) []string {
	out := []string{}
	loc := head.FindStringIndex(s)
	if loc == nil {
		return out
	}
	body := s[loc[1]:]
	end := len(body)
	for _, stop := range stops {
		if l := stop.FindStringIndex(body); l != nil && l[0] < end {
			end = l[0]
		}
	}
	for _, line := range strings.Split(body[:end], "\n") {
		if !bulletRe.MatchString(line) {
			continue
		}
		item := strings.TrimSpace(bulletRe.ReplaceAllString(line, ""))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

var analysisSchema = &ai.Schema{
	Name: "grant_content_analysis",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"grant_alignment":         map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
			"completeness":            map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
			"clarity":                 map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
			"persuasiveness":          map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
			"feedback":                map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"improvement_suggestions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"compliance_issues":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{
			"grant_alignment", "completeness", "clarity", "persuasiveness",
			"feedback", "improvement_suggestions", "compliance_issues",
		},
		"additionalProperties": false,
	},
}

type structuredAnalysis struct {
	GrantAlignment   *int     `json:"grant_alignment"`
	Completeness     *int     `json:"completeness"`
	Clarity          *int     `json:"clarity"`
	Persuasiveness   *int     `json:"persuasiveness"`
	Feedback         []string `json:"feedback"`
	Suggestions      []string `json:"improvement_suggestions"`
	ComplianceIssues []string `json:"compliance_issues"`
}

// parseStructured accepts a reply only when all four scores are present and
// within range.
func parseStructured(resp string) (Analysis, error) {
	var sa structuredAnalysis
	if err := ai.DecodeJSON(resp, &sa); err != nil {
		return Analysis{}, err
	}
	scores := []*int{sa.GrantAlignment, sa.Completeness, sa.Clarity, sa.Persuasiveness}
	for i, p := range scores {
		if p == nil {
			return Analysis{}, fmt.Errorf("score %d missing", i)
		}
		if *p < 0 || *p > 100 {
			return Analysis{}, fmt.Errorf("score %d out of range: %d", i, *p)
		}
	}
	a := Analysis{
		GrantAlignment:   *sa.GrantAlignment,
		Completeness:     *sa.Completeness,
		Clarity:          *sa.Clarity,
		Persuasiveness:   *sa.Persuasiveness,
		Feedback:         nonNil(sa.Feedback),
		Suggestions:      nonNil(sa.Suggestions),
		ComplianceIssues: nonNil(sa.ComplianceIssues),
		Method:           MethodStructured,
	}
	a.computeOverall()
	return a, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type AnalyzerOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Analyzer scores application content with a language model.
type Analyzer struct {
	llm    ai.ChatCompleter
	opts   AnalyzerOptions
	logger *zap.Logger
}

func NewAnalyzer(llm ai.ChatCompleter, opts AnalyzerOptions, logger *zap.Logger) *Analyzer {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{llm: llm, opts: opts, logger: logger}
}

// Analyze never fails. It asks for a schema-shaped reply first, then for the
// plain text format, and falls back to DefaultAnalysis when the model is
// unreachable.
func (a *Analyzer) Analyze(ctx context.Context, content string, grant GrantContext) Analysis {
	if a.llm == nil {
		return DefaultAnalysis()
	}

	req := ai.ChatRequest{
		Model: a.opts.Model,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: analysisSystemPrompt},
			{Role: ai.RoleUser, Content: structuredUserPrompt(content, grant)},
		},
		MaxTokens:   a.opts.MaxTokens,
		Temperature: a.opts.Temperature,
		Schema:      analysisSchema,
	}
	resp, err := a.llm.Complete(ctx, req)
	if err == nil {
		parsed, perr := parseStructured(resp)
		if perr == nil {
			return parsed
		}
		a.logger.Info("structured analysis rejected, retrying as text", zap.Error(perr))
	} else {
		a.logger.Warn("structured analysis request failed, retrying as text", zap.Error(err))
	}

	req.Schema = nil
	req.Messages[1].Content = textUserPrompt(content, grant)
	resp, err = a.llm.Complete(ctx, req)
	if err != nil {
		a.logger.Error("content analysis failed", zap.Int("content_length", len(content)), zap.Error(err))
		return DefaultAnalysis()
	}
	return ParseAnalysisText(resp)
}

const analysisSystemPrompt = `You are an expert grant reviewer with 20+ years of experience evaluating grant applications. Analyze the provided content for:

1. Grant Alignment (0-100): How well the content aligns with grant requirements
2. Completeness (0-100): Whether all required elements are addressed
3. Clarity (0-100): How clear and understandable the writing is
4. Persuasiveness (0-100): How compelling and convincing the content is

Provide specific, actionable feedback and improvement suggestions.`

func grantJSON(g GrantContext) string {
	raw, err := json.Marshal(g)
	if err != nil {
		return g.Name
	}
	return string(raw)
}

func structuredUserPrompt(content string, g GrantContext) string {
	return fmt.Sprintf(`Grant Requirements: %s

Content to Analyze: %s

Reply with a JSON object containing integer scores grant_alignment, completeness, clarity and persuasiveness (each 0-100) and string arrays feedback, improvement_suggestions and compliance_issues.`, grantJSON(g), content)
}

func textUserPrompt(content string, g GrantContext) string {
	return fmt.Sprintf(`Grant Requirements: %s

Content to Analyze: %s

Please provide a detailed analysis with scores and specific feedback in the following format:

SCORES:
- Grant Alignment: [score]
- Completeness: [score]
- Clarity: [score]
- Persuasiveness: [score]

FEEDBACK:
- [specific feedback points]

SUGGESTIONS:
- [improvement suggestions]

COMPLIANCE:
- [compliance issues]`, grantJSON(g), content)
}
