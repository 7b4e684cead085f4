package assistant

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/david/grant-desk/internal/ai"
	"github.com/david/grant-desk/internal/models"
)

const (
	historyLimit       = 10
	defaultWordLimit   = 500
	fallbackScore      = 50
	defaultTone        = "professional"
	measurableAddendum = "This project will engage 500+ community members and achieve 85% participant satisfaction."
	timelineAddendum   = "The project will be completed within 12 months with quarterly milestones."
)

// UsageRecorder receives one quality score per generated section.
type UsageRecorder interface {
	TrackAIWritingUsage(section string, quality int)
}

type WriterOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	TopP        float64
}

type Organization struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Mission        string   `json:"mission"`
	YearsOperating int      `json:"years_operating"`
	TeamExpertise  []string `json:"team_expertise"`
}

type Project struct {
	Title          string   `json:"title"`
	Objectives     []string `json:"objectives"`
	TargetAudience string   `json:"target_audience"`
	TimelineMonths int      `json:"timeline"`
	Budget         float64  `json:"budget"`
}

type ContentRequest struct {
	Section         string        `json:"section"`
	Grant           GrantContext  `json:"grant_context"`
	ExistingContent string        `json:"existing_content"`
	UserContext     string        `json:"user_context"`
	Tone            string        `json:"tone,omitempty"`
	Organization    *Organization `json:"organization,omitempty"`
	Project         *Project      `json:"project,omitempty"`
}

type ComplianceCheck struct {
	GrantAlignment int `json:"grant_alignment"`
	Completeness   int `json:"completeness"`
	Clarity        int `json:"clarity"`
	Persuasiveness int `json:"persuasiveness"`
}

type Response struct {
	Content             string          `json:"content"`
	WordCount           int             `json:"word_count"`
	QualityScore        int             `json:"quality_score"`
	Suggestions         []string        `json:"suggestions"`
	AlternativeVersions []string        `json:"alternative_versions"`
	ComplianceCheck     ComplianceCheck `json:"compliance_check"`
	Section             string          `json:"section"`
	Fallback            bool            `json:"fallback"`
	GeneratedAt         time.Time       `json:"generated_at"`
}

// Writer drafts application sections and scores what it wrote.
type Writer struct {
	llm       ai.ChatCompleter
	analyzer  *Analyzer
	templates *Templates
	usage     UsageRecorder
	opts      WriterOptions
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	history map[string][]Response
}

func NewWriter(llm ai.ChatCompleter, analyzer *Analyzer, templates *Templates, usage UsageRecorder, opts WriterOptions, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2000
	}
	if analyzer == nil {
		analyzer = NewAnalyzer(llm, AnalyzerOptions{Model: opts.Model}, logger)
	}
	return &Writer{
		llm:       llm,
		analyzer:  analyzer,
		templates: templates,
		usage:     usage,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		history:   make(map[string][]Response),
	}
}

// Generate never fails; any error yields the fallback response.
func (w *Writer) Generate(ctx context.Context, req ContentRequest) Response {
	resp, err := w.generate(ctx, req, "")
	if err != nil {
		w.logger.Error("content generation failed",
			zap.String("section", req.Section),
			zap.String("grant", req.Grant.Name),
			zap.Error(err))
		return w.fallback(req)
	}
	w.record(resp)
	return resp
}

// GenerateProfessional adds the category's writing guidelines and best
// practices to the prompt, then makes sure the draft carries a measurable
// objective and a timeline.
func (w *Writer) GenerateProfessional(ctx context.Context, req ContentRequest) Response {
	var coll Collection
	if w.templates != nil {
		coll, _ = w.templates.Professional(req.Grant.Category)
		for _, tpl := range coll.Templates {
			w.templates.IncrementUsage(tpl.ID)
		}
	}

	resp, err := w.generate(ctx, req, professionalStandards(coll))
	if err != nil {
		w.logger.Error("professional content generation failed",
			zap.String("section", req.Section),
			zap.String("category", req.Grant.Category),
			zap.Error(err))
		return w.fallback(req)
	}
	resp.Content = ApplyProfessionalEnhancements(resp.Content)
	resp.WordCount = models.WordCount(resp.Content)
	w.record(resp)
	return resp
}

func (w *Writer) generate(ctx context.Context, req ContentRequest, standards string) (Response, error) {
	if w.llm == nil {
		return Response{}, ai.ErrNoAPIKey
	}
	started := w.now()

	system := buildSystemPrompt(req)
	if standards != "" {
		system += "\n\n" + standards
	}
	out, err := w.llm.Complete(ctx, ai.ChatRequest{
		Model: w.opts.Model,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: system},
			{Role: ai.RoleUser, Content: buildUserPrompt(req)},
		},
		MaxTokens:   w.opts.MaxTokens,
		Temperature: w.opts.Temperature,
		TopP:        w.opts.TopP,
	})
	if err != nil {
		return Response{}, err
	}
	content := strings.TrimSpace(out)
	if content == "" {
		return Response{}, ai.ErrEmptyResponse
	}

	analysis := w.analyzer.Analyze(ctx, content, req.Grant)
	resp := Response{
		Content:             content,
		WordCount:           models.WordCount(content),
		QualityScore:        analysis.OverallScore,
		Suggestions:         analysis.Suggestions,
		AlternativeVersions: AlternativeVersions(content),
		ComplianceCheck: ComplianceCheck{
			GrantAlignment: analysis.GrantAlignment,
			Completeness:   analysis.Completeness,
			Clarity:        analysis.Clarity,
			Persuasiveness: analysis.Persuasiveness,
		},
		Section:     req.Section,
		GeneratedAt: w.now(),
	}
	w.logger.Info("grant content generated",
		zap.String("section", req.Section),
		zap.Int("word_count", resp.WordCount),
		zap.Int("quality_score", resp.QualityScore),
		zap.String("analysis", analysis.Method),
		zap.Duration("took", w.now().Sub(started)))
	return resp, nil
}

func (w *Writer) record(resp Response) {
	if w.usage != nil {
		w.usage.TrackAIWritingUsage(resp.Section, resp.QualityScore)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	h := append(w.history[resp.Section], resp)
	if len(h) > historyLimit {
		h = h[len(h)-historyLimit:]
	}
	w.history[resp.Section] = h
}

func (w *Writer) fallback(req ContentRequest) Response {
	content := fmt.Sprintf("This is a fallback response for the %s section. Please try again or contact support if the issue persists.", req.Section)
	return Response{
		Content:      content,
		WordCount:    models.WordCount(content),
		QualityScore: fallbackScore,
		Suggestions: []string{
			"Try regenerating the content",
			"Check your internet connection",
			"Verify API key configuration",
		},
		AlternativeVersions: []string{},
		ComplianceCheck: ComplianceCheck{
			GrantAlignment: fallbackScore,
			Completeness:   fallbackScore,
			Clarity:        fallbackScore,
			Persuasiveness: fallbackScore,
		},
		Section:     req.Section,
		Fallback:    true,
		GeneratedAt: w.now(),
	}
}

// History returns the recent responses for section, or for every section
// when section is empty.
func (w *Writer) History(section string) []Response {
	w.mu.Lock()
	defer w.mu.Unlock()
	if section != "" {
		return append([]Response(nil), w.history[section]...)
	}
	var out []Response
	for _, h := range w.history {
		out = append(out, h...)
	}
	return out
}

// ClearHistory drops one section's history, or all of it when section is empty.
func (w *Writer) ClearHistory(section string) {
	w.mu.Lock()
	if section == "" {
		w.history = make(map[string][]Response)
	} else {
		delete(w.history, section)
	}
	w.mu.Unlock()
	w.logger.Info("writing history cleared", zap.String("section", section))
}

var weWillRe = regexp.MustCompile(`We will`)

// AlternativeVersions rewrites the draft's commitments in three tones:
// compelling, technical and storytelling.
func AlternativeVersions(content string) []string {
	return []string{
		weWillRe.ReplaceAllString(content, "We are committed to"),
		weWillRe.ReplaceAllString(content, "The project will implement"),
		weWillRe.ReplaceAllString(content, "Through this initiative, we will"),
	}
}

var (
	enhanceMeasurableRe = regexp.MustCompile(`(?i)\d+%|\d+\s+(participants|people|students)`)
	enhanceTimelineRe   = regexp.MustCompile(`(?i)\d+\s+(months|weeks|days)`)
)

func ApplyProfessionalEnhancements(content string) string {
	if !enhanceMeasurableRe.MatchString(content) {
		content += "\n\n" + measurableAddendum
	}
	if !enhanceTimelineRe.MatchString(content) {
		content += "\n\n" + timelineAddendum
	}
	return content
}

func professionalStandards(c Collection) string {
	var b strings.Builder
	if len(c.WritingGuidelines) > 0 {
		b.WriteString("Writing guidelines:\n")
		for _, g := range c.WritingGuidelines {
			b.WriteString("- " + g + "\n")
		}
	}
	var practices []string
	for _, t := range c.Templates {
		practices = append(practices, t.BestPractices...)
	}
	if len(practices) > 0 {
		b.WriteString("Best practices:\n")
		for _, p := range practices {
			b.WriteString("- " + p + "\n")
		}
	}
	if len(c.CommonMistakes) > 0 {
		b.WriteString("Avoid these common mistakes:\n")
		for _, m := range c.CommonMistakes {
			b.WriteString("- " + m + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func buildSystemPrompt(req ContentRequest) string {
	tone := req.Tone
	if tone == "" {
		tone = defaultTone
	}
	focus := "Ensure alignment with grant requirements."
	title := req.Section
	limit := defaultWordLimit
	if s, err := models.ParseSection(req.Section); err == nil {
		focus = s.Focus()
		title = s.Title()
		limit = s.WordLimit()
	}

	var b strings.Builder
	fmt.Fprintf(&b, `You are an expert grant writer with 15+ years of experience writing successful grant applications. Your task is to generate high-quality, compelling content for grant applications.

Key Requirements:
- Write in a %s tone
- Target word count: %d words
- Focus on the %s section: %s
- Include specific, measurable objectives
- Demonstrate clear methodology and timeline
- Show community impact and sustainability

Grant Context:
- Title: %s
- Description: %s
- Amount: $%.0f
- Category: %s
`, tone, limit, title, focus, req.Grant.Name, req.Grant.Description, req.Grant.Amount, req.Grant.Category)

	if o := req.Organization; o != nil {
		fmt.Fprintf(&b, `
Organization Profile:
- Name: %s
- Type: %s
- Mission: %s
- Years Operating: %d
- Team Expertise: %s
`, o.Name, o.Type, o.Mission, o.YearsOperating, strings.Join(o.TeamExpertise, ", "))
	}
	if p := req.Project; p != nil {
		fmt.Fprintf(&b, `
Project Details:
- Title: %s
- Objectives: %s
- Target Audience: %s
- Timeline: %d months
- Budget: $%.0f
`, p.Title, strings.Join(p.Objectives, ", "), p.TargetAudience, p.TimelineMonths, p.Budget)
	}
	b.WriteString("\nWrite compelling, professional content that demonstrates expertise, shows clear methodology, and aligns with the grant requirements.")
	return b.String()
}

func buildUserPrompt(req ContentRequest) string {
	return fmt.Sprintf(`Please generate content for the %s section of our grant application.

Grant Context: %s
Existing Content: %s
User Context: %s

Generate professional, compelling content that builds upon the existing content and addresses the user's specific needs.`,
		req.Section, grantJSON(req.Grant), req.ExistingContent, req.UserContext)
}
