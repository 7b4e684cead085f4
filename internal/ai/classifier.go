package ai

import (
	"context"
	"fmt"
	"strings"
)

// Categories is the closed set of grant categories a listing can be tagged with.
var Categories = []string{
	"Arts & Culture",
	"Documentary",
	"Film & Television",
	"Games & Interactive",
	"Community Development",
	"Regional Arts",
	"Music",
	"Writing & Publishing",
}

type ClassificationResult struct {
	Category string `json:"category"`
	Status   string `json:"status"`
}

var classificationSchema = &Schema{
	Name: "grant_classification",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"category": map[string]any{"type": "string", "enum": Categories},
			"status":   map[string]any{"type": "string", "enum": []string{"open", "closed", "planning"}},
		},
		"required":             []string{"category", "status"},
		"additionalProperties": false,
	},
}

// ClassifyGrant tags a scraped listing with one category and the status its
// text states. Unknown categories come back empty; unknown statuses as "open".
func ClassifyGrant(ctx context.Context, llm ChatCompleter, model, title, summary string) (*ClassificationResult, error) {
	prompt := fmt.Sprintf(`Classify the following funding opportunity.

GRANT TITLE: %s
GRANT SUMMARY: %s

Pick exactly one category from this list. Do not invent new ones.
AVAILABLE CATEGORIES: %s

Status rules:
- "closed" if the text says closed, expired, or no longer accepting applications.
- "planning" if it says coming soon, opens later, or anticipated.
- otherwise "open".

Return a JSON object: {"category": "...", "status": "open" | "closed" | "planning"}`,
		title, summary, strings.Join(Categories, ", "))

	resp, err := llm.Complete(ctx, ChatRequest{
		Model:       model,
		Messages:    []Message{{Role: RoleSystem, Content: "You are an expert grant classifier. Respond only with JSON."}, {Role: RoleUser, Content: prompt}},
		MaxTokens:   200,
		Temperature: 0,
		Schema:      classificationSchema,
	})
	if err != nil {
		return nil, err
	}

	var result ClassificationResult
	if err := DecodeJSON(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to parse classification json: %w", err)
	}

	result.Category = canonical(result.Category, Categories)
	switch strings.ToLower(strings.TrimSpace(result.Status)) {
	case "closed", "expired", "archived":
		result.Status = "closed"
	case "planning", "forthcoming", "upcoming":
		result.Status = "planning"
	default:
		result.Status = "open"
	}
	return &result, nil
}

func canonical(tag string, allowed []string) string {
	tag = strings.TrimSpace(tag)
	for _, a := range allowed {
		if strings.EqualFold(a, tag) {
			return a
		}
	}
	return ""
}
