package assistant

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var embeddedTemplates []byte

var ErrDuplicateTemplate = errors.New("template id already exists")

// Template is a worked example for every application section.
type Template struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Category    string            `yaml:"category" json:"category"`
	Sections    map[string]string `yaml:"sections" json:"sections"`
	SuccessRate int               `yaml:"success_rate" json:"success_rate"`
	UsageCount  int               `yaml:"-" json:"usage_count"`
}

type ProfessionalTemplate struct {
	ID            string            `yaml:"id" json:"id"`
	Name          string            `yaml:"name" json:"name"`
	Description   string            `yaml:"description" json:"description"`
	Sections      map[string]string `yaml:"sections" json:"sections"`
	SuccessRate   int               `yaml:"success_rate" json:"success_rate"`
	BestPractices []string          `yaml:"best_practices" json:"best_practices"`
}

// Collection is the guidance bundle for one grant category.
type Collection struct {
	Templates         []ProfessionalTemplate `yaml:"templates" json:"templates"`
	WritingGuidelines []string               `yaml:"writing_guidelines" json:"writing_guidelines"`
	CommonMistakes    []string               `yaml:"common_mistakes" json:"common_mistakes"`
}

type templateFile struct {
	Templates   []Template            `yaml:"templates"`
	Collections map[string]Collection `yaml:"collections"`
	Defaults    Collection            `yaml:"defaults"`
}

// Templates is the in-memory template catalogue. Usage counts are not persisted.
type Templates struct {
	mu          sync.Mutex
	templates   []Template
	collections map[string]Collection
	defaults    Collection
}

// LoadTemplates parses the catalogue bundled with the binary.
func LoadTemplates() (*Templates, error) {
	return ParseTemplates(embeddedTemplates)
}

func ParseTemplates(data []byte) (*Templates, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	seen := make(map[string]bool)
	for _, t := range f.Templates {
		if t.ID == "" {
			return nil, fmt.Errorf("template %q has no id", t.Name)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTemplate, t.ID)
		}
		seen[t.ID] = true
	}
	if f.Collections == nil {
		f.Collections = make(map[string]Collection)
	}
	return &Templates{templates: f.Templates, collections: f.Collections, defaults: f.Defaults}, nil
}

var nonWordRe = regexp.MustCompile(`[^a-z0-9]+`)

// CategoryKey maps display categories ("Arts & Culture") onto catalogue keys ("arts_culture").
func CategoryKey(category string) string {
	return strings.Trim(nonWordRe.ReplaceAllString(strings.ToLower(category), "_"), "_")
}

func (t *Templates) All() []Template {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Template(nil), t.templates...)
}

func (t *Templates) ByCategory(category string) []Template {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := CategoryKey(category)
	var out []Template
	for _, tpl := range t.templates {
		if tpl.Category == key {
			out = append(out, tpl)
		}
	}
	return out
}

func (t *Templates) ByID(id string) (Template, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tpl := range t.templates {
		if tpl.ID == id {
			return tpl, true
		}
	}
	return Template{}, false
}

// Professional returns the collection for category, or the defaults when the
// category has none. found reports which.
func (t *Templates) Professional(category string) (c Collection, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if coll, ok := t.collections[CategoryKey(category)]; ok {
		return coll, true
	}
	return t.defaults, false
}

func (t *Templates) Add(tpl Template) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.templates {
		if existing.ID == tpl.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateTemplate, tpl.ID)
		}
	}
	tpl.Category = CategoryKey(tpl.Category)
	t.templates = append(t.templates, tpl)
	return nil
}

func (t *Templates) IncrementUsage(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.templates {
		if t.templates[i].ID == id {
			t.templates[i].UsageCount++
			return true
		}
	}
	return false
}

// Top returns up to limit templates by success rate, highest first.
func (t *Templates) Top(limit int) []Template {
	return t.sorted(limit, func(a, b Template) bool { return a.SuccessRate > b.SuccessRate })
}

// MostUsed returns up to limit templates by usage count, highest first.
func (t *Templates) MostUsed(limit int) []Template {
	return t.sorted(limit, func(a, b Template) bool { return a.UsageCount > b.UsageCount })
}

func (t *Templates) sorted(limit int, less func(a, b Template) bool) []Template {
	out := t.All()
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
