package sources

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed sources.yaml
var defaultSourcesYAML []byte

//go:embed catalog.yaml
var defaultCatalogYAML []byte

const (
	StrategyCatalog   = "catalog"
	StrategyHTML      = "html"
	StrategyWordPress = "wordpress"
)

var ErrInvalidRegistry = errors.New("invalid source registry")

// Registry holds the configuration for all external sources.
type Registry struct {
	Sources []SourceConfig `yaml:"sources"`
}

// SourceConfig defines a single external grant source.
type SourceConfig struct {
	ID             string           `yaml:"id"`
	Name           string           `yaml:"name"`
	BaseURL        string           `yaml:"base_url"`
	ListingPath    string           `yaml:"listing_path,omitempty"`
	Organization   string           `yaml:"organization,omitempty"`
	Category       string           `yaml:"category,omitempty"`
	Strategy       string           `yaml:"strategy"`
	Enabled        bool             `yaml:"enabled"`
	MaxPages       int              `yaml:"max_pages,omitempty"`
	TimeoutSeconds int              `yaml:"timeout_seconds,omitempty"`
	Selectors      SelectorConfig   `yaml:"selectors,omitempty"`
	Pagination     PaginationConfig `yaml:"pagination,omitempty"`
	Detail         DetailConfig     `yaml:"detail,omitempty"`
}

type SelectorConfig struct {
	Container string `yaml:"container,omitempty"` // list item wrapper
	Title     string `yaml:"title,omitempty"`
	Link      string `yaml:"link,omitempty"`
	LinkAttr  string `yaml:"link_attr,omitempty"` // default: href
	Content   string `yaml:"content,omitempty"`
	Deadline  string `yaml:"deadline,omitempty"`
}

type PaginationConfig struct {
	Next string `yaml:"next,omitempty"`
}

type DetailConfig struct {
	Enabled   bool                 `yaml:"enabled"`
	Selectors DetailSelectorConfig `yaml:"selectors,omitempty"`
}

type DetailSelectorConfig struct {
	Container    string `yaml:"container,omitempty"`
	Description  string `yaml:"description,omitempty"`
	Deadline     string `yaml:"deadline,omitempty"`
	Amount       string `yaml:"amount,omitempty"`
	Eligibility  string `yaml:"eligibility,omitempty"`
	Requirements string `yaml:"requirements,omitempty"`
	Contact      string `yaml:"contact,omitempty"`
}

// LoadRegistry reads the source registry from path, or the embedded
// sources.yaml when path is empty. ${VAR} references are expanded.
func LoadRegistry(path string) (*Registry, error) {
	data := defaultSourcesYAML
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read source registry: %w", err)
		}
	}
	return ParseRegistry(data)
}

func ParseRegistry(data []byte) (*Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &reg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRegistry, err)
	}
	if err := reg.validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *Registry) validate() error {
	seen := make(map[string]bool, len(r.Sources))
	for i, s := range r.Sources {
		switch {
		case s.ID == "":
			return fmt.Errorf("%w: source %d has no id", ErrInvalidRegistry, i)
		case seen[s.ID]:
			return fmt.Errorf("%w: duplicate source id %q", ErrInvalidRegistry, s.ID)
		case s.BaseURL == "":
			return fmt.Errorf("%w: source %q has no base_url", ErrInvalidRegistry, s.ID)
		}
		switch s.Strategy {
		case StrategyCatalog, StrategyWordPress:
		case StrategyHTML:
			if s.Selectors.Container == "" {
				return fmt.Errorf("%w: html source %q needs selectors.container", ErrInvalidRegistry, s.ID)
			}
		default:
			return fmt.Errorf("%w: source %q has unknown strategy %q", ErrInvalidRegistry, s.ID, s.Strategy)
		}
		seen[s.ID] = true
	}
	return nil
}
