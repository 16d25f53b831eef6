package feeds

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed sources.yaml
var defaultSourcesYAML []byte

type sourceFile struct {
	Sources []Source `yaml:"sources"`
}

// DefaultSources returns the embedded feed list.
func DefaultSources() ([]Source, error) {
	return ParseSources(defaultSourcesYAML)
}

// ParseSources decodes a YAML source list and validates every entry.
func ParseSources(data []byte) ([]Source, error) {
	var f sourceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing sources: %w", err)
	}
	for i, s := range f.Sources {
		if s.URL == "" {
			return nil, fmt.Errorf("source %d: url is required", i)
		}
		if !s.Group.Valid() {
			return nil, fmt.Errorf("source %q: unknown group %q (valid: news, concept)", s.URL, s.Group)
		}
		if s.Name == "" {
			f.Sources[i].Name = s.URL
		}
	}
	return f.Sources, nil
}

// Registry is the static source configuration for a run.
type Registry struct {
	sources []Source
}

// NewRegistry creates a registry over sources.
func NewRegistry(sources []Source) *Registry {
	cp := make([]Source, len(sources))
	copy(cp, sources)
	return &Registry{sources: cp}
}

// Sources returns the sources of group g in configuration order.
func (r *Registry) Sources(g Group) []Source {
	var out []Source
	for _, s := range r.sources {
		if s.Group == g {
			out = append(out, s)
		}
	}
	return out
}

// All returns every source.
func (r *Registry) All() []Source {
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}
