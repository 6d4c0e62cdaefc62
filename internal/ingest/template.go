// Package ingest loads notification templates from YAML files and NATS
// messages, embeds them and writes them into the vector index.
package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aiox-platform/notigen/internal/vectorindex"
)

// Template is one corpus entry as written in a template file.
type Template struct {
	ID                  string `yaml:"id" json:"id"`
	vectorindex.Payload `yaml:",inline"`
}

type templateFile struct {
	Templates []Template `yaml:"templates"`
}

// IsTemplateFile reports whether path has a YAML extension.
func IsTemplateFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFile reads the templates list from a YAML file.
func LoadFile(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	templates, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return templates, nil
}

// Parse decodes a YAML document with a top-level templates list and checks
// every entry.
func Parse(data []byte) ([]Template, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if err := Validate(f.Templates); err != nil {
		return nil, err
	}
	return f.Templates, nil
}

// Validate requires an id and content on every template and rejects
// repeated ids.
func Validate(templates []Template) error {
	seen := make(map[string]struct{}, len(templates))
	var errs []error
	for i, t := range templates {
		switch {
		case strings.TrimSpace(t.ID) == "":
			errs = append(errs, fmt.Errorf("template %d: id is required", i))
		case strings.TrimSpace(t.Content) == "":
			errs = append(errs, fmt.Errorf("template %q: content is required", t.ID))
		}
		if t.ID == "" {
			continue
		}
		if _, dup := seen[t.ID]; dup {
			errs = append(errs, fmt.Errorf("template %q: duplicate id", t.ID))
		}
		seen[t.ID] = struct{}{}
	}
	return errors.Join(errs...)
}
