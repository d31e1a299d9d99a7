// Package prompts loads versioned prompt templates from disk and keeps their
// registration state in the store. A template's identity is the SHA-256 of its
// body bytes; frontmatter metadata never influences the hash, so cosmetic
// metadata edits do not invalidate pipeline outputs.
package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"dublaj/internal/hashing"
	"dublaj/internal/services"
)

// Metadata is the YAML frontmatter block of a template file.
type Metadata struct {
	Name        string  `yaml:"name"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Description string  `yaml:"description"`
	Author      string  `yaml:"author"`
	Notes       string  `yaml:"notes"`
}

// Template is a parsed prompt template: metadata plus the body the model sees.
type Template struct {
	Name        string
	Path        string
	Meta        Metadata
	Body        string
	ContentHash string
}

var templateExtensions = []string{".md", ".txt"}

// LoadTemplate reads and parses the template for name from dir.
func LoadTemplate(dir, name string) (*Template, error) {
	var path string
	for _, ext := range templateExtensions {
		candidate := filepath.Join(dir, name+ext)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			path = candidate
			break
		}
	}
	if path == "" {
		return nil, services.Wrap(services.ErrNotFound, "", "load template", fmt.Sprintf("no template file for %q in %s", name, dir), nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrIO, "", "load template", fmt.Sprintf("read %s", path), err)
	}
	return ParseTemplate(name, path, data)
}

// ParseTemplate splits an optional frontmatter block from the body and hashes
// the body bytes.
func ParseTemplate(name, path string, data []byte) (*Template, error) {
	frontmatter, body := splitFrontmatter(string(data))

	tmpl := &Template{
		Name:        name,
		Path:        path,
		Body:        body,
		ContentHash: hashing.HashString(body),
	}
	if frontmatter != "" {
		if err := yaml.Unmarshal([]byte(frontmatter), &tmpl.Meta); err != nil {
			return nil, services.Wrap(services.ErrValidation, "", "load template", fmt.Sprintf("malformed frontmatter in %s", path), err)
		}
	}
	if tmpl.Meta.Name == "" {
		tmpl.Meta.Name = name
	}
	return tmpl, nil
}

// splitFrontmatter returns (frontmatter, body). A frontmatter block exists only
// when the very first line is "---" and a line that is exactly "---" follows;
// lines that merely start with dashes ("----", "---notes") do not close it.
func splitFrontmatter(content string) (string, string) {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return "", content
	}
	rest := normalized[len("---\n"):]
	for offset := 0; offset < len(rest); {
		end := strings.IndexByte(rest[offset:], '\n')
		line := rest[offset:]
		if end >= 0 {
			line = rest[offset : offset+end]
		}
		if line == "---" {
			frontmatter := strings.TrimSuffix(rest[:offset], "\n")
			if end < 0 {
				return frontmatter, ""
			}
			return frontmatter, rest[offset+end+1:]
		}
		if end < 0 {
			break
		}
		offset += end + 1
	}
	return "", content
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Render substitutes {{ variable }} placeholders in the template body. Missing
// variables substitute as the empty string; unused variables are ignored.
func (t *Template) Render(variables map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(t.Body, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		return variables[key]
	})
}
