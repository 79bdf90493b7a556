// Package skills discovers SKILL.md documents and serves their metadata
// and bodies to the agent with short-lived caching.
//
// A skill is one directory containing a SKILL.md file with optional YAML
// front-matter. Search directories are ordered; a skill in a later
// directory shadows an earlier one with the same name, so user skills
// override bundled ones.
package skills

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SkillFilename is the file that marks a directory as a skill.
const SkillFilename = "SKILL.md"

const frontmatterDelimiter = "---"

// Metadata describes one discovered skill.
type Metadata struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Always      bool           `yaml:"always"`
	Requires    map[string]any `yaml:"requires"`

	// Path is the skill directory the metadata was read from.
	Path string `yaml:"-"`
}

// parseSkillFile reads a SKILL.md and returns its metadata and body. A file
// without front-matter is a valid skill named after its directory.
func parseSkillFile(path string) (Metadata, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, "", fmt.Errorf("read skill: %w", err)
	}

	front, body := splitFrontmatter(data)

	var meta Metadata
	if len(front) > 0 {
		if err := yaml.Unmarshal(front, &meta); err != nil {
			return Metadata{}, "", fmt.Errorf("parse frontmatter: %w", err)
		}
	}
	meta.Path = filepath.Dir(path)
	if meta.Name == "" {
		meta.Name = filepath.Base(meta.Path)
	}
	return meta, strings.TrimSpace(string(body)), nil
}

// splitFrontmatter separates "---"-delimited YAML front-matter from the
// markdown body. Content without a leading delimiter, or without a closing
// one, is all body.
func splitFrontmatter(data []byte) ([]byte, []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, data
	}

	var frontLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			closed = true
			break
		}
		frontLines = append(frontLines, line)
	}
	if !closed {
		return nil, data
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}

	front := []byte(strings.Join(frontLines, "\n"))
	body := []byte(strings.Join(bodyLines, "\n"))
	return front, body
}
