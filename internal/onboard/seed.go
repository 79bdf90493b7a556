package onboard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SeedFile is one file placed under the base directory on first run.
// Name is relative to the base and may contain subdirectories.
type SeedFile struct {
	Name    string
	Content string
}

// SeedResult captures the files created or skipped.
type SeedResult struct {
	Created []string
	Skipped []string
}

// DefaultSeedFiles returns the starter files for a fresh base
// directory.
func DefaultSeedFiles() []SeedFile {
	return []SeedFile{
		{
			Name: filepath.Join("workspace", "MEMORY.md"),
			Content: "# Memory\n\n" +
				"Durable facts, preferences, and decisions live here. The\n" +
				"assistant rewrites this file through its memory tool; hand\n" +
				"edits are picked up on the next run.\n",
		},
		{
			Name: filepath.Join("workspace", "skills", "README.md"),
			Content: "# Skills\n\n" +
				"Each subdirectory holding a SKILL.md becomes a skill. The\n" +
				"frontmatter names and describes it; the body is added to the\n" +
				"system prompt when the skill loads.\n",
		},
	}
}

// EnsureLayout creates the base directory tree and seeds the given
// files, skipping any that already exist unless overwrite is set.
func EnsureLayout(base string, files []SeedFile, overwrite bool) (SeedResult, error) {
	result := SeedResult{}
	base = strings.TrimSpace(base)
	if base == "" {
		base = "."
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return result, fmt.Errorf("create base dir: %w", err)
	}

	for _, file := range files {
		name := strings.TrimSpace(file.Name)
		if name == "" {
			continue
		}
		path := filepath.Join(base, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return result, fmt.Errorf("create dir for %s: %w", name, err)
		}
		if !overwrite {
			if _, err := os.Stat(path); err == nil {
				result.Skipped = append(result.Skipped, path)
				continue
			} else if !os.IsNotExist(err) {
				return result, fmt.Errorf("stat %s: %w", path, err)
			}
		}
		if err := os.WriteFile(path, []byte(file.Content), 0o644); err != nil {
			return result, fmt.Errorf("write %s: %w", path, err)
		}
		result.Created = append(result.Created, path)
	}

	return result, nil
}
