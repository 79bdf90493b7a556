package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSkill(t *testing.T, root, dir, content string) string {
	t.Helper()
	skillDir := filepath.Join(root, dir)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(skillDir, SkillFilename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseSkillFile(t *testing.T) {
	t.Run("full frontmatter", func(t *testing.T) {
		root := t.TempDir()
		path := writeSkill(t, root, "github", `---
name: github
description: Work with GitHub issues and pull requests.
always: true
requires:
  bins: [gh]
---

# GitHub

Use the gh CLI for all GitHub operations.`)

		meta, body, err := parseSkillFile(path)
		if err != nil {
			t.Fatalf("parseSkillFile() error = %v", err)
		}
		if meta.Name != "github" {
			t.Errorf("Name = %q, want github", meta.Name)
		}
		if meta.Description != "Work with GitHub issues and pull requests." {
			t.Errorf("Description = %q", meta.Description)
		}
		if !meta.Always {
			t.Error("Always = false, want true")
		}
		bins, ok := meta.Requires["bins"].([]any)
		if !ok || len(bins) != 1 || bins[0] != "gh" {
			t.Errorf("Requires = %v, want bins [gh]", meta.Requires)
		}
		if body != "# GitHub\n\nUse the gh CLI for all GitHub operations." {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("no frontmatter falls back to directory name", func(t *testing.T) {
		root := t.TempDir()
		path := writeSkill(t, root, "weather", "# Weather\n\nCheck wttr.in.")

		meta, body, err := parseSkillFile(path)
		if err != nil {
			t.Fatalf("parseSkillFile() error = %v", err)
		}
		if meta.Name != "weather" {
			t.Errorf("Name = %q, want weather", meta.Name)
		}
		if meta.Always {
			t.Error("Always = true, want false")
		}
		if body != "# Weather\n\nCheck wttr.in." {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("unclosed frontmatter is all body", func(t *testing.T) {
		root := t.TempDir()
		path := writeSkill(t, root, "broken", "---\nname: broken\nno closing delimiter")

		meta, body, err := parseSkillFile(path)
		if err != nil {
			t.Fatalf("parseSkillFile() error = %v", err)
		}
		if meta.Name != "broken" {
			t.Errorf("Name = %q, want directory fallback broken", meta.Name)
		}
		if body == "" {
			t.Error("body should carry the unclosed content")
		}
	})
}
