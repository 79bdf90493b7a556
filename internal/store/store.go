// Package store persists squidbot's conversational state under one base
// directory: the append-only JSONL history stream, the agent-curated memory
// document, the rolling conversation summary, the cron job list, and the
// consolidation cursor.
//
// Layout (frozen):
//
//	<base>/
//	  history.jsonl                 one JSON message per line, append-only
//	  history.meta.json             {"last_consolidated": int}
//	  memory/summary.md             auto-generated conversation summary
//	  workspace/MEMORY.md           agent-curated cross-session notes
//	  workspace/skills/...          user skills
//	  cron/jobs.json                array of cron job records
//	  sessions/<safe-id>.meta.json  legacy per-session cursor (read-only)
//
// Whole documents (MEMORY.md, summary.md, jobs.json, the cursor) are written
// atomically: temp file in the target directory, write, fsync, rename.
// History appends hold an exclusive advisory lock for the whole write;
// readers take a best-effort shared lock and continue unlocked on failure.
// Missing files read as empty state, and malformed history lines are
// skipped, never fatal.
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	historyFile  = "history.jsonl"
	metaFile     = "history.meta.json"
	summaryFile  = "summary.md"
	memoryDoc    = "MEMORY.md"
	cronJobsFile = "jobs.json"

	memoryDir    = "memory"
	workspaceDir = "workspace"
	skillsDir    = "skills"
	cronDir      = "cron"
	sessionsDir  = "sessions"
)

// Store is the persistent memory store rooted at one base directory. It is
// safe for concurrent use; whole-document writes are serialized in-process.
type Store struct {
	base   string
	logger *slog.Logger

	mu sync.Mutex // serializes whole-document writes in-process
}

// New creates the base directory layout and returns a store rooted there.
func New(base string, logger *slog.Logger) (*Store, error) {
	if base == "" {
		return nil, fmt.Errorf("store: base directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{
		base,
		filepath.Join(base, memoryDir),
		filepath.Join(base, workspaceDir),
		filepath.Join(base, workspaceDir, skillsDir),
		filepath.Join(base, cronDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", dir, err)
		}
	}
	return &Store{
		base:   base,
		logger: logger.With("component", "store"),
	}, nil
}

// BaseDir returns the base directory the store is rooted at.
func (s *Store) BaseDir() string { return s.base }

// WorkspaceDir returns the workspace directory (MEMORY.md, skills).
func (s *Store) WorkspaceDir() string { return filepath.Join(s.base, workspaceDir) }

// SkillsDir returns the user skills directory inside the workspace.
func (s *Store) SkillsDir() string { return filepath.Join(s.base, workspaceDir, skillsDir) }

func (s *Store) historyPath() string  { return filepath.Join(s.base, historyFile) }
func (s *Store) metaPath() string     { return filepath.Join(s.base, metaFile) }
func (s *Store) summaryPath() string  { return filepath.Join(s.base, memoryDir, summaryFile) }
func (s *Store) memoryPath() string   { return filepath.Join(s.base, workspaceDir, memoryDoc) }
func (s *Store) cronJobsPath() string { return filepath.Join(s.base, cronDir, cronJobsFile) }

// legacySessionMetaPath maps a session id to its pre-global cursor file,
// with ":" flattened to "__".
func (s *Store) legacySessionMetaPath(sessionID string) string {
	safe := strings.ReplaceAll(sessionID, ":", "__")
	return filepath.Join(s.base, sessionsDir, safe+".meta.json")
}

// readOptional returns the file contents, or "" when the file is missing.
func readOptional(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
