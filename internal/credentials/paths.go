package credentials

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultClaudePath is where the Claude CLI keeps its OAuth credentials.
func DefaultClaudePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".claude", ".credentials.json")
}

// DefaultCodexPath is where the Codex CLI keeps its auth file.
func DefaultCodexPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".codex", "auth.json")
}

func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
