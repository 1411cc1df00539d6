package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

const stateDirName = ".clawdia"

func ExpandHomePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return filepath.Clean(p)
		}
		if p == "~" {
			return filepath.Clean(home)
		}
		return filepath.Clean(filepath.Join(home, strings.TrimPrefix(p, "~/")))
	}
	return filepath.Clean(p)
}

// StatePath returns p expanded, or name under the per-user state dir when p
// is blank. It returns "" when no home directory is available.
func StatePath(p string, name string) string {
	if strings.TrimSpace(p) != "" {
		return ExpandHomePath(p)
	}
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ""
	}
	return filepath.Join(home, stateDirName, name)
}
