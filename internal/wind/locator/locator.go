package locator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultPattern is the serial logger's rotation naming convention.
const DefaultPattern = "serial_*_combined.log"

// ValidatePattern reports whether pattern is a usable glob with exactly one
// wildcard token and no directory component.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("pattern is empty")
	}
	if strings.ContainsAny(pattern, `/\`) {
		return fmt.Errorf("pattern %q must not contain a path separator", pattern)
	}
	if n := strings.Count(pattern, "*"); n != 1 {
		return fmt.Errorf("pattern %q must contain exactly one '*' (got %d)", pattern, n)
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return fmt.Errorf("pattern %q: %w", pattern, err)
	}
	return nil
}

// Latest returns the path of the most recently modified regular file in dir
// whose name matches pattern. It returns ok=false when nothing matches or the
// directory cannot be read; callers poll again later.
func Latest(dir, pattern string) (path string, ok bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	var (
		bestName string
		bestMod  time.Time
	)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if matched, _ := filepath.Match(pattern, name); !matched {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		mod := info.ModTime()
		if bestName == "" || mod.After(bestMod) || (mod.Equal(bestMod) && name > bestName) {
			bestName, bestMod = name, mod
		}
	}
	if bestName == "" {
		return "", false
	}
	return filepath.Join(dir, bestName), true
}
