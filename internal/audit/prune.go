package audit

import (
	"fmt"
	"os"
	"time"
)

// Prune removes journal files not modified within retention.
func Prune(dir string, retention time.Duration) (int, error) {
	files, err := journalFiles(dir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, file := range files {
		if !isOlderThan(file, cutoff) {
			continue
		}
		if err := os.Remove(file); err != nil {
			return removed, fmt.Errorf("remove %s: %w", file, err)
		}
		removed++
	}
	return removed, nil
}

func isOlderThan(path string, cutoff time.Time) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.ModTime().Before(cutoff)
}
