package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	logFilePrefix = "multichat-"
	logFileSuffix = ".log"

	// DefaultLogMaxFiles is how many log files LOG_DIR keeps when LOG_MAX_FILES is unset
	DefaultLogMaxFiles = 10
)

// SetupLogFile opens a fresh timestamped log file in dir and prunes the
// oldest files so at most maxFiles remain. The caller closes the file.
func SetupLogFile(dir string, maxFiles int) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	name := logFilePrefix + time.Now().UTC().Format("2006-01-02T15-04-05") + logFileSuffix
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}

	// Pruning is best effort; the new file is already usable
	if err := pruneLogFiles(dir, maxFiles); err != nil {
		fmt.Fprintf(os.Stderr, "warning: prune log files: %v\n", err)
	}
	return f, nil
}

// pruneLogFiles deletes the oldest server log files beyond maxFiles.
// Timestamped names sort chronologically.
func pruneLogFiles(dir string, maxFiles int) error {
	if maxFiles < 1 {
		maxFiles = 1
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var logs []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, logFilePrefix) && strings.HasSuffix(name, logFileSuffix) {
			logs = append(logs, name)
		}
	}
	if len(logs) <= maxFiles {
		return nil
	}

	sort.Strings(logs)
	for _, name := range logs[:len(logs)-maxFiles] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}
