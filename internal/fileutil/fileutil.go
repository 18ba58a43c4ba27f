// Package fileutil stores cover uploads and writes result files.
package fileutil

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FileExists reports whether a regular file exists at path.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// WriteJSONFile writes data as indented JSON, creating parent directories.
// An existing file is left alone unless overwrite is set; the bool reports
// whether the file was written.
func WriteJSONFile(data any, path string, overwrite bool) (bool, error) {
	if FileExists(path) && !overwrite {
		slog.Info("JSON file already exists, skipping", "path", path)
		return false, nil
	}

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return false, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, append(encoded, '\n'), 0o644); err != nil {
		return false, fmt.Errorf("failed to write JSON file: %w", err)
	}
	slog.Debug("Wrote JSON file", "path", path, "overwrite", overwrite)
	return true, nil
}
