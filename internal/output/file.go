// Package output persists completed reports.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"orgpulse/internal/report"
)

// WriteReport writes rep as indented JSON to <dir>/data_<org>.json,
// creating the directory if needed, and returns the written path.
func WriteReport(dir, org string, rep *report.Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("output: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("data_%s.json", org))

	raw, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("output: encode report for %s: %w", org, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("output: write %s: %w", path, err)
	}
	return path, nil
}
