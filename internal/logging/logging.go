// Package logging wires the relay's slog and zerolog outputs.
package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// LogFilePath names the log file for a run started at sessionStart.
func LogFilePath(logsDir, prefix string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", prefix, sessionStart.Format("20060102_150405")),
	)
}
