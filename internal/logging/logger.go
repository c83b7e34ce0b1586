// v1
// internal/logging/logger.go
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
)

// InitLogger sets up slog to write to both stdout and a file under LOG_DIR.
// Stdlib log output is redirected to the same writer.
func InitLogger() (*slog.Logger, *os.File) {
	logDir := os.Getenv("LOG_DIR")
	if logDir == "" {
		logDir = "./logs"
	}
	_ = os.MkdirAll(logDir, 0o755)
	fp := filepath.Join(logDir, "sleeptracker.log")
	f, err := os.OpenFile(fp, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		lg := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
		lg.Error("log file open failed; using stdout only", "error", err)
		return lg, os.Stdout
	}
	mw := io.MultiWriter(f, os.Stdout)
	lg := slog.New(slog.NewTextHandler(mw, &slog.HandlerOptions{}))
	log.SetOutput(mw)
	return lg, f
}
