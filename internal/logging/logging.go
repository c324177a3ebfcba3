// Package logging builds the process logger: a rotating file, optionally
// mirrored to stderr.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/config"
)

const flags = log.LstdFlags | log.Lmicroseconds

// New returns a logger writing to cfg.File through lumberjack, and the
// closer to call on shutdown
func New(cfg config.LogConfig) (*log.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, err
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}

	var w io.Writer = file
	if cfg.Stderr {
		w = io.MultiWriter(file, os.Stderr)
	}
	return log.New(w, "", flags), file, nil
}
