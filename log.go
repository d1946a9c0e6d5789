package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/vrct-tts/connector/internal/utils"
	"golang.org/x/term"
)

// logConfig is read from the environment before the config file is
// located, so messages about the config file honor it.
type logConfig struct {
	Level  string `env:"VRCT_TTS_LOG_LEVEL" envDefault:"info"`
	File   string `env:"VRCT_TTS_LOG_FILE"`
	Format string `env:"VRCT_TTS_LOG_FORMAT"`
}

func setupLog() (func() error, error) {
	cfg, err := env.ParseAs[logConfig]()
	if err != nil {
		return nil, fmt.Errorf("error parsing log config: %w", err)
	}

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid VRCT_TTS_LOG_LEVEL: %w", err)
	}
	log.SetLevel(level)

	closer := func() error { return nil }
	toFile := cfg.File != ""
	if toFile {
		path := utils.ExpandPath(cfg.File)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec
			return nil, fmt.Errorf("unable to create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
		if err != nil {
			return nil, fmt.Errorf("unable to open log file: %w", err)
		}
		log.SetOutput(f)
		log.SetReportTimestamp(true)
		log.SetTimeFormat(time.RFC3339)
		closer = f.Close
	}

	switch strings.ToLower(cfg.Format) {
	case "json":
		log.SetFormatter(log.JSONFormatter)
	case "logfmt":
		log.SetFormatter(log.LogfmtFormatter)
	case "text":
		log.SetFormatter(log.TextFormatter)
	case "":
		if !toFile && !term.IsTerminal(int(os.Stderr.Fd())) {
			log.SetFormatter(log.JSONFormatter)
			log.SetReportTimestamp(true)
		}
	default:
		_ = closer()
		return nil, fmt.Errorf("unknown log format %q: use text, logfmt or json", cfg.Format)
	}
	return closer, nil
}
