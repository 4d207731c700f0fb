// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       false,
		FilePath:   filepath.Join(home, ".config", "market-alerts", "logs", "alerts.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}

	// File writer with rotation
	if cfg.File && cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stderr
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(writer).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent adds a component name to the logger context.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithInstrument adds an instrument to the logger context.
func WithInstrument(logger zerolog.Logger, instrument string) zerolog.Logger {
	return logger.With().Str("instrument", instrument).Logger()
}

// WithRule adds a rule ID to the logger context.
func WithRule(logger zerolog.Logger, ruleID string) zerolog.Logger {
	return logger.With().Str("rule_id", ruleID).Logger()
}

// LogTrigger logs a rule firing.
func LogTrigger(logger zerolog.Logger, triggerID, ruleID, instrument, kind, severity string, value, threshold float64) {
	logger.Info().
		Str("event", "trigger").
		Str("trigger_id", triggerID).
		Str("rule_id", ruleID).
		Str("instrument", instrument).
		Str("kind", kind).
		Str("severity", severity).
		Float64("value", value).
		Float64("threshold", threshold).
		Msg("Alert triggered")
}

// LogDispatch logs the outcome of one channel send.
func LogDispatch(logger zerolog.Logger, triggerID, channel, status string, duration time.Duration, err error) {
	event := logger.Debug()
	if err != nil {
		event = logger.Warn().Err(err)
	}
	event.
		Str("event", "dispatch").
		Str("trigger_id", triggerID).
		Str("channel", channel).
		Str("status", status).
		Dur("duration", duration).
		Msg("Notification dispatch")
}

// LogRuleChange logs an administrative rule change.
func LogRuleChange(logger zerolog.Logger, ruleID, operation string, err error) {
	if err != nil {
		logger.Error().
			Str("event", "rule_change").
			Str("rule_id", ruleID).
			Str("operation", operation).
			Err(err).
			Msg("Rule change failed")
		return
	}
	logger.Info().
		Str("event", "rule_change").
		Str("rule_id", ruleID).
		Str("operation", operation).
		Msg("Rule changed")
}
