// Package logger configures the process-wide phuslu/log logger.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/phuslu/log"
)

// Config holds logging configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR, FATAL
	Format string // console or json
	Color  bool   // colorize console output
}

// Init sets up log.DefaultLogger; call once at startup before anything logs.
func Init(cfg Config) {
	level := ParseLevel(cfg.Level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		log.DefaultLogger = log.Logger{
			Level:      level,
			TimeFormat: time.RFC3339,
			Writer:     &log.IOWriter{Writer: os.Stdout},
		}
	default:
		log.DefaultLogger = log.Logger{
			Level:      level,
			TimeFormat: "15:04:05.000",
			Writer: &log.ConsoleWriter{
				ColorOutput:    cfg.Color && isTerminal(),
				QuoteString:    true,
				EndWithMessage: true,
				Writer:         os.Stdout,
			},
		}
	}
}

// ParseLevel converts a level name to a log.Level, defaulting to info.
func ParseLevel(level string) log.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return log.DebugLevel
	case "INFO":
		return log.InfoLevel
	case "WARN", "WARNING":
		return log.WarnLevel
	case "ERROR":
		return log.ErrorLevel
	case "FATAL":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

func isTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
