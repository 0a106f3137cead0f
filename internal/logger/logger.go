package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the application logger instance
var Logger zerolog.Logger

// Init initializes the logger with the given configuration
func Init(level, format string) {
	Logger = New(os.Stdout, level, format)

	// Set the global logger
	log.Logger = Logger
}

// New builds a logger writing to out. Format "json" emits JSON lines, anything
// else uses the colored console writer.
func New(out io.Writer, level, format string) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLogLevel(level))

	if strings.ToLower(format) != "json" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(out).With().
		Timestamp().
		Caller().
		Logger()
}

// parseLogLevel parses string log level to zerolog level
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// GetLogger returns the configured logger instance
func GetLogger() zerolog.Logger {
	return Logger
}

// Component returns a child logger tagged with the component name
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// AsynqLogger adapts zerolog to asynq's logger interface
type AsynqLogger struct {
	Log zerolog.Logger
}

func (l *AsynqLogger) Debug(args ...interface{}) {
	l.Log.Debug().Msg(fmt.Sprint(args...))
}

func (l *AsynqLogger) Info(args ...interface{}) {
	l.Log.Info().Msg(fmt.Sprint(args...))
}

func (l *AsynqLogger) Warn(args ...interface{}) {
	l.Log.Warn().Msg(fmt.Sprint(args...))
}

func (l *AsynqLogger) Error(args ...interface{}) {
	l.Log.Error().Msg(fmt.Sprint(args...))
}

func (l *AsynqLogger) Fatal(args ...interface{}) {
	l.Log.Fatal().Msg(fmt.Sprint(args...))
}
