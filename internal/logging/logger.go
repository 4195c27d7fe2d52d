// Package logging provides the process-wide structured logger, configured
// from config.LoggingConfig rather than environment variables alone once
// the ConfigStore has loaded.
package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

var Logger *slog.Logger

// level is shared so SetLevel can retune the running logger when
// ConfigStore.UpdateLoggingConfig commits a new Level without restarting
// the process.
var level = new(slog.LevelVar)

func init() {
	Init()
}

// Init sets up the package logger from GATEWAY_LOG_LEVEL/GATEWAY_LOG_FORMAT,
// falling back to info/json. ConfigStore's logging.json, once loaded,
// takes over via SetLevel.
func Init() {
	applyLevel(os.Getenv("GATEWAY_LOG_LEVEL"))

	var handler slog.Handler
	if os.Getenv("GATEWAY_LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	Logger = slog.New(handler)
}

func applyLevel(s string) {
	switch strings.ToLower(s) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// SetLevel retunes the running logger; called when LoggingConfig.Level
// changes via the control API.
func SetLevel(s string) {
	applyLevel(s)
}

// Fatal logs an error message and exits the program.
func Fatal(msg string, args ...any) {
	Logger.Error(msg, args...)
	os.Exit(1)
}

type slogWriter struct {
	sl *slog.Logger
}

func (w slogWriter) Write(p []byte) (int, error) {
	msg := string(p)
	if len(msg) > 0 && msg[len(msg)-1] == '\n' {
		msg = msg[:len(msg)-1]
	}
	w.sl.Info(msg)
	return len(p), nil
}

// WrapSlog adapts the structured logger to the stdlib *log.Logger
// interface third-party libraries (goburrow/serial, paho) expect.
func WrapSlog(args ...any) *log.Logger {
	return log.New(slogWriter{Logger.With(args...)}, "", 0)
}

func Info(msg string, args ...any)  { Logger.Info(msg, args...) }
func Error(msg string, args ...any) { Logger.Error(msg, args...) }
func Warn(msg string, args ...any)  { Logger.Warn(msg, args...) }
func Debug(msg string, args ...any) { Logger.Debug(msg, args...) }
