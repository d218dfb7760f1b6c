// Package logger wraps zerolog behind a small interface so services can carry
// contextual fields without depending on zerolog directly.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Debug(msg string)

	WithStr(key, value string) Logger
	WithBool(key string, value bool) Logger
	WithInt(key string, value int) Logger
	WithAny(key string, value any) Logger
	WithErr(err error) Logger
}

type logger struct {
	base zerolog.Logger
}

// New returns a logger writing JSON lines to w.
func New(w io.Writer) Logger {
	return &logger{
		base: zerolog.New(w).
			With().
			Timestamp().
			Logger(),
	}
}

// NewFile returns a logger writing to a rotated file at path.
func NewFile(path string) Logger {
	return New(rotating(path))
}

// NewMultiWriter returns a logger writing to a rotated file at path and to
// stderr in a human readable form.
func NewMultiWriter(path string) Logger {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return New(io.MultiWriter(console, rotating(path)))
}

// Nop discards everything.
func Nop() Logger {
	return &logger{base: zerolog.Nop()}
}

func rotating(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    5,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
}

func (l *logger) Info(msg string) {
	l.base.Info().Msg(msg)
}

func (l *logger) Warn(msg string) {
	l.base.Warn().Msg(msg)
}

func (l *logger) Error(msg string) {
	l.base.Error().Msg(msg)
}

func (l *logger) Debug(msg string) {
	l.base.Debug().Msg(msg)
}

func (l *logger) WithStr(key, value string) Logger {
	return &logger{base: l.base.With().Str(key, value).Logger()}
}

func (l *logger) WithBool(key string, value bool) Logger {
	return &logger{base: l.base.With().Bool(key, value).Logger()}
}

func (l *logger) WithInt(key string, value int) Logger {
	return &logger{base: l.base.With().Int(key, value).Logger()}
}

func (l *logger) WithAny(key string, value any) Logger {
	return &logger{base: l.base.With().Interface(key, value).Logger()}
}

func (l *logger) WithErr(err error) Logger {
	return &logger{base: l.base.With().Err(err).Logger()}
}

// LogPath returns ~/lanshare/<dir>/lanshare.log, creating the directory.
func LogPath(dir string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	logDir := filepath.Join(homeDir, "lanshare", dir)

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	return filepath.Join(logDir, "lanshare.log"), nil
}
