package pkg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is a map of fields to add to log entries
type Fields map[string]any

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	LogFormatJSON = "json"
	LogFormatText = "text"

	LogOutputStdout = "stdout"
	LogOutputStderr = "stderr"
	LogOutputFile   = "file"
)

type requestIDKey struct{}

var (
	// sync.Once for setting zerolog global state (to prevent data races)
	timeFormatOnce sync.Once
)

// Config holds logger configuration
type Config struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string `json:"level" yaml:"level"`

	// Format is the output format (json, text)
	Format string `json:"format" yaml:"format"`

	// Outputs lists the targets (stdout, stderr, file)
	Outputs []string `json:"outputs" yaml:"outputs"`

	// File output settings, used when Outputs contains "file"
	File FileConfig `json:"file" yaml:"file"`

	// Fields are default fields added to all logs
	Fields Fields `json:"fields" yaml:"fields"`

	// AsyncWrite uses a diode writer for non-blocking writes
	AsyncWrite bool `json:"async_write" yaml:"async_write"`

	// BufferSize for async writer (in messages)
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`
}

// FileConfig for file output
type FileConfig struct {
	// Path to log file
	Path string `json:"path" yaml:"path"`

	// MaxSize in megabytes
	MaxSize int `json:"max_size" yaml:"max_size"`

	// MaxAge in days
	MaxAge int `json:"max_age" yaml:"max_age"`

	// MaxBackups to keep
	MaxBackups int `json:"max_backups" yaml:"max_backups"`

	// Compress rotated files
	Compress bool `json:"compress" yaml:"compress"`
}

// DefaultLoggerConfig returns default logger configuration
func DefaultLoggerConfig() *Config {
	return &Config{
		Level:   LogLevelInfo,
		Format:  LogFormatJSON,
		Outputs: []string{LogOutputStdout},
		File: FileConfig{
			MaxSize:    100, // 100MB
			MaxAge:     30,  // 30 days
			MaxBackups: 10,
			Compress:   true,
		},
		BufferSize: 10000,
	}
}

// Logger wraps zerolog with the field-map call style used across the project.
type Logger struct {
	zl     zerolog.Logger
	closer io.Closer
}

// NewLogger creates a logger. A nil config means DefaultLoggerConfig.
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		return nil, fmt.Errorf("invalid log level %q", cfg.Level)
	}

	var writers []io.Writer
	var closers []io.Closer
	for _, out := range cfg.Outputs {
		switch out {
		case LogOutputStdout:
			writers = append(writers, formatWriter(cfg.Format, os.Stdout))
		case LogOutputStderr:
			writers = append(writers, formatWriter(cfg.Format, os.Stderr))
		case LogOutputFile:
			if cfg.File.Path == "" {
				return nil, errors.New("file output requires a log file path")
			}
			if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
			fileWriter := &lumberjack.Logger{
				Filename:   cfg.File.Path,
				MaxSize:    cfg.File.MaxSize,
				MaxAge:     cfg.File.MaxAge,
				MaxBackups: cfg.File.MaxBackups,
				LocalTime:  true,
				Compress:   cfg.File.Compress,
			}
			writers = append(writers, fileWriter)
			closers = append(closers, fileWriter)
		default:
			return nil, fmt.Errorf("unsupported log output %q", out)
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	if cfg.AsyncWrite {
		size := cfg.BufferSize
		if size <= 0 {
			size = 10000
		}
		dw := diode.NewWriter(writer, size, 10*time.Millisecond, func(missed int) {
			fmt.Fprintf(os.Stderr, "Logger dropped %d messages\n", missed)
		})
		writer = dw
		closers = append([]io.Closer{dw}, closers...)
	}

	timeFormatOnce.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano
	})

	zctx := zerolog.New(writer).Level(level).With().Timestamp()
	for k, v := range cfg.Fields {
		zctx = zctx.Interface(k, v)
	}

	return &Logger{zl: zctx.Logger(), closer: multiCloser(closers)}, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func formatWriter(format string, out io.Writer) io.Writer {
	if format == LogFormatText {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}
	return out
}

func (l *Logger) Debug(msg string, fields Fields) {
	l.log(l.zl.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields Fields) {
	l.log(l.zl.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields Fields) {
	l.log(l.zl.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields Fields) {
	l.log(l.zl.Error(), msg, fields)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(msg string, fields Fields) {
	l.log(l.zl.Fatal(), msg, fields)
}

func (l *Logger) log(ev *zerolog.Event, msg string, fields Fields) {
	if ev == nil {
		return
	}
	for k, v := range fields {
		if err, ok := v.(error); ok {
			ev = ev.AnErr(k, err)
			continue
		}
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// WithFields returns a child logger that adds fields to every entry.
func (l *Logger) WithFields(fields Fields) *Logger {
	zctx := l.zl.With()
	for k, v := range fields {
		zctx = zctx.Interface(k, v)
	}
	return &Logger{zl: zctx.Logger(), closer: l.closer}
}

// WithContext returns a child logger carrying the request id stored in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if id := RequestIDFromContext(ctx); id != "" {
		return l.WithFields(Fields{"request_id": id})
	}
	return l
}

// Close flushes async buffers and closes rotated files.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// ContextWithRequestID stores a request id for log correlation.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored in ctx or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
