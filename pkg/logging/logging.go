// Package logging builds the zerolog logger used across tasklink, with
// optional rotated file output via lumberjack.
package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the path to the log file. Empty logs to the console only.
	File string `yaml:"file"`

	// Console enables console output in addition to file output.
	Console bool `yaml:"console"`

	// JSON keeps console output as JSON instead of the pretty format.
	JSON bool `yaml:"json"`

	// MaxSize is the maximum size in megabytes before rotation.
	MaxSize int `yaml:"max_size"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `yaml:"max_backups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `yaml:"max_age"`

	// Compress enables gzip compression of rotated files.
	Compress bool `yaml:"compress"`
}

// DefaultConfig returns the logging defaults.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     7,
		Compress:   true,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds a logger. The returned closer releases the log file, if any.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("invalid log level '%s': %w", cfg.Level, err)
		}
		level = l
	}

	var (
		writers []io.Writer
		closer  io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		writers = append(writers, fileWriter)
		closer = fileWriter
	}
	if cfg.Console || cfg.File == "" {
		if cfg.JSON {
			writers = append(writers, os.Stderr)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		}
	}

	var output io.Writer = writers[0]
	if len(writers) > 1 {
		output = io.MultiWriter(writers...)
	}

	return NewWithWriter(output, level), closer, nil
}

// NewWithWriter builds a logger writing JSON lines to w with secrets
// redacted.
func NewWithWriter(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(&redactWriter{out: w}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

var sensitiveKeys = []string{"token", "secret", "password", "authorization", "api_key", "apikey", "bearer"}

func shouldRedactKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// redactWriter rewrites each JSON log line, masking the values of
// sensitive keys and bearer credentials.
type redactWriter struct {
	out io.Writer
}

func (w *redactWriter) Write(p []byte) (int, error) {
	fields, ok := decodeFields(p)
	if !ok {
		return w.out.Write(p)
	}

	changed := false
	for i, f := range fields {
		if shouldRedactKey(f.key) || hasBearer(f.value) {
			fields[i].value = redacted
			changed = true
		}
	}
	if !changed {
		return w.out.Write(p)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(f.key)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(f.value)
	}
	buf.WriteString("}\n")
	if _, err := w.out.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}

var redacted = json.RawMessage(`"[REDACTED]"`)

type field struct {
	key   string
	value json.RawMessage
}

// decodeFields splits a JSON object into its top-level fields in order,
// keeping each value as raw bytes so numbers round-trip untouched.
func decodeFields(p []byte) ([]field, bool) {
	dec := json.NewDecoder(bytes.NewReader(p))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, false
	}
	var fields []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		key, ok := tok.(string)
		if !ok {
			return nil, false
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, false
		}
		fields = append(fields, field{key: key, value: value})
	}
	if tok, err := dec.Token(); err != nil || tok != json.Delim('}') {
		return nil, false
	}
	return fields, true
}

func hasBearer(raw json.RawMessage) bool {
	if len(raw) == 0 || raw[0] != '"' {
		return false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(s), "bearer ")
}
