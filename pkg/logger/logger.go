package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or a file path
	TimeFormat string // defaults to RFC3339 with nanoseconds
}

// Logger wraps zerolog with typed fields. Error logs are additionally fed
// to the attached collector when one is configured.
type Logger struct {
	zl        zerolog.Logger
	collector *LogCollector
}

// New builds a logger from the config.
func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var output io.Writer
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		output = file
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: timeFormat}
	}

	zl := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		CallerWithSkipFrameCount(3).
		Logger()

	return &Logger{zl: zl}, nil
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.emit(l.zl.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.emit(l.zl.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.emit(l.zl.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.emit(l.zl.Error(), msg, fields)
	l.collect("error", msg, fields)
}

func (l *Logger) emit(event *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		f.addTo(event)
	}
	event.Msg(msg)
}

// collect forwards a log record to the aggregating collector.
func (l *Logger) collect(level, msg string, fields []Field) {
	if l.collector == nil {
		return
	}

	// Caller of the Error method, two frames up.
	caller := "unknown"
	if _, file, line, ok := runtime.Caller(2); ok {
		if idx := strings.LastIndex(file, "deltabadger"); idx >= 0 {
			file = file[idx+len("deltabadger"):]
		}
		caller = fmt.Sprintf("%s:%d", file, line)
	}

	fieldMap := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		key, value := f.keyValue()
		fieldMap[key] = value
	}
	l.collector.AddLog(level, msg, fieldMap, caller)
}

// AddCollector attaches an aggregating collector, replacing any previous
// one.
func (l *Logger) AddCollector(config *CollectionConfig) {
	if l.collector != nil {
		l.collector.Close()
	}
	l.collector = NewLogCollector(config)
}

// RemoveCollector flushes and detaches the collector.
func (l *Logger) RemoveCollector() {
	if l.collector != nil {
		l.collector.Close()
		l.collector = nil
	}
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindInt64
	kindError
)

// Field is one structured logging attribute. It is a value type with a kind
// discriminator rather than an interface, log sites allocate nothing.
type Field struct {
	key  string
	kind fieldKind
	str  string
	num  int64
	err  error
}

func (f Field) addTo(event *zerolog.Event) {
	switch f.kind {
	case kindString:
		event.Str(f.key, f.str)
	case kindInt:
		event.Int(f.key, int(f.num))
	case kindInt64:
		event.Int64(f.key, f.num)
	case kindError:
		event.Err(f.err)
	}
}

func (f Field) keyValue() (string, interface{}) {
	switch f.kind {
	case kindInt:
		return f.key, int(f.num)
	case kindInt64:
		return f.key, f.num
	case kindError:
		if f.err == nil {
			return f.key, nil
		}
		return f.key, f.err.Error()
	default:
		return f.key, f.str
	}
}

// String builds a string field.
func String(key, value string) Field {
	return Field{key: key, kind: kindString, str: value}
}

// Strings joins values into a single comma separated field.
func Strings(key string, values []string) Field {
	return Field{key: key, kind: kindString, str: strings.Join(values, ", ")}
}

// Int builds an int field.
func Int(key string, value int) Field {
	return Field{key: key, kind: kindInt, num: int64(value)}
}

// Int64 builds an int64 field.
func Int64(key string, value int64) Field {
	return Field{key: key, kind: kindInt64, num: value}
}

// Duration records a duration in milliseconds.
func Duration(key string, value time.Duration) Field {
	return Field{key: key, kind: kindInt64, num: value.Milliseconds()}
}

// Error builds an error field under the "error" key.
func Error(err error) Field {
	return Field{key: "error", kind: kindError, err: err}
}
