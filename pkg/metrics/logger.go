package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents a logging level.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSilent // Disables all logging
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "SILENT"}

// String returns the level name.
func (l Level) String() string {
	if l < LevelDebug || l > LevelSilent {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel parses a level name, case-insensitively. "warning" is accepted
// for warn and "off" or "none" for silent.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO", "":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "SILENT", "OFF", "NONE":
		return LevelSilent, nil
	}
	return LevelInfo, fmt.Errorf("metrics: unknown log level %q", s)
}

// Format specifies the log output format.
type Format int

const (
	FormatText Format = iota // Human-readable text format
	FormatJSON               // JSON format for log aggregation
)

// ParseFormat parses "text" or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("metrics: unknown log format %q", s)
}

// Fields represents structured log fields.
type Fields map[string]interface{}

// sink serializes writes from a logger and all loggers derived from it.
type sink struct {
	mu  sync.Mutex
	out io.Writer
}

func (s *sink) write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.out.Write(p)
}

// Logger provides structured, levelled logging. Loggers derived with With or
// Named share their parent's output and level, so SetLevel on any of them
// applies to the whole family.
type Logger struct {
	sink   *sink
	level  *atomic.Int32
	format Format
	color  bool
	fields Fields
	name   string
	now    func() time.Time
}

// LoggerOption configures a logger.
type LoggerOption func(*Logger)

// WithOutput sets the output writer.
func WithOutput(w io.Writer) LoggerOption {
	return func(l *Logger) { l.sink = &sink{out: w} }
}

// WithLevel sets the minimum log level.
func WithLevel(level Level) LoggerOption {
	return func(l *Logger) { l.level.Store(int32(level)) }
}

// WithFormat sets the output format.
func WithFormat(format Format) LoggerOption {
	return func(l *Logger) { l.format = format }
}

// WithFields sets default fields for all log entries.
func WithFields(fields Fields) LoggerOption {
	return func(l *Logger) { l.fields = merge(nil, fields) }
}

// WithName sets the logger name.
func WithName(name string) LoggerOption {
	return func(l *Logger) { l.name = name }
}

// WithColor enables ANSI level colors in text output.
func WithColor(enabled bool) LoggerOption {
	return func(l *Logger) { l.color = enabled }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) LoggerOption {
	return func(l *Logger) { l.now = now }
}

// NewLogger creates a logger writing text at info level to stderr unless
// options say otherwise.
func NewLogger(opts ...LoggerOption) *Logger {
	l := &Logger{
		sink:  &sink{out: os.Stderr},
		level: new(atomic.Int32),
		now:   time.Now,
	}
	l.level.Store(int32(LevelInfo))
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Logger) clone() *Logger {
	c := *l
	return &c
}

// With returns a child logger that adds fields to every entry.
func (l *Logger) With(fields Fields) *Logger {
	c := l.clone()
	c.fields = merge(l.fields, fields)
	return c
}

// Named returns a child logger whose name is appended to the parent's,
// separated by a dot.
func (l *Logger) Named(name string) *Logger {
	c := l.clone()
	if l.name != "" {
		name = l.name + "." + name
	}
	c.name = name
	return c
}

// SetLevel changes the logging level.
func (l *Logger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// Level returns the current minimum level.
func (l *Logger) Level() Level {
	return Level(l.level.Load())
}

// Enabled reports whether entries at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return level < LevelSilent && level >= l.Level()
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields ...Fields) { l.log(LevelDebug, msg, fields) }

// Info logs at info level.
func (l *Logger) Info(msg string, fields ...Fields) { l.log(LevelInfo, msg, fields) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, fields ...Fields) { l.log(LevelWarn, msg, fields) }

// Error logs at error level.
func (l *Logger) Error(msg string, fields ...Fields) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, extra []Fields) {
	if !l.Enabled(level) {
		return
	}

	all := l.fields
	for _, f := range extra {
		all = merge(all, f)
	}

	var line []byte
	if l.format == FormatJSON {
		line = l.encodeJSON(level, msg, all)
	} else {
		line = l.encodeText(level, msg, all)
	}
	l.sink.write(line)
}

func (l *Logger) encodeJSON(level Level, msg string, fields Fields) []byte {
	entry := make(map[string]interface{}, len(fields)+4)
	for k, v := range fields {
		entry[k] = fieldValue(v)
	}
	entry["time"] = l.now().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg
	if l.name != "" {
		entry["logger"] = l.name
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Appendf(nil, `{"level":"ERROR","msg":"log encoding failed","error":%q}`+"\n", err.Error())
	}
	return append(data, '\n')
}

func (l *Logger) encodeText(level Level, msg string, fields Fields) []byte {
	var b strings.Builder

	b.WriteString(l.now().Format("15:04:05.000"))
	b.WriteByte(' ')
	if l.color {
		b.WriteString(levelColor(level))
	}
	fmt.Fprintf(&b, "%-5s", level.String())
	if l.color {
		b.WriteString(colorReset)
	}
	b.WriteByte(' ')
	if l.name != "" {
		b.WriteString("[" + l.name + "] ")
	}
	b.WriteString(msg)
	if len(fields) > 0 {
		b.WriteByte(' ')
		b.WriteString(formatFields(fields))
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// formatFields renders fields as key=value pairs in key order. Values
// containing spaces or quotes are quoted.
func formatFields(fields Fields) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprint(fieldValue(fields[k]))
		if strings.ContainsAny(v, " \t\n\"=") {
			v = strconv.Quote(v)
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

// fieldValue renders errors by message; encoding/json would otherwise emit
// them as empty objects.
func fieldValue(v interface{}) interface{} {
	if err, ok := v.(error); ok && err != nil {
		return err.Error()
	}
	return v
}

func merge(base, extra Fields) Fields {
	out := make(Fields, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

func levelColor(level Level) string {
	switch level {
	case LevelDebug:
		return colorGray
	case LevelInfo:
		return colorBlue
	case LevelWarn:
		return colorYellow
	case LevelError:
		return colorRed
	default:
		return ""
	}
}

// --- Global Logger ---

var globalLogger atomic.Pointer[Logger]

func init() {
	globalLogger.Store(NewLogger())
}

// SetLogger sets the global logger. A nil logger silences global logging.
func SetLogger(l *Logger) {
	if l == nil {
		l = NullLogger()
	}
	globalLogger.Store(l)
}

// GetLogger returns the global logger.
func GetLogger() *Logger {
	return globalLogger.Load()
}

// --- Convenience Functions ---

// NullLogger returns a logger that discards all output.
func NullLogger() *Logger {
	return NewLogger(WithOutput(io.Discard), WithLevel(LevelSilent))
}

// TestLogger returns a debug-level text logger writing to w.
func TestLogger(w io.Writer) *Logger {
	return NewLogger(WithOutput(w), WithLevel(LevelDebug))
}

// ProductionLogger returns an info-level JSON logger writing to w.
func ProductionLogger(w io.Writer) *Logger {
	return NewLogger(WithOutput(w), WithFormat(FormatJSON))
}
