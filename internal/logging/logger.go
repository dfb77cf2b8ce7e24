package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level int

// Severities in increasing order.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

// String returns the lower-case level name.
func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLevel maps a level name to a Level, ignoring case. "warning" is
// accepted for LevelWarn. Unknown names map to LevelInfo.
func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return LevelWarn
	}
	for i, name := range levelNames {
		if s == name {
			return Level(i)
		}
	}
	return LevelInfo
}

// Format selects how entries are rendered.
type Format int

// Output formats.
const (
	FormatText Format = iota
	FormatJSON
)

// ParseFormat maps "json" to FormatJSON and anything else to FormatText.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// Logger writes leveled entries made of a message and key-value pairs.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	// Enabled reports whether entries at level are written.
	Enabled(level Level) bool
	// WithTraceID returns a logger that tags every entry with traceID.
	WithTraceID(traceID string) Logger
	// WithFields returns a logger that prepends the given pairs to every entry.
	WithFields(keysAndValues ...interface{}) Logger
}

// Config holds the logger configuration.
type Config struct {
	Level  string
	Format string
	// Output is "stderr", "stdout" or a file path opened for appending.
	Output string
}

type field struct {
	key   string
	value interface{}
}

type logger struct {
	level   Level
	format  Format
	out     *output
	traceID string
	fields  []field
}

// output serializes writes from a logger and all of its children.
type output struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *output) writeLine(line []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.w.Write(append(line, '\n'))
}

// New creates a Logger from cfg. A file output that cannot be opened falls
// back to stderr.
func New(cfg Config) Logger {
	var w io.Writer = os.Stderr
	switch cfg.Output {
	case "", "stderr":
	case "stdout":
		w = os.Stdout
	default:
		if f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
			w = f
		}
	}
	return NewWithWriter(cfg, w)
}

// NewWithWriter creates a Logger writing to w. cfg.Output is ignored.
func NewWithWriter(cfg Config, w io.Writer) Logger {
	return &logger{
		level:  ParseLevel(cfg.Level),
		format: ParseFormat(cfg.Format),
		out:    &output{w: w},
	}
}

// NewDefault creates an info-level text logger on stderr.
func NewDefault() Logger {
	return NewWithWriter(Config{Level: "info", Format: "text"}, os.Stderr)
}

// NewNop creates a logger that discards everything.
func NewNop() Logger {
	return nopLogger{}
}

func (l *logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(LevelDebug, msg, keysAndValues)
}

func (l *logger) Info(msg string, keysAndValues ...interface{}) {
	l.log(LevelInfo, msg, keysAndValues)
}

func (l *logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(LevelWarn, msg, keysAndValues)
}

func (l *logger) Error(msg string, keysAndValues ...interface{}) {
	l.log(LevelError, msg, keysAndValues)
}

func (l *logger) Enabled(level Level) bool {
	return level >= l.level
}

func (l *logger) WithTraceID(traceID string) Logger {
	c := *l
	c.traceID = traceID
	return &c
}

func (l *logger) WithFields(keysAndValues ...interface{}) Logger {
	c := *l
	c.fields = appendPairs(append([]field(nil), l.fields...), keysAndValues)
	return &c
}

// appendPairs adds key-value pairs to dst. Pairs with a non-string key and
// a trailing key without a value are dropped.
func appendPairs(dst []field, keysAndValues []interface{}) []field {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			dst = append(dst, field{key: key, value: keysAndValues[i+1]})
		}
	}
	return dst
}

func (l *logger) log(level Level, msg string, keysAndValues []interface{}) {
	if !l.Enabled(level) {
		return
	}
	fields := appendPairs(append(make([]field, 0, len(l.fields)+len(keysAndValues)/2), l.fields...), keysAndValues)
	ts := time.Now().UTC().Format(time.RFC3339Nano)

	var line []byte
	if l.format == FormatJSON {
		line = l.renderJSON(ts, level, msg, fields)
	} else {
		line = l.renderText(ts, level, msg, fields)
	}
	l.out.writeLine(line)
}

func (l *logger) renderJSON(ts string, level Level, msg string, fields []field) []byte {
	entry := make(map[string]interface{}, len(fields)+4)
	for _, f := range fields {
		entry[f.key] = jsonValue(f.value)
	}
	entry["ts"] = ts
	entry["level"] = level.String()
	entry["msg"] = msg
	if l.traceID != "" {
		entry["trace_id"] = l.traceID
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return []byte(fmt.Sprintf(`{"ts":%q,"level":"error","msg":"unencodable log entry","error":%q}`, ts, err.Error()))
	}
	return data
}

// renderText produces "ts [level] msg trace_id=... k=v ..." with fields in
// the order they were added.
func (l *logger) renderText(ts string, level Level, msg string, fields []field) []byte {
	var sb strings.Builder
	sb.WriteString(ts)
	sb.WriteString(" [")
	sb.WriteString(level.String())
	sb.WriteString("] ")
	sb.WriteString(msg)
	if l.traceID != "" {
		sb.WriteString(" trace_id=")
		sb.WriteString(l.traceID)
	}
	for _, f := range fields {
		sb.WriteByte(' ')
		sb.WriteString(f.key)
		sb.WriteByte('=')
		sb.WriteString(textValue(f.value))
	}
	return []byte(sb.String())
}

func jsonValue(v interface{}) interface{} {
	switch x := v.(type) {
	case time.Time:
		return x
	case error:
		return x.Error()
	case time.Duration:
		return x.String()
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	}
	return v
}

// textValue formats v and quotes it when it would not read back as one token.
func textValue(v interface{}) string {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case error:
		s = x.Error()
	case []byte:
		s = string(x)
	case time.Time:
		s = x.UTC().Format(time.RFC3339Nano)
	default:
		s = fmt.Sprint(v)
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})       {}
func (nopLogger) Info(string, ...interface{})        {}
func (nopLogger) Warn(string, ...interface{})        {}
func (nopLogger) Error(string, ...interface{})       {}
func (nopLogger) Enabled(Level) bool                 { return false }
func (n nopLogger) WithTraceID(string) Logger        { return n }
func (n nopLogger) WithFields(...interface{}) Logger { return n }
