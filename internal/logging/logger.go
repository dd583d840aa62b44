package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelFatal LogLevel = "FATAL"
)

func (l LogLevel) toZerolog() zerolog.Level {
	switch l {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	case LogLevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

var (
	rootMu  sync.RWMutex
	rootOut io.Writer
	root    zerolog.Logger
)

func init() {
	SetOutput(os.Stdout)
}

// Init configures the process-wide level and writer. Pretty switches to the
// human-readable console writer.
func Init(level string, pretty bool) {
	parsed := zerolog.InfoLevel
	if v := strings.TrimSpace(level); v != "" {
		if l, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			parsed = l
		}
	}

	var output io.Writer = os.Stdout
	if pretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05.000"}
	}

	zerolog.SetGlobalLevel(parsed)
	SetOutput(output)
}

// SetOutput replaces the writer used by every logger
func SetOutput(w io.Writer) {
	rootMu.Lock()
	defer rootMu.Unlock()
	rootOut = w
	root = zerolog.New(w).With().Timestamp().Logger()
}

func rootLogger() zerolog.Logger {
	rootMu.RLock()
	defer rootMu.RUnlock()
	return root
}

// Logger provides structured logging for one component
type Logger struct {
	component string
	minLevel  LogLevel
	outputs   []io.Writer
	mu        sync.Mutex
}

// NewLogger creates a new logger for a specific component
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		minLevel:  LogLevelDebug,
	}
}

// SetMinLevel sets the minimum log level to output
func (l *Logger) SetMinLevel(level LogLevel) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
	return l
}

// AddOutput tees this component's logs to an extra writer
func (l *Logger) AddOutput(w io.Writer) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outputs = append(l.outputs, w)
	return l
}

func (l *Logger) build() zerolog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	base := rootLogger()
	if len(l.outputs) > 0 {
		writers := append([]io.Writer{}, l.outputs...)
		base = base.Output(zerolog.MultiLevelWriter(append(writers, rootWriter{})...))
	}
	return base.Level(l.minLevel.toZerolog()).With().Str("component", l.component).Logger()
}

// rootWriter forwards to whatever the root logger writes to at call time
type rootWriter struct{}

// Writer returns the process-wide log writer for libraries that bring their
// own structured logger
func Writer() io.Writer {
	return rootWriter{}
}

func (rootWriter) Write(p []byte) (int, error) {
	rootMu.RLock()
	w := rootOut
	rootMu.RUnlock()
	return w.Write(p)
}

func (l *Logger) log(level LogLevel, message string, err error, context map[string]interface{}) {
	zl := l.build()

	// WithLevel never exits, even at fatal
	event := zl.WithLevel(level.toZerolog())
	if err != nil {
		event = event.Err(err)
	}
	if len(context) > 0 {
		event = event.Fields(context)
	}
	event.Msg(message)
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.log(LogLevelDebug, message, nil, nil)
}

// DebugWithContext logs a debug message with context
func (l *Logger) DebugWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelDebug, message, nil, context)
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.log(LogLevelInfo, message, nil, nil)
}

// InfoWithContext logs an info message with context
func (l *Logger) InfoWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelInfo, message, nil, context)
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.log(LogLevelWarn, message, nil, nil)
}

// WarnWithContext logs a warning message with context
func (l *Logger) WarnWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelWarn, message, nil, context)
}

// Error logs an error message
func (l *Logger) Error(message string, err error) {
	l.log(LogLevelError, message, err, nil)
}

// ErrorWithContext logs an error message with context
func (l *Logger) ErrorWithContext(message string, err error, context map[string]interface{}) {
	l.log(LogLevelError, message, err, context)
}

// Fatal logs a fatal error message. It does not exit.
func (l *Logger) Fatal(message string, err error) {
	l.log(LogLevelFatal, message, err, nil)
}

// WithContext returns a logger that includes context on every line
func (l *Logger) WithContext(context map[string]interface{}) *ContextLogger {
	return &ContextLogger{
		logger:  l,
		context: context,
	}
}

// ContextLogger is a logger with pre-set context
type ContextLogger struct {
	logger  *Logger
	context map[string]interface{}
}

// Debug logs a debug message with pre-set context
func (cl *ContextLogger) Debug(message string) {
	cl.logger.log(LogLevelDebug, message, nil, cl.context)
}

// Info logs an info message with pre-set context
func (cl *ContextLogger) Info(message string) {
	cl.logger.log(LogLevelInfo, message, nil, cl.context)
}

// Warn logs a warning message with pre-set context
func (cl *ContextLogger) Warn(message string) {
	cl.logger.log(LogLevelWarn, message, nil, cl.context)
}

// Error logs an error message with pre-set context
func (cl *ContextLogger) Error(message string, err error) {
	cl.logger.log(LogLevelError, message, err, cl.context)
}
