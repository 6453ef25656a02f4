package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls where and how verbosely the process logs
type Options struct {
	Level   string // debug, info, warn, error
	Dir     string // directory for the session file; empty disables file output
	Prefix  string // session file name prefix
	Console bool
}

// Session is a process logger plus the file it writes to
type Session struct {
	*zap.Logger
	file *os.File
	path string
}

// New builds a logger that tees a human-readable console core and a JSON session file
func New(opts Options) (*Session, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var cores []zapcore.Core
	if opts.Console {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stdout),
			level,
		))
	}

	s := &Session{}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		prefix := opts.Prefix
		if prefix == "" {
			prefix = "automation"
		}
		filename := fmt.Sprintf("%s_%s.log", prefix, time.Now().Format("2006-01-02"))
		s.path = filepath.Join(opts.Dir, filename)

		file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		s.file = file

		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.AddSync(file),
			level,
		))
	}

	if len(cores) == 0 {
		s.Logger = zap.NewNop()
		return s, nil
	}

	s.Logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	s.Logger.Info("session started", zap.String("log_file", s.path), zap.String("level", level.String()))
	return s, nil
}

// ParseLevel maps a level name to a zap level; empty means info
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

// Path returns the session file path, empty when file output is disabled
func (s *Session) Path() string {
	return s.path
}

// Close flushes buffered entries and closes the session file
func (s *Session) Close() error {
	s.Logger.Info("session ended")
	_ = s.Logger.Sync()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
