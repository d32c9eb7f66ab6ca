package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger is the process-wide logger. Packages usually log through
	// logrus.WithField which shares its output and level.
	Logger = logrus.StandardLogger()

	mu       sync.Mutex
	rotation *lumberjack.Logger
)

// Config controls log level, format and the optional rotating file.
type Config struct {
	Level      string // debug, info, warn, error
	OutputFile string // empty = console only
	MaxSize    int    // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	JSON       bool
}

// Init configures the global logrus logger: stdout plus an optional
// lumberjack-rotated file.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	var formatter logrus.Formatter = &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05.000",
	}
	if cfg.JSON {
		formatter = &logrus.JSONFormatter{}
	}

	writers := []io.Writer{os.Stdout}
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0o755); err != nil {
			return err
		}
		if rotation != nil {
			_ = rotation.Close()
		}
		rotation = &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		writers = append(writers, rotation)
	}

	logrus.SetOutput(io.MultiWriter(writers...))
	logrus.SetLevel(level)
	logrus.SetFormatter(formatter)
	Logger = logrus.StandardLogger()
	return nil
}

// Close flushes and closes the rotating file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if rotation == nil {
		return nil
	}
	err := rotation.Close()
	rotation = nil
	return err
}

// Component returns an entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}
