package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level  string
	Format string
	// Output is stdout, file or both.
	Output string
	File   string
}

var (
	mu  sync.RWMutex
	log = newLogger(Config{})
)

// Init replaces the shared logger. Safe to call more than once.
func Init(cfg Config) error {
	if cfg.Output == "file" || cfg.Output == "both" {
		if err := os.MkdirAll(filepath.Dir(logFile(cfg)), 0o755); err != nil {
			return err
		}
	}
	l := newLogger(cfg)
	mu.Lock()
	log = l
	mu.Unlock()
	return nil
}

func Get() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// With returns an entry tagged with the component name.
func With(component string) *logrus.Entry {
	return Get().WithField("component", component)
}

func newLogger(cfg Config) *logrus.Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	}

	var writers []io.Writer
	switch cfg.Output {
	case "file":
		writers = append(writers, rotatingFile(cfg))
	case "both":
		writers = append(writers, os.Stdout, rotatingFile(cfg))
	default:
		writers = append(writers, os.Stdout)
	}
	l.SetOutput(io.MultiWriter(writers...))
	return l
}

func rotatingFile(cfg Config) io.Writer {
	return &lumberjack.Logger{
		Filename:   logFile(cfg),
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
}

func logFile(cfg Config) string {
	if strings.TrimSpace(cfg.File) == "" {
		return filepath.Join("logs", "pos.log")
	}
	return cfg.File
}
