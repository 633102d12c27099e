// Package logger - общий логгер процесса (logrus, JSON, ротация файлов).
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger доступен сразу: до Init пишет текстом в stderr.
var Logger = logrus.New()

type Config struct {
	Level      string `json:"level"`
	Dir        string `json:"dir"`        // пусто - только stdout
	MaxSize    int    `json:"maxSize"`    // MB
	MaxBackups int    `json:"maxBackups"` // файлов
	MaxAge     int    `json:"maxAge"`     // дней
	Compress   bool   `json:"compress"`
}

// Init настраивает уровень, JSON-формат и файлы app.log / error.log в Dir.
func Init(cfg Config) error {
	l := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})

	if cfg.Dir == "" {
		l.SetOutput(os.Stdout)
		Logger = l
		return nil
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return err
	}
	l.SetOutput(io.MultiWriter(os.Stdout, rotating(cfg, "app.log")))
	l.AddHook(&ErrorFileHook{w: rotating(cfg, "error.log")})
	Logger = l
	return nil
}

func rotating(cfg Config, name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
}

// ErrorFileHook дублирует error и выше в отдельный writer.
type ErrorFileHook struct {
	w io.Writer
}

func (h *ErrorFileHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	_, err = h.w.Write([]byte(line))
	return err
}

func (h *ErrorFileHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}
}

func Debugf(format string, args ...interface{}) { Logger.Debugf(format, args...) }
func Info(args ...interface{})                  { Logger.Info(args...) }
func Infof(format string, args ...interface{})  { Logger.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { Logger.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { Logger.Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { Logger.Fatalf(format, args...) }

func WithField(key string, value interface{}) *logrus.Entry { return Logger.WithField(key, value) }
func WithFields(fields logrus.Fields) *logrus.Entry         { return Logger.WithFields(fields) }
func WithError(err error) *logrus.Entry                     { return Logger.WithError(err) }
