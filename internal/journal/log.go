package journal

import (
	"context"
	"encoding/json"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig rotates the audit file.
type LogConfig struct {
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"maxSizeMb" yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `json:"maxBackups" yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `json:"maxAgeDays" yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

// LogSink writes one JSON line per entry to a rotated file.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink opens the rotated audit file at cfg.Path.
func NewLogSink(cfg LogConfig) *LogSink {
	return newLogSink(zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}))
}

func newLogSink(ws zapcore.WriteSyncer) *LogSink {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "logged_at"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.MessageKey = "msg"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), ws, zapcore.InfoLevel)
	return &LogSink{logger: zap.New(core)}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, entries []Entry) error {
	for _, e := range entries {
		s.logger.Info("record",
			zap.Uint64("seq", e.Seq),
			zap.String("kind", e.Kind.String()),
			zap.String("subject", e.Subject),
			zap.Time("time", e.Time),
			zap.Reflect("payload", json.RawMessage(e.Payload)),
		)
	}
	return nil
}

func (s *LogSink) Close() error {
	return s.logger.Sync()
}
