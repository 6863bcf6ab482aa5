package journal

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/errors"

	"tradecore/internal/schema"
)

// RedisConfig controls the capped audit stream.
type RedisConfig struct {
	Addr      string        `json:"addr" yaml:"addr"`
	Password  string        `json:"password" yaml:"password"`
	DB        int           `json:"db" yaml:"db" validate:"gte=0"`
	Stream    string        `json:"stream" yaml:"stream"`
	MaxLen    int64         `json:"maxLen" yaml:"max_len" validate:"gte=0"`
	KeyPrefix string        `json:"keyPrefix" yaml:"key_prefix"`
	StatusTTL time.Duration `json:"statusTtl" yaml:"status_ttl"`
}

// RedisSink appends entries to a capped stream and keeps the latest order,
// position and breaker record per subject under plain keys.
type RedisSink struct {
	cfg RedisConfig
	rc  redis.UniversalClient
}

func NewRedisSink(cfg RedisConfig) *RedisSink {
	return newRedisSink(cfg, redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}))
}

func newRedisSink(cfg RedisConfig, rc redis.UniversalClient) *RedisSink {
	if cfg.Stream == "" {
		cfg.Stream = "tradecore:journal"
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 100_000
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "tradecore"
	}
	return &RedisSink{cfg: cfg, rc: rc}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Write(ctx context.Context, entries []Entry) error {
	pipe := s.rc.Pipeline()
	for _, e := range entries {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.cfg.Stream,
			MaxLen: s.cfg.MaxLen,
			Approx: true,
			Values: map[string]any{
				"seq":     e.Seq,
				"kind":    e.Kind.String(),
				"subject": e.Subject,
				"time":    e.Time.UnixNano(),
				"payload": string(e.Payload),
			},
		})
		if key, ok := s.latestKey(e); ok {
			pipe.Set(ctx, key, e.Payload, s.cfg.StatusTTL)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "exec redis pipeline")
	}
	return nil
}

// latestKey names the key holding the newest record of a stateful subject.
func (s *RedisSink) latestKey(e Entry) (string, bool) {
	switch e.Kind {
	case schema.RecordOrder, schema.RecordPosition, schema.RecordBreaker:
		return s.cfg.KeyPrefix + ":" + e.Kind.String() + ":" + e.Subject, true
	default:
		return "", false
	}
}

func (s *RedisSink) Close() error {
	return s.rc.Close()
}
