package ops

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"tradecore/internal/aggregator"
	"tradecore/internal/allocator"
	"tradecore/internal/chaos"
	"tradecore/internal/execution"
	"tradecore/internal/journal"
	"tradecore/internal/obs"
	"tradecore/internal/og"
	"tradecore/internal/risk"
	"tradecore/internal/schema"
	"tradecore/internal/store"
)

// FileConfig mirrors the config file layout. YAML durations are written as
// "60m"; JSON durations are nanoseconds.
type FileConfig struct {
	Mode        string   `json:"mode" yaml:"mode" validate:"oneof=replay simulated live"`
	InitialCash float64  `json:"initialCash" yaml:"initial_cash" validate:"gt=0"`
	Symbols     []string `json:"symbols" yaml:"symbols" validate:"dive,required"`
	// NodeID seeds snowflake order ids outside replay.
	NodeID int64 `json:"nodeId" yaml:"node_id" validate:"gte=0,lte=1023"`

	Risk       risk.Config       `json:"risk" yaml:"risk"`
	Stops      risk.StopConfig   `json:"stops" yaml:"stops"`
	Execution  execution.Config  `json:"execution" yaml:"execution"`
	Aggregator aggregator.Config `json:"aggregator" yaml:"aggregator"`
	Allocator  allocator.Config  `json:"allocator" yaml:"allocator"`
	Journal    JournalConfig     `json:"journal" yaml:"journal"`
	Replay     ReplayConfig      `json:"replay" yaml:"replay"`
	Chaos      chaos.Config      `json:"chaos" yaml:"chaos"`
	// Bridge is only checked in live mode.
	Bridge    og.BridgeConfig     `json:"bridge" yaml:"bridge" validate:"-"`
	Metrics   MetricsConfig       `json:"metrics" yaml:"metrics"`
	Profiling obs.ProfilingConfig `json:"profiling" yaml:"profiling"`
}

// JournalConfig selects the audit sinks. Empty sections are disabled.
type JournalConfig struct {
	Queue journal.Config `json:"queue" yaml:"queue"`
	// WALDir holds the binary journal segments and the ledger snapshot.
	WALDir         string              `json:"walDir" yaml:"wal_dir"`
	SnapshotPath   string              `json:"snapshotPath" yaml:"snapshot_path"`
	MemoryCapacity int                 `json:"memoryCapacity" yaml:"memory_capacity" validate:"gte=0"`
	Audit          journal.LogConfig   `json:"audit" yaml:"audit"`
	Kafka          journal.KafkaConfig `json:"kafka" yaml:"kafka"`
	Redis          journal.RedisConfig `json:"redis" yaml:"redis"`
	SQL            store.Config        `json:"sql" yaml:"sql"`
}

// ReplayConfig points at recorded market data and signals.
type ReplayConfig struct {
	Bars    string  `json:"bars" yaml:"bars"`
	Signals string  `json:"signals" yaml:"signals"`
	Speed   float64 `json:"speed" yaml:"speed" validate:"gte=0"`
}

// MetricsConfig controls the HTTP control and metrics surface.
type MetricsConfig struct {
	Listen string `json:"listen" yaml:"listen"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	FileConfig
	Mode        schema.Mode
	InitialCash decimal.Decimal
	Path        string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the production defaults in replay mode.
func Default() FileConfig {
	return FileConfig{
		Mode:        schema.ModeReplay.String(),
		InitialCash: 10_000,
		Risk:        risk.DefaultConfig(),
		Execution:   execution.DefaultConfig(),
		Aggregator:  aggregator.DefaultConfig(),
		Allocator:   allocator.DefaultConfig(),
		Journal: JournalConfig{
			Queue:          journal.DefaultConfig(),
			MemoryCapacity: 1024,
		},
		Replay:  ReplayConfig{Speed: 0},
		Metrics: MetricsConfig{Listen: ":8080"},
	}
}

// Load reads a YAML (.yaml, .yml) or JSON config file over the defaults.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrapf(err, "read config %s", path)
	}
	loaded, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Loaded{}, errors.Wrapf(err, "load config %s", path)
	}
	loaded.Path = path
	return loaded, nil
}

// Parse decodes data as YAML when ext is .yaml or .yml, JSON otherwise.
func Parse(data []byte, ext string) (Loaded, error) {
	cfg := Default()
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, errors.Wrap(err, "unmarshal yaml")
		}
	default:
		if err := sonic.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, errors.Wrap(err, "unmarshal json")
		}
	}
	return Resolve(cfg)
}

// Resolve validates cfg and derives typed values.
func Resolve(cfg FileConfig) (Loaded, error) {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if err := validate.Struct(cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "validate config")
	}
	mode, err := schema.ParseMode(cfg.Mode)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "parse mode")
	}
	if mode == schema.ModeLive {
		if err := validate.Struct(cfg.Bridge); err != nil {
			return Loaded{}, errors.Wrap(err, "validate bridge")
		}
	}
	if cfg.Risk.MaxPositionExposurePct > cfg.Risk.MaxTotalExposurePct {
		return Loaded{}, errors.Errorf("max_position_exposure_pct %.4f exceeds max_total_exposure_pct %.4f",
			cfg.Risk.MaxPositionExposurePct, cfg.Risk.MaxTotalExposurePct)
	}
	if cfg.Allocator.Enabled && len(cfg.Allocator.Symbols) == 0 {
		cfg.Allocator.Symbols = append([]string(nil), cfg.Symbols...)
	}
	if cfg.Journal.SnapshotPath == "" && cfg.Journal.WALDir != "" {
		cfg.Journal.SnapshotPath = filepath.Join(cfg.Journal.WALDir, "ledger.json")
	}
	return Loaded{
		FileConfig:  cfg,
		Mode:        mode,
		InitialCash: decimal.NewFromFloat(cfg.InitialCash),
	}, nil
}

// FillModel is the fee and slippage model of the configured mode.
func (l Loaded) FillModel() og.FillModel {
	return l.Execution.FillModel(l.Mode.String())
}

// ReloadInterval is the default config polling period.
const ReloadInterval = 5 * time.Second
