// Package config loads and validates the service configuration.
//
// Configuration is a YAML file layered over defaults, then checked
// against an embedded CUE schema. The schema carries the value
// constraints (enums, ranges, non-empty strings); Go code never
// re-validates what the schema already expresses.
package config

import (
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Config is the full service configuration.
type Config struct {
	// Listen is the HTTP bind address, host:port.
	Listen string `yaml:"listen" json:"listen"`

	// DataDir holds the ledger database.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	Log       LogConfig       `yaml:"log" json:"log"`
	Emulator  EmulatorConfig  `yaml:"emulator" json:"emulator"`
	Partition PartitionConfig `yaml:"partition" json:"partition"`
	Pool      PoolConfig      `yaml:"pool" json:"pool"`
	Prover    ProverConfig    `yaml:"prover" json:"prover"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// EmulatorConfig bounds program execution.
type EmulatorConfig struct {
	MaxCycles uint64 `yaml:"max_cycles" json:"max_cycles"`
	Threads   int    `yaml:"threads" json:"threads"`
}

// PartitionConfig is the trace chunking policy.
type PartitionConfig struct {
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	Threshold int `yaml:"threshold" json:"threshold"`
	Batch     int `yaml:"batch" json:"batch"`
}

// PoolConfig sizes the shared prover pool.
type PoolConfig struct {
	Workers int `yaml:"workers" json:"workers"`
	Depth   int `yaml:"depth" json:"depth"`
}

// ProverConfig selects proof backends. Backend is the default; GPU,
// when non-empty, names the backend registered under the "gpu" hint.
type ProverConfig struct {
	Backend string `yaml:"backend" json:"backend"`
	GPU     string `yaml:"gpu" json:"gpu"`
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	return Config{
		Listen:  "127.0.0.1:8642",
		DataDir: "./data",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Emulator: EmulatorConfig{
			MaxCycles: 1 << 22,
			Threads:   0,
		},
		Partition: PartitionConfig{
			ChunkSize: 4096,
			Threshold: 512,
			Batch:     16,
		},
		Pool: PoolConfig{
			Workers: 4,
			Depth:   64,
		},
		Prover: ProverConfig{
			Backend: "commit",
			GPU:     "",
		},
	}
}

// Load reads a YAML config file over the defaults and validates the
// result. An empty path returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		defer f.Close()
		if err := decode(f, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode strictly parses YAML into cfg; unknown keys are errors.
func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("config: parse: %w", err)
	}
	return nil
}

// Validate unifies the configuration with the embedded schema.
func Validate(cfg Config) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config: compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("config: schema missing #Config: %w", err)
	}

	val := ctx.Encode(cfg)
	if err := val.Err(); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// Logger builds the process logger from the log section.
func (c Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
