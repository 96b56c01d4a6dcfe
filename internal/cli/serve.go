package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zkforge/zkforge/internal/config"
	"github.com/zkforge/zkforge/internal/ledger"
	"github.com/zkforge/zkforge/internal/orchestrator"
	"github.com/zkforge/zkforge/internal/partition"
	"github.com/zkforge/zkforge/internal/prover"
	"github.com/zkforge/zkforge/internal/service"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string

	// Tokens allows overriding the run token generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	Tokens orchestrator.TokenGenerator
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proving service",
		Long: `Run the proving service.

Loads the configuration, opens the task ledger (creating it if needed),
fails over any tasks stranded by a previous crash, and serves the HTTP
API until interrupted.

Example:
  zkforge serve --config ./zkforge.yaml
  zkforge serve --verbose`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config (defaults apply when omitted)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	log := cfg.Logger(cmd.ErrOrStderr())

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return WrapExitError(ExitCommandError, "failed to create data dir", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "ledger.db")
	log.Info("opening ledger", "path", dbPath)
	led, err := ledger.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer func() {
		if closeErr := led.Close(); closeErr != nil {
			log.Error("error closing ledger", "error", closeErr)
		}
	}()

	// Tasks stranded by a crash cannot be resumed; fail them now so
	// clients see a classified terminal state and resubmit.
	recovered, err := led.RecoverInterrupted(context.Background(),
		string(orchestrator.CodeInterrupted), "service restarted during proving")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to recover interrupted tasks", err)
	}
	if len(recovered) > 0 {
		log.Warn("recovered interrupted tasks", "count", len(recovered))
	}

	router, err := buildRouter(cfg.Prover)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build prover router", err)
	}

	tokens := opts.Tokens
	if tokens == nil {
		tokens = orchestrator.UUIDv7Generator{}
	}

	orc := orchestrator.New(led, router, tokens, orchestrator.Options{
		MaxCycles:       cfg.Emulator.MaxCycles,
		EmulatorThreads: cfg.Emulator.Threads,
		Partition: partition.Params{
			ChunkSize: cfg.Partition.ChunkSize,
			Threshold: cfg.Partition.Threshold,
			Batch:     cfg.Partition.Batch,
		},
		PoolWorkers: cfg.Pool.Workers,
		PoolDepth:   cfg.Pool.Depth,
	}, log)
	defer orc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := service.NewServer(orc, log).Handler()
	if err := service.Serve(ctx, cfg.Listen, handler, log); err != nil {
		return WrapExitError(ExitCommandError, "server error", err)
	}
	log.Info("shutdown complete")
	return nil
}

// buildRouter wires the configured backends. The groth16 backend runs
// its circuit setup here, once, before the service accepts traffic.
func buildRouter(cfg config.ProverConfig) (*prover.Router, error) {
	def, err := backendByName(cfg.Backend)
	if err != nil {
		return nil, err
	}
	router := prover.NewRouter(def)

	if cfg.GPU != "" {
		gpu, err := backendByName(cfg.GPU)
		if err != nil {
			return nil, err
		}
		router.Register("gpu", gpu)
	}
	return router, nil
}

func backendByName(name string) (prover.Backend, error) {
	switch name {
	case "commit":
		return prover.NewCommitBackend(), nil
	case "groth16":
		return prover.NewGroth16Backend()
	default:
		return nil, fmt.Errorf("unknown prover backend %q", name)
	}
}
