// Package cli contains the Cobra commands of the jobctl operator tool.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cuongbtq/jobcore/internal/app"
	"github.com/cuongbtq/jobcore/internal/config"
	"github.com/cuongbtq/jobcore/internal/maintenance"
	"github.com/cuongbtq/jobcore/internal/queue"
	"github.com/cuongbtq/jobcore/internal/relay"
	"github.com/cuongbtq/jobcore/internal/storage"
	"github.com/cuongbtq/jobcore/shared/logger"
	"github.com/spf13/cobra"
)

// Runtime is what a command works against
type Runtime struct {
	Store       storage.Store
	Queue       *queue.Engine
	Maintenance *maintenance.Set
	Logger      *slog.Logger

	closers []func() error
}

// Close releases every resource the runtime opened, last opened first
func (r *Runtime) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Opener builds a runtime from the config file at path. migrate forces the
// schema to be applied.
type Opener func(ctx context.Context, path string, migrate bool) (*Runtime, error)

// DefaultConfigPath is the config used when --config is not given
func DefaultConfigPath() string {
	if p := os.Getenv("WORKER_SERVICE_CONFIG_PATH"); p != "" {
		return p
	}
	return "configs/worker-service/config.yaml"
}

// NewRoot constructs the jobctl root command and registers every subcommand
func NewRoot(open Opener) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "jobctl",
		Short:         "Operate the job queue and scheduler store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", DefaultConfigPath(), "Path to configuration file")

	withRuntime := func(migrate bool, fn func(cmd *cobra.Command, rt *Runtime, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd.Context(), configPath, migrate)
			if err != nil {
				return err
			}
			defer rt.Close()
			return fn(cmd, rt, args)
		}
	}

	root.AddCommand(
		newMigrateCommand(withRuntime),
		newEnqueueCommand(withRuntime),
		newJobsCommand(withRuntime),
		newStatsCommand(withRuntime),
		newCleanupCommand(withRuntime),
		newMaintenanceCommand(withRuntime),
		newProcessCommand(withRuntime),
	)
	return root
}

type runtimeWrapper func(migrate bool, fn func(cmd *cobra.Command, rt *Runtime, args []string) error) func(*cobra.Command, []string) error

// OpenFromConfig is the Opener used by the jobctl binary. Logs go to stderr
// so command output stays machine readable.
func OpenFromConfig(ctx context.Context, path string, migrate bool) (*Runtime, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logCfg := cfg.Logging
	logCfg.Output = "stderr"
	lg, err := app.NewLogger(&logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	rt := &Runtime{Logger: lg.Logger, closers: []func() error{lg.Close}}

	store, err := app.OpenStore(ctx, &cfg.Database, migrate, lg.Component("storage"))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Store = store
	rt.closers = append(rt.closers, store.Close)

	rt.Queue = app.NewQueueEngine(&cfg.Queue, store, lg.Component("queue"))
	rt.Maintenance = maintenance.New(maintenance.Config{
		Files:         store,
		Jobs:          rt.Queue,
		Logger:        lg.Component("maintenance"),
		RetentionDays: cfg.Queue.RetentionDays,
	})

	if len(cfg.Queue.Relay) > 0 {
		client, err := app.DialRabbitMQ(&cfg.RabbitMQ, lg.Component("rabbitmq"))
		if err != nil {
			rt.Close()
			return nil, err
		}
		if client == nil {
			rt.Close()
			return nil, fmt.Errorf("relay queues require rabbitmq to be enabled")
		}
		rt.closers = append(rt.closers, client.Close)
		if err := relay.Register(rt.Queue, client, lg.Component("relay"), app.RelayQueues(&cfg.Queue)); err != nil {
			rt.Close()
			return nil, err
		}
	}

	return rt, nil
}

// NewRuntime wraps already built components, for embedding and tests
func NewRuntime(store storage.Store, engine *queue.Engine, maint *maintenance.Set, lg *slog.Logger) *Runtime {
	if lg == nil {
		lg = logger.Discard()
	}
	return &Runtime{Store: store, Queue: engine, Maintenance: maint, Logger: lg}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
