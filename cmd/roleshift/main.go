package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/roleshift/internal/cliconfig"
	"github.com/bft-labs/roleshift/internal/httpapi"
	"github.com/bft-labs/roleshift/internal/metrics"
	"github.com/bft-labs/roleshift/internal/rolesource"
	"github.com/bft-labs/roleshift/pkg/log"
	"github.com/bft-labs/roleshift/pkg/partition"
)

const longHelp = `
Run one partition replica and move it between roles on request.

Role changes arrive from a watched TOML role file or from the HTTP API.
Each request carries a term; requests with a lower term than one already
seen are rejected, and a newer request supersedes one still in progress.
The record processing engine runs only while the partition holds one of
the configured engine roles.
`

var exampleUsage = strings.TrimSpace(`
  roleshift --data-dir /var/lib/roleshift --role-file /etc/roleshift/role.toml
  roleshift --in-memory --state-dir /tmp/rs --initial-role leader --initial-term 1
  ROLESHIFT_LOG_LEVEL=debug roleshift --config $HOME/.roleshift/config.toml
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func newLogger(level zerolog.Level) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	zl := newLogger(zerolog.InfoLevel)

	root := &cobra.Command{
		Use:          "roleshift",
		Short:        "Coordinate role transitions of a partition replica",
		Long:         strings.TrimSpace(longHelp),
		Example:      exampleUsage,
		Version:      fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			// ROLESHIFT_* override the file but not explicit flags.
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			level, _ := log.ParseLevel(cfg.LogLevel)
			zl = newLogger(level)
			zl.Info().Interface("config", cfg).Msg("configuration")

			return run(cmd.Context(), cfg, log.NewZerologAdapterWithLogger(zl))
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.roleshift/config.toml)")
	root.Flags().IntVar(&cfg.PartitionID, "partition-id", cfg.PartitionID, "partition id")
	root.Flags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory of the durable record log")
	root.Flags().StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "directory of the committed state file (defaults to <data-dir>/state)")
	root.Flags().BoolVar(&cfg.InMemory, "in-memory", cfg.InMemory, "keep the record log in memory (testing)")

	root.Flags().StringVar(&cfg.RoleFile, "role-file", cfg.RoleFile, "TOML file with term and role to watch for assignments")
	root.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP API address (empty disables the API)")
	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	root.Flags().DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "engine poll interval when idle")
	root.Flags().StringSliceVar(&cfg.EngineRoles, "engine-roles", cfg.EngineRoles, "roles that run the record processing engine")
	root.Flags().DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "maximum time to tear down on exit")
	root.Flags().DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "maximum time an API transition request waits for its outcome")

	root.Flags().IntVar(&cfg.RetainRecords, "retain-records", cfg.RetainRecords, "processed records kept behind the engine checkpoint")
	root.Flags().DurationVar(&cfg.RetentionInterval, "retention-interval", cfg.RetentionInterval, "how often processed records are pruned")

	root.Flags().StringVar(&cfg.InitialRole, "initial-role", cfg.InitialRole, "role to request at startup")
	root.Flags().Int64Var(&cfg.InitialTerm, "initial-term", cfg.InitialTerm, "term of the startup role request")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		zl.Error().Err(err).Msg("roleshift")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg cliconfig.Config, logger log.Logger) (err error) {
	pcfg, err := cfg.Partition()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(reg, cfg.PartitionID)

	p, err := partition.New(pcfg,
		partition.WithLogger(logger),
		partition.WithListener(recorder),
		partition.WithEventHandler(recorder),
	)
	if err != nil {
		return fmt.Errorf("create partition: %w", err)
	}
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("start partition: %w", err)
	}
	defer func() {
		if stopErr := p.Stop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("stop partition: %w", stopErr))
		}
	}()

	if term, role, ok := cfg.Initial(); ok {
		outcome, err := p.TransitionTo(term, role).Get(ctx)
		if err != nil {
			return fmt.Errorf("initial transition to %s at term %d: %w", role, term, err)
		}
		logger.Info("initial transition finished", log.Term(term), log.Role(role.String()), log.String("outcome", outcome.String()))
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RoleFile != "" {
		w := rolesource.New(rolesource.Config{Path: cfg.RoleFile}, p, logger)
		g.Go(func() error { return w.Run(gctx) })
	}
	if cfg.ListenAddr != "" {
		router := httpapi.NewRouter(p, p.Health(), reg, logger, cfg.RequestTimeout)
		srv := httpapi.NewServer(cfg.ListenAddr, router, logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
