package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CodeKiet/lincoln/internal/config"
	"github.com/CodeKiet/lincoln/internal/explorer"
	"github.com/CodeKiet/lincoln/internal/logging"
	"github.com/CodeKiet/lincoln/internal/notify"
	"github.com/CodeKiet/lincoln/internal/processor"
	"github.com/CodeKiet/lincoln/internal/rpcclient"
	"github.com/CodeKiet/lincoln/internal/store/postgres"
	"github.com/CodeKiet/lincoln/internal/supervisor"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string
var logLevel string

func main() {
	root := &cobra.Command{
		Use:   "lincoln",
		Short: "A UTXO blockchain indexer and explorer",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ./config.yaml, ./config/config.yaml, or /etc/lincoln/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: DEBUG, INFO, WARN or ERROR (overrides log_level from config)")

	root.AddCommand(initDBCmd(), syncCmd(), deleteHighestBlockCmd(), serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadAll reads config and constructs the logger every subcommand needs
// before touching the database or the daemon.
func loadAll() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func dbConfig(cfg *config.Config) postgres.Config {
	return postgres.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MaxConnLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	}
}

func initDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the schema (blocks, transactions, outputs, addresses)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadAll()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			pg, err := postgres.New(ctx, dbConfig(cfg), logger)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pg.Close()

			return pg.InitSchema(ctx)
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile any fork, then ingest blocks up to the daemon's current tip",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadAll()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			pg, err := postgres.New(ctx, dbConfig(cfg), logger)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pg.Close()

			rpc := rpcclient.New(rpcclient.Config{
				Address:  cfg.Coinserv.Address,
				Port:     cfg.Coinserv.Port,
				Username: cfg.Coinserv.Username,
				Password: cfg.Coinserv.Password,
			})

			pub := notify.New(notify.Config{
				Enabled: cfg.Notify.Enabled,
				Brokers: cfg.Notify.Brokers,
				Topic:   cfg.Notify.Topic,
			}, logger)
			defer pub.Close()

			// Hot-reload only has a concrete file to watch when --config
			// names one explicitly; the default search-path mode has no
			// single resolved path to hand fsnotify.
			var watcher *config.Watcher
			if configPath != "" {
				w, err := config.NewWatcher(configPath, logger)
				if err != nil {
					logger.Warn("config hot-reload disabled", zap.Error(err))
				} else {
					watcher = w
					defer w.Close()
				}
			}

			procCfg := processor.Config{
				Currency:     cfg.Currency.Code,
				Algo:         cfg.Algo.Display,
				P2PKHVersion: cfg.Currency.P2PKHVersion,
				P2SHVersion:  cfg.Currency.P2SHVersion,
				P2PKVersion:  cfg.Currency.P2PKVersion,
			}

			sv := supervisor.New(pg, rpc, procCfg, cfg.Reorg.LookbackHorizon, pub, watcher, logger)
			return sv.Sync(ctx)
		},
	}
}

func deleteHighestBlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-highest-block",
		Short: "Remove the current tip block, reversing all of its aggregates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadAll()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			pg, err := postgres.New(ctx, dbConfig(cfg), logger)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pg.Close()

			tip, err := pg.HighestBlock(ctx)
			if err != nil {
				return fmt.Errorf("load tip: %w", err)
			}

			tx, err := pg.BeginBlock(ctx)
			if err != nil {
				return fmt.Errorf("begin: %w", err)
			}
			if err := tx.RemoveBlock(ctx, tip.Height); err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("remove block %d: %w", tip.Height, err)
			}
			if err := tx.Commit(ctx); err != nil {
				return fmt.Errorf("commit: %w", err)
			}

			logger.Info("removed highest block", zap.Int64("height", tip.Height))
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the read-only HTTP explorer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadAll()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pg, err := postgres.New(ctx, dbConfig(cfg), logger)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pg.Close()

			srv := explorer.New(explorer.Config{
				Host:              cfg.Explorer.Host,
				Port:              cfg.Explorer.Port,
				OutputsPerPage:    cfg.Explorer.OutputsPerPage,
				TransPerPage:      cfg.Explorer.TransPerPage,
				BlocksPerPage:     cfg.Explorer.BlocksPerPage,
				SearchResultLimit: cfg.Explorer.SearchResultLimit,
			}, pg, logger)

			return srv.ListenAndServe(ctx)
		},
	}
}
