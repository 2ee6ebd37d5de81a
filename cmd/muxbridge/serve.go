package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/twistedxcom/muxbridge/internal/eventlog"
	"github.com/twistedxcom/muxbridge/internal/logging"
	"github.com/twistedxcom/muxbridge/internal/registry"
	"github.com/twistedxcom/muxbridge/internal/resolve"
	"github.com/twistedxcom/muxbridge/internal/shell"
	"github.com/twistedxcom/muxbridge/internal/watch"
)

func newServeCmd(configPath *string) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session monitor until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			initLogging(cfg, debug)
			defer logging.Shutdown()
			log := logging.Logger()

			dbPath, err := eventDBPath(cfg)
			if err != nil {
				return err
			}
			events, err := eventlog.Open(dbPath)
			if err != nil {
				return err
			}
			defer events.Close()

			queue := shell.NewQueue()
			defer queue.Close()
			exec := shell.NewExecutor(queue)

			reg := registry.New(cfg.ServerURL, cfg.AuthToken,
				registry.WithStateFile(cfg.StateFile, exec))
			resolver := resolve.New(cfg, reg, cfg.Tuning.Tiebreak)
			watcher := watch.New(reg, resolver, exec, events, cfg)

			ctx, cancel := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := reg.Connect(ctx); err != nil {
				return err
			}
			watcher.Start(ctx)

			log.Info("muxbridge serving",
				"version", Version,
				"server", cfg.ServerURL,
				"state_file", cfg.StateFile,
				"event_db", dbPath)

			<-ctx.Done()

			log.Info("shutting down")
			watcher.Stop()
			reg.Disconnect()
			return nil
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "verbose logging")
	return cmd
}
