// muxbridge bridges tmux-hosted AI agent sessions to a remote control
// plane: it watches session state, classifies pane content, answers menus
// where authorized, and exposes an append-only event log plus a small
// command surface.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/twistedxcom/muxbridge/internal/config"
	"github.com/twistedxcom/muxbridge/internal/logging"
	"github.com/twistedxcom/muxbridge/internal/registry"
)

const Version = "0.3.1"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "muxbridge",
		Short:         "Monitor and drive tmux-hosted agent sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default ~/.muxbridge/config.toml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newSendCmd(&configPath),
		newSelectOptionCmd(&configPath),
		newEventsCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the muxbridge version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("muxbridge %s\n", Version)
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return config.Load(path)
}

func initLogging(cfg *config.Config, debug bool) {
	dir := cfg.Logging.Dir
	if dir == "" {
		if base, err := config.Dir(); err == nil {
			dir = filepath.Join(base, "logs")
		}
	}
	logging.Init(logging.Config{
		LogDir: dir,
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Debug:  debug,
	})
}

func eventDBPath(cfg *config.Config) (string, error) {
	if cfg.EventDB != "" {
		return cfg.EventDB, nil
	}
	base, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "events.db"), nil
}

// waitForSessions gives the registry's observation channels a moment to
// deliver the initial snapshot before a one-shot command proceeds. Not an
// error if nothing shows up; resolution will report not-found downstream.
func waitForSessions(ctx context.Context, reg *registry.Registry, limit time.Duration) {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		if len(reg.Projects()) > 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}
