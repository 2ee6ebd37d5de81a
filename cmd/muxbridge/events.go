package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/twistedxcom/muxbridge/internal/eventlog"
)

func newEventsCmd(configPath *string) *cobra.Command {
	var (
		since  int64
		limit  int
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Read the event log as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			dbPath, err := eventDBPath(cfg)
			if err != nil {
				return err
			}
			log, err := eventlog.Open(dbPath)
			if err != nil {
				return err
			}
			defer log.Close()

			cursor := since
			print := func() error {
				events, err := log.Poll(cursor, limit)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				for _, e := range events {
					if err := enc.Encode(e); err != nil {
						return err
					}
					cursor = e.ID
				}
				return nil
			}

			if err := print(); err != nil {
				return err
			}
			if !follow {
				return nil
			}

			ctx, cancel := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Second):
				}
				if err := print(); err != nil {
					return err
				}
			}
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "only events with id greater than this")
	cmd.Flags().IntVar(&limit, "limit", 0, "max events per read (0 = all)")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep polling for new events")
	return cmd
}
