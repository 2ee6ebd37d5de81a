package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/twistedxcom/muxbridge/internal/control"
	"github.com/twistedxcom/muxbridge/internal/logging"
	"github.com/twistedxcom/muxbridge/internal/registry"
	"github.com/twistedxcom/muxbridge/internal/resolve"
	"github.com/twistedxcom/muxbridge/internal/shell"
)

// oneShot wires the minimum stack for a single command-surface call and
// tears it down afterwards.
func oneShot(configPath string, timeout time.Duration,
	fn func(ctx context.Context, ctrl *control.Controller, kind registry.Kind) error) error {

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	initLogging(cfg, false)
	defer logging.Shutdown()

	queue := shell.NewQueue()
	defer queue.Close()
	exec := shell.NewExecutor(queue)

	reg := registry.New(cfg.ServerURL, cfg.AuthToken,
		registry.WithStateFile(cfg.StateFile, exec))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := reg.Connect(ctx); err != nil {
		return err
	}
	defer reg.Disconnect()
	waitForSessions(ctx, reg, 2*time.Second)

	resolver := resolve.New(cfg, reg, cfg.Tuning.Tiebreak)
	ctrl := control.New(resolver, exec, reg, cfg.Tuning.CaptureLines, cfg.KeyDelay())

	kind := registry.ParseKind(cfg.DefaultKind)
	return fn(ctx, ctrl, kind)
}

func newSendCmd(configPath *string) *cobra.Command {
	var (
		kindFlag string
		noEnter  bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send <project> <text>...",
		Short: "Type a message into a project's agent session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			return oneShot(*configPath, timeout, func(ctx context.Context, ctrl *control.Controller, kind registry.Kind) error {
				if kindFlag != "" {
					kind = registry.ParseKind(kindFlag)
				}
				project, err := ctrl.LookupProject(args[0])
				if err != nil {
					return err
				}
				if err := ctrl.SendMessage(ctx, kind, project, text, !noEnter); err != nil {
					return err
				}
				fmt.Printf("sent to %s\n", project)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kindFlag, "kind", "", "agent kind (default from config)")
	cmd.Flags().BoolVar(&noEnter, "no-enter", false, "type without submitting")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall command timeout")
	return cmd
}

func newSelectOptionCmd(configPath *string) *cobra.Command {
	var (
		kindFlag string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "select-option <project> <index>",
		Short: "Select an option in the menu currently on screen",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("index must be a number: %w", err)
			}
			return oneShot(*configPath, timeout, func(ctx context.Context, ctrl *control.Controller, kind registry.Kind) error {
				if kindFlag != "" {
					kind = registry.ParseKind(kindFlag)
				}
				project, err := ctrl.LookupProject(args[0])
				if err != nil {
					return err
				}
				if err := ctrl.SelectMenuOption(ctx, kind, project, index); err != nil {
					return err
				}
				fmt.Printf("selected option %d in %s\n", index, project)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kindFlag, "kind", "", "agent kind (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall command timeout")
	return cmd
}
