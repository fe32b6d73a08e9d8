package cli

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomochart/guestlist/internal/kiosk"
)

func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var probe, drain time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow connectivity and replay queued writes when it returns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			k, err := rootOpts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer k.Close()

			if probe <= 0 {
				probe = rootOpts.cfg.WatchInterval
			}
			fmt.Fprintf(cmd.OutOrStdout(), "watching %s every %s\n", rootOpts.Server, probe)
			return kiosk.NewWatcher(k, probe, drain).Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&probe, "interval", 0, "health probe interval (WATCH_INTERVAL)")
	cmd.Flags().DurationVar(&drain, "drain-interval", kiosk.DefaultDrainInterval, "periodic drain interval")
	return cmd
}
