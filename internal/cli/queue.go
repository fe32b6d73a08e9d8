package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomochart/guestlist/internal/queue"
)

func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and replay the offline retry queue",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueDrainCommand(rootOpts))
	cmd.AddCommand(newQueueDeadCommand(rootOpts))
	return cmd
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show writes waiting for a replay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Read the store directly: opening the kiosk would drain it.
			st, err := queue.NewBoltStore(rootOpts.QueuePath)
			if err != nil {
				return err
			}
			defer st.Close()

			items, err := st.Load(cmd.Context())
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.emitJSON(cmd, items)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMETHOD\tURL\tRETRIES\tQUEUED AT")
			for _, it := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", it.ID, it.Method, it.URL, it.Retries, it.EnqueuedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newQueueDrainCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Log in and replay queued writes now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			k, err := rootOpts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer k.Close()

			// Open already drained once when the server was reachable.
			report, err := k.Queue.Drain(ctx)
			if err != nil {
				return err
			}
			pending, err := k.Queue.Pending(ctx)
			if err != nil {
				return err
			}

			out := struct {
				Online  bool `json:"online"`
				Pending int  `json:"pending"`
				queue.DrainReport
			}{k.Online(), len(pending), report}
			if rootOpts.Format == "json" {
				return rootOpts.emitJSON(cmd, out)
			}
			if !out.Online {
				fmt.Fprintln(cmd.OutOrStdout(), "server unreachable")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "delivered %d, retried %d, dropped %d, pending %d\n",
				report.Delivered, report.Retried, report.Dropped, out.Pending)
			return nil
		},
	}
}

func newQueueDeadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dead",
		Short: "Show writes the queue gave up on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := queue.NewBoltStore(rootOpts.QueuePath)
			if err != nil {
				return err
			}
			defer st.Close()

			dead, err := st.Dead(cmd.Context())
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.emitJSON(cmd, dead)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tURL\tREASON\tSTATUS\tDROPPED AT")
			for _, d := range dead {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", d.Item.ID, d.Item.URL, d.Reason, d.LastStatus, d.DroppedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}
