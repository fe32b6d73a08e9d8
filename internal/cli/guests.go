package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tomochart/guestlist/internal/guest"
	"github.com/tomochart/guestlist/internal/mutation"
)

type FilterOptions struct {
	Query       string
	Department  string
	Responsible string
}

func (f *FilterOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.Query, "query", "q", "", "server-side text filter")
	cmd.Flags().StringVar(&f.Department, "department", "", "only this department")
	cmd.Flags().StringVar(&f.Responsible, "responsible", "", "only guests of this responsible person")
}

func (f *FilterOptions) filter() guest.Filter {
	return guest.Filter{Query: f.Query, Department: f.Department, Responsible: f.Responsible}
}

type ListResult struct {
	Records []guest.Record `json:"records"`
	Metrics *guest.Metrics `json:"stats,omitempty"`
	More    bool           `json:"more"`
}

func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		filter FilterOptions
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List guests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			k, err := rootOpts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer k.Close()

			if _, err := k.Load(ctx, filter.filter()); err != nil {
				return err
			}
			if all {
				if err := k.Window.LoadAll(ctx); err != nil {
					return err
				}
			}

			res := ListResult{Records: k.Window.Records(), More: k.Window.HasMore()}
			if m, ok := k.Window.Metrics(); ok {
				res.Metrics = &m
			}
			if rootOpts.Format == "json" {
				return rootOpts.emitJSON(cmd, res)
			}
			writeRecords(cmd.OutOrStdout(), res.Records)
			if res.Metrics != nil {
				writeMetrics(cmd.OutOrStdout(), *res.Metrics)
			}
			if res.More {
				fmt.Fprintln(cmd.OutOrStdout(), "more guests available, use --all")
			}
			return nil
		},
	}
	filter.bind(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "follow cursors until the list is complete")
	return cmd
}

func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	var filter FilterOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Fuzzy search the loaded guest list",
		Long: `Load every guest matching the filters, then rank them against the query.
Accents, case and small typos are ignored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			k, err := rootOpts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer k.Close()

			if err := k.LoadAll(ctx, filter.filter()); err != nil {
				return err
			}
			hits := k.Search(args[0])
			if rootOpts.Format == "json" {
				return rootOpts.emitJSON(cmd, hits)
			}
			writeRecords(cmd.OutOrStdout(), hits)
			return nil
		},
	}
	filter.bind(cmd)
	return cmd
}

func NewCheckInCommand(rootOpts *RootOptions) *cobra.Command {
	var guestIn, plusOneIn bool

	cmd := &cobra.Command{
		Use:   "checkin <record-id>",
		Short: "Set the check-in flags of a guest",
		Long: `Set the check-in flags of a guest. Without flags the guest is checked in.

Examples:
  kiosk checkin recA1b2c3
  kiosk checkin recA1b2c3 --plus-one
  kiosk checkin recA1b2c3 --guest=false --plus-one=false`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u guest.CheckInUpdate
			if cmd.Flags().Changed("guest") {
				u.Guest = &guestIn
			}
			if cmd.Flags().Changed("plus-one") {
				u.PlusOne = &plusOneIn
			}
			if u.Guest == nil && u.PlusOne == nil {
				on := true
				u.Guest = &on
			}

			ctx := cmd.Context()
			k, err := rootOpts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer k.Close()

			if err := k.LoadAll(ctx, guest.Filter{}); err != nil {
				return err
			}
			res, err := k.CheckIn(ctx, args[0], u)
			if err != nil {
				return err
			}
			return rootOpts.writeResult(cmd, res)
		},
	}
	cmd.Flags().BoolVar(&guestIn, "guest", true, "guest has arrived")
	cmd.Flags().BoolVar(&plusOneIn, "plus-one", true, "companion has arrived")
	return cmd
}

func NewGiftCommand(rootOpts *RootOptions) *cobra.Command {
	var undo bool

	cmd := &cobra.Command{
		Use:   "gift <record-id>",
		Short: "Mark the gift of a guest as handed out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			k, err := rootOpts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer k.Close()

			if err := k.LoadAll(ctx, guest.Filter{}); err != nil {
				return err
			}
			res, err := k.Gift(ctx, args[0], !undo)
			if err != nil {
				return err
			}
			return rootOpts.writeResult(cmd, res)
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "take the gift back")
	return cmd
}

func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	var g guest.NewGuest

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a walk-in guest",
		Long: `Add a guest to the list. Needs a connection: additions are never queued
because replaying one would add the guest twice.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			k, err := rootOpts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer k.Close()

			id, err := k.API.CreateGuest(ctx, g)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.emitJSON(cmd, map[string]string{"id": id})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&g.Guest, "guest", "", "guest name (required)")
	cmd.Flags().StringVar(&g.PlusOne, "plus-one", "", "companion name")
	cmd.Flags().StringVar(&g.Company, "company", "", "company")
	cmd.Flags().StringVar(&g.Department, "department", "", "department")
	cmd.Flags().StringVar(&g.Responsible, "responsible", "", "responsible person")
	_ = cmd.MarkFlagRequired("guest")
	return cmd
}

func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var filter FilterOptions

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Recount arrivals and gifts on the server (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			k, err := rootOpts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer k.Close()

			m, err := k.API.Stats(ctx, filter.filter())
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.emitJSON(cmd, m)
			}
			writeMetrics(cmd.OutOrStdout(), m)
			return nil
		},
	}
	filter.bind(cmd)
	return cmd
}

func (o *RootOptions) writeResult(cmd *cobra.Command, res mutation.Result) error {
	if o.Format == "json" {
		return o.emitJSON(cmd, res.Record)
	}
	w := cmd.OutOrStdout()
	if res.Queued {
		fmt.Fprintln(w, "server unreachable, change queued")
	}
	if res.Record != nil {
		writeRecords(w, []guest.Record{*res.Record})
	}
	return nil
}

func writeRecords(out io.Writer, records []guest.Record) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tGUEST\tPLUS ONE\tDEPARTMENT\tIN\tPLUS ONE IN\tGIFT")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Guest, r.PlusOne, r.Department, mark(r.GuestCheckIn), mark(r.PlusOneCheckIn), mark(r.GiftReceived))
	}
	w.Flush()
}

func writeMetrics(w io.Writer, m guest.Metrics) {
	fmt.Fprintf(w, "arrived %d, gifts %d, invited %d\n", m.Arrived, m.GiftsGiven, m.TotalInvited)
}

func mark(b bool) string {
	if b {
		return "x"
	}
	return "-"
}
