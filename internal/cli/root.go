// Package cli is the kiosk command line: listing, searching and toggling
// guests against the API, plus inspection of the offline retry queue.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tomochart/guestlist/internal/auth"
	"github.com/tomochart/guestlist/internal/config"
	"github.com/tomochart/guestlist/internal/kiosk"
)

var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags. Unset flags fall back to the config.
type RootOptions struct {
	Format    string
	Server    string
	Role      string
	PIN       string
	QueuePath string
	Timeout   time.Duration

	cfg *config.Config
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "kiosk",
		Short: "Guest check-in kiosk",
		Long: `Check guests in at the door and hand out gifts.

Writes that cannot reach the server are kept in a local queue and replayed
when the connection comes back.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", "", "API base url (KIOSK_SERVER_URL)")
	cmd.PersistentFlags().StringVar(&opts.Role, "role", "", "session role, kiosk or admin (KIOSK_ROLE)")
	cmd.PersistentFlags().StringVar(&opts.PIN, "pin", "", "PIN for the role (KIOSK_PIN or ADMIN_PIN)")
	cmd.PersistentFlags().StringVar(&opts.QueuePath, "queue", "", "retry queue database (QUEUE_DB_PATH)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 0, "request timeout (KIOSK_TIMEOUT)")

	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewCheckInCommand(opts))
	cmd.AddCommand(NewGiftCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func (o *RootOptions) resolve(cmd *cobra.Command) error {
	if !isValidFormat(o.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", o.Format, ValidFormats)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	o.cfg = cfg

	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	log.SetOutput(cmd.ErrOrStderr())
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	if o.Server == "" {
		o.Server = cfg.KioskServerURL
	}
	if o.Role == "" {
		o.Role = cfg.KioskRole
	}
	if o.PIN == "" {
		if o.Role == string(auth.RoleAdmin) {
			o.PIN = cfg.AdminPIN
		} else {
			o.PIN = cfg.KioskPIN
		}
	}
	if o.QueuePath == "" {
		o.QueuePath = cfg.QueueDBPath
	}
	if o.Timeout <= 0 {
		o.Timeout = cfg.KioskTimeout
	}
	return nil
}

func (o *RootOptions) open(ctx context.Context, notify io.Writer) (*kiosk.Kiosk, error) {
	return kiosk.Open(ctx, kiosk.Config{
		BaseURL:    o.Server,
		Role:       auth.Role(o.Role),
		PIN:        o.PIN,
		Timeout:    o.Timeout,
		QueuePath:  o.QueuePath,
		MaxRetries: o.cfg.QueueMaxRetries,
		PageSize:   o.cfg.PageSize,
		Notify: func(err error) {
			fmt.Fprintln(notify, "warning:", err)
		},
	})
}

func (o *RootOptions) emitJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
