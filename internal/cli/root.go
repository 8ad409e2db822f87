// Package cli holds the cobra commands of the resort-booking binary.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	CommitSHA = "none"
)

// NewRootCmd assembles the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "resort-booking",
		Short:         "Resort activity bookings over HTTP, WhatsApp and Telegram",
		Version:       Version + " (" + CommitSHA + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServerCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newExpireCmd())
	root.AddCommand(newRemindCmd())
	root.AddCommand(newConsumeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newHashKeyCmd())
	root.AddCommand(newCheckGatewaysCmd())

	return root
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
