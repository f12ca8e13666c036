package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewDrawCommand creates the draw command.
func NewDrawCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "draw <event-id>",
		Short: "Run the random draw for one event now",
		Long: `Run the random draw for one event whose registration has ended and
print the result as JSON. Drawing an event twice is a no-op reported as
"already_drawn": true.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			a, err := newApp(ctx, rootOpts.Config)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.draws.Draw(ctx, args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Draw every event whose registration has ended, once, and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			a, err := newApp(ctx, rootOpts.Config)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.trigger.SweepOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "drew %d event(s)\n", n)
			return nil
		},
	}
}
