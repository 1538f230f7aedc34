package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire pending payments past their expiry once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.payments.ExpireStale(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d payment(s)\n", n)
			return nil
		},
	}
}

func newRepoolCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repool",
		Short: "Move accounts without an owner back into the pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.allocator.MoveOrphansToPool(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "repooled %d account(s)\n", n)
			return nil
		},
	}
}
