package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"payment-reconciliation-engine/internal/services/extraction"
)

func newIngestCommand(opts *rootOptions) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "ingest <emails.jsonl>",
		Short: "Process a JSON-lines file of bank notification emails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer f.Close()
			emails, err := extraction.ReadJSONL(f)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()
			if workers <= 0 {
				workers = a.cfg.Ingest.Workers
			}

			batch, err := a.reconciliation.ProcessBatch(cmd.Context(), filepath.Base(args[0]), emails, workers)
			if batch != nil {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "batch %s: %s emails processed\n", batch.ID, humanize.Comma(int64(batch.Processed)))
				fmt.Fprintf(out, "  matched:    %s\n", humanize.Comma(int64(batch.Matched)))
				fmt.Fprintf(out, "  unmatched:  %s\n", humanize.Comma(int64(batch.Unmatched)))
				fmt.Fprintf(out, "  duplicates: %s\n", humanize.Comma(int64(batch.Duplicates)))
				fmt.Fprintf(out, "  failed:     %s\n", humanize.Comma(int64(batch.Failed)))
				fmt.Fprintf(out, "  errors:     %s\n", humanize.Comma(int64(batch.Errors)))
			}
			return err
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent workers (default from config)")
	return cmd
}
