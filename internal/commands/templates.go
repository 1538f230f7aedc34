package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTemplatesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage bank email templates",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <templates.yaml>",
		Short: "Create or update templates from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.importTemplates(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.reloadTemplates(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d template(s), %d active\n", n, a.templates.Registry().Len())
			return nil
		},
	}, &cobra.Command{
		Use:   "list",
		Short: "List active templates in lookup order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			for _, t := range a.templates.Registry().Templates() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s priority=%-3d email=%s domain=%s\n",
					t.Name(), t.Model.Priority, t.Model.SenderEmail, t.Model.SenderDomain)
			}
			return nil
		},
	})
	return cmd
}
