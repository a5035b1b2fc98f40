package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "migrate",
		Short:         "Create the tables of the configured dictionaries",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.catalog.Migrate(commandContext(cmd)); err != nil {
				return WrapExitError(ExitCommandError, "migration failed", err)
			}
			names := s.catalog.Database().Tables()
			if s.out.Format == "json" {
				return s.out.Success(map[string]any{"tables": names})
			}
			return s.out.Success(fmt.Sprintf("prepared %d tables on %s", len(names), s.cfg.Backend.Driver))
		},
	}
}
