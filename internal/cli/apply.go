package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/txdict/internal/catalog"
)

// NewApplyCommand creates the apply command.
func NewApplyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <ops.yaml|->",
		Short: "Apply a batch of operations atomically",
		Long: `Apply a YAML list of operations in one transaction.

Either every operation is applied or none is. Each entry names a dictionary,
a kind (add, try_add, update, try_update, remove, try_remove, add_or_update),
a key and optional data:

  - dictionary: users
    kind: add
    key: ada
    data: {name: Ada}
  - dictionary: users
    kind: update
    key: bob
    merge: true
    data: {team: core}`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := readOps(cmd, args[0])
			if err != nil {
				return err
			}

			s, err := opts.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			s.out.VerboseLog("applying %d operations", len(ops))
			results, err := s.catalog.Apply(commandContext(cmd), ops)
			if err != nil {
				return s.out.Fail("batch rolled back", err)
			}
			return s.out.Success(results)
		},
	}
}

func readOps(cmd *cobra.Command, path string) ([]catalog.Op, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open ops file", err)
		}
		defer f.Close()
		r = f
	}
	ops, err := catalog.LoadOps(r)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load ops", err)
	}
	return ops, nil
}
