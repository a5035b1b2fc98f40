package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/txdict/internal/catalog"
	"github.com/roach88/txdict/internal/txdict"
)

// NewGetCommand creates the get command.
func NewGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <dictionary> <key>",
		Short: "Print one document",
		Example: `  txdict get -d users users ada
  txdict get --format json -d users users ada`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			doc, err := s.catalog.Get(commandContext(cmd), args[0], args[1])
			if err != nil {
				return s.out.Fail("get failed", err)
			}
			return s.out.Success(doc)
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list <dictionary>",
		Short:         "Print every document of a dictionary in key order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			docs, err := s.catalog.List(commandContext(cmd), args[0])
			if err != nil {
				return s.out.Fail("list failed", err)
			}
			return s.out.Success(docs)
		},
	}
}

// writeOptions holds flags shared by the single-document write commands.
type writeOptions struct {
	Data  string
	Try   bool
	Merge bool
}

func (w *writeOptions) data() (map[string]any, error) {
	if w.Data == "" {
		return nil, nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(w.Data), &data); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid --data", err)
	}
	return data, nil
}

// NewAddCommand creates the add command.
func NewAddCommand(opts *RootOptions) *cobra.Command {
	w := &writeOptions{}
	cmd := &cobra.Command{
		Use:   "add <dictionary> [key]",
		Short: "Insert a document",
		Long: `Insert a document. Without a key, a time-ordered UUIDv7 key is generated.

Add fails if the key exists; with --try it reports succeeded=false instead.`,
		Example: `  txdict add -d users users ada --data '{"name":"Ada"}'
  txdict add -d users users --data '{"name":"Anonymous"}'`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := w.data()
			if err != nil {
				return err
			}
			op := catalog.Op{Dictionary: args[0], Kind: txdict.KindAdd, Data: data}
			if len(args) == 2 {
				op.Key = args[1]
			}
			if w.Try {
				op.Kind = txdict.KindTryAdd
			}
			return applyOne(cmd, opts, op)
		},
	}
	cmd.Flags().StringVar(&w.Data, "data", "", "document data as a JSON object")
	cmd.Flags().BoolVar(&w.Try, "try", false, "report an existing key instead of failing")
	return cmd
}

// NewPutCommand creates the put command.
func NewPutCommand(opts *RootOptions) *cobra.Command {
	w := &writeOptions{}
	cmd := &cobra.Command{
		Use:   "put <dictionary> <key>",
		Short: "Replace or insert a document",
		Long: `Replace the document under key, inserting it if absent.

With --merge the data is merged into the existing document instead and the
key must exist; null values remove fields.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := w.data()
			if err != nil {
				return err
			}
			op := catalog.Op{Dictionary: args[0], Kind: txdict.KindAddOrUpdate, Key: args[1], Data: data}
			if w.Merge {
				op.Kind = txdict.KindUpdate
				op.Merge = true
				if w.Try {
					op.Kind = txdict.KindTryUpdate
				}
			}
			return applyOne(cmd, opts, op)
		},
	}
	cmd.Flags().StringVar(&w.Data, "data", "", "document data as a JSON object")
	cmd.Flags().BoolVar(&w.Merge, "merge", false, "merge into the existing document")
	cmd.Flags().BoolVar(&w.Try, "try", false, "with --merge, skip a missing key instead of failing")
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	w := &writeOptions{}
	cmd := &cobra.Command{
		Use:           "delete <dictionary> <key>",
		Aliases:       []string{"rm"},
		Short:         "Remove a document",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			op := catalog.Op{Dictionary: args[0], Kind: txdict.KindRemove, Key: args[1]}
			if w.Try {
				op.Kind = txdict.KindTryRemove
			}
			return applyOne(cmd, opts, op)
		},
	}
	cmd.Flags().BoolVar(&w.Try, "try", false, "skip a missing key instead of failing")
	return cmd
}

func applyOne(cmd *cobra.Command, opts *RootOptions, op catalog.Op) error {
	s, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	results, err := s.catalog.Apply(commandContext(cmd), []catalog.Op{op})
	if err != nil {
		return s.out.Fail(fmt.Sprintf("%s failed", op.Kind), err)
	}
	return s.out.Success(results[0])
}
