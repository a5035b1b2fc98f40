package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/txdict/internal/catalog"
	"github.com/roach88/txdict/internal/config"
	"github.com/roach88/txdict/internal/txdict"
)

// ValidationError is one problem found by validate.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Index   *int   `json:"index,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid        bool              `json:"valid"`
	Dictionaries []string          `json:"dictionaries"`
	Ops          int               `json:"ops"`
	Errors       []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [ops-file...]",
		Short: "Validate configuration and op files without touching the backend",
		Long: `Validate the configuration against its schema and check op files
against the configured dictionaries.

Nothing is opened or written. Faster than apply for development feedback.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := opts.loadConfig()
	if err != nil {
		code := "ERROR"
		if errors.Is(err, config.ErrInvalid) {
			code = string(txdict.ErrCodeInvalid)
		}
		_ = formatter.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	formatter.VerboseLog("Configuration valid: %s backend, %d dictionaries", cfg.Backend.Driver, len(cfg.Dictionaries))

	result := ValidationResult{Valid: true, Dictionaries: cfg.Dictionaries}
	for _, file := range files {
		ops, errs := validateOpsFile(file, cfg.Dictionaries)
		result.Ops += ops
		result.Errors = append(result.Errors, errs...)
		formatter.VerboseLog("Checked %d op(s) in %s", ops, file)
	}

	if len(result.Errors) > 0 {
		result.Valid = false
		return outputValidationErrors(formatter, result)
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Configuration valid (%d dictionaries, %d ops checked)\n", len(result.Dictionaries), result.Ops)
	return nil
}

// validateOpsFile loads one op file and checks every op against the
// dictionary list. It returns the number of ops read.
func validateOpsFile(path string, dictionaries []string) (int, []ValidationError) {
	f, err := os.Open(path)
	if err != nil {
		return 0, []ValidationError{{File: path, Code: "ERROR", Message: err.Error()}}
	}
	defer f.Close()

	ops, err := catalog.LoadOps(f)
	if err != nil {
		return 0, []ValidationError{{File: path, Code: string(txdict.ErrCodeInvalid), Message: err.Error()}}
	}

	var errs []ValidationError
	for i, op := range ops {
		if msg := checkOp(op, dictionaries); msg != "" {
			idx := i
			errs = append(errs, ValidationError{File: path, Index: &idx, Code: string(txdict.ErrCodeInvalid), Message: msg})
		}
	}
	return len(ops), errs
}

// mergeKinds are the kinds whose update path honours Op.Merge.
var mergeKinds = []txdict.Kind{txdict.KindUpdate, txdict.KindTryUpdate, txdict.KindAddOrUpdate}

// checkOp mirrors the checks Apply makes before queueing an op.
func checkOp(op catalog.Op, dictionaries []string) string {
	if !slices.Contains(dictionaries, op.Dictionary) {
		return fmt.Sprintf("unknown dictionary %q", op.Dictionary)
	}
	switch op.Kind {
	case txdict.KindAdd, txdict.KindTryAdd:
	case txdict.KindUpdate, txdict.KindTryUpdate, txdict.KindRemove, txdict.KindTryRemove, txdict.KindAddOrUpdate:
		if op.Key == "" {
			return fmt.Sprintf("%s: key is required", op.Kind)
		}
	default:
		return fmt.Sprintf("unsupported kind %s", op.Kind)
	}
	if op.Merge && !slices.Contains(mergeKinds, op.Kind) {
		return fmt.Sprintf("%s: merge does not apply", op.Kind)
	}
	return ""
}

// outputValidationErrors outputs every problem found.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		if e.Index != nil {
			fmt.Fprintf(formatter.Writer, "%s: op %d\n", e.File, *e.Index)
		} else {
			fmt.Fprintf(formatter.Writer, "%s\n", e.File)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", e.Code, e.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
