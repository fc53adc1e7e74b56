// Package queuectl is the operator command line for the write queue: list
// pending operations, drop one, clear the log and inspect dead letters.
package queuectl

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-pos-orders/internal/queue"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	QueuePath string
	Format    string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

func NewRootCommand(defaultPath string) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "queuectl",
		Short:         "Inspect and repair the POS write queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats)}
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.QueuePath, "queue", defaultPath, "path to the queue database")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newRemoveCommand(opts))
	cmd.AddCommand(newClearCommand(opts))
	cmd.AddCommand(newDeadLettersCommand(opts))
	return cmd
}

func (o *RootOptions) open() (*queue.Queue, error) {
	q := queue.New(nil, nil)
	if err := q.Open(o.QueuePath); err != nil {
		return nil, &ExitError{Code: ExitCommandError, Message: "open queue " + o.QueuePath, Err: err}
	}
	return q, nil
}
