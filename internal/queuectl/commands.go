package queuectl

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-pos-orders/internal/queue"
)

type entryView struct {
	ID            string          `json:"id"`
	Type          string          `json:"type,omitempty"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt *time.Time      `json:"nextAttemptAt,omitempty"`
	CreatedAt     *time.Time      `json:"createdAt,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Error         string          `json:"error,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	FailedAt      *time.Time      `json:"failedAt,omitempty"`
}

func viewOf(e queue.Entry) entryView {
	v := entryView{ID: e.Key}
	if e.Err != nil {
		v.Error = e.Err.Error()
		return v
	}
	op := e.Operation
	v.Type = string(op.Kind())
	v.Attempts = op.Attempts
	v.NextAttemptAt = &op.NextAttemptAt
	v.CreatedAt = &op.CreatedAt
	if u, ok := op.Payload.(queue.Unknown); ok {
		v.Payload = u.Raw
	} else if b, err := json.Marshal(op.Payload); err == nil {
		v.Payload = b
	}
	return v
}

func render(w io.Writer, format string, views []entryView, dead bool) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}
	if len(views) == 0 {
		_, err := fmt.Fprintln(w, "queue is empty")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if dead {
		fmt.Fprintln(tw, "ID\tTYPE\tATTEMPTS\tFAILED AT\tREASON")
	} else {
		fmt.Fprintln(tw, "ID\tTYPE\tATTEMPTS\tNEXT ATTEMPT\tCREATED")
	}
	for _, v := range views {
		if v.Error != "" {
			fmt.Fprintf(tw, "%s\t<corrupted>\t-\t-\t%s\n", v.ID, v.Error)
			continue
		}
		if dead {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", v.ID, v.Type, v.Attempts, stamp(v.FailedAt), v.Reason)
		} else {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", v.ID, v.Type, v.Attempts, stamp(v.NextAttemptAt), stamp(v.CreatedAt))
		}
	}
	return tw.Flush()
}

func stamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func newListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every queued operation, due or not",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := opts.open()
			if err != nil {
				return err
			}
			defer q.Close()

			entries, err := q.Entries(cmd.Context())
			if err != nil {
				return &ExitError{Code: ExitFailure, Message: "list queue", Err: err}
			}
			views := make([]entryView, 0, len(entries))
			for _, e := range entries {
				views = append(views, viewOf(e))
			}
			sort.SliceStable(views, func(i, j int) bool {
				a, b := views[i].CreatedAt, views[j].CreatedAt
				if a == nil || b == nil {
					return a != nil
				}
				return a.Before(*b)
			})
			return render(cmd.OutOrStdout(), opts.Format, views, false)
		},
	}
}

func newRemoveCommand(opts *RootOptions) *cobra.Command {
	var dead bool
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Drop one operation without applying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := opts.open()
			if err != nil {
				return err
			}
			defer q.Close()

			del := q.Delete
			if dead {
				del = q.DeleteDeadLetter
			}
			ok, err := del(cmd.Context(), args[0])
			if err != nil {
				return &ExitError{Code: ExitFailure, Message: "remove " + args[0], Err: err}
			}
			if !ok {
				return &ExitError{Code: ExitFailure, Message: "no operation " + args[0]}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&dead, "dead-letter", false, "remove from the dead-letter table instead")
	return cmd
}

func newClearCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every queued operation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return &ExitError{Code: ExitCommandError, Message: "refusing to clear the queue without --yes"}
			}
			q, err := opts.open()
			if err != nil {
				return err
			}
			defer q.Close()

			n, err := q.Clear(cmd.Context())
			if err != nil {
				return &ExitError{Code: ExitFailure, Message: "clear queue", Err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d operations\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

func newDeadLettersCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dead-letters",
		Short: "List operations that failed permanently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := opts.open()
			if err != nil {
				return err
			}
			defer q.Close()

			dls, err := q.DeadLetters(cmd.Context())
			if err != nil {
				return &ExitError{Code: ExitFailure, Message: "list dead letters", Err: err}
			}
			views := make([]entryView, 0, len(dls))
			for _, d := range dls {
				v := viewOf(d.Entry)
				v.Reason = d.Reason
				failed := d.FailedAt
				v.FailedAt = &failed
				views = append(views, v)
			}
			return render(cmd.OutOrStdout(), opts.Format, views, true)
		},
	}
}
