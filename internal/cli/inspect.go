package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/model"
)

// InspectResult is the inspect output: the summary plus, with --verbose,
// the executed deltas.
type InspectResult struct {
	Context  ContextView     `json:"context"`
	Executed []ExecutedEntry `json:"executed,omitempty"`
}

// ExecutedEntry is one attempted delta, on the focus or a projection.
type ExecutedEntry struct {
	Seq     int64  `json:"seq"`
	Target  string `json:"target"`
	Change  string `json:"change"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <context-id>",
		Short: "Show a stored change context",
		Long: `Show the phase, status and projections of a stored change context.

With --verbose the executed deltas are listed in the order they were
attempted.

Examples:
  tether inspect --db ./tether.db 0192...
  tether inspect --db ./tether.db 0192... --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runInspect(opts *RootOptions, id string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	e, err := openEnv(ctx, opts, cmd, false)
	if err != nil {
		return err
	}
	defer e.Close()

	formatter := newFormatter(opts, cmd)
	formatter.ContextID = id

	c, err := e.engine.Load(ctx, id)
	if err != nil {
		_ = formatter.Error(errorCode(err), err.Error(), nil)
		return processError(err)
	}

	result := InspectResult{Context: newContextView(c)}
	if opts.Verbose {
		result.Executed = executedEntries(c)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	writeContextText(w, result.Context, opts.Verbose)
	if len(result.Executed) > 0 {
		writeExecuted(w, result.Executed)
	}
	return nil
}

// executedEntries merges the focus and projection records by seq.
func executedEntries(c *model.Context) []ExecutedEntry {
	var out []ExecutedEntry
	add := func(target string, records []model.ExecutedDelta) {
		for _, r := range records {
			e := ExecutedEntry{
				Seq:     r.Seq,
				Target:  target,
				Status:  string(r.Result.Status),
				Message: r.Result.Message,
			}
			if r.Delta != nil {
				e.Change = string(r.Delta.ChangeType)
			}
			out = append(out, e)
		}
	}
	if c.Focus != nil {
		add("focus", c.Focus.Executed)
	}
	for _, p := range c.Projections {
		add(p.Key(), p.Executed)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func writeExecuted(w io.Writer, entries []ExecutedEntry) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Executed ===")
	for _, e := range entries {
		fmt.Fprintf(w, "  [%d] %s %s %s\n", e.Seq, e.Target, e.Change, e.Status)
		if e.Message != "" {
			fmt.Fprintf(w, "       %s\n", e.Message)
		}
	}
}
