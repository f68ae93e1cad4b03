package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/model"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Phase  string
	Status string
}

// ContextEntry is one row of the list output.
type ContextEntry struct {
	ID     string `json:"id"`
	Seq    int64  `json:"seq"`
	Phase  string `json:"phase"`
	Status string `json:"status"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored change contexts",
		Long: `List the change contexts stored in the database in the order they
were last saved.

Examples:
  tether list --db ./tether.db
  tether list --db ./tether.db --status suspended
  tether list --db ./tether.db --phase FINAL --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Phase, "phase", "", "only contexts in this phase (INITIAL, FOCUS, PROJECTION, EXECUTION, FINAL)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "only contexts with this status (suspended, pending, SUCCESS, PARTIAL, FATAL, CANCELLED)")

	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	phase := model.Phase(strings.ToUpper(opts.Phase))
	if phase != "" && !phase.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown phase %q", opts.Phase))
	}

	ctx := commandContext(cmd)
	e, err := openEnv(ctx, opts.RootOptions, cmd, false)
	if err != nil {
		return err
	}
	defer e.Close()

	records, err := e.engine.List(ctx, phase)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list contexts", err)
	}

	entries := make([]ContextEntry, 0, len(records))
	for _, rec := range records {
		if opts.Status != "" && !strings.EqualFold(rec.Status, opts.Status) {
			continue
		}
		entries = append(entries, ContextEntry{ID: rec.ID, Seq: rec.Seq, Phase: rec.Phase, Status: rec.Status})
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(entries)
	}

	w := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(w, "No contexts found.")
		return nil
	}
	for _, en := range entries {
		id := en.ID
		if !opts.Verbose {
			id = truncateID(id)
		}
		fmt.Fprintf(w, "%-19s %6d  %-10s %s\n", id, en.Seq, en.Phase, en.Status)
	}
	fmt.Fprintf(w, "\n%d context(s)\n", len(entries))
	return nil
}
