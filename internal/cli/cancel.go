package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/engine"
)

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <context-id>",
		Short: "Cancel a suspended change context",
		Long: `Cancel a change context that is suspended for approval. Its pending
changes are dropped and it becomes final with status CANCELLED.

Only suspended contexts can be cancelled.

Example:
  tether cancel --db ./tether.db 0192...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCancel(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runCancel(opts *RootOptions, id string, cmd *cobra.Command) error {
	e, err := openEnv(commandContext(cmd), opts, cmd, false)
	if err != nil {
		return err
	}
	defer e.Close()

	return processOne(opts, cmd, e, id, engine.Cancel(id))
}
