package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/engine"
)

// ResumeOptions holds flags for the resume command.
type ResumeOptions struct {
	*RootOptions
	Approve bool
	Reject  bool
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResumeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resume <context-id>",
		Short: "Resume a stored change context",
		Long: `Resume a change context stored in the database.

A context suspended for approval needs --approve or --reject. Rejecting
cancels it. Without a decision, a context interrupted before it became
final or suspended continues where it left off, within its click quota.

Examples:
  tether resume --db ./tether.db --resources ./resources 0192... --approve
  tether resume --config tether.toml 0192... --reject`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Approve, "approve", false, "approve the pending changes")
	cmd.Flags().BoolVar(&opts.Reject, "reject", false, "reject the pending changes and cancel the context")
	cmd.MarkFlagsMutuallyExclusive("approve", "reject")

	return cmd
}

func (o *ResumeOptions) decision() engine.Decision {
	switch {
	case o.Approve:
		return engine.DecisionApprove
	case o.Reject:
		return engine.DecisionReject
	default:
		return engine.DecisionNone
	}
}

func runResume(opts *ResumeOptions, id string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	e, err := openEnv(ctx, opts.RootOptions, cmd, true)
	if err != nil {
		return err
	}
	defer e.Close()

	return processOne(opts.RootOptions, cmd, e, id, engine.Resume(id, opts.decision()))
}

// processOne handles a single event synchronously and prints the context.
func processOne(opts *RootOptions, cmd *cobra.Command, e *env, id string, ev engine.Event) error {
	res, err := e.engine.Process(commandContext(cmd), ev)
	view := resultView(id, res)

	if res.Context == nil && err != nil {
		formatter := newFormatter(opts, cmd)
		formatter.ContextID = id
		_ = formatter.Error(errorCode(err), err.Error(), nil)
		return processError(err)
	}
	if err := writeViews(opts, cmd, []ContextView{view}); err != nil {
		return err
	}
	if err != nil {
		return processError(err)
	}
	return nil
}

// errorCode is the runtime error code of err, or E001.
func errorCode(err error) string {
	for _, code := range []engine.RuntimeErrorCode{
		engine.ErrCodeUnknownContext,
		engine.ErrCodeNotSuspended,
		engine.ErrCodeQuotaExceeded,
		engine.ErrCodeInvalidChange,
		engine.ErrCodeStopped,
	} {
		if engine.HasCode(err, code) {
			return string(code)
		}
	}
	return fmt.Sprintf("E%03d", 1)
}
