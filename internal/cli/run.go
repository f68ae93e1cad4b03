package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tether/internal/engine"
	"github.com/roach88/tether/internal/harness"
	"github.com/roach88/tether/internal/metrics"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Metrics bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <change-file>...",
		Short: "Submit changes and propagate them",
		Long: `Submit focus changes to the engine and drive each change context
until it is final or suspended for approval.

A change file holds one or more YAML documents:

  change: add            # add, modify or delete
  oid: u1
  attrs:
    name: JDoe
    assignments: [ldap/account/default]
  ---
  change: modify
  oid: u1
  modifications:
    - {op: replace, path: name, values: [JSmith]}

Resources are simulated in the database, so accounts created by one
invocation are visible to the next.

Example:
  tether run --db ./tether.db --resources ./resources change.yaml
  tether run --config tether.toml change.yaml --metrics`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChanges(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print engine metrics to stderr when done")

	return cmd
}

// readChanges decodes every change document of a file.
func readChanges(path string) ([]harness.SubmitStep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read change file: %w", err)
	}

	var changes []harness.SubmitStep
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	for i := 0; ; i++ {
		var step harness.SubmitStep
		err := decoder.Decode(&step)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: document %d: %w", path, i, err)
		}
		if err := step.Validate(); err != nil {
			return nil, fmt.Errorf("%s: document %d: %w", path, i, err)
		}
		changes = append(changes, step)
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("%s: no changes", path)
	}
	return changes, nil
}

func runChanges(opts *RunOptions, files []string, cmd *cobra.Command) error {
	var changes []harness.SubmitStep
	for _, f := range files {
		c, err := readChanges(f)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid change file", err)
		}
		changes = append(changes, c...)
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	e, err := openEnv(ctx, opts.RootOptions, cmd, true)
	if err != nil {
		return err
	}
	defer e.Close()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			e.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	done := make(chan error, 1)
	go func() { done <- e.engine.Run(ctx) }()

	views := make([]ContextView, 0, len(changes))
	var firstErr error
	for _, ch := range changes {
		delta, err := ch.Delta()
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid change", err)
		}
		res, err := e.engine.Do(ctx, engine.Submit(engine.Change{Type: delta.Type, OID: ch.OID, Delta: delta}))
		views = append(views, resultView("", res))
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}

	e.engine.Stop()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	e.logger.Info("engine stopped gracefully")

	if err := writeViews(opts.RootOptions, cmd, views); err != nil {
		return err
	}
	if opts.Metrics {
		if err := metrics.WriteText(cmd.ErrOrStderr(), metrics.NewRegistry()); err != nil {
			return WrapExitError(ExitFailure, "failed to write metrics", err)
		}
	}
	if firstErr != nil {
		return processError(firstErr)
	}
	return nil
}

// writeViews prints context summaries in the configured format.
func writeViews(opts *RootOptions, cmd *cobra.Command, views []ContextView) error {
	if opts.Format == "json" {
		formatter := newFormatter(opts, cmd)
		if len(views) == 1 {
			formatter.ContextID = views[0].ID
		}
		return formatter.Success(views)
	}
	for i, v := range views {
		if i > 0 {
			fmt.Fprintln(cmd.OutOrStdout())
		}
		writeContextText(cmd.OutOrStdout(), v, opts.Verbose)
	}
	return nil
}
