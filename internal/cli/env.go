package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/compiler"
	"github.com/roach88/tether/internal/config"
	"github.com/roach88/tether/internal/connector"
	"github.com/roach88/tether/internal/engine"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/store"
)

// env is the runtime shared by the commands that touch the database.
type env struct {
	cfg    config.Config
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return config.Config{}, err
		}
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Resources != "" {
		cfg.Resources = opts.Resources
	}
	return cfg, nil
}

// newLogger writes to w: text by default, JSON with --format json, debug
// level with --verbose.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if opts.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// loadResourceSet compiles the resource definitions directory.
func loadResourceSet(dir string) (*ir.ResourceSet, error) {
	if dir == "" {
		return nil, errors.New("no resources directory: set --resources or resources in the config file")
	}
	loaded, errs := compiler.LoadResources(dir, compiler.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return loaded.ResourceSet()
}

// openEnv opens the database and builds an engine over it. Commands that
// never drive a context pass withResources false.
func openEnv(ctx context.Context, opts *RootOptions, cmd *cobra.Command, withResources bool) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := newLogger(opts, cmd.ErrOrStderr())

	// Without definitions the engine can only load, list and cancel.
	resources, _ := ir.NewResourceSet()
	if withResources {
		logger.Debug("compiling resources", "dir", cfg.Resources)
		if resources, err = loadResourceSet(cfg.Resources); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load resources", err)
		}
		logger.Debug("resources compiled", "count", resources.Len())
	}

	logger.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	// Continue the logical clock where the last invocation left it.
	last, err := st.MaxContextSeq(ctx)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read database", err)
	}

	engineOpts := append(cfg.EngineOptions(),
		engine.WithSequencer(engine.NewClockAt(last)),
		engine.WithLogger(logger),
	)
	var ids engine.IDGenerator = engine.UUIDv7Generator{}
	if opts.IDs != nil {
		ids = opts.IDs
	}
	eng := engine.New(st, connector.NewSQL(st), resources, ids, engineOpts...)

	return &env{cfg: cfg, store: st, engine: eng, logger: logger}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Error("error closing database", "error", err)
	}
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// processError converts an engine error into an exit error. Unknown and
// misaddressed contexts are command errors; everything else is a failure.
func processError(err error) error {
	switch {
	case engine.HasCode(err, engine.ErrCodeUnknownContext),
		engine.HasCode(err, engine.ErrCodeNotSuspended):
		return WrapExitError(ExitCommandError, "event rejected", err)
	default:
		return WrapExitError(ExitFailure, "event failed", err)
	}
}
