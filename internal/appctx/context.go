// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/basecamp/tokenkit/internal/api"
	"github.com/basecamp/tokenkit/internal/auth"
	"github.com/basecamp/tokenkit/internal/config"
	"github.com/basecamp/tokenkit/internal/observability"
	"github.com/basecamp/tokenkit/internal/output"
	"github.com/basecamp/tokenkit/internal/sdk"
	sdkerrors "github.com/basecamp/tokenkit/internal/sdk/errors"
	"github.com/basecamp/tokenkit/internal/tokenstore"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// App holds the shared application context for all commands.
type App struct {
	Config *config.Config
	Output *output.Writer
	Logger *slog.Logger

	// Set by Connect.
	Store     sdk.TokenStore
	Transport *api.HTTPTransport
	Tokens    *auth.Manager
	Client    *api.Client

	// Observability
	Events    *observability.Dispatcher
	Collector *observability.SessionCollector
	Hooks     *observability.CLIHooks

	// Flags holds the global flag values
	Flags GlobalFlags

	stdout  io.Writer
	stderr  io.Writer
	closers []func() error
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	// Output format flags
	JSON   bool
	Quiet  bool
	Styled bool

	// Configuration flags
	ConfigPath string
	Store      string
	StoreDir   string
	BaseURL    string
	Endpoint   string

	// Behavior flags
	Verbose int // 0=off, 1=token events, 2=token events+requests
	Stats   bool
}

// Overrides returns the flag values that take part in config layering.
func (f GlobalFlags) Overrides() config.FlagOverrides {
	return config.FlagOverrides{
		Store:         f.Store,
		StoreDir:      f.StoreDir,
		BaseURL:       f.BaseURL,
		TokenEndpoint: f.Endpoint,
	}
}

// NewApp creates a new App with the given configuration, writing to the
// process's stdout and stderr. Network and store resources are opened later
// by Connect.
func NewApp(cfg *config.Config) *App {
	return NewAppWithWriters(cfg, os.Stdout, os.Stderr)
}

// NewAppWithWriters is NewApp with explicit output streams. Results go to
// stdout; traces, debug logs and stats go to stderr.
func NewAppWithWriters(cfg *config.Config, stdout, stderr io.Writer) *App {
	// Collector always runs to gather stats; hooks control output verbosity.
	// Level 0 initially; ApplyFlags sets the actual level from -v flags.
	events := observability.NewDispatcher()
	collector := observability.NewSessionCollector()
	hooks := observability.NewCLIHooks(0, collector, observability.NewTraceWriterTo(stderr))
	events.Subscribe(hooks.Observe)

	return &App{
		Config:    cfg,
		Output:    output.New(output.Options{Format: output.FormatAuto, Writer: stdout}),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Events:    events,
		Collector: collector,
		Hooks:     hooks,
		stdout:    stdout,
		stderr:    stderr,
	}
}

// ApplyFlags applies global flag values to the app configuration.
func (a *App) ApplyFlags() {
	switch {
	case a.Flags.Quiet:
		a.Output = output.New(output.Options{Format: output.FormatQuiet, Writer: a.stdout})
	case a.Flags.JSON:
		a.Output = output.New(output.Options{Format: output.FormatJSON, Writer: a.stdout})
	case a.Flags.Styled:
		a.Output = output.New(output.Options{Format: output.FormatStyled, Writer: a.stdout})
	}

	level := a.VerboseLevel()
	a.Hooks.SetLevel(level)

	if level > 0 {
		a.Logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
}

// VerboseLevel combines -v flags with TOKENKIT_DEBUG ("1", "2" or "true").
func (a *App) VerboseLevel() int {
	level := a.Flags.Verbose
	if debugEnv := os.Getenv("TOKENKIT_DEBUG"); debugEnv != "" {
		if n, err := strconv.Atoi(debugEnv); err == nil {
			level = max(level, n)
		} else if debugEnv == "true" {
			level = 2
		}
	}
	return level
}

// Connect opens the token store and builds the transport, token manager and
// client. It is idempotent.
func (a *App) Connect(ctx context.Context) error {
	if a.Client != nil {
		return nil
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	cfg := a.Config
	transport := api.NewHTTPTransport(cfg.HTTP.BaseURL, cfg.Timeout())
	tokens := auth.NewManager(cfg.Provider(), store, transport,
		auth.WithPrefix(cfg.Cache.Prefix),
		auth.WithDefaultLifetime(cfg.Token.DefaultLifetime),
		auth.WithLogger(a.Logger),
		auth.WithDispatcher(a.Events),
	)
	client := api.NewClient(transport,
		api.WithTokenManager(tokens),
		api.WithMaxRetries(cfg.HTTP.MaxRetries),
		api.WithRetryDelay(cfg.RetryDelay()),
		api.WithBodyFormat(cfg.BodyFormat()),
		api.WithLogger(a.Logger),
		api.WithHooks(a.Hooks),
		api.WithDispatcher(a.Events),
	)

	a.Store = store
	a.Transport = transport
	a.Tokens = tokens
	a.Client = client
	return nil
}

func (a *App) openStore(ctx context.Context) (sdk.TokenStore, error) {
	cfg := a.Config
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return tokenstore.NewMemory(), nil
	case config.BackendFile, "":
		return tokenstore.NewFile(cfg.Store.Dir), nil
	case config.BackendKeyring:
		if !tokenstore.KeyringAvailable("") {
			fmt.Fprintln(a.stderr, "warning: system keyring unavailable, storing tokens in files")
			return tokenstore.NewFile(cfg.Store.Dir), nil
		}
		return tokenstore.NewKeyring(""), nil
	case config.BackendRedis:
		r, err := tokenstore.DialRedis(ctx, tokenstore.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, sdkerrors.ErrCache("cannot open redis token store", err)
		}
		a.closers = append(a.closers, r.Close)
		return r, nil
	default:
		return nil, sdkerrors.ErrConfig(fmt.Sprintf("unknown store backend %q", cfg.Store.Backend))
	}
}

// Close releases resources opened by Connect.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OK outputs a success response, automatically including stats if --stats flag is set.
func (a *App) OK(data any, opts ...output.ResponseOption) error {
	if a.Flags.Stats && a.Collector != nil {
		stats := a.Collector.Summary()
		opts = append(opts, output.WithStats(&stats))
	}
	return a.Output.OK(data, opts...)
}

// Err outputs an error response, printing stats to stderr if --stats flag is set.
func (a *App) Err(err error) error {
	if outputErr := a.Output.Err(err); outputErr != nil {
		return outputErr
	}

	// Quiet output is for programmatic consumption; keep stderr clean too.
	if a.Flags.Stats && a.Collector != nil && !a.isMachineOutput() {
		stats := a.Collector.Summary()
		a.printStatsToStderr(&stats)
	}
	return nil
}

func (a *App) isMachineOutput() bool {
	return a.Flags.Quiet
}

// printStatsToStderr outputs a compact stats line to stderr.
func (a *App) printStatsToStderr(stats *observability.SessionMetrics) {
	if stats == nil {
		return
	}
	if parts := stats.FormatParts(); len(parts) > 0 {
		fmt.Fprintf(a.stderr, "\nStats: %s\n", strings.Join(parts, " | "))
	}
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
