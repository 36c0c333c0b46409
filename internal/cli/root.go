// Package cli wires the tokenkit root command.
package cli

import (
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/basecamp/tokenkit/internal/appctx"
	"github.com/basecamp/tokenkit/internal/commands"
	"github.com/basecamp/tokenkit/internal/config"
	"github.com/basecamp/tokenkit/internal/output"
	"github.com/basecamp/tokenkit/internal/version"
)

// NewRootCmd creates the root cobra command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags

	cmd := &cobra.Command{
		Use:           "tokenkit",
		Short:         "Access token manager and authenticated request runner",
		Long:          "tokenkit fetches, caches and refreshes API access tokens, and sends requests that carry them.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip setup for help and version commands
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}

			cfg, err := config.Load(flags.ConfigPath, flags.Overrides())
			if err != nil {
				return err
			}

			app := appctx.NewAppWithWriters(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
			app.Flags = flags
			app.ApplyFlags()

			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app := appctx.FromContext(cmd.Context()); app != nil {
				return app.Close()
			}
			return nil
		},
	}

	// Allow flags anywhere in the command line
	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)
	cmd.SetGlobalNormalizationFunc(normalizeFlagName)
	cmd.SetVersionTemplate(version.Full() + "\n")

	// Output format flags
	cmd.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "Output as JSON")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Output data only, no envelope")
	cmd.PersistentFlags().BoolVar(&flags.Styled, "styled", false, "Force styled output (ANSI colors)")

	// Configuration flags
	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "Config file (JSON or YAML)")
	cmd.PersistentFlags().StringVar(&flags.Store, "store", "", "Token store: memory, file, keyring or redis")
	cmd.PersistentFlags().StringVar(&flags.StoreDir, "store-dir", "", "Directory for the file token store")
	cmd.PersistentFlags().StringVar(&flags.BaseURL, "base-url", "", "API base URL (e.g., api.example.com, localhost:3000)")
	cmd.PersistentFlags().StringVar(&flags.Endpoint, "endpoint", "", "Token endpoint URL")

	// Behavior flags
	cmd.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "Verbose output (-v for token events, -vv for requests)")
	cmd.PersistentFlags().BoolVar(&flags.Stats, "stats", false, "Show session statistics")

	_ = cmd.RegisterFlagCompletionFunc("store", cobra.FixedCompletions(
		[]string{config.BackendMemory, config.BackendFile, config.BackendKeyring, config.BackendRedis},
		cobra.ShellCompDirectiveNoFileComp,
	))

	cmd.AddCommand(commands.All()...)

	return cmd
}

// Execute runs the root command and exits with the error's exit code.
func Execute() {
	os.Exit(run(NewRootCmd(), os.Args[1:], os.Stdout))
}

// run executes cmd with args and returns the process exit code. Errors are
// rendered to stdout in the selected format.
func run(cmd *cobra.Command, args []string, stdout io.Writer) int {
	cmd.SetArgs(args)
	cmd.SetOut(stdout)

	// Use ExecuteC to get the executed command (for correct context access)
	executedCmd, err := cmd.ExecuteC()
	if err == nil {
		return output.ExitOK
	}

	err = transformCobraError(err)
	apiErr := output.AsError(err)

	// Use app.Err() if the app was built (for --stats support)
	if executedCmd != nil {
		if app := appctx.FromContext(executedCmd.Context()); app != nil {
			_ = app.Err(err)
			_ = app.Close()
			return apiErr.ExitCode()
		}
	}

	// Fallback: app not available, e.g. config failed to load
	pf := cmd.PersistentFlags()
	format := output.FormatAuto
	quiet, _ := pf.GetBool("quiet")
	jsonFlag, _ := pf.GetBool("json")
	styled, _ := pf.GetBool("styled")
	switch {
	case quiet:
		format = output.FormatQuiet
	case jsonFlag:
		format = output.FormatJSON
	case styled:
		format = output.FormatStyled
	}

	writer := output.New(output.Options{Format: format, Writer: stdout})
	_ = writer.Err(err)

	return apiErr.ExitCode()
}

// normalizeFlagName accepts config-style spellings such as --store_dir.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

var shorthandFlagRe = regexp.MustCompile(`unknown shorthand flag: '.' in (-\w)`)

// transformCobraError turns cobra's argument and flag errors into usage
// errors.
func transformCobraError(err error) error {
	msg := err.Error()

	// "flag needs an argument: --FLAG" → "--FLAG requires a value"
	if flag, ok := strings.CutPrefix(msg, "flag needs an argument: "); ok {
		return output.ErrUsage(flag + " requires a value")
	}

	// "unknown flag: --FLAG" → "Unknown option: --FLAG"
	if flag, ok := strings.CutPrefix(msg, "unknown flag: "); ok {
		return output.ErrUsage("Unknown option: " + flag)
	}

	// "unknown shorthand flag: 'X' in -X" → "Unknown option: -X"
	if strings.HasPrefix(msg, "unknown shorthand flag: ") {
		if matches := shorthandFlagRe.FindStringSubmatch(msg); len(matches) > 1 {
			return output.ErrUsage("Unknown option: " + matches[1])
		}
	}

	if strings.HasPrefix(msg, "unknown command ") {
		return output.ErrUsageHint(msg, "Run: tokenkit commands")
	}

	if strings.Contains(msg, "invalid argument") {
		return output.ErrUsage(msg)
	}

	// cobra.ExactArgs and friends
	if strings.Contains(msg, "arg(s), received") {
		return output.ErrUsage(msg)
	}

	return err
}
