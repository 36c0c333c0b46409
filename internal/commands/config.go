package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/basecamp/tokenkit/internal/appctx"
	"github.com/basecamp/tokenkit/internal/config"
	"github.com/basecamp/tokenkit/internal/output"
)

// NewConfigCmd creates the config command.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long: `Inspect tokenkit configuration.

Values are layered: defaults, then the global config file, then --config,
then TOKENKIT_* environment variables, then flags.`,
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show resolved configuration with sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			entries := app.Config.Entries()

			return app.OK(entries,
				output.WithSummary(fmt.Sprintf("%d settings", len(entries))),
				output.WithContext("config_dir", config.GlobalConfigDir()),
			)
		},
	}
}
