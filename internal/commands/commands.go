// Package commands implements the tokenkit CLI commands.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/basecamp/tokenkit/internal/appctx"
	"github.com/basecamp/tokenkit/internal/output"
)

// CommandInfo describes a CLI command.
type CommandInfo struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Actions     []string `json:"actions,omitempty"`
}

// CommandCategory groups commands by category.
type CommandCategory struct {
	Name     string        `json:"name"`
	Commands []CommandInfo `json:"commands"`
}

// commandCategories returns all command categories for the catalog.
func commandCategories() []CommandCategory {
	return []CommandCategory{
		{
			Name: "Tokens",
			Commands: []CommandInfo{
				{Name: "token", Category: "tokens", Description: "Inspect and manage the cached access token", Actions: []string{"get", "refresh", "set", "key"}},
			},
		},
		{
			Name: "Requests",
			Commands: []CommandInfo{
				{Name: "request", Category: "requests", Description: "Send an authenticated request with any method"},
				{Name: "get", Category: "requests", Description: "Send an authenticated GET request"},
				{Name: "post", Category: "requests", Description: "Send an authenticated POST request"},
			},
		},
		{
			Name: "Settings",
			Commands: []CommandInfo{
				{Name: "config", Category: "settings", Description: "Show resolved configuration", Actions: []string{"show"}},
				{Name: "commands", Category: "settings", Description: "List all available commands"},
			},
		},
	}
}

// All returns every top-level command, in registration order.
func All() []*cobra.Command {
	return []*cobra.Command{
		NewTokenCmd(),
		NewRequestCmd(),
		NewGetCmd(),
		NewPostCmd(),
		NewConfigCmd(),
		NewCommandsCmd(),
	}
}

// NewCommandsCmd creates the commands catalog command.
func NewCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "commands",
		Aliases: []string{"cmds"},
		Short:   "List all available commands",
		Long:    "List all available tokenkit commands organized by category.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			return app.OK(commandCategories(),
				output.WithSummary("All available tokenkit commands"),
			)
		},
	}
}
