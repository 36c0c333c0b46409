package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/basecamp/tokenkit/internal/appctx"
	"github.com/basecamp/tokenkit/internal/output"
	"github.com/basecamp/tokenkit/internal/sdk"
)

// NewTokenCmd creates the token command group.
func NewTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the cached access token",
		Long: `Inspect and manage the access token for the configured credentials.

Tokens are cached under a key derived from the credentials, so different
credentials never share a token.`,
	}

	cmd.AddCommand(
		newTokenGetCmd(),
		newTokenRefreshCmd(),
		newTokenSetCmd(),
		newTokenKeyCmd(),
	)

	return cmd
}

func newTokenGetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the access token, fetching one if none is cached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if err := app.Connect(cmd.Context()); err != nil {
				return err
			}

			rec, err := app.Tokens.Token(cmd.Context(), force)
			if err != nil {
				return err
			}

			return app.OK(tokenView(rec),
				output.WithSummary(fmt.Sprintf("Token %s (%ds lifetime)", rec.Field, rec.Lifetime)),
			)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Fetch a new token even if one is cached")

	return cmd
}

func newTokenRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch and cache a new access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if err := app.Connect(cmd.Context()); err != nil {
				return err
			}

			rec, err := app.Tokens.Token(cmd.Context(), true)
			if err != nil {
				return err
			}

			return app.OK(tokenView(rec),
				output.WithSummary("Token refreshed"),
			)
		},
	}
}

func newTokenSetCmd() *cobra.Command {
	var ttl int64

	cmd := &cobra.Command{
		Use:   "set <token>",
		Short: "Cache a token obtained elsewhere",
		Long: `Cache a token under the current credentials' key.

The token is used by later requests until it expires. Without --ttl the
configured default lifetime applies.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if args[0] == "" {
				return output.ErrUsage("Token value required")
			}
			if err := app.Connect(cmd.Context()); err != nil {
				return err
			}

			if err := app.Tokens.SetToken(cmd.Context(), args[0], ttl); err != nil {
				return err
			}

			lifetime := ttl
			if lifetime <= 0 {
				lifetime = app.Config.Token.DefaultLifetime
			}
			rec := sdk.NewTokenRecord(app.Tokens.TokenField(), args[0], lifetime)
			return app.OK(tokenView(rec),
				output.WithSummary("Token cached for "+strconv.FormatInt(lifetime, 10)+"s"),
			)
		},
	}

	cmd.Flags().Int64Var(&ttl, "ttl", 0, "Lifetime in seconds (default: token.default_lifetime)")

	return cmd
}

func newTokenKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key",
		Short: "Print the cache key for the configured credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if err := app.Connect(cmd.Context()); err != nil {
				return err
			}

			key, err := app.Tokens.CacheKey(cmd.Context())
			if err != nil {
				return err
			}
			return app.OK(map[string]any{"key": key, "store": app.Config.Store.Backend})
		},
	}
}

// tokenView is the output shape of a token record.
func tokenView(rec *sdk.TokenRecord) map[string]any {
	return map[string]any{
		"field":      rec.Field,
		"token":      rec.Value,
		"expires_in": rec.Lifetime,
	}
}
