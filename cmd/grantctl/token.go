package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/david/grant-desk/internal/auth"
)

func tokenCmd(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored upstream bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(app.cfg.Backend.Token) != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "token: set in configuration (backend.token)")
				return nil
			}
			tok, err := auth.NewTokenStore(app.cfg.Backend.TokenFile).Token(cmd.Context())
			if err != nil {
				return err
			}
			if tok == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "token: none stored in %s\n", app.cfg.Backend.TokenFile)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token: %s (%s)\n", maskToken(tok), app.cfg.Backend.TokenFile)
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <token>",
		Short: "Store a bearer token for the upstream API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := auth.NewTokenStore(app.cfg.Backend.TokenFile).Set(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token saved to %s\n", app.cfg.Backend.TokenFile)
			if strings.TrimSpace(app.cfg.Backend.Token) != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "note: backend.token is set and takes precedence")
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := auth.NewTokenStore(app.cfg.Backend.TokenFile).Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "token cleared")
			return nil
		},
	})
	return cmd
}

func maskToken(tok string) string {
	if len(tok) <= 8 {
		return strings.Repeat("*", len(tok))
	}
	return tok[:4] + strings.Repeat("*", len(tok)-8) + tok[len(tok)-4:]
}
