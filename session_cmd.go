package main

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tacl-io/tacl/internal/session"
	"github.com/tacl-io/tacl/internal/token"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or clear stored sessions",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "List stored tokens and their expiries",
		Args:  cobra.NoArgs,
		RunE:  runSessionShow,
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget every stored session (registrations are kept)",
		Args:  cobra.NoArgs,
		RunE:  runSessionClear,
	}

	cmd.AddCommand(showCmd)
	cmd.AddCommand(clearCmd)

	return cmd
}

func runSessionShow(_ *cobra.Command, _ []string) error {
	store, err := session.NewStore()
	if err != nil {
		return err
	}

	data, err := store.All()
	if err != nil {
		return err
	}

	headers := []string{"ENVIRONMENT", "PROJECT", "KIND", "EXPIRES"}

	var rows [][]string

	for environment, projects := range data {
		for pnum, kinds := range projects {
			for kind, tok := range kinds {
				if strings.HasSuffix(kind, "_refresh") {
					continue
				}

				expires := "-"
				if claims, err := token.Parse(tok); err == nil {
					expires = claims.Expiry().UTC().Format(time.RFC3339)
				}

				rows = append(rows, []string{environment, pnum, kind, expires})
			}
		}
	}

	printTable(os.Stdout, headers, rows)

	return nil
}

func runSessionClear(_ *cobra.Command, _ []string) error {
	store, err := session.NewStore()
	if err != nil {
		return err
	}

	if err := store.Clear(); err != nil {
		return err
	}

	statusf("Sessions cleared\n")

	return nil
}
