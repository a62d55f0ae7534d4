package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tacl-io/tacl/internal/session"
	"github.com/tacl-io/tacl/internal/token"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage registered API keys",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "List registered projects and key expiries",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the registration for the project",
		Args:  cobra.NoArgs,
		RunE:  runConfigDelete,
	}

	cmd.AddCommand(showCmd)
	cmd.AddCommand(deleteCmd)

	return cmd
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	cfg, err := session.NewConfig()
	if err != nil {
		return err
	}

	data, err := cfg.All()
	if err != nil {
		return err
	}

	headers := []string{"ENVIRONMENT", "PROJECT", "KEY EXPIRES"}

	var rows [][]string

	for environment, projects := range data {
		for pnum, key := range projects {
			expires := "-"
			if claims, err := token.Parse(key); err == nil {
				expires = claims.Expiry().UTC().Format(time.RFC3339)
			}

			rows = append(rows, []string{environment, pnum, expires})
		}
	}

	printTable(os.Stdout, headers, rows)

	return nil
}

func runConfigDelete(_ *cobra.Command, _ []string) error {
	e, pnum, err := requireProject()
	if err != nil {
		return err
	}

	cfg, err := session.NewConfig()
	if err != nil {
		return err
	}

	if err := cfg.Delete(e.String(), pnum); err != nil {
		return err
	}

	statusf("Removed registration for %s in %s\n", pnum, e)

	return nil
}
