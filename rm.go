package main

import (
	"github.com/spf13/cobra"
)

type rmFlags struct {
	imported bool
	group    string
}

func newRmCmd() *cobra.Command {
	var flags rmFlags

	cmd := &cobra.Command{
		Use:   "rm <remote-path>",
		Short: "Delete a remote file",
		Long: `Delete a file from the project's export area, or from the import
area with --import.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRm(cmd, args[0], flags)
		},
	}

	cmd.Flags().BoolVar(&flags.imported, "import", false, "delete from the import area instead of the export area")
	cmd.Flags().StringVarP(&flags.group, "group", "g", "", "import area group (default <pnum>-member-group)")

	return cmd
}

func runRm(cmd *cobra.Command, remotePath string, flags rmFlags) error {
	ctx := cmd.Context()
	logger := buildLogger()

	kind := "export"
	if flags.imported {
		kind = "import"
	}

	client, err := apiClient(ctx, kind, logger)
	if err != nil {
		return err
	}

	if flags.imported {
		group := flags.group
		if group == "" {
			group = client.DefaultGroup()
		}

		if err := client.ImportDelete(ctx, group, remotePath); err != nil {
			return err
		}
	} else if err := client.ExportDelete(ctx, remotePath); err != nil {
		return err
	}

	statusf("Deleted %s\n", remotePath)

	return nil
}
