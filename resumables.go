package main

import (
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newResumablesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resumables",
		Short: "Show or delete incomplete uploads",
		Args:  cobra.NoArgs,
		RunE:  runResumablesList,
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <filename> <id>",
		Short: "Delete one incomplete upload",
		Args:  cobra.ExactArgs(2),
		RunE:  runResumablesDelete,
	}

	deleteAllCmd := &cobra.Command{
		Use:   "delete-all",
		Short: "Delete every incomplete upload",
		Args:  cobra.NoArgs,
		RunE:  runResumablesDeleteAll,
	}

	cmd.AddCommand(deleteCmd)
	cmd.AddCommand(deleteAllCmd)

	return cmd
}

func runResumablesList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	client, err := apiClient(ctx, "import", buildLogger())
	if err != nil {
		return err
	}

	resumables, err := client.ListResumables(ctx)
	if err != nil {
		return err
	}

	headers := []string{"ID", "FILENAME", "UPLOADED", "CHUNKS"}
	rows := make([][]string, 0, len(resumables))

	for _, r := range resumables {
		rows = append(rows, []string{
			r.ID,
			r.Filename,
			humanize.Bytes(uint64(r.NextOffset)),
			strconv.FormatInt(r.MaxChunk, 10),
		})
	}

	printTable(os.Stdout, headers, rows)

	return nil
}

func runResumablesDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	client, err := apiClient(ctx, "import", buildLogger())
	if err != nil {
		return err
	}

	if err := client.DeleteResumable(ctx, args[0], args[1]); err != nil {
		return err
	}

	statusf("Deleted resumable %s\n", args[1])

	return nil
}

func runResumablesDeleteAll(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	client, err := apiClient(ctx, "import", buildLogger())
	if err != nil {
		return err
	}

	if err := client.DeleteAllResumables(ctx); err != nil {
		return err
	}

	statusf("Deleted all resumables\n")

	return nil
}
