package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/tacl-io/tacl/internal/fileapi"
)

type lsFlags struct {
	imported bool
	group    string
	survey   string
	perPage  int
}

func newLsCmd() *cobra.Command {
	var flags lsFlags

	cmd := &cobra.Command{
		Use:   "ls [directory]",
		Short: "List files in the export area",
		Long: `List files in the project's export area, or in the import area
with --import, or a survey form's attachments with --survey.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			directory := ""
			if len(args) > 0 {
				directory = args[0]
			}

			return runLs(cmd, directory, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.imported, "import", false, "list the import area instead of the export area")
	cmd.Flags().StringVarP(&flags.group, "group", "g", "", "import area group (default <pnum>-member-group)")
	cmd.Flags().StringVar(&flags.survey, "survey", "", "list a form's attachments in the survey backend")
	cmd.Flags().IntVar(&flags.perPage, "per-page", 0, "listing page size")

	return cmd
}

func runLs(cmd *cobra.Command, directory string, flags lsFlags) error {
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

	var fetch fileapi.ListFunc

	switch {
	case flags.survey != "":
		fetch = func(ctx context.Context, _, page string, perPage int) (*fileapi.Listing, error) {
			return client.SurveyList(ctx, flags.survey, page, perPage)
		}
	case flags.imported:
		group := flags.group
		if group == "" {
			group = client.DefaultGroup()
		}

		fetch = func(ctx context.Context, dir, page string, perPage int) (*fileapi.Listing, error) {
			return client.ImportList(ctx, group, dir, page, perPage)
		}
	default:
		fetch = func(ctx context.Context, dir, page string, perPage int) (*fileapi.Listing, error) {
			return client.ExportList(ctx, dir, page, perPage)
		}
	}

	entries, err := fileapi.ListAll(ctx, fetch, directory, flags.perPage)
	if err != nil {
		return err
	}

	printListing(entries)

	return nil
}

func printListing(entries []fileapi.ListEntry) {
	headers := []string{"NAME", "SIZE", "MODIFIED"}
	rows := make([][]string, 0, len(entries))

	for _, e := range entries {
		name := e.Filename
		if e.MimeType == "directory" {
			name += "/"
		}

		rows = append(rows, []string{name, formatSize(e.Size), formatMtime(e.Mtime)})
	}

	printTable(os.Stdout, headers, rows)
}
