package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const guideText = `Getting started

  1. Register your API key for a project:

       tacl register --pnum p11

     Educloud and two-factor projects sign in with credentials after
     registering the key:

       tacl register --pnum p11 --tsd

  2. Upload files or directories to the import area:

       tacl put --pnum p11 data.csv
       tacl put --pnum p11 ./results --sync

  3. Download from the export area:

       tacl get --pnum p11 report.pdf
       tacl get --pnum p11 results --target ./downloads

Resumable transfers

  Large uploads are chunked; an interrupted upload continues on the
  next run. Inspect or discard server-side state with:

       tacl resumables --pnum p11
       tacl resumables delete <filename> <id> --pnum p11

  Interrupted downloads print a download id; pass it back with
  --download-id to continue a partial file.

Directory checkpoints

  Directory transfers record pending work on disk, so a crashed run
  picks up where it left off. See what is pending with:

       tacl cache --pnum p11

End-to-end encryption

  Pass --encrypt on put and get to seal content to the project's key
  before it leaves your machine.
`

func newGuideCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "guide",
		Short: "Show a usage guide",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Print(guideText)
			return nil
		},
	}
}
