package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tacl-io/tacl/internal/cache"
	"github.com/tacl-io/tacl/internal/session"
)

// cacheKinds pairs each cache database with a display label.
var cacheKinds = []struct {
	kind  cache.Kind
	label string
}{
	{cache.UploadRequest, "upload"},
	{cache.UploadDelete, "upload-delete"},
	{cache.DownloadRequest, "download"},
	{cache.DownloadDelete, "download-delete"},
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Show or clear the transfer checkpoints",
		Long: `Directory transfers checkpoint their pending work on disk so an
interrupted run resumes where it stopped. This command inspects those
checkpoints and clears them when a fresh plan is wanted.`,
		Args: cobra.NoArgs,
		RunE: runCacheShow,
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every checkpoint for the project",
		Args:  cobra.NoArgs,
		RunE:  runCacheClear,
	}

	cmd.AddCommand(clearCmd)

	return cmd
}

func eachCache(fn func(label string, c *cache.Cache) error) error {
	e, pnum, err := requireProject()
	if err != nil {
		return err
	}

	dir, err := session.DataDir(e.String(), pnum)
	if err != nil {
		return err
	}

	logger := buildLogger()

	for _, k := range cacheKinds {
		c, err := cache.Open(dir, k.kind, logger)
		if err != nil {
			return err
		}

		err = fn(k.label, c)
		c.Close()

		if err != nil {
			return err
		}
	}

	return nil
}

func runCacheShow(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	headers := []string{"CACHE", "DIRECTORY", "PENDING", "OLDEST", "NEWEST"}

	var rows [][]string

	err := eachCache(func(label string, c *cache.Cache) error {
		infos, err := c.Overview(ctx)
		if err != nil {
			return err
		}

		for _, info := range infos {
			rows = append(rows, []string{
				label,
				info.DisplayName,
				strconv.FormatInt(info.Count, 10),
				info.OldestAt,
				info.NewestAt,
			})
		}

		return nil
	})
	if err != nil {
		return err
	}

	if len(rows) == 0 {
		statusf("No pending work\n")
		return nil
	}

	printTable(os.Stdout, headers, rows)

	return nil
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	err := eachCache(func(_ string, c *cache.Cache) error {
		return c.DestroyAll(ctx)
	})
	if err != nil {
		return err
	}

	statusf("Caches cleared\n")

	return nil
}
