package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/tacl-io/tacl/internal/fileapi"
	isync "github.com/tacl-io/tacl/internal/sync"
)

type getFlags struct {
	target         string
	downloadID     string
	mirror         bool
	syncMtime      bool
	keepMissing    bool
	keepUpdated    bool
	encrypt        bool
	noCache        bool
	ignorePrefixes []string
	ignoreSuffixes []string
	perPage        int
	survey         string
}

func newGetCmd() *cobra.Command {
	var flags getFlags

	cmd := &cobra.Command{
		Use:   "get <remote-path>",
		Short: "Download a file or directory",
		Long: `Download a file or a directory tree from the project's export area.

A file downloaded with the id printed by a previous interrupted attempt
continues from where it stopped. Directory downloads checkpoint their
progress on disk and resume on the next run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.target, "target", "t", "", "directory to download into")
	cmd.Flags().StringVar(&flags.downloadID, "download-id", "", "resume a partial download with this id")
	cmd.Flags().BoolVar(&flags.mirror, "sync", false, "make the local directory mirror the remote one (deletes local extras)")
	cmd.Flags().BoolVar(&flags.syncMtime, "sync-mtime", false, "compare and stamp modification times")
	cmd.Flags().BoolVar(&flags.keepMissing, "keep-missing", false, "never delete target files missing from the source")
	cmd.Flags().BoolVar(&flags.keepUpdated, "keep-updated", false, "never overwrite target files that are at least as new")
	cmd.Flags().BoolVar(&flags.encrypt, "encrypt", false, "request end-to-end encrypted content")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "disable the on-disk transfer checkpoint")
	cmd.Flags().StringSliceVar(&flags.ignorePrefixes, "ignore-prefixes", nil, "skip directories whose name starts with any prefix")
	cmd.Flags().StringSliceVar(&flags.ignoreSuffixes, "ignore-suffixes", nil, "skip files whose name ends with any suffix")
	cmd.Flags().IntVar(&flags.perPage, "per-page", 0, "remote listing page size")
	cmd.Flags().StringVar(&flags.survey, "survey", "", "download a form attachment from the survey backend")

	return cmd
}

func runGet(cmd *cobra.Command, remotePath string, flags getFlags) error {
	ctx := cmd.Context()
	logger := buildLogger()

	client, err := apiClient(ctx, "export", logger)
	if err != nil {
		return err
	}

	backend := ""
	filename := remotePath

	if flags.survey != "" {
		backend = fileapi.ServiceSurvey
		filename = flags.survey + "/attachments/" + remotePath
	}

	_, err = client.Head(ctx, filename, backend)
	if errors.Is(err, fileapi.ErrIsDirectory) {
		return getDirectory(cmd, client, remotePath, flags)
	}

	if err != nil {
		return err
	}

	var enc *fileapi.Encryptor

	if flags.encrypt {
		serverKey, keyErr := client.GetServerPublicKey(ctx)
		if keyErr != nil {
			return keyErr
		}

		enc, err = fileapi.NewEncryptor(serverKey, fileapi.DefaultChunkSize, false)
		if err != nil {
			return err
		}
	}

	local, err := client.Download(ctx, fileapi.DownloadParams{
		Filename:  filename,
		Backend:   backend,
		Etag:      flags.downloadID,
		TargetDir: flags.target,
		SetMtime:  flags.syncMtime,
		Encryptor: enc,
		Progress:  !flagQuiet,
	})
	if err != nil {
		return err
	}

	statusf("Downloaded %s\n", local)

	return nil
}

func getDirectory(cmd *cobra.Command, client *fileapi.Client, remotePath string, flags getFlags) error {
	variant := isync.DownloadOnly
	if flags.mirror {
		variant = isync.DownloadSync
	}

	transferCache, deleteCache, closeCaches, err := openCachePair(flags.noCache, false)
	if err != nil {
		return err
	}
	defer closeCaches()

	var serverKey []byte

	if flags.encrypt {
		serverKey, err = client.GetServerPublicKey(cmd.Context())
		if err != nil {
			return err
		}
	}

	tr := isync.New(variant, client, transferCache, deleteCache, isync.Options{
		Directory:       remotePath,
		TargetDir:       flags.target,
		IgnorePrefixes:  flags.ignorePrefixes,
		IgnoreSuffixes:  flags.ignoreSuffixes,
		SyncMtime:       flags.syncMtime,
		KeepMissing:     flags.keepMissing,
		KeepUpdated:     flags.keepUpdated,
		PerPage:         flags.perPage,
		ServerPublicKey: serverKey,
		Progress:        !flagQuiet,
	}, buildLogger())

	if err := tr.Sync(cmd.Context()); err != nil {
		return err
	}

	statusf("Downloaded directory %s\n", remotePath)

	return nil
}
