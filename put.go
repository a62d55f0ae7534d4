package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tacl-io/tacl/internal/fileapi"
	isync "github.com/tacl-io/tacl/internal/sync"
)

type putFlags struct {
	group          string
	remotePath     string
	chunkSize      string
	threshold      string
	encrypt        bool
	resumeID       string
	forceNew       bool
	mirror         bool
	syncMtime      bool
	keepMissing    bool
	keepUpdated    bool
	noCache        bool
	ignorePrefixes []string
	ignoreSuffixes []string
	perPage        int
}

func newPutCmd() *cobra.Command {
	var flags putFlags

	cmd := &cobra.Command{
		Use:   "put <local-path>",
		Short: "Upload a file or directory",
		Long: `Upload a file or a directory tree to the project's import area.

Files above the threshold use the resumable chunk protocol; interrupted
uploads continue where they stopped on the next run. Directories are
transferred item by item with progress checkpointed on disk, so an
interrupted run resumes from the first unfinished file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(cmd, args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.group, "group", "g", "", "owning group (default <pnum>-member-group)")
	cmd.Flags().StringVar(&flags.remotePath, "remote-path", "", "remote directory prefix for the upload")
	cmd.Flags().StringVar(&flags.chunkSize, "chunk-size", "", "chunk size for resumable uploads (e.g. 50MB)")
	cmd.Flags().StringVar(&flags.threshold, "threshold", "", "resumable threshold (e.g. 1GB)")
	cmd.Flags().BoolVar(&flags.encrypt, "encrypt", false, "encrypt content end to end")
	cmd.Flags().StringVar(&flags.resumeID, "resume-id", "", "resume the server-side upload with this id")
	cmd.Flags().BoolVar(&flags.forceNew, "force-new", false, "start over, ignoring any server-side resumable")
	cmd.Flags().BoolVar(&flags.mirror, "sync", false, "make the import area mirror the directory (deletes remote extras)")
	cmd.Flags().BoolVar(&flags.syncMtime, "sync-mtime", false, "compare and stamp modification times")
	cmd.Flags().BoolVar(&flags.keepMissing, "keep-missing", false, "never delete target files missing from the source")
	cmd.Flags().BoolVar(&flags.keepUpdated, "keep-updated", false, "never overwrite target files that are at least as new")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "disable the on-disk transfer checkpoint")
	cmd.Flags().StringSliceVar(&flags.ignorePrefixes, "ignore-prefixes", nil, "skip directories whose name starts with any prefix")
	cmd.Flags().StringSliceVar(&flags.ignoreSuffixes, "ignore-suffixes", nil, "skip files whose name ends with any suffix")
	cmd.Flags().IntVar(&flags.perPage, "per-page", 0, "remote listing page size")

	return cmd
}

func runPut(cmd *cobra.Command, localPath string, flags putFlags) error {
	ctx := cmd.Context()
	logger := buildLogger()

	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stating %q: %w", localPath, err)
	}

	client, err := apiClient(ctx, "import", logger)
	if err != nil {
		return err
	}

	chunkSize, err := parseSize(flags.chunkSize)
	if err != nil {
		return err
	}

	threshold, err := parseSize(flags.threshold)
	if err != nil {
		return err
	}

	var serverKey []byte

	if flags.encrypt {
		serverKey, err = client.GetServerPublicKey(ctx)
		if err != nil {
			return err
		}
	}

	if info.IsDir() {
		return putDirectory(cmd, client, localPath, flags, chunkSize, threshold, serverKey)
	}

	var enc *fileapi.Encryptor

	if serverKey != nil {
		size := chunkSize
		if size <= 0 {
			size = fileapi.DefaultChunkSize
		}

		enc, err = fileapi.NewEncryptor(serverKey, size, true)
		if err != nil {
			return err
		}
	}

	params := fileapi.UploadParams{
		LocalPath:  localPath,
		Group:      flags.group,
		RemotePath: flags.remotePath,
		ChunkSize:  chunkSize,
		SetMtime:   flags.syncMtime,
		Encryptor:  enc,
		Progress:   !flagQuiet,
	}

	if flags.forceNew || flags.resumeID != "" {
		_, err = client.InitiateResumable(ctx, params, flags.forceNew, flags.resumeID)
	} else {
		_, err = client.Upload(ctx, params, threshold)
	}

	if err != nil {
		return err
	}

	statusf("Uploaded %s\n", localPath)

	return nil
}

func putDirectory(
	cmd *cobra.Command, client *fileapi.Client, localPath string,
	flags putFlags, chunkSize, threshold int64, serverKey []byte,
) error {
	variant := isync.UploadOnly
	if flags.mirror {
		variant = isync.UploadSync
	}

	transferCache, deleteCache, closeCaches, err := openCachePair(flags.noCache, true)
	if err != nil {
		return err
	}
	defer closeCaches()

	tr := isync.New(variant, client, transferCache, deleteCache, isync.Options{
		Directory:       localPath,
		Group:           flags.group,
		RemotePath:      flags.remotePath,
		IgnorePrefixes:  flags.ignorePrefixes,
		IgnoreSuffixes:  flags.ignoreSuffixes,
		SyncMtime:       flags.syncMtime,
		KeepMissing:     flags.keepMissing,
		KeepUpdated:     flags.keepUpdated,
		ChunkSize:       chunkSize,
		Threshold:       threshold,
		PerPage:         flags.perPage,
		ServerPublicKey: serverKey,
		Progress:        !flagQuiet,
	}, buildLogger())

	if err := tr.Sync(cmd.Context()); err != nil {
		return err
	}

	statusf("Uploaded directory %s\n", localPath)

	return nil
}
