package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/tacl-io/tacl/internal/cache"
	"github.com/tacl-io/tacl/internal/fileapi"
)

// Variant selects a transfer direction and whether the target is made
// to mirror the source.
type Variant int

const (
	// UploadOnly transfers every local file, no deletes.
	UploadOnly Variant = iota

	// DownloadOnly transfers every remote file, no deletes.
	DownloadOnly

	// UploadSync transfers local changes and deletes remote files that
	// no longer exist locally.
	UploadSync

	// DownloadSync transfers remote changes and deletes local files
	// that no longer exist remotely.
	DownloadSync
)

func (v Variant) uploads() bool {
	return v == UploadOnly || v == UploadSync
}

func (v Variant) syncs() bool {
	return v == UploadSync || v == DownloadSync
}

// Options configures one directory transfer.
type Options struct {
	// Directory is the local root for uploads, or the remote directory
	// name for downloads.
	Directory string

	Group      string
	RemotePath string

	// TargetDir is prepended to local write paths on downloads.
	TargetDir string

	IgnorePrefixes []string
	IgnoreSuffixes []string

	// SyncMtime compares modification times instead of names alone, and
	// stamps them on transferred files.
	SyncMtime bool

	// KeepMissing suppresses target-side deletes; KeepUpdated skips
	// transfers where the target is at least as new.
	KeepMissing bool
	KeepUpdated bool

	ChunkSize int64
	Threshold int64
	PerPage   int

	// ServerPublicKey enables end-to-end encryption when set.
	ServerPublicKey []byte

	Progress bool
}

// Transporter drives one directory transfer, checkpointing progress in
// the request caches when they are provided.
type Transporter struct {
	variant Variant
	client  *fileapi.Client
	opts    Options
	logger  *slog.Logger

	// transferCache and deleteCache are nil when caching is disabled.
	transferCache *cache.Cache
	deleteCache   *cache.Cache
}

// New builds a transporter. Either cache may be nil to disable
// checkpointing.
func New(variant Variant, client *fileapi.Client, transferCache, deleteCache *cache.Cache, opts Options, logger *slog.Logger) *Transporter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Transporter{
		variant:       variant,
		client:        client,
		opts:          opts,
		logger:        logger,
		transferCache: transferCache,
		deleteCache:   deleteCache,
	}
}

// cacheKey identifies this transfer's work tables: the local side of
// the transfer, which is unique per (root, target) combination.
func (t *Transporter) cacheKey() string {
	if t.variant.uploads() {
		abs, err := filepath.Abs(t.opts.Directory)
		if err != nil {
			return t.opts.Directory
		}

		return abs
	}

	return filepath.Join(t.opts.TargetDir, filepath.FromSlash(t.opts.Directory))
}

// Sync runs the transfer to completion: resume pending work from the
// caches or plan fresh, transfer file by file, then apply deletes.
// Each completed item is removed from its cache before moving on, and
// each finished phase drops its work table, so an interrupted run
// leaves exactly the unfinished items behind.
func (t *Transporter) Sync(ctx context.Context) error {
	// Every run gets its own id so interleaved log lines from repeated
	// invocations can be told apart.
	logger := t.logger.With(slog.String("run_id", uuid.New().String()))

	key := t.cacheKey()

	transfers, deletes, resumed, err := t.pendingWork(ctx, key)
	if err != nil {
		return err
	}

	if !resumed {
		plan, err := t.plan(ctx)
		if err != nil {
			return err
		}

		transfers, deletes = plan.Transfers, plan.Deletes

		if err := t.checkpoint(ctx, key, transfers, deletes); err != nil {
			return err
		}
	}

	logger.Info("directory transfer planned",
		slog.Int("transfers", len(transfers)),
		slog.Int("deletes", len(deletes)),
		slog.Bool("resumed", resumed),
	)

	for _, item := range transfers {
		if err := t.transfer(ctx, item); err != nil {
			if !t.skippable(err) {
				return err
			}

			logger.Warn("skipping vanished local file",
				slog.String("resource", item.Resource),
			)
		}

		if t.transferCache != nil {
			if err := t.transferCache.Remove(ctx, key, item.Resource); err != nil {
				return err
			}
		}
	}

	if t.transferCache != nil {
		if err := t.transferCache.Destroy(ctx, key); err != nil {
			return err
		}
	}

	for _, item := range deletes {
		if err := t.remove(ctx, item); err != nil {
			return err
		}

		if t.deleteCache != nil {
			if err := t.deleteCache.Remove(ctx, key, item.Resource); err != nil {
				return err
			}
		}
	}

	if t.deleteCache != nil {
		if err := t.deleteCache.Destroy(ctx, key); err != nil {
			return err
		}
	}

	return nil
}

// pendingWork reads unfinished items left by a prior run. Work exists
// when either table survives; both lists are honored together so an
// interrupted delete phase is not forgotten.
func (t *Transporter) pendingWork(ctx context.Context, key string) (transfers, deletes []Item, resumed bool, err error) {
	read := func(c *cache.Cache) ([]Item, bool, error) {
		if c == nil {
			return nil, false, nil
		}

		exists, err := c.Exists(ctx, key)
		if err != nil || !exists {
			return nil, false, err
		}

		rows, err := c.Read(ctx, key)
		if err != nil {
			return nil, false, err
		}

		items := make([]Item, len(rows))
		for i, row := range rows {
			items[i] = Item{Resource: row.ResourcePath, Ref: row.IntegrityReference}
		}

		return items, true, nil
	}

	var hadTransfers, hadDeletes bool

	transfers, hadTransfers, err = read(t.transferCache)
	if err != nil {
		return nil, nil, false, err
	}

	deletes, hadDeletes, err = read(t.deleteCache)
	if err != nil {
		return nil, nil, false, err
	}

	return transfers, deletes, hadTransfers || hadDeletes, nil
}

// checkpoint records freshly planned work before the first transfer.
func (t *Transporter) checkpoint(ctx context.Context, key string, transfers, deletes []Item) error {
	write := func(c *cache.Cache, items []Item) error {
		if c == nil {
			return nil
		}

		if err := c.Create(ctx, key); err != nil {
			return err
		}

		rows := make([]cache.Item, len(items))
		for i, item := range items {
			rows[i] = cache.Item{ResourcePath: item.Resource, IntegrityReference: item.Ref}
		}

		return c.AddMany(ctx, key, rows)
	}

	if err := write(t.transferCache, transfers); err != nil {
		return err
	}

	if t.variant.syncs() {
		if err := write(t.deleteCache, deletes); err != nil {
			return err
		}
	}

	return nil
}

// plan computes fresh work lists for the variant.
func (t *Transporter) plan(ctx context.Context) (Plan, error) {
	switch t.variant {
	case UploadOnly:
		source, err := t.localItems(t.opts.Directory, filepath.Base(t.opts.Directory))
		if err != nil {
			return Plan{}, err
		}

		return Plan{Transfers: source}, nil

	case DownloadOnly:
		source, err := t.remoteItems(ctx)
		if err != nil {
			return Plan{}, err
		}

		return Plan{Transfers: source.items}, nil

	case UploadSync:
		source, err := t.localItems(t.opts.Directory, filepath.Base(t.opts.Directory))
		if err != nil {
			return Plan{}, err
		}

		target, err := t.remoteItems(ctx)
		if err != nil {
			return Plan{}, err
		}

		return computePlan(source, target.items, t.opts.KeepMissing, t.opts.KeepUpdated), nil

	case DownloadSync:
		source, err := t.remoteItems(ctx)
		if err != nil {
			return Plan{}, err
		}

		// Without mtimes the remote etag is the only reference, and it
		// doubles as the resumable download id.
		if !t.opts.SyncMtime {
			for i := range source.items {
				source.items[i].Ref = source.etags[source.items[i].Resource]
			}
		}

		target, err := t.localItems(t.cacheKey(), t.opts.Directory)
		if err != nil {
			return Plan{}, err
		}

		return computePlan(source.items, target, t.opts.KeepMissing, t.opts.KeepUpdated), nil
	}

	return Plan{}, fmt.Errorf("sync: unknown variant %d", t.variant)
}

func (t *Transporter) localItems(root, prefix string) ([]Item, error) {
	// Local refs in pair comparisons only carry meaning for mtimes; an
	// etag never matches a local file.
	useMtime := t.opts.SyncMtime

	items, err := enumerateLocal(root, prefix, t.opts.IgnorePrefixes, t.opts.IgnoreSuffixes, useMtime)
	if err != nil {
		return nil, fmt.Errorf("sync: listing %s: %w", root, err)
	}

	return items, nil
}

func (t *Transporter) remoteItems(ctx context.Context) (*remoteListing, error) {
	var (
		fetch     fileapi.ListFunc
		directory string
	)

	if t.variant.uploads() {
		group := t.group()
		fetch = func(ctx context.Context, dir, page string, perPage int) (*fileapi.Listing, error) {
			return t.client.ImportList(ctx, group, dir, page, perPage)
		}
		directory = filepath.Base(t.opts.Directory)
	} else {
		fetch = func(ctx context.Context, dir, page string, perPage int) (*fileapi.Listing, error) {
			return t.client.ExportList(ctx, dir, page, perPage)
		}
		directory = t.opts.Directory
	}

	return enumerateRemote(ctx, fetch, directory, t.opts.PerPage,
		t.opts.IgnorePrefixes, t.opts.IgnoreSuffixes, t.opts.SyncMtime)
}

func (t *Transporter) group() string {
	if t.opts.Group != "" {
		return t.opts.Group
	}

	return t.client.DefaultGroup()
}

// transfer moves one file in the variant's direction.
func (t *Transporter) transfer(ctx context.Context, item Item) error {
	if t.variant.uploads() {
		return t.uploadOne(ctx, item)
	}

	return t.downloadOne(ctx, item)
}

func (t *Transporter) uploadOne(ctx context.Context, item Item) error {
	abs, err := filepath.Abs(t.opts.Directory)
	if err != nil {
		return fmt.Errorf("sync: resolving %s: %w", t.opts.Directory, err)
	}

	localPath := filepath.Join(filepath.Dir(abs), filepath.FromSlash(item.Resource))

	var enc *fileapi.Encryptor

	if t.opts.ServerPublicKey != nil {
		enc, err = fileapi.NewEncryptor(t.opts.ServerPublicKey, t.chunkSize(), true)
		if err != nil {
			return err
		}
	}

	_, err = t.client.Upload(ctx, fileapi.UploadParams{
		LocalPath:  localPath,
		Resource:   item.Resource,
		IsDir:      true,
		Group:      t.group(),
		RemotePath: t.opts.RemotePath,
		ChunkSize:  t.opts.ChunkSize,
		SetMtime:   t.opts.SyncMtime,
		Encryptor:  enc,
		Progress:   t.opts.Progress,
		NoPrintID:  true,
	}, t.opts.Threshold)

	return err
}

func (t *Transporter) downloadOne(ctx context.Context, item Item) error {
	localPath := filepath.Join(t.opts.TargetDir, filepath.FromSlash(item.Resource))

	// Resume a local partial only when the planner recorded an etag and
	// bytes are already on disk; anything else starts clean.
	etag := ""

	if !t.opts.SyncMtime && item.Ref != "" {
		if _, err := os.Lstat(localPath); err == nil {
			etag = item.Ref
		}
	}

	var (
		enc *fileapi.Encryptor
		err error
	)

	if t.opts.ServerPublicKey != nil {
		enc, err = fileapi.NewEncryptor(t.opts.ServerPublicKey, t.chunkSize(), false)
		if err != nil {
			return err
		}
	}

	_, err = t.client.Download(ctx, fileapi.DownloadParams{
		Filename:  item.Resource,
		Etag:      etag,
		TargetDir: t.opts.TargetDir,
		SetMtime:  t.opts.SyncMtime,
		Encryptor: enc,
		Progress:  t.opts.Progress,
		NoPrintID: true,
	})

	return err
}

// remove deletes one target-side file the source no longer has.
func (t *Transporter) remove(ctx context.Context, item Item) error {
	if t.variant == UploadSync {
		return t.client.ImportDelete(ctx, t.group(), item.Resource)
	}

	localPath := filepath.Join(t.opts.TargetDir, filepath.FromSlash(item.Resource))

	err := os.Remove(localPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("sync: removing %s: %w", localPath, err)
	}

	t.pruneEmptyParents(localPath)

	return nil
}

// pruneEmptyParents removes directories emptied by a delete, walking up
// to but never including the sync root. os.Remove refuses non-empty
// directories, which is where the walk stops.
func (t *Transporter) pruneEmptyParents(localPath string) {
	root := filepath.Clean(t.cacheKey())

	for dir := filepath.Dir(localPath); filepath.Clean(dir) != root; dir = filepath.Dir(dir) {
		if dir == "." || dir == string(filepath.Separator) {
			return
		}

		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

// skippable reports whether a per-file failure should not abort the
// run: only a local file that vanished between planning and upload.
func (t *Transporter) skippable(err error) bool {
	return t.variant.uploads() && errors.Is(err, fs.ErrNotExist)
}

func (t *Transporter) chunkSize() int64 {
	if t.opts.ChunkSize > 0 {
		return t.opts.ChunkSize
	}

	return fileapi.DefaultChunkSize
}
