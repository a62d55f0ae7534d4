package fileapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// downloadBufSize is the read size for streaming response bodies to disk.
const downloadBufSize = 64 * 1024

// DownloadParams describes one file download.
type DownloadParams struct {
	// Filename is the remote resource path under the export area.
	Filename string

	// Backend is the API service to download from (files or survey).
	Backend string

	// Etag, when set, is the download id seen on a previous attempt:
	// the local partial is kept and the remaining range is requested.
	Etag string

	// TargetDir is prepended to the local write path.
	TargetDir string

	SetMtime  bool
	Encryptor *Encryptor
	Progress  bool
	NoPrintID bool
}

func (p *DownloadParams) backend() string {
	if p.Backend == "" {
		return ServiceFiles
	}

	return p.Backend
}

// endpoint returns the URL path for the resource. The survey backend
// serves attachments directly under the form id, without an export
// segment.
func (p *DownloadParams) endpoint() string {
	if p.backend() == ServiceSurvey {
		return escapePath(p.Filename)
	}

	return "export/" + escapePath(p.Filename)
}

// Head fetches a resource's metadata. Returns ErrIsDirectory when the
// resource is a directory and the caller should switch to the directory
// downloader.
func (c *Client) Head(ctx context.Context, filename, backend string) (*HeadInfo, error) {
	p := DownloadParams{Filename: filename, Backend: backend}
	target := c.fileURL(p.backend(), p.endpoint(), nil)

	resp, err := c.do(ctx, http.MethodHead, target, nil, nil)
	if err != nil {
		return nil, err
	}

	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("fileapi: head %s: %w", filename, err)
	}

	drainBody(resp)

	info := &HeadInfo{
		Etag:         resp.Header.Get("Etag"),
		ModifiedTime: resp.Header.Get("Modified-Time"),
		ContentType:  resp.Header.Get("Content-Type"),
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		size, parseErr := strconv.ParseInt(cl, 10, 64)
		if parseErr != nil {
			return nil, fmt.Errorf("fileapi: parsing content length %q: %w", cl, parseErr)
		}

		info.Size = size
	}

	if info.ContentType == "directory" {
		return info, ErrIsDirectory
	}

	return info, nil
}

// Download fetches a file, resuming an existing local partial when the
// caller presents the etag from a previous attempt. Returns the local
// path written.
//
// A changed etag invalidates the resume: the server will not serve the
// requested range for different content, and the caller must remove the
// partial before retrying.
func (c *Client) Download(ctx context.Context, p DownloadParams) (string, error) {
	target := c.fileURL(p.backend(), p.endpoint(), nil)

	localPath := localDownloadPath(p.Filename, p.TargetDir)

	headers := http.Header{}
	appendMode := false

	var currentSize int64

	if p.Etag != "" {
		appendMode = true

		if info, err := os.Lstat(localPath); err == nil {
			currentSize = info.Size()
		}

		headers.Set("Range", fmt.Sprintf("bytes=%d-", currentSize))
	}

	if p.Encryptor != nil {
		applyEncryptionHeaders(headers, p.Encryptor.Headers())
	}

	head, err := c.do(ctx, http.MethodHead, target, headers, nil)
	if err != nil {
		return "", err
	}

	if err := checkStatus(head); err != nil {
		return "", fmt.Errorf("fileapi: head %s: %w", p.Filename, err)
	}

	drainBody(head)

	downloadID := head.Header.Get("Etag")
	if downloadID == "" {
		c.logger.Warn("no download id from server, resume will not work",
			slog.String("filename", p.Filename),
		)
	} else if !p.NoPrintID {
		fmt.Printf("Download id: %s\n", downloadID)
	}

	totalSize, _ := strconv.ParseInt(head.Header.Get("Content-Length"), 10, 64)

	if dir := filepath.Dir(localPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("fileapi: creating directory %s: %w", dir, err)
		}
	}

	if err := c.fetchToFile(ctx, target, localPath, headers, appendMode, currentSize, totalSize, p.Encryptor, p.Progress); err != nil {
		return "", err
	}

	if p.SetMtime {
		c.stampMtime(localPath, head.Header.Get("Modified-Time"))
	}

	return localPath, nil
}

// fetchToFile streams the GET response to disk chunk by chunk.
func (c *Client) fetchToFile(
	ctx context.Context, target, localPath string, headers http.Header,
	appendMode bool, currentSize, totalSize int64, enc *Encryptor, progress bool,
) error {
	resp, err := c.do(ctx, http.MethodGet, target, headers, nil)
	if err != nil {
		return err
	}

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("fileapi: downloading: %w", err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	f, err := os.OpenFile(localPath, flags, 0o640)
	if err != nil {
		return fmt.Errorf("fileapi: opening %s: %w", localPath, err)
	}
	defer f.Close()

	bar := newDownloadBar(localPath, currentSize, totalSize, progress)

	// The server encrypts in Nacl-Chunksize blocks, each with the
	// keystream starting over, so decryption must see whole blocks: a
	// short read decrypted on its own would use the wrong keystream
	// positions for everything after it.
	readSize := int64(downloadBufSize)
	if enc != nil && enc.chunkSize > 0 {
		readSize = enc.chunkSize
	}

	buf := make([]byte, readSize)

	for {
		var (
			n       int
			readErr error
		)

		if enc != nil {
			n, readErr = io.ReadFull(resp.Body, buf)
		} else {
			n, readErr = resp.Body.Read(buf)
		}

		if n > 0 {
			chunk := buf[:n]

			if enc != nil {
				chunk, err = enc.DecryptChunk(chunk)
				if err != nil {
					return err
				}
			}

			if _, err := f.Write(chunk); err != nil {
				return fmt.Errorf("fileapi: writing %s: %w", localPath, err)
			}

			if bar != nil {
				_ = bar.Add(n)
			}
		}

		if readErr == io.EOF || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}

		if readErr != nil {
			return fmt.Errorf("fileapi: reading download stream: %w", readErr)
		}
	}

	if bar != nil {
		_ = bar.Finish()
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("fileapi: syncing %s: %w", localPath, err)
	}

	return nil
}

// stampMtime sets the local file's mtime from the server header.
// Best-effort: a missing or malformed header costs incremental sync for
// this file, not the download.
func (c *Client) stampMtime(localPath, header string) {
	mtime, err := strconv.ParseFloat(header, 64)
	if err != nil {
		c.logger.Warn("could not set modified time, incremental sync will not work for this file",
			slog.String("path", localPath),
			slog.String("header", header),
		)

		return
	}

	sec := int64(mtime)
	nsec := int64((mtime - float64(sec)) * 1e9)
	t := time.Unix(sec, nsec)

	if err := os.Chtimes(localPath, t, t); err != nil {
		c.logger.Warn("could not set modified time",
			slog.String("path", localPath),
			slog.String("error", err.Error()),
		)
	}
}

// localDownloadPath joins the target directory with the (unescaped)
// remote resource path.
func localDownloadPath(filename, targetDir string) string {
	unescaped, err := url.PathUnescape(filename)
	if err != nil {
		unescaped = filename
	}

	local := filepath.FromSlash(strings.TrimPrefix(unescaped, "/"))
	if targetDir != "" {
		local = filepath.Join(targetDir, local)
	}

	return local
}

// newDownloadBar builds a progress bar over the remaining bytes,
// silenced off-terminal.
func newDownloadBar(path string, current, total int64, enabled bool) *progressbar.ProgressBar {
	if !enabled || !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}

	if total <= 0 {
		total = -1
	}

	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(path),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
	)

	if current > 0 {
		_ = bar.Add64(current)
	}

	return bar
}

// IsDirectoryResource reports whether err marks a directory redirect
// from Head.
func IsDirectoryResource(err error) bool {
	return errors.Is(err, ErrIsDirectory)
}
