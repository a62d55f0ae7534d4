package fileapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// Default transfer sizing. Files at or below the threshold take the
// streaming PUT path; larger files use the chunked PATCH protocol.
const (
	DefaultChunkSize = 50 * 1000 * 1000
	DefaultThreshold = 1000 * 1000 * 1000
)

// UploadParams describes one file upload.
type UploadParams struct {
	// LocalPath is the file on disk.
	LocalPath string

	// Resource is the remote name relative to the sync root. Empty means
	// the basename of LocalPath.
	Resource string

	// IsDir selects directory-mode resource naming (group/<relative-path>).
	IsDir bool

	Group      string
	RemotePath string
	ChunkSize  int64
	SetMtime   bool
	Encryptor  *Encryptor
	Progress   bool
	NoPrintID  bool
}

// UploadResult reports the finished upload.
type UploadResult struct {
	ID       string
	MaxChunk int64
}

func (p *UploadParams) resource() string {
	r := p.Resource
	if r == "" {
		r = path.Base(filepath.ToSlash(p.LocalPath))
	}

	return uploadResource(r, p.IsDir, p.Group, p.RemotePath)
}

func (p *UploadParams) chunkSize() int64 {
	if p.ChunkSize > 0 {
		return p.ChunkSize
	}

	return DefaultChunkSize
}

// group returns the upload's ownership group, defaulting to the
// project's member group.
func (c *Client) group(p *UploadParams) string {
	if p.Group != "" {
		return p.Group
	}

	return c.DefaultGroup()
}

// mtimeHeader formats the local file's mtime as float seconds for the
// Modified-Time header.
func mtimeHeader(localPath string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("fileapi: stat %s: %w", localPath, err)
	}

	sec := float64(info.ModTime().UnixNano()) / 1e9

	return strconv.FormatFloat(sec, 'f', -1, 64), nil
}

// Upload sends one file, choosing the streaming or resumable path by
// size against the threshold.
func (c *Client) Upload(ctx context.Context, p UploadParams, threshold int64) (*UploadResult, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	info, err := os.Stat(p.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("fileapi: stat %s: %w", p.LocalPath, err)
	}

	if info.Size() > threshold {
		return c.InitiateResumable(ctx, p, false, "")
	}

	if err := c.StreamFile(ctx, p); err != nil {
		return nil, err
	}

	return &UploadResult{}, nil
}

// StreamFile uploads a file in a single PUT, streaming the body lazily.
// The request is not retried: replaying a partially consumed stream is
// not safe, and small files are cheap to re-send from the caller.
func (c *Client) StreamFile(ctx context.Context, p UploadParams) error {
	resource := p.resource()
	query := url.Values{"group": {c.group(&p)}}
	target := c.fileURL(ServiceFiles, "stream/"+resource, query)

	c.logger.Debug("streaming upload",
		slog.String("local", p.LocalPath),
		slog.String("resource", resource),
	)

	reader, err := NewChunkReader(p.LocalPath, p.chunkSize(), nil, p.Progress)
	if err != nil {
		return err
	}
	defer reader.Close()

	headers := http.Header{}

	if p.SetMtime {
		mtime, err := mtimeHeader(p.LocalPath)
		if err != nil {
			return err
		}

		headers.Set("Modified-Time", mtime)
	}

	body := io.Reader(&chunkStream{r: reader})

	if p.Encryptor != nil {
		applyEncryptionHeaders(headers, p.Encryptor.Headers())
		body = &chunkStream{r: reader, enc: p.Encryptor}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, body)
	if err != nil {
		return fmt.Errorf("fileapi: creating upload request: %w", err)
	}

	tok, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("fileapi: obtaining token: %w", err)
	}

	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fileapi: streaming upload failed: %w", err)
	}

	if err := checkStatus(resp); err != nil {
		return err
	}

	drainBody(resp)

	return nil
}

// chunkStream adapts a ChunkReader (optionally encrypting) to io.Reader
// for streaming request bodies.
type chunkStream struct {
	r   *ChunkReader
	enc *Encryptor
	buf []byte
}

func (s *chunkStream) Read(p []byte) (int, error) {
	if len(s.buf) == 0 {
		chunk, err := s.r.Next()
		if err != nil {
			return 0, err
		}

		if s.enc != nil {
			chunk, _, err = s.enc.EncryptChunk(chunk)
			if err != nil {
				return 0, err
			}
		}

		s.buf = chunk
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]

	return n, nil
}

// resumableKey derives the ?key= value for directory-mode resumable
// discovery: the resource path with the basename stripped.
func resumableKey(p *UploadParams) string {
	if !p.IsDir {
		return ""
	}

	r := strings.TrimPrefix(filepath.ToSlash(p.Resource), "/")

	dir := path.Dir(r)
	if dir == "." {
		return ""
	}

	return dir
}

// GetResumable asks the server whether an upload of filename can be
// resumed. Exactly one of uploadID or key should be set; both empty asks
// for any match on the filename. A zero-ID Resumable means nothing to
// resume.
func (c *Client) GetResumable(ctx context.Context, filename, uploadID, key string) (Resumable, error) {
	endpoint := "resumables"
	if filename != "" {
		endpoint += "/" + url.PathEscape(path.Base(filepath.ToSlash(filename)))
	}

	query := url.Values{}
	if uploadID != "" {
		query.Set("id", uploadID)
	} else if key != "" {
		query.Set("key", key)
	}

	target := c.fileURL(ServiceFiles, endpoint, query)

	resp, err := c.do(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return Resumable{}, err
	}

	if err := checkStatus(resp); err != nil {
		return Resumable{}, fmt.Errorf("fileapi: resumable discovery: %w", err)
	}
	defer resp.Body.Close()

	var r Resumable
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Resumable{}, fmt.Errorf("fileapi: decoding resumable: %w", err)
	}

	return r, nil
}

// ListResumables returns every incomplete upload, ordered by server-side
// data size descending, then upload id.
func (c *Client) ListResumables(ctx context.Context) ([]Resumable, error) {
	target := c.fileURL(ServiceFiles, "resumables", nil)

	resp, err := c.do(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return nil, err
	}

	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("fileapi: listing resumables: %w", err)
	}
	defer resp.Body.Close()

	var list resumableList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("fileapi: decoding resumables: %w", err)
	}

	sortResumables(list.Resumables)

	return list.Resumables, nil
}

// DeleteResumable removes a server-side incomplete upload.
func (c *Client) DeleteResumable(ctx context.Context, filename, uploadID string) error {
	endpoint := "resumables/" + url.PathEscape(path.Base(filepath.ToSlash(filename)))
	query := url.Values{"id": {uploadID}}
	target := c.fileURL(ServiceFiles, endpoint, query)

	resp, err := c.do(ctx, http.MethodDelete, target, nil, nil)
	if err != nil {
		return err
	}

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("fileapi: deleting resumable %s: %w", uploadID, err)
	}

	drainBody(resp)

	return nil
}

// DeleteAllResumables removes every incomplete upload.
func (c *Client) DeleteAllResumables(ctx context.Context) error {
	all, err := c.ListResumables(ctx)
	if err != nil {
		return err
	}

	for _, r := range all {
		if err := c.DeleteResumable(ctx, r.Filename, r.ID); err != nil {
			return err
		}
	}

	return nil
}

// InitiateResumable uploads a file with the chunked protocol, resuming a
// matching server-side record unless forceNew is set. A resume whose
// integrity check fails surfaces ErrResumeMismatch rather than silently
// starting over, leaving the server-side record for inspection.
func (c *Client) InitiateResumable(ctx context.Context, p UploadParams, forceNew bool, uploadID string) (*UploadResult, error) {
	if !forceNew {
		r, err := c.GetResumable(ctx, p.LocalPath, uploadID, resumableKey(&p))
		if err != nil {
			return nil, err
		}

		if r.ID != "" {
			return c.ContinueResumable(ctx, p, r)
		}
	}

	return c.StartResumable(ctx, p)
}

// StartResumable begins a fresh chunked upload. The first PATCH carries
// no id; the server assigns one, echoed in every response, and its
// max_chunk is authoritative for the next index.
func (c *Client) StartResumable(ctx context.Context, p UploadParams) (*UploadResult, error) {
	reader, err := NewChunkReader(p.LocalPath, p.chunkSize(), nil, p.Progress)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return c.sendChunks(ctx, &p, reader, 1, "")
}

// ContinueResumable resumes an interrupted chunked upload after
// verifying the last committed chunk.
func (c *Client) ContinueResumable(ctx context.Context, p UploadParams, r Resumable) (*UploadResult, error) {
	resume := &ResumeState{
		PreviousOffset: r.PreviousOffset,
		NextOffset:     r.NextOffset,
		ServerMd5:      r.Md5Sum,
	}

	reader, err := NewChunkReader(p.LocalPath, r.ChunkSize, resume, p.Progress)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	c.logger.Info("resuming upload",
		slog.String("id", r.ID),
		slog.Int64("next_offset", r.NextOffset),
	)

	return c.sendChunks(ctx, &p, reader, r.MaxChunk+1, r.ID)
}

// sendChunks drives the PATCH loop and the chunk=end commit.
func (c *Client) sendChunks(
	ctx context.Context, p *UploadParams, reader *ChunkReader, chunkNum int64, uploadID string,
) (*UploadResult, error) {
	resource := p.resource()
	base := c.fileURL(ServiceFiles, "stream/"+resource, nil)

	headers := http.Header{}

	var mtime string

	if p.SetMtime {
		var err error

		mtime, err = mtimeHeader(p.LocalPath)
		if err != nil {
			return nil, err
		}

		headers.Set("Modified-Time", mtime)
	}

	for {
		chunk, err := reader.Next()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, err
		}

		chunkHeaders := headers.Clone()

		if p.Encryptor != nil {
			enc, sealed, encErr := p.Encryptor.EncryptChunk(chunk)
			if encErr != nil {
				return nil, encErr
			}

			chunk = enc
			applyEncryptionHeaders(chunkHeaders, sealed)
		}

		query := url.Values{"chunk": {strconv.FormatInt(chunkNum, 10)}}
		if uploadID != "" {
			query.Set("id", uploadID)
		}

		resp, err := c.do(ctx, http.MethodPatch, base+"?"+query.Encode(), chunkHeaders, chunk)
		if err != nil {
			return nil, err
		}

		if err := checkStatus(resp); err != nil {
			return nil, fmt.Errorf("fileapi: uploading chunk %d: %w", chunkNum, err)
		}

		var cr chunkResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("fileapi: decoding chunk response: %w", err)
		}

		resp.Body.Close()

		if uploadID == "" {
			uploadID = cr.ID

			if !p.NoPrintID {
				fmt.Printf("Upload id: %s\n", uploadID)
			}
		}

		// The server's committed index decides what comes next.
		chunkNum = cr.MaxChunk + 1
	}

	return c.completeResumable(ctx, base, uploadID, c.group(p), mtime)
}

// completeResumable issues the chunk=end PATCH, the upload's sole commit
// point.
func (c *Client) completeResumable(ctx context.Context, base, uploadID, group, mtime string) (*UploadResult, error) {
	query := url.Values{
		"chunk": {"end"},
		"id":    {uploadID},
		"group": {group},
	}

	headers := http.Header{}
	if mtime != "" {
		headers.Set("Modified-Time", mtime)
	}

	resp, err := c.do(ctx, http.MethodPatch, base+"?"+query.Encode(), headers, nil)
	if err != nil {
		return nil, err
	}

	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("fileapi: completing upload %s: %w", uploadID, err)
	}
	defer resp.Body.Close()

	var cr chunkResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("fileapi: decoding completion response: %w", err)
	}

	c.logger.Debug("upload complete",
		slog.String("id", uploadID),
		slog.Int64("max_chunk", cr.MaxChunk),
	)

	return &UploadResult{ID: uploadID, MaxChunk: cr.MaxChunk}, nil
}

// ImportDelete removes an uploaded file from the import area.
func (c *Client) ImportDelete(ctx context.Context, group, filename string) error {
	endpoint := "stream/" + group + "/" + escapePath(filename)
	target := c.fileURL(ServiceFiles, endpoint, nil)

	resp, err := c.do(ctx, http.MethodDelete, target, nil, nil)
	if err != nil {
		return err
	}

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("fileapi: deleting import %s: %w", filename, err)
	}

	drainBody(resp)

	return nil
}

// ExportDelete removes a file from the export area.
func (c *Client) ExportDelete(ctx context.Context, filename string) error {
	endpoint := "export/" + escapePath(filename)
	target := c.fileURL(ServiceFiles, endpoint, nil)

	resp, err := c.do(ctx, http.MethodDelete, target, nil, nil)
	if err != nil {
		return err
	}

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("fileapi: deleting export %s: %w", filename, err)
	}

	drainBody(resp)

	return nil
}
