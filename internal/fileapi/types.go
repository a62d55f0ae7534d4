package fileapi

import (
	"sort"
)

// Resumable mirrors the server-side record of a partially uploaded file.
// Chunks are contiguous; MaxChunk is the highest committed index and
// Md5Sum is the hash of the bytes in [PreviousOffset, NextOffset).
type Resumable struct {
	ID             string `json:"id"`
	Filename       string `json:"filename"`
	ChunkSize      int64  `json:"chunk_size"`
	MaxChunk       int64  `json:"max_chunk"`
	PreviousOffset int64  `json:"previous_offset"`
	NextOffset     int64  `json:"next_offset"`
	Md5Sum         string `json:"md5sum"`
}

// resumableList is the JSON shape of GET /resumables without a filename.
type resumableList struct {
	Resumables []Resumable `json:"resumables"`
}

// sortResumables orders by server-side data size descending, then upload
// id ascending, giving a total order even on ties.
func sortResumables(rs []Resumable) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].NextOffset != rs[j].NextOffset {
			return rs[i].NextOffset > rs[j].NextOffset
		}

		return rs[i].ID < rs[j].ID
	})
}

// chunkResponse is the JSON echoed by each chunk PATCH. The server's
// max_chunk is authoritative for the next index.
type chunkResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MaxChunk int64  `json:"max_chunk"`
}

// ListEntry is one file in a directory listing.
type ListEntry struct {
	Filename     string  `json:"filename"`
	Size         *int64  `json:"size"`
	ModifiedDate string  `json:"modified_date"`
	Owner        string  `json:"owner"`
	MimeType     string  `json:"mime-type"`
	Exportable   *bool   `json:"exportable"`
	Etag         string  `json:"etag"`
	Mtime        float64 `json:"mtime"`
	Reason       string  `json:"reason"`
}

// Listing is one page of a directory listing. Page is the server-issued
// link to the next page, empty on the last page.
type Listing struct {
	Files []ListEntry `json:"files"`
	Page  string      `json:"page"`
}

// HeadInfo carries the metadata needed to download a file: total size,
// the content-derived entity tag used as the resumable download id, and
// the optional server-side modification time (epoch seconds).
type HeadInfo struct {
	Size         int64
	Etag         string
	ModifiedTime string
	ContentType  string
}
