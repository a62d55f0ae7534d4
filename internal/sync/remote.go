package sync

import (
	"context"
	"path"

	"golang.org/x/text/unicode/norm"

	"github.com/tacl-io/tacl/internal/fileapi"
)

// remoteListing is a remote directory tree flattened to items plus the
// entity tags needed to resume partial downloads.
type remoteListing struct {
	items []Item

	// etags maps resource path to entity tag, present only for files
	// the server tagged.
	etags map[string]string
}

// enumerateRemote walks a remote directory breadth first, following
// subdirectory entries through the paginated listing endpoint. Resource
// names are NFC normalized. The integrity reference is the entry's
// mtime when useMtime is set, otherwise empty; entity tags are returned
// separately either way.
//
// The same ignore rules as local enumeration apply: subdirectories
// whose name starts with an ignore prefix are not descended into, and
// files whose name ends with an ignore suffix are left out. Both sides
// of a pair comparison must see the same filtered view, or a mirroring
// sync would delete files the user asked to leave alone.
func enumerateRemote(ctx context.Context, fetch fileapi.ListFunc, directory string, perPage int, ignorePrefixes, ignoreSuffixes []string, useMtime bool) (*remoteListing, error) {
	out := &remoteListing{etags: make(map[string]string)}
	queue := []string{directory}

	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		entries, err := fileapi.ListAll(ctx, fetch, dir, perPage)
		if err != nil {
			return nil, err
		}

		for _, entry := range entries {
			resource := norm.NFC.String(path.Join(dir, entry.Filename))

			if entry.MimeType == "directory" {
				if !hasAnyPrefix(entry.Filename, ignorePrefixes) {
					queue = append(queue, resource)
				}

				continue
			}

			if hasAnySuffix(entry.Filename, ignoreSuffixes) {
				continue
			}

			var ref string
			if useMtime && entry.Mtime != 0 {
				ref = formatMtime(entry.Mtime)
			}

			if entry.Etag != "" {
				out.etags[resource] = entry.Etag
			}

			out.items = append(out.items, Item{Resource: resource, Ref: ref})
		}
	}

	return out, nil
}
