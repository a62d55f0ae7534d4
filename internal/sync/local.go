package sync

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// enumerateLocal walks root and returns one Item per regular file, with
// resource paths as prefix/<path relative to root> in slash form.
// Resource names are NFC normalized so they compare equal to remote
// listings regardless of how the local filesystem stores them.
//
// Directories whose name starts with an ignore prefix are skipped
// whole; files whose name ends with an ignore suffix are skipped
// individually. A missing root yields an empty list, which lets a
// download sync treat a not-yet-created target as having no files.
func enumerateLocal(root, prefix string, ignorePrefixes, ignoreSuffixes []string, useMtime bool) ([]Item, error) {
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var items []Item

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		name := d.Name()

		if d.IsDir() {
			if p != root && hasAnyPrefix(name, ignorePrefixes) {
				return fs.SkipDir
			}

			return nil
		}

		if !d.Type().IsRegular() || hasAnySuffix(name, ignoreSuffixes) {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		resource := norm.NFC.String(path.Join(prefix, filepath.ToSlash(rel)))

		var ref string

		if useMtime {
			info, err := d.Info()
			if err != nil {
				return err
			}

			ref = formatMtime(float64(info.ModTime().UnixNano()) / 1e9)
		}

		items = append(items, Item{Resource: resource, Ref: ref})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return items, nil
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}

	return false
}

func hasAnySuffix(name string, suffixes []string) bool {
	for _, s := range suffixes {
		if s != "" && strings.HasSuffix(name, s) {
			return true
		}
	}

	return false
}

// formatMtime renders epoch seconds the same way on both sides of a
// comparison.
func formatMtime(sec float64) string {
	return strconv.FormatFloat(sec, 'f', -1, 64)
}
