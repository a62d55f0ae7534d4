package fileapi

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Service names (API backends) used in URL paths.
const (
	ServiceFiles  = "files"
	ServiceSurvey = "survey"
)

// fileURL builds <base>/<pnum>/<service>/<endpoint>, appending the query
// when non-empty. Endpoint segments are expected to be escaped already
// where needed (see escapePath).
func (c *Client) fileURL(service, endpoint string, query url.Values) string {
	u := c.baseURL + "/" + path.Join(c.pnum, service, endpoint)
	u = strings.TrimRight(u, "/")

	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	return u
}

// pageURL resolves a server-issued page link, which is a path relative
// to the host root (e.g. "v1/p11/files/export?page=2").
func (c *Client) pageURL(page string) string {
	root := c.baseURL[:strings.Index(c.baseURL, "/v1")]

	return root + "/" + strings.TrimLeft(page, "/")
}

// escapePath URL-escapes each slash-separated segment of a resource
// path, leaving the slashes intact.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

// uploadResource builds the resource part of upload URLs. File mode uses
// the basename; directory mode nests the group-prefixed relative path.
// An optional remotePath prefix is prepended inside the group prefix.
func uploadResource(filename string, isDir bool, group, remotePath string) string {
	if !isDir {
		base := path.Base(filepath.ToSlash(filename))
		if remotePath != "" {
			return group + "/" + escapePath(strings.Trim(remotePath, "/")) + "/" + escapePath(base)
		}

		return escapePath(base)
	}

	target := strings.TrimPrefix(filepath.ToSlash(filename), "/")
	if remotePath != "" {
		target = strings.Trim(remotePath, "/") + "/" + target
	}

	return group + "/" + escapePath(target)
}
