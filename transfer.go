package main

import (
	"github.com/tacl-io/tacl/internal/cache"
	"github.com/tacl-io/tacl/internal/session"
)

// openCachePair opens the request and delete caches for the current
// (environment, project), or returns nils when caching is disabled.
// The returned close function is safe to call either way.
func openCachePair(disabled, upload bool) (*cache.Cache, *cache.Cache, func(), error) {
	if disabled {
		return nil, nil, func() {}, nil
	}

	e, pnum, err := requireProject()
	if err != nil {
		return nil, nil, nil, err
	}

	dir, err := session.DataDir(e.String(), pnum)
	if err != nil {
		return nil, nil, nil, err
	}

	requestKind, deleteKind := cache.DownloadRequest, cache.DownloadDelete
	if upload {
		requestKind, deleteKind = cache.UploadRequest, cache.UploadDelete
	}

	transferCache, err := cache.Open(dir, requestKind, buildLogger())
	if err != nil {
		return nil, nil, nil, err
	}

	deleteCache, err := cache.Open(dir, deleteKind, buildLogger())
	if err != nil {
		transferCache.Close()
		return nil, nil, nil, err
	}

	closeBoth := func() {
		transferCache.Close()
		deleteCache.Close()
	}

	return transferCache, deleteCache, closeBoth, nil
}
