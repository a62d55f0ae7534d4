package fileapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// defaultPerPage is the page size requested from listing endpoints when
// the caller does not choose one.
const defaultPerPage = 1000

// ExportList returns one page of the export area. directory narrows the
// listing to a subdirectory; page is a server-issued link from a prior
// Listing. A 404 means an empty (or absent) directory, not a failure.
func (c *Client) ExportList(ctx context.Context, directory, page string, perPage int) (*Listing, error) {
	endpoint := "export"
	if directory != "" {
		endpoint += "/" + escapePath(directory)
	}

	return c.list(ctx, ServiceFiles, endpoint, page, perPage)
}

// ImportList returns one page of the import area for a group.
func (c *Client) ImportList(ctx context.Context, group, directory, page string, perPage int) (*Listing, error) {
	endpoint := "stream/" + group
	if directory != "" {
		endpoint += "/" + escapePath(directory)
	}

	return c.list(ctx, ServiceFiles, endpoint, page, perPage)
}

// SurveyList returns one page of a form's attachments in the survey
// backend.
func (c *Client) SurveyList(ctx context.Context, formID, page string, perPage int) (*Listing, error) {
	return c.list(ctx, ServiceSurvey, formID+"/attachments", page, perPage)
}

func (c *Client) list(ctx context.Context, service, endpoint, page string, perPage int) (*Listing, error) {
	var target string

	if page != "" {
		target = c.pageURL(page)
	} else {
		query := url.Values{}
		if perPage <= 0 {
			perPage = defaultPerPage
		}

		query.Set("per_page", strconv.Itoa(perPage))
		target = c.fileURL(service, endpoint, query)
	}

	resp, err := c.do(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return nil, err
	}

	if err := checkStatus(resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return &Listing{}, nil
		}

		return nil, fmt.Errorf("fileapi: listing %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	var listing Listing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("fileapi: decoding listing: %w", err)
	}

	return &listing, nil
}

// ListFunc fetches one page of a listing for a directory. It abstracts
// over export/import/survey listings so the directory transporter can
// paginate uniformly.
type ListFunc func(ctx context.Context, directory, page string, perPage int) (*Listing, error)

// ListAll drains a paginated listing, following page links until empty.
func ListAll(ctx context.Context, fetch ListFunc, directory string, perPage int) ([]ListEntry, error) {
	var (
		out  []ListEntry
		page string
	)

	for {
		listing, err := fetch(ctx, directory, page, perPage)
		if err != nil {
			return nil, err
		}

		out = append(out, listing.Files...)

		if listing.Page == "" {
			return out, nil
		}

		page = listing.Page
	}
}
