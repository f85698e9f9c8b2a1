// Package pagination implements the two page-walking strategies used
// against the upstream API.
//
// Listings paginate honestly: past the last page the upstream returns an
// empty item array, so the listing walk simply runs until it sees one.
//
// Reviews do not. Once a product's reviews are exhausted the upstream
// repeats the final page's content instead of returning empty, so emptiness
// alone cannot terminate the walk. The review walk instead trusts the total
// declared on page 1: it computes the last legitimate page number from it
// and discards any non-empty page beyond that ceiling as the repeated-page
// defect. The ceiling logic lives in ComputeMaxPage and
// WithinLegitimateRange so it can be tested against synthetic sequences.
package pagination

import (
	"context"
	"encoding/json"

	"github.com/masahif/kaitadoru/internal/client"
)

// Page is one legitimate page collected by a walk.
type Page struct {
	Payload json.RawMessage
	Meta    *client.Metadata
	Number  int
}

// PageInfo is what a walk needs to know about a fetched payload.
type PageInfo struct {
	Items         int // entries on this page
	DeclaredTotal int // upstream-declared total for the whole resource
}

// FetchFunc fetches one page. A soft failure is (nil, nil, nil); an error
// return aborts the walk.
type FetchFunc func(ctx context.Context, page int) (json.RawMessage, *client.Metadata, error)

// InfoFunc extracts PageInfo from a fetched payload.
type InfoFunc func(payload json.RawMessage) (PageInfo, error)

// ReviewOptions tunes the review walk. Zero values fall back to the
// upstream contract defaults.
type ReviewOptions struct {
	PageSize    int // reviews per page, fixed at 5 by the upstream
	MaxPages    int // hard safety ceiling regardless of declared total
	MaxFailures int // consecutive soft failures tolerated before giving up
}

const (
	defaultPageSize    = 5
	defaultMaxPages    = 50
	defaultMaxFailures = 3
)

// ComputeMaxPage returns the last legitimate page number for a declared
// total, or 0 when the total is unknown or not positive.
func ComputeMaxPage(declaredTotal, pageSize int) int {
	if declaredTotal <= 0 || pageSize <= 0 {
		return 0
	}
	return (declaredTotal + pageSize - 1) / pageSize
}

// WithinLegitimateRange reports whether a page number is at or below the
// computed ceiling. An unknown ceiling (0) admits every page.
func WithinLegitimateRange(page, maxPage int) bool {
	return maxPage == 0 || page <= maxPage
}

// WalkListing fetches listing pages 1, 2, 3… until a page comes back empty
// or fails softly. The terminating page is excluded from the result; there
// is no upper bound other than upstream exhaustion.
func WalkListing(ctx context.Context, fetch FetchFunc, info InfoFunc) ([]Page, error) {
	var pages []Page
	for page := 1; ; page++ {
		payload, meta, err := fetch(ctx, page)
		if err != nil {
			return pages, err
		}
		if payload == nil {
			return pages, nil
		}

		pi, err := info(payload)
		if err != nil || pi.Items == 0 {
			return pages, nil
		}
		pages = append(pages, Page{Payload: payload, Meta: meta, Number: page})
	}
}

// WalkReviews fetches review pages 1, 2, 3… in strict order and returns the
// legitimate pages only. Termination, in evaluation order per page:
//
//  1. Soft fetch failure: tolerated up to MaxFailures consecutive times
//     (the failed page number is skipped); a success resets the streak.
//  2. Empty review array: normal exhaustion, stop.
//  3. Page number beyond the ceiling derived from page 1's declared total:
//     presumed repeated-final-page defect, discard and stop.
//
// The hard MaxPages ceiling bounds the walk no matter what the upstream
// declares.
func WalkReviews(ctx context.Context, fetch FetchFunc, info InfoFunc, opts ReviewOptions) ([]Page, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxPages
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = defaultMaxFailures
	}

	var pages []Page
	maxPage := 0
	failures := 0

	for page := 1; page <= opts.MaxPages; page++ {
		payload, meta, err := fetch(ctx, page)
		if err != nil {
			return pages, err
		}
		if payload == nil {
			failures++
			if failures >= opts.MaxFailures {
				return pages, nil
			}
			continue
		}
		pi, err := info(payload)
		if err != nil {
			// Unparseable page: same treatment as a soft fetch failure
			failures++
			if failures >= opts.MaxFailures {
				return pages, nil
			}
			continue
		}
		failures = 0

		if page == 1 {
			maxPage = ComputeMaxPage(pi.DeclaredTotal, opts.PageSize)
		}

		if pi.Items == 0 {
			return pages, nil
		}
		if !WithinLegitimateRange(page, maxPage) {
			return pages, nil
		}

		pages = append(pages, Page{Payload: payload, Meta: meta, Number: page})
	}
	return pages, nil
}
