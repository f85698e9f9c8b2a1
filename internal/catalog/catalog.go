// Package catalog defines the upstream payload shapes and the parsing
// helpers that extract crawl targets from them: the category tree from the
// home payload, product references from listing pages, and review arrays
// with their declared totals from review pages.
package catalog

import (
	"encoding/json"
	"fmt"
)

// Category is one node of the category tree served by the home endpoint.
// Only leaf nodes are listing-crawl targets; the tree itself is transient
// and rebuilt every run.
type Category struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Children []Category `json:"child"`
}

// ProductRef is one product occurrence on a listing page.
type ProductRef struct {
	ProductID int64
	BrandID   *int64 // nil when the listing item carries no brand
}

// FlattenLeaves returns the leaf categories of the tree in depth-first
// order, children visited in upstream-given order. Nodes without an id are
// skipped entirely; duplicate names are kept.
func FlattenLeaves(categories []Category) []Category {
	var leaves []Category
	var walk func([]Category)
	walk = func(cats []Category) {
		for _, cat := range cats {
			if cat.ID == 0 {
				continue
			}
			if len(cat.Children) > 0 {
				walk(cat.Children)
				continue
			}
			leaves = append(leaves, Category{ID: cat.ID, Name: cat.Name})
		}
	}
	walk(categories)
	return leaves
}

// ParseHome extracts the category tree from the home payload.
func ParseHome(payload json.RawMessage) ([]Category, error) {
	var home struct {
		CateMenu []Category `json:"cate_menu"`
	}
	if err := json.Unmarshal(payload, &home); err != nil {
		return nil, fmt.Errorf("failed to parse home payload: %w", err)
	}
	return home.CateMenu, nil
}

// ParseListing extracts product references from one listing page payload.
// Items without an id are dropped.
func ParseListing(payload json.RawMessage) ([]ProductRef, error) {
	var page struct {
		Listing []struct {
			ID    int64 `json:"id"`
			Brand struct {
				ID int64 `json:"id"`
			} `json:"brand"`
		} `json:"listing"`
	}
	if err := json.Unmarshal(payload, &page); err != nil {
		return nil, fmt.Errorf("failed to parse listing payload: %w", err)
	}

	refs := make([]ProductRef, 0, len(page.Listing))
	for _, item := range page.Listing {
		if item.ID == 0 {
			continue
		}
		ref := ProductRef{ProductID: item.ID}
		if item.Brand.ID != 0 {
			brandID := item.Brand.ID
			ref.BrandID = &brandID
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// ReviewPageInfo is the part of a review payload the pagination strategy
// needs: how many reviews this page carries and the total the upstream
// declares for the product.
type ReviewPageInfo struct {
	ReviewCount   int
	DeclaredTotal int
}

// ParseReviewPage reads the review array length and declared total from a
// review page payload. The payload nests both under "data"; a missing or
// malformed "data" object yields zero values, matching how the upstream
// responds for products without reviews.
func ParseReviewPage(payload json.RawMessage) (ReviewPageInfo, error) {
	var page struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &page); err != nil {
		return ReviewPageInfo{}, fmt.Errorf("failed to parse review payload: %w", err)
	}

	var data struct {
		Reviews []json.RawMessage `json:"reviews"`
		Total   int               `json:"total"`
	}
	// The upstream sometimes serves "data" as an empty array instead of an
	// object; treat anything non-object as a page without reviews.
	if len(page.Data) == 0 || json.Unmarshal(page.Data, &data) != nil {
		return ReviewPageInfo{}, nil
	}
	return ReviewPageInfo{
		ReviewCount:   len(data.Reviews),
		DeclaredTotal: data.Total,
	}, nil
}
