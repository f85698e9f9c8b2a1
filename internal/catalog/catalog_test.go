package catalog

import (
	"encoding/json"
	"testing"
)

func TestFlattenLeaves(t *testing.T) {
	tree := []Category{
		{ID: 1, Name: "Skincare", Children: []Category{
			{ID: 11, Name: "Cleanser"},
			{ID: 12, Name: "Moisturizer", Children: []Category{
				{ID: 121, Name: "Cream"},
				{ID: 122, Name: "Gel"},
			}},
		}},
		{ID: 2, Name: "Makeup"},
		{Name: "no-id", Children: []Category{{ID: 31, Name: "Orphan"}}},
	}

	leaves := FlattenLeaves(tree)

	wantIDs := []int64{11, 121, 122, 2}
	if len(leaves) != len(wantIDs) {
		t.Fatalf("expected %d leaves, got %d", len(wantIDs), len(leaves))
	}
	for i, want := range wantIDs {
		if leaves[i].ID != want {
			t.Errorf("leaf %d: expected id %d, got %d", i, want, leaves[i].ID)
		}
	}
}

func TestFlattenLeavesEmpty(t *testing.T) {
	if leaves := FlattenLeaves(nil); len(leaves) != 0 {
		t.Errorf("expected no leaves for empty tree, got %d", len(leaves))
	}
}

func TestFlattenLeavesDuplicateNames(t *testing.T) {
	tree := []Category{
		{ID: 1, Name: "Sale"},
		{ID: 2, Name: "Sale"},
	}
	if leaves := FlattenLeaves(tree); len(leaves) != 2 {
		t.Errorf("duplicate leaf names must not be deduplicated, got %d leaves", len(leaves))
	}
}

func TestParseHome(t *testing.T) {
	payload := json.RawMessage(`{
		"cate_menu": [
			{"id": 3, "name": "Hair", "child": [{"id": 31, "name": "Shampoo"}]}
		],
		"banner": {}
	}`)

	cats, err := ParseHome(payload)
	if err != nil {
		t.Fatalf("ParseHome failed: %v", err)
	}
	if len(cats) != 1 || cats[0].ID != 3 || len(cats[0].Children) != 1 {
		t.Errorf("unexpected tree: %+v", cats)
	}
}

func TestParseListing(t *testing.T) {
	payload := json.RawMessage(`{
		"listing": [
			{"id": 100, "name": "Serum", "brand": {"id": 7, "name": "Acme"}},
			{"id": 101, "name": "Toner", "brand": {}},
			{"name": "broken item"}
		]
	}`)

	refs, err := ParseListing(payload)
	if err != nil {
		t.Fatalf("ParseListing failed: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %d", len(refs))
	}
	if refs[0].ProductID != 100 || refs[0].BrandID == nil || *refs[0].BrandID != 7 {
		t.Errorf("unexpected first ref: %+v", refs[0])
	}
	if refs[1].ProductID != 101 || refs[1].BrandID != nil {
		t.Errorf("expected nil brand for second ref: %+v", refs[1])
	}
}

func TestParseReviewPage(t *testing.T) {
	payload := json.RawMessage(`{
		"status": 200,
		"data": {
			"rating": {"avg": 4.5},
			"reviews": [{"id": 1}, {"id": 2}],
			"total": 12
		}
	}`)

	info, err := ParseReviewPage(payload)
	if err != nil {
		t.Fatalf("ParseReviewPage failed: %v", err)
	}
	if info.ReviewCount != 2 {
		t.Errorf("expected 2 reviews, got %d", info.ReviewCount)
	}
	if info.DeclaredTotal != 12 {
		t.Errorf("expected declared total 12, got %d", info.DeclaredTotal)
	}
}

func TestParseReviewPageNoData(t *testing.T) {
	info, err := ParseReviewPage(json.RawMessage(`{"status": 200}`))
	if err != nil {
		t.Fatalf("ParseReviewPage failed: %v", err)
	}
	if info.ReviewCount != 0 || info.DeclaredTotal != 0 {
		t.Errorf("expected zero values, got %+v", info)
	}
}

func TestParseReviewPageDataAsArray(t *testing.T) {
	info, err := ParseReviewPage(json.RawMessage(`{"status": 200, "data": []}`))
	if err != nil {
		t.Fatalf("ParseReviewPage failed: %v", err)
	}
	if info.ReviewCount != 0 || info.DeclaredTotal != 0 {
		t.Errorf("expected zero values for non-object data, got %+v", info)
	}
}
