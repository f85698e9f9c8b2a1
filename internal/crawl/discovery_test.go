package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/masahif/kaitadoru/internal/client"
	"github.com/masahif/kaitadoru/internal/metrics"
)

func newDiscovery(t *testing.T, store *fakeStore, upstream string) *Discovery {
	t.Helper()
	cfg := testConfig(upstream)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDiscovery(client.New(cfg, metrics.New()), store, metrics.New(), logger, 4, 100)
}

func TestDiscoveryRun(t *testing.T) {
	server := newUpstream(t)
	store := newFakeStore()
	d := newDiscovery(t, store, server.URL)

	stats, err := d.Run(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if stats.CategoriesFound != 2 {
		t.Errorf("expected 2 leaf categories, got %d", stats.CategoriesFound)
	}
	if stats.PagesCrawled != 2 {
		t.Errorf("expected 2 listing pages, got %d", stats.PagesCrawled)
	}
	if stats.ProductsFound != 3 || stats.ProductsInserted != 3 || stats.ProductsSkipped != 0 {
		t.Errorf("unexpected product counts: %+v", stats)
	}
	if stats.Errors != 0 {
		t.Errorf("expected no errors, got %d", stats.Errors)
	}
}

func TestDiscoveryRerunSkipsKnownProducts(t *testing.T) {
	server := newUpstream(t)
	store := newFakeStore()
	d := newDiscovery(t, store, server.URL)

	if _, err := d.Run(context.Background(), uuid.New()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	stats, err := d.Run(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	if stats.ProductsInserted != 0 || stats.ProductsSkipped != 3 {
		t.Errorf("rerun must skip known products, got %+v", stats)
	}
}

func TestDiscoveryHomeUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	store := newFakeStore()
	d := newDiscovery(t, store, server.URL)

	_, err := d.Run(context.Background(), uuid.New())
	if !errors.Is(err, ErrHomeUnavailable) {
		t.Fatalf("expected ErrHomeUnavailable, got %v", err)
	}
}

func TestDiscoveryCategoryFailureIsIsolated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/home", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"cate_menu": [{"id": 11, "name": "A"}, {"id": 12, "name": "B"}]}`)
	})
	mux.HandleFunc("/listing", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Query().Get("cat") == "11" && r.URL.Query().Get("p") == "1":
			fmt.Fprint(w, `{"listing": [{"id": 200, "brand": {"id": 7}}]}`)
		case r.URL.Query().Get("cat") == "12":
			// Category 12 is broken upstream.
			http.NotFound(w, r)
		default:
			fmt.Fprint(w, `{"listing": []}`)
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	store := newFakeStore()
	d := newDiscovery(t, store, server.URL)

	stats, err := d.Run(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.ProductsInserted != 1 {
		t.Errorf("healthy category must still yield its products, got %+v", stats)
	}
}

func TestDiscoveryInsertFailureCountedPerCategory(t *testing.T) {
	server := newUpstream(t)
	store := newFakeStore()
	store.failListings = true
	d := newDiscovery(t, store, server.URL)

	stats, err := d.Run(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("insert failures must not abort the pass: %v", err)
	}
	// Each leaf category submits its own batches: both categories carry
	// products, so both report an insert failure.
	if stats.Errors != 2 {
		t.Errorf("expected 2 errors, got %d", stats.Errors)
	}
	if stats.ProductsFound != 3 || stats.ProductsInserted != 0 {
		t.Errorf("unexpected product counts: %+v", stats)
	}
}
