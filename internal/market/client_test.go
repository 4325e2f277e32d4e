package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"auctionwatch/internal/fetch"
)

type staticTokens struct{}

func (staticTokens) Token(ctx context.Context) (string, error) { return "tok", nil }
func (staticTokens) Invalidate()                               {}

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	fetcher := fetch.NewConditional(staticTokens{}, fetch.Options{RequestsPerSec: 10000})
	return NewClient(fetcher, srv.URL, 1146), srv
}

func TestFetchRealmAuctions(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/wow/connected-realm/1146/auctions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("namespace") != "dynamic-us" {
			t.Errorf("missing namespace param")
		}
		_, _ = w.Write([]byte(`{"auctions":[{"id":1,"item":{"id":100},"quantity":5,"unit_price":10}]}`))
	})
	defer srv.Close()

	snap, notModified, err := client.FetchRealmAuctions(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if notModified {
		t.Fatal("fresh fetch must not report not-modified")
	}
	if snap.ConnectedRealmID != 1146 {
		t.Errorf("expected realm id on snapshot, got %d", snap.ConnectedRealmID)
	}
	if len(snap.Items) == 0 || len(snap.Commodities) != 0 {
		t.Errorf("realm snapshot must fill only the items section: %+v", snap)
	}
	if snap.FetchedAt.IsZero() {
		t.Error("fetchedAt must be stamped")
	}
}

func TestFetchCommodityAuctions(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/wow/auctions/commodities" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"auctions":[]}`))
	})
	defer srv.Close()

	snap, _, err := client.FetchCommodityAuctions(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(snap.Commodities) == 0 || len(snap.Items) != 0 {
		t.Errorf("commodity snapshot must fill only the commodities section: %+v", snap)
	}
}

func TestNotModifiedPassesThrough(t *testing.T) {
	first := true
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if first {
			first = false
			w.Header().Set("ETag", `"v1"`)
			_, _ = w.Write([]byte(`{"auctions":[]}`))
			return
		}
		if r.Header.Get("If-None-Match") != `"v1"` {
			t.Errorf("expected conditional header on second poll")
		}
		w.WriteHeader(http.StatusNotModified)
	})
	defer srv.Close()

	if _, _, err := client.FetchRealmAuctions(context.Background()); err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	snap, notModified, err := client.FetchRealmAuctions(context.Background())
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if !notModified || snap != nil {
		t.Errorf("expected a not-modified pass-through, got snap=%v notModified=%v", snap, notModified)
	}
}
