package downloader_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"shelfarr/internal/downloader"
	"shelfarr/internal/services"
)

const testMagnet = "magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a&dn=Book"

func TestFetchMagnetPassthrough(t *testing.T) {
	f := downloader.NewFetcher(nil, false)
	got, err := f.Fetch(context.Background(), "  "+testMagnet)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Magnet != testMagnet || got.Data != nil {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestFetchFollowsRedirectToMagnet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/proxy", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/indexer", http.StatusFound)
	})
	mux.HandleFunc("/indexer", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", testMagnet)
		w.WriteHeader(http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	got, err := downloader.NewFetcher(srv.Client(), false).Fetch(context.Background(), srv.URL+"/proxy")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Magnet != testMagnet {
		t.Fatalf("expected magnet from redirect, got %+v", got)
	}
}

func TestFetchDownloadsFileWithName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing user agent")
		}
		w.Header().Set("Content-Type", "application/x-bittorrent")
		w.Header().Set("Content-Disposition", `attachment; filename="Some Book.torrent"`)
		_, _ = w.Write([]byte("d4:infod4:name4:booke"))
	}))
	defer srv.Close()

	got, err := downloader.NewFetcher(nil, false).Fetch(context.Background(), srv.URL+"/dl?id=7")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.FileName != "Some Book.torrent" || got.ContentType != "application/x-bittorrent" || len(got.Data) == 0 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestFetchRejectsEmptyBodyAndMapsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := downloader.NewFetcher(nil, false)
	if _, err := f.Fetch(context.Background(), srv.URL+"/empty"); !errors.Is(err, services.ErrRejected) {
		t.Fatalf("expected rejected for empty body, got %v", err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFetchReadsLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.nzb")
	if err := os.WriteFile(path, []byte("<nzb/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := downloader.NewFetcher(nil, false).Fetch(context.Background(), path)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got.Data) != "<nzb/>" || got.FileName != "book.nzb" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestFetchRejectsUnsupportedScheme(t *testing.T) {
	_, err := downloader.NewFetcher(nil, false).Fetch(context.Background(), "ftp://example.com/file.torrent")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
