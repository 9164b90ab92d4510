package qbittorrent_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/zeebo/bencode"

	"shelfarr/internal/config"
	"shelfarr/internal/downloader"
	"shelfarr/internal/downloader/qbittorrent"
	"shelfarr/internal/logging"
	"shelfarr/internal/services"
	"shelfarr/internal/torrent"
)

const magnetHash = "c12fe1c06bba254a9dc9f519b335aa7c1367a88a"

type fakeQBit struct {
	mu         sync.Mutex
	sid        string
	logins     int
	adds       int
	torrents   map[string]map[string]any
	categories map[string]bool
	v5         bool
	lastAdd    map[string]string
}

func newFakeQBit() *fakeQBit {
	return &fakeQBit{torrents: map[string]map[string]any{}, categories: map[string]bool{}}
}

func (f *fakeQBit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/api/v2/auth/login" {
		_ = r.ParseForm()
		if r.PostForm.Get("username") != "admin" || r.PostForm.Get("password") != "secret" {
			_, _ = w.Write([]byte("Fails."))
			return
		}
		f.logins++
		f.sid = "sid-" + strings.Repeat("x", f.logins)
		http.SetCookie(w, &http.Cookie{Name: "SID", Value: f.sid, Path: "/"})
		_, _ = w.Write([]byte("Ok."))
		return
	}
	if cookie, err := r.Cookie("SID"); err != nil || cookie.Value != f.sid || f.sid == "" {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	switch r.URL.Path {
	case "/api/v2/app/version":
		_, _ = w.Write([]byte("v4.6.2"))
	case "/api/v2/torrents/info":
		hash := r.URL.Query().Get("hashes")
		out := []map[string]any{}
		if t, ok := f.torrents[hash]; ok {
			out = append(out, t)
		}
		_ = json.NewEncoder(w).Encode(out)
	case "/api/v2/torrents/categories":
		out := map[string]any{}
		for name := range f.categories {
			out[name] = map[string]string{"name": name, "savePath": ""}
		}
		_ = json.NewEncoder(w).Encode(out)
	case "/api/v2/torrents/createCategory":
		_ = r.ParseForm()
		f.categories[r.PostForm.Get("category")] = true
	case "/api/v2/torrents/add":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.adds++
		f.lastAdd = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			f.lastAdd[k] = v[0]
		}
		hash := magnetHash
		if files := r.MultipartForm.File["torrents"]; len(files) > 0 {
			file, _ := files[0].Open()
			buf := make([]byte, files[0].Size)
			_, _ = file.Read(buf)
			_ = file.Close()
			meta, err := torrent.ParseMetainfo(buf)
			if err != nil {
				_, _ = w.Write([]byte("Fails."))
				return
			}
			hash = meta.InfoHash
		}
		f.torrents[hash] = map[string]any{
			"hash": hash, "name": "Book", "state": "stalledDL", "total_size": 1000, "completed": 250,
			"progress": 0.25, "dlspeed": 10, "eta": 8640000, "category": f.lastAdd["category"],
			"save_path": "/data/downloads", "content_path": "/data/downloads/Book",
		}
		_, _ = w.Write([]byte("Ok."))
	case "/api/v2/torrents/pause", "/api/v2/torrents/resume":
		if f.v5 {
			http.NotFound(w, r)
			return
		}
		f.setState(r, map[string]string{"/api/v2/torrents/pause": "pausedDL", "/api/v2/torrents/resume": "downloading"}[r.URL.Path])
	case "/api/v2/torrents/stop", "/api/v2/torrents/start":
		f.setState(r, map[string]string{"/api/v2/torrents/stop": "stoppedDL", "/api/v2/torrents/start": "downloading"}[r.URL.Path])
	case "/api/v2/torrents/delete":
		_ = r.ParseForm()
		delete(f.torrents, r.PostForm.Get("hashes"))
	case "/api/v2/torrents/setCategory":
		_ = r.ParseForm()
		name := r.PostForm.Get("category")
		if name != "" && !f.categories[name] {
			w.WriteHeader(http.StatusConflict)
			return
		}
		if t, ok := f.torrents[r.PostForm.Get("hashes")]; ok {
			t["category"] = name
		}
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeQBit) setState(r *http.Request, state string) {
	_ = r.ParseForm()
	if t, ok := f.torrents[r.PostForm.Get("hashes")]; ok {
		t["state"] = state
	}
}

func newClient(t *testing.T, srv *httptest.Server, mutate ...func(*config.DownloadClient)) *qbittorrent.Client {
	t.Helper()
	cfg := config.DownloadClient{
		ID:          "qb",
		Type:        config.ClientTypeQBittorrent,
		URL:         srv.URL,
		Username:    "admin",
		Password:    "secret",
		Category:    "audiobooks",
		PathMapping: config.PathMapping{RemotePath: "/data/downloads", LocalPath: "/mnt/seedbox"},
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	client, err := qbittorrent.New(cfg, downloader.WithNotFoundDelays(), downloader.WithLogger(logging.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestAddDownloadIsIdempotent(t *testing.T) {
	fake := newFakeQBit()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	client := newClient(t, srv)
	ctx := context.Background()
	src := downloader.Source{URL: "magnet:?xt=urn:btih:" + strings.ToUpper(magnetHash), Title: "Book"}

	id, err := client.AddDownload(ctx, src, downloader.AddOptions{SavePath: "/mnt/seedbox/books"})
	if err != nil {
		t.Fatalf("AddDownload: %v", err)
	}
	if id != magnetHash {
		t.Fatalf("expected lowercase info hash, got %q", id)
	}
	again, err := client.AddDownload(ctx, src, downloader.AddOptions{})
	if err != nil || again != id {
		t.Fatalf("second add = %q, %v", again, err)
	}
	if fake.adds != 1 {
		t.Fatalf("expected one add call, got %d", fake.adds)
	}
	if fake.lastAdd["savepath"] != "/data/downloads/books" {
		t.Fatalf("save path not mapped to remote: %q", fake.lastAdd["savepath"])
	}
	if fake.lastAdd["category"] != "audiobooks" || !fake.categories["audiobooks"] {
		t.Fatalf("category not created and applied: %+v", fake.lastAdd)
	}
	if fake.logins != 1 {
		t.Fatalf("expected lazy single login, got %d", fake.logins)
	}
}

func TestAddDownloadUploadsTorrentFile(t *testing.T) {
	fake := newFakeQBit()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	info := map[string]any{"name": "Book", "length": 12, "piece length": 16384, "pieces": strings.Repeat("a", 20)}
	data, err := bencode.EncodeBytes(map[string]any{"announce": "http://tracker", "info": info})
	if err != nil {
		t.Fatal(err)
	}
	meta, err := torrent.ParseMetainfo(data)
	if err != nil {
		t.Fatal(err)
	}
	indexer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer indexer.Close()

	id, err := newClient(t, srv).AddDownload(context.Background(), downloader.Source{URL: indexer.URL + "/get/1"}, downloader.AddOptions{})
	if err != nil {
		t.Fatalf("AddDownload: %v", err)
	}
	if id != meta.InfoHash {
		t.Fatalf("id %q, want %q", id, meta.InfoHash)
	}
}

func TestGetDownloadNormalizes(t *testing.T) {
	fake := newFakeQBit()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	client := newClient(t, srv)
	ctx := context.Background()

	if _, err := client.AddDownload(ctx, downloader.Source{URL: "magnet:?xt=urn:btih:" + magnetHash}, downloader.AddOptions{}); err != nil {
		t.Fatal(err)
	}
	dl, err := client.GetDownload(ctx, magnetHash)
	if err != nil || dl == nil {
		t.Fatalf("GetDownload = %+v, %v", dl, err)
	}
	if dl.Status != downloader.StatusDownloading || dl.Percent() != 25 || dl.ETA != 0 {
		t.Fatalf("unexpected snapshot: %+v", dl)
	}
	if dl.Path != "/data/downloads/Book" {
		t.Fatalf("path must be raw client path, got %q", dl.Path)
	}

	missing, err := client.GetDownload(ctx, strings.Repeat("0", 40))
	if err != nil || missing != nil {
		t.Fatalf("missing download = %+v, %v", missing, err)
	}
}

func TestPauseFallsBackToStop(t *testing.T) {
	fake := newFakeQBit()
	fake.v5 = true
	srv := httptest.NewServer(fake)
	defer srv.Close()
	client := newClient(t, srv)
	ctx := context.Background()

	if _, err := client.AddDownload(ctx, downloader.Source{URL: "magnet:?xt=urn:btih:" + magnetHash}, downloader.AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := client.PauseDownload(ctx, magnetHash); err != nil {
		t.Fatalf("PauseDownload: %v", err)
	}
	dl, _ := client.GetDownload(ctx, magnetHash)
	if dl.Status != downloader.StatusPaused {
		t.Fatalf("expected paused, got %s", dl.Status)
	}
	if err := client.ResumeDownload(ctx, magnetHash); err != nil {
		t.Fatalf("ResumeDownload: %v", err)
	}
}

func TestReloginAfterSessionExpiry(t *testing.T) {
	fake := newFakeQBit()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	client := newClient(t, srv)
	ctx := context.Background()

	if res := client.TestConnection(ctx); !res.Success || res.Version != "v4.6.2" {
		t.Fatalf("TestConnection = %+v", res)
	}
	fake.mu.Lock()
	fake.sid = "rotated"
	fake.mu.Unlock()

	if _, err := client.GetCategories(ctx); err != nil {
		t.Fatalf("GetCategories after expiry: %v", err)
	}
	if fake.logins != 2 {
		t.Fatalf("expected re-login, logins=%d", fake.logins)
	}
}

func TestBadCredentials(t *testing.T) {
	srv := httptest.NewServer(newFakeQBit())
	defer srv.Close()
	client := newClient(t, srv, func(c *config.DownloadClient) { c.Password = "wrong" })

	if res := client.TestConnection(context.Background()); res.Success {
		t.Fatal("expected connection failure")
	}
	_, err := client.GetCategories(context.Background())
	if !errors.Is(err, services.ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
}

func TestSetCategoryAndDelete(t *testing.T) {
	fake := newFakeQBit()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	client := newClient(t, srv, func(c *config.DownloadClient) { c.Category = "" })
	ctx := context.Background()

	if _, err := client.AddDownload(ctx, downloader.Source{URL: "magnet:?xt=urn:btih:" + magnetHash}, downloader.AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := client.SetCategory(ctx, magnetHash, "done"); err != nil {
		t.Fatalf("SetCategory: %v", err)
	}
	cats, _ := client.GetCategories(ctx)
	if len(cats) != 1 || cats[0] != "done" {
		t.Fatalf("categories = %v", cats)
	}
	if err := client.DeleteDownload(ctx, magnetHash, true); err != nil {
		t.Fatalf("DeleteDownload: %v", err)
	}
	if dl, _ := client.GetDownload(ctx, magnetHash); dl != nil {
		t.Fatalf("expected deletion, got %+v", dl)
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := qbittorrent.New(config.DownloadClient{ID: "qb"}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
