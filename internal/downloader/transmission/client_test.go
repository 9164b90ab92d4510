package transmission_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"shelfarr/internal/config"
	"shelfarr/internal/downloader"
	"shelfarr/internal/downloader/transmission"
	"shelfarr/internal/logging"
	"shelfarr/internal/services"
)

const hash = "c12fe1c06bba254a9dc9f519b335aa7c1367a88a"

type fakeTransmission struct {
	mu        sync.Mutex
	session   string
	conflicts int
	adds      int
	lastAdd   map[string]any
	torrents  map[string]map[string]any
}

func newFake() *fakeTransmission {
	return &fakeTransmission{session: "session-1", torrents: map[string]map[string]any{}}
}

func (f *fakeTransmission) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path != "/transmission/rpc" {
		http.NotFound(w, r)
		return
	}
	if user, pass, ok := r.BasicAuth(); !ok || user != "admin" || pass != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.Header.Get("X-Transmission-Session-Id") != f.session {
		f.conflicts++
		w.Header().Set("X-Transmission-Session-Id", f.session)
		w.WriteHeader(http.StatusConflict)
		return
	}

	var req struct {
		Method    string         `json:"method"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reply := func(args any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": "success", "arguments": args})
	}
	ids := func() []string {
		var out []string
		if raw, ok := req.Arguments["ids"].([]any); ok {
			for _, v := range raw {
				out = append(out, v.(string))
			}
		}
		return out
	}

	switch req.Method {
	case "session-get":
		reply(map[string]any{"version": "4.0.5 (a6fe2a64aa)", "rpc-version": 17})
	case "torrent-add":
		f.adds++
		f.lastAdd = req.Arguments
		if _, ok := f.torrents[hash]; ok {
			reply(map[string]any{"torrent-duplicate": map[string]any{"id": 1, "hashString": hash, "name": "Book"}})
			return
		}
		f.torrents[hash] = map[string]any{
			"id": 1, "hashString": hash, "name": "Book", "status": 4, "sizeWhenDone": 1000, "leftUntilDone": 400,
			"percentDone": 0.6, "rateDownload": 50, "eta": 30, "labels": req.Arguments["labels"],
			"downloadDir": req.Arguments["download-dir"], "error": 0,
		}
		reply(map[string]any{"torrent-added": map[string]any{"id": 1, "hashString": hash, "name": "Book"}})
	case "torrent-get":
		var out []map[string]any
		want := ids()
		for h, t := range f.torrents {
			if len(want) == 0 || want[0] == h {
				out = append(out, t)
			}
		}
		reply(map[string]any{"torrents": out})
	case "torrent-stop":
		for _, id := range ids() {
			if t, ok := f.torrents[id]; ok {
				t["status"] = 0
			}
		}
		reply(map[string]any{})
	case "torrent-set":
		for _, id := range ids() {
			if t, ok := f.torrents[id]; ok {
				t["labels"] = req.Arguments["labels"]
			}
		}
		reply(map[string]any{})
	case "torrent-remove":
		for _, id := range ids() {
			delete(f.torrents, id)
		}
		reply(map[string]any{})
	default:
		_ = json.NewEncoder(w).Encode(map[string]any{"result": "method name not recognized"})
	}
}

func newClient(t *testing.T, srv *httptest.Server, password string) *transmission.Client {
	t.Helper()
	client, err := transmission.New(config.DownloadClient{
		ID:          "tr",
		Type:        config.ClientTypeTransmission,
		URL:         srv.URL,
		Username:    "admin",
		Password:    password,
		Category:    "audiobooks",
		DownloadDir: "/data/downloads",
	}, downloader.WithNotFoundDelays(), downloader.WithLogger(logging.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestSessionHandshakeAndVersion(t *testing.T) {
	fake := newFake()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	client := newClient(t, srv, "secret")

	res := client.TestConnection(context.Background())
	if !res.Success || res.Version == "" {
		t.Fatalf("TestConnection = %+v", res)
	}
	fake.mu.Lock()
	fake.session = "session-2"
	fake.mu.Unlock()
	if res := client.TestConnection(context.Background()); !res.Success {
		t.Fatalf("rotated session not recovered: %+v", res)
	}
	if fake.conflicts != 2 {
		t.Fatalf("expected two 409 handshakes, got %d", fake.conflicts)
	}
}

func TestAddAndGetDownload(t *testing.T) {
	fake := newFake()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	client := newClient(t, srv, "secret")
	ctx := context.Background()
	src := downloader.Source{URL: "magnet:?xt=urn:btih:" + hash + "&dn=Book"}

	id, err := client.AddDownload(ctx, src, downloader.AddOptions{})
	if err != nil || id != hash {
		t.Fatalf("AddDownload = %q, %v", id, err)
	}
	if fake.lastAdd["filename"] != src.URL || fake.lastAdd["download-dir"] != "/data/downloads" {
		t.Fatalf("unexpected add arguments: %+v", fake.lastAdd)
	}
	if again, err := client.AddDownload(ctx, src, downloader.AddOptions{}); err != nil || again != hash {
		t.Fatalf("second AddDownload = %q, %v", again, err)
	}
	if fake.adds != 1 {
		t.Fatalf("expected a single torrent-add, got %d", fake.adds)
	}

	dl, err := client.GetDownload(ctx, hash)
	if err != nil || dl == nil {
		t.Fatalf("GetDownload = %+v, %v", dl, err)
	}
	if dl.Status != downloader.StatusDownloading || dl.BytesDone != 600 || dl.Category != "audiobooks" {
		t.Fatalf("unexpected snapshot: %+v", dl)
	}
	if dl.Path != "/data/downloads/Book" {
		t.Fatalf("unexpected path %q", dl.Path)
	}

	if err := client.PauseDownload(ctx, hash); err != nil {
		t.Fatal(err)
	}
	dl, _ = client.GetDownload(ctx, hash)
	if dl.Status != downloader.StatusPaused {
		t.Fatalf("expected paused, got %s", dl.Status)
	}
}

func TestLabelsAsCategories(t *testing.T) {
	fake := newFake()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	client := newClient(t, srv, "secret")
	ctx := context.Background()

	if _, err := client.AddDownload(ctx, downloader.Source{URL: "magnet:?xt=urn:btih:" + hash}, downloader.AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := client.SetCategory(ctx, hash, "imported"); err != nil {
		t.Fatal(err)
	}
	cats, err := client.GetCategories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != 2 || cats[0] != "audiobooks" || cats[1] != "imported" {
		t.Fatalf("categories = %v", cats)
	}
	if err := client.DeleteDownload(ctx, hash, false); err != nil {
		t.Fatal(err)
	}
	if dl, err := client.GetDownload(ctx, hash); err != nil || dl != nil {
		t.Fatalf("expected missing download, got %+v, %v", dl, err)
	}
}

func TestStatusMapping(t *testing.T) {
	fake := newFake()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	client := newClient(t, srv, "secret")

	cases := []struct {
		status  int
		errCode int
		percent float64
		want    downloader.Status
	}{
		{0, 0, 0.5, downloader.StatusPaused},
		{0, 0, 1, downloader.StatusCompleted},
		{2, 0, 0.5, downloader.StatusChecking},
		{3, 0, 0, downloader.StatusQueued},
		{6, 0, 1, downloader.StatusSeeding},
		{4, 2, 0.3, downloader.StatusDownloading},
		{4, 3, 0.3, downloader.StatusFailed},
	}
	for _, tc := range cases {
		fake.mu.Lock()
		fake.torrents[hash] = map[string]any{"hashString": hash, "name": "Book", "status": tc.status, "error": tc.errCode, "percentDone": tc.percent, "errorString": "disk"}
		fake.mu.Unlock()
		dl, err := client.GetDownload(context.Background(), hash)
		if err != nil {
			t.Fatal(err)
		}
		if dl.Status != tc.want {
			t.Errorf("status=%d error=%d percent=%v: got %s want %s", tc.status, tc.errCode, tc.percent, dl.Status, tc.want)
		}
	}
}

func TestUnauthorized(t *testing.T) {
	srv := httptest.NewServer(newFake())
	defer srv.Close()
	client := newClient(t, srv, "nope")

	if res := client.TestConnection(context.Background()); res.Success {
		t.Fatal("expected failure")
	}
	_, err := client.GetCategories(context.Background())
	if !errors.Is(err, services.ErrAuthentication) {
		t.Fatalf("expected auth error, got %v", err)
	}
}
