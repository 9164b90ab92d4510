package deluge_test

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
	"shelfarr/internal/downloader/deluge"
	"shelfarr/internal/logging"
	"shelfarr/internal/services"
)

const hash = "c12fe1c06bba254a9dc9f519b335aa7c1367a88a"

type fakeDeluge struct {
	mu            sync.Mutex
	session       string
	connected     bool
	labelsEnabled bool
	logins        int
	adds          int
	labels        []string
	torrents      map[string]map[string]any
	calls         []string
}

func newFake() *fakeDeluge {
	return &fakeDeluge{torrents: map[string]map[string]any{}}
}

func (f *fakeDeluge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var req struct {
		Method string `json:"method"`
		Params []any  `json:"params"`
		ID     int64  `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.calls = append(f.calls, req.Method)
	result := func(v any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": v, "error": nil, "id": req.ID})
	}
	fail := func(code int, msg string) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": nil, "error": map[string]any{"message": msg, "code": code}, "id": req.ID})
	}

	if req.Method == "auth.login" {
		if req.Params[0] != "deluge" {
			result(false)
			return
		}
		f.logins++
		f.session = "s1"
		http.SetCookie(w, &http.Cookie{Name: "_session_id", Value: f.session, Path: "/"})
		result(true)
		return
	}
	if cookie, err := r.Cookie("_session_id"); err != nil || cookie.Value != f.session {
		fail(1, "Not authenticated")
		return
	}

	switch req.Method {
	case "web.connected":
		result(f.connected)
	case "web.get_hosts":
		result([][]any{{"host-1", "127.0.0.1", 58846, "Online"}})
	case "web.connect":
		f.connected = true
		result(nil)
	case "daemon.info":
		result("2.1.1")
	case "core.add_torrent_magnet":
		f.adds++
		opts := req.Params[1].(map[string]any)
		f.torrents[hash] = map[string]any{
			"hash": hash, "name": "Book", "state": "Downloading", "total_wanted": 2000, "total_done": 500,
			"progress": 25.0, "download_payload_rate": 100.0, "eta": 60.0, "save_path": opts["download_location"],
		}
		result(hash)
	case "core.get_torrent_status":
		if t, ok := f.torrents[req.Params[0].(string)]; ok {
			result(t)
			return
		}
		result(map[string]any{})
	case "core.pause_torrents":
		fail(2, "Unknown method")
	case "core.pause_torrent":
		for _, id := range req.Params[0].([]any) {
			if t, ok := f.torrents[id.(string)]; ok {
				t["state"] = "Paused"
			}
		}
		result(nil)
	case "core.remove_torrent":
		delete(f.torrents, req.Params[0].(string))
		result(true)
	case "core.enable_plugin":
		f.labelsEnabled = true
		result(nil)
	case "label.get_labels", "label.add", "label.set_torrent":
		if !f.labelsEnabled {
			fail(2, "Unknown method")
			return
		}
		switch req.Method {
		case "label.get_labels":
			result(f.labels)
		case "label.add":
			f.labels = append(f.labels, req.Params[0].(string))
			result(nil)
		default:
			if t, ok := f.torrents[req.Params[0].(string)]; ok {
				t["label"] = req.Params[1]
			}
			result(nil)
		}
	default:
		fail(2, "Unknown method")
	}
}

func newClient(t *testing.T, srv *httptest.Server, password string) *deluge.Client {
	t.Helper()
	client, err := deluge.New(config.DownloadClient{
		ID:          "dl",
		Type:        config.ClientTypeDeluge,
		URL:         srv.URL,
		Password:    password,
		Category:    "Audiobooks",
		PathMapping: config.PathMapping{RemotePath: "/downloads", LocalPath: "/mnt/deluge"},
	}, downloader.WithNotFoundDelays(), downloader.WithLogger(logging.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestConnectsWebUIToDaemon(t *testing.T) {
	fake := newFake()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	res := newClient(t, srv, "deluge").TestConnection(context.Background())
	if !res.Success || res.Version != "2.1.1" {
		t.Fatalf("TestConnection = %+v", res)
	}
	if !fake.connected {
		t.Fatal("expected web.connect to be called")
	}
}

func TestAddDownloadAppliesLabelAndIsIdempotent(t *testing.T) {
	fake := newFake()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	client := newClient(t, srv, "deluge")
	ctx := context.Background()
	src := downloader.Source{URL: "magnet:?xt=urn:btih:" + hash}

	id, err := client.AddDownload(ctx, src, downloader.AddOptions{SavePath: "/mnt/deluge/books"})
	if err != nil || id != hash {
		t.Fatalf("AddDownload = %q, %v", id, err)
	}
	if _, err := client.AddDownload(ctx, src, downloader.AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if fake.adds != 1 {
		t.Fatalf("expected one add, got %d", fake.adds)
	}
	if !fake.labelsEnabled || len(fake.labels) != 1 || fake.labels[0] != "audiobooks" {
		t.Fatalf("label plugin not enabled or label not created: %v", fake.labels)
	}

	dl, err := client.GetDownload(ctx, hash)
	if err != nil || dl == nil {
		t.Fatalf("GetDownload = %+v, %v", dl, err)
	}
	if dl.Status != downloader.StatusDownloading || dl.Percent() != 25 || dl.Category != "audiobooks" {
		t.Fatalf("unexpected snapshot: %+v", dl)
	}
	if dl.Path != "/downloads/books/Book" {
		t.Fatalf("unexpected path %q", dl.Path)
	}
}

func TestPauseFallsBackAndDeleteIsIdempotent(t *testing.T) {
	fake := newFake()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	client := newClient(t, srv, "deluge")
	ctx := context.Background()

	if _, err := client.AddDownload(ctx, downloader.Source{URL: "magnet:?xt=urn:btih:" + hash}, downloader.AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := client.PauseDownload(ctx, hash); err != nil {
		t.Fatalf("PauseDownload: %v", err)
	}
	dl, _ := client.GetDownload(ctx, hash)
	if dl.Status != downloader.StatusPaused {
		t.Fatalf("expected paused, got %s", dl.Status)
	}
	if err := client.DeleteDownload(ctx, hash, true); err != nil {
		t.Fatal(err)
	}
	if dl, err := client.GetDownload(ctx, hash); err != nil || dl != nil {
		t.Fatalf("expected missing download, got %+v, %v", dl, err)
	}
}

func TestWrongPassword(t *testing.T) {
	srv := httptest.NewServer(newFake())
	defer srv.Close()
	client := newClient(t, srv, "wrong")

	if res := client.TestConnection(context.Background()); res.Success {
		t.Fatal("expected failure")
	}
	if _, err := client.GetDownload(context.Background(), hash); !errors.Is(err, services.ErrAuthentication) {
		t.Fatalf("expected auth error, got %v", err)
	}
}
