package pipeline_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"shelfarr/internal/config"
	"shelfarr/internal/downloader"
	"shelfarr/internal/library"
	"shelfarr/internal/organizer"
	"shelfarr/internal/pipeline"
	"shelfarr/internal/services"
	"shelfarr/internal/store"
	"shelfarr/internal/testsupport"
	"shelfarr/internal/workflow"
)

type fakeClient struct {
	mu        sync.Mutex
	id        string
	protocol  downloader.Protocol
	addID     string
	addErr    error
	getErr    error
	downloads map[string]*downloader.Download
	added     []downloader.Source
	deleted   []string
	processed []string
}

func newFakeClient(id string, protocol downloader.Protocol) *fakeClient {
	return &fakeClient{id: id, protocol: protocol, addID: "abc123", downloads: map[string]*downloader.Download{}}
}

func (c *fakeClient) ID() string                    { return c.id }
func (c *fakeClient) Type() string                  { return "fake" }
func (c *fakeClient) Protocol() downloader.Protocol { return c.protocol }

func (c *fakeClient) TestConnection(context.Context) downloader.ConnectionResult {
	return downloader.ConnectionResult{Success: true, Version: "1.0"}
}

func (c *fakeClient) AddDownload(_ context.Context, src downloader.Source, _ downloader.AddOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.added = append(c.added, src)
	if c.addErr != nil {
		return "", c.addErr
	}
	return c.addID, nil
}

func (c *fakeClient) GetDownload(_ context.Context, id string) (*downloader.Download, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	dl, ok := c.downloads[id]
	if !ok {
		return nil, nil
	}
	copy := *dl
	return &copy, nil
}

func (c *fakeClient) setDownload(dl downloader.Download) {
	c.mu.Lock()
	c.downloads[dl.ID] = &dl
	c.mu.Unlock()
}

func (c *fakeClient) PauseDownload(context.Context, string) error  { return nil }
func (c *fakeClient) ResumeDownload(context.Context, string) error { return nil }

func (c *fakeClient) DeleteDownload(_ context.Context, id string, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, id)
	delete(c.downloads, id)
	return nil
}

func (c *fakeClient) PostProcess(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed = append(c.processed, id)
	return nil
}

func (c *fakeClient) GetCategories(context.Context) ([]string, error) { return nil, nil }
func (c *fakeClient) SetCategory(context.Context, string, string) error {
	return nil
}

type fakeClients struct {
	clients  map[string]*fakeClient
	mappings map[string]downloader.PathMapping
}

func (f *fakeClients) Get(id string) (downloader.Client, error) {
	if c, ok := f.clients[id]; ok {
		return c, nil
	}
	return nil, services.Wrap(services.ErrConfiguration, "downloader", "resolve client", fmt.Sprintf("no download client %q configured", id), nil)
}

func (f *fakeClients) ForProtocol(protocol downloader.Protocol) (downloader.Client, error) {
	for _, c := range f.clients {
		if c.protocol == protocol {
			return c, nil
		}
	}
	return nil, services.Wrap(services.ErrConfiguration, "downloader", "resolve client", "no enabled "+string(protocol)+" client configured", nil)
}

func (f *fakeClients) Mapping(id string) downloader.PathMapping {
	return f.mappings[id]
}

type fakeOrganizer struct {
	mediaDir string
	err      error
	warnings []string
	requests []organizer.Request
}

func (o *fakeOrganizer) Organize(_ context.Context, req organizer.Request) (*organizer.Result, error) {
	o.requests = append(o.requests, req)
	if o.err != nil {
		return nil, o.err
	}
	return &organizer.Result{
		Success:     true,
		TargetPath:  filepath.Join(o.mediaDir, req.Book.Author, req.Book.Title),
		FilesCopied: 1,
		Warnings:    o.warnings,
	}, nil
}

type fakeLibrary struct {
	items     []library.Item
	searchErr error
	scans     []bool
}

func (l *fakeLibrary) SearchItems(context.Context, string, string) ([]library.Item, error) {
	return l.items, l.searchErr
}

func (l *fakeLibrary) ScanLibrary(_ context.Context, _ string, force bool) error {
	l.scans = append(l.scans, force)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) record(event string) error {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) NotifyDownloaded(_ context.Context, title, _, _ string) error {
	return n.record("downloaded:" + title)
}

func (n *recordingNotifier) NotifyAvailable(_ context.Context, title, _ string) error {
	return n.record("available:" + title)
}

func (n *recordingNotifier) NotifyFailed(_ context.Context, title, _ string) error {
	return n.record("failed:" + title)
}

func (n *recordingNotifier) TestNotification(context.Context) error { return nil }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	t        *testing.T
	cfg      *config.Config
	store    *store.Store
	mgr      *workflow.Manager
	clock    *clock
	client   *fakeClient
	clients  *fakeClients
	org      *fakeOrganizer
	lib      *fakeLibrary
	notifier *recordingNotifier
}

type harnessOption func(*harness, *pipeline.Deps)

func withLibrary(items ...library.Item) harnessOption {
	return func(h *harness, deps *pipeline.Deps) {
		h.lib = &fakeLibrary{items: items}
		deps.Library = h.lib
	}
}

func newHarness(t *testing.T, cfgOpts []testsupport.ConfigOption, opts ...harnessOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, cfgOpts...)
	cfg.Workflow.MonitorInitialDelaySeconds = 3
	cfg.Workflow.MonitorIntervalSeconds = 10
	cfg.Workflow.NotFoundGraceSeconds = 120
	cfg.Workflow.MaxAttempts = 3
	cfg.Workflow.RetryBackoffSeconds = 15
	st := testsupport.MustOpenStore(t, cfg)

	h := &harness{
		t:        t,
		cfg:      cfg,
		store:    st,
		clock:    &clock{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)},
		client:   newFakeClient("qbit", downloader.ProtocolTorrent),
		org:      &fakeOrganizer{mediaDir: cfg.Paths.MediaDir},
		notifier: &recordingNotifier{},
	}
	st.SetClock(h.clock.Now)
	h.clients = &fakeClients{
		clients:  map[string]*fakeClient{"qbit": h.client},
		mappings: map[string]downloader.PathMapping{"qbit": {Remote: "/remote/done", Local: "/srv/downloads"}},
	}
	h.mgr = workflow.NewManager(cfg, st, nil, workflow.WithClock(h.clock.Now))

	deps := pipeline.Deps{
		Config:    cfg,
		Store:     st,
		Clients:   h.clients,
		Organizer: h.org,
		Notifier:  h.notifier,
		Submitter: h.mgr,
		Now:       h.clock.Now,
	}
	for _, opt := range opts {
		opt(h, &deps)
	}
	pipeline.Register(h.mgr, deps)
	return h
}

func (h *harness) submit(spec workflow.Spec) *store.Job {
	h.t.Helper()
	job, err := h.mgr.Submit(context.Background(), spec)
	if err != nil {
		h.t.Fatalf("Submit: %v", err)
	}
	return job
}

func (h *harness) runDue() int {
	h.t.Helper()
	n, err := h.mgr.RunDue(context.Background())
	if err != nil {
		h.t.Fatalf("RunDue: %v", err)
	}
	return n
}

func (h *harness) request(id int64) *store.Request {
	h.t.Helper()
	return testsupport.MustGetRequest(h.t, h.store, id)
}

func (h *harness) jobs(jobType string, statuses ...store.JobStatus) []*store.Job {
	h.t.Helper()
	jobs, err := h.store.ListJobs(context.Background(), store.JobFilter{Type: jobType, Statuses: statuses})
	if err != nil {
		h.t.Fatalf("ListJobs: %v", err)
	}
	return jobs
}

// organizedRequest creates a request that already went through download and
// organize, with a selected history row pointing at downloadID.
func (h *harness) organizedRequest(title, author, indexer, downloadID string) (*store.Request, *store.DownloadHistory) {
	h.t.Helper()
	ctx := context.Background()
	req := testsupport.NewRequest(h.t, h.store, title, author)
	history, err := h.store.StartDownload(ctx, store.NewDownload{
		RequestID:        req.ID,
		IndexerName:      indexer,
		ClientID:         h.client.id,
		ClientType:       "fake",
		DownloadClientID: downloadID,
	})
	if err != nil {
		h.t.Fatalf("StartDownload: %v", err)
	}
	if err := h.store.Transition(ctx, req.ID, store.StatusOrganizing, store.TransitionUpdate{}); err != nil {
		h.t.Fatalf("organizing: %v", err)
	}
	target := filepath.Join(h.cfg.Paths.MediaDir, author, title)
	if err := h.store.Transition(ctx, req.ID, store.StatusDownloaded, store.TransitionUpdate{TargetPath: target}); err != nil {
		h.t.Fatalf("downloaded: %v", err)
	}
	return h.request(req.ID), history
}
