package pipeline_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"shelfarr/internal/downloader"
	"shelfarr/internal/library"
	"shelfarr/internal/pipeline"
	"shelfarr/internal/services"
	"shelfarr/internal/store"
	"shelfarr/internal/testsupport"
	"shelfarr/internal/workflow"
)

func acquireSpec(requestID int64) workflow.Spec {
	return workflow.Spec{
		Type: pipeline.JobAcquire,
		Payload: pipeline.AcquirePayload{
			RequestID:   requestID,
			SourceURL:   "magnet:?xt=urn:btih:abc123",
			SourceTitle: "Dune - Frank Herbert",
			Indexer:     "audiobookbay",
			SizeBytes:   512 << 20,
			Seeders:     12,
		},
		RequestID: requestID,
	}
}

func TestAcquireAddsDownloadAndQueuesMonitor(t *testing.T) {
	h := newHarness(t, nil)
	req := testsupport.NewRequest(t, h.store, "Dune", "Frank Herbert")

	h.submit(acquireSpec(req.ID))
	if n := h.runDue(); n != 1 {
		t.Fatalf("expected only the acquire job to run, ran %d", n)
	}

	got := h.request(req.ID)
	if got.Status != store.StatusDownloading {
		t.Fatalf("expected downloading, got %s", got.Status)
	}
	history, err := h.store.SelectedHistory(context.Background(), req.ID)
	if err != nil || history == nil {
		t.Fatalf("selected history: %v %v", history, err)
	}
	if history.DownloadClientID != "abc123" || history.ClientID != "qbit" || history.IndexerName != "audiobookbay" {
		t.Fatalf("unexpected history: %#v", history)
	}

	monitors := h.jobs(pipeline.JobMonitor, store.JobPending)
	if len(monitors) != 1 {
		t.Fatalf("expected one pending monitor, got %d", len(monitors))
	}
	if want := h.clock.Now().Add(3 * time.Second); !monitors[0].RunAt.Equal(want) {
		t.Fatalf("monitor should wait for the initial delay, runs at %v", monitors[0].RunAt)
	}
	if monitors[0].DedupeKey != "monitor:1" || monitors[0].RequestID != req.ID {
		t.Fatalf("unexpected monitor job: %#v", monitors[0])
	}
}

func TestAcquireRejectedSourceFailsRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.client.addErr = services.Wrap(services.ErrRejected, "qbittorrent", "add", "torrent file is invalid", nil)
	req := testsupport.NewRequest(t, h.store, "Dune", "Frank Herbert")

	job := h.submit(acquireSpec(req.ID))
	h.runDue()

	got := h.request(req.ID)
	if got.Status != store.StatusFailed || !strings.Contains(got.ErrorMessage, "torrent file is invalid") {
		t.Fatalf("expected failed request with client message, got %s %q", got.Status, got.ErrorMessage)
	}
	rows, err := h.store.ListHistory(context.Background(), req.ID)
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected one audit row, got %d (%v)", len(rows), err)
	}
	if rows[0].Selected || rows[0].Status != store.HistoryStatusFailed {
		t.Fatalf("audit row should be unselected and failed: %#v", rows[0])
	}
	if stored, _ := h.store.GetJob(context.Background(), job.ID); stored.Status != store.JobFailed {
		t.Fatalf("expected failed job, got %s", stored.Status)
	}
	if !slices.Equal(h.notifier.events, []string{"failed:Dune"}) {
		t.Fatalf("unexpected notifications: %v", h.notifier.events)
	}
}

func TestAcquireTransientErrorLeavesRequestForRetry(t *testing.T) {
	h := newHarness(t, nil)
	h.client.addErr = services.Wrap(services.ErrTransient, "qbittorrent", "add", "connection refused", nil)
	req := testsupport.NewRequest(t, h.store, "Dune", "Frank Herbert")

	job := h.submit(acquireSpec(req.ID))
	h.runDue()

	got := h.request(req.ID)
	if got.Status == store.StatusFailed || got.ErrorMessage != "" {
		t.Fatalf("transient failure must not fail the request: %s %q", got.Status, got.ErrorMessage)
	}
	stored, _ := h.store.GetJob(context.Background(), job.ID)
	if stored.Status != store.JobPending || stored.Attempts != 1 {
		t.Fatalf("expected job rescheduled, got %#v", stored)
	}

	h.client.addErr = nil
	h.clock.Advance(15 * time.Second)
	h.runDue()
	if got := h.request(req.ID); got.Status != store.StatusDownloading {
		t.Fatalf("expected retry to succeed, got %s", got.Status)
	}
}

func TestAcquireExhaustedRetriesFailRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.client.addErr = services.Wrap(services.ErrTimeout, "qbittorrent", "add", "request timed out", nil)
	req := testsupport.NewRequest(t, h.store, "Dune", "Frank Herbert")

	spec := acquireSpec(req.ID)
	spec.MaxAttempts = 1
	h.submit(spec)
	h.runDue()

	got := h.request(req.ID)
	if got.Status != store.StatusFailed || !strings.Contains(got.ErrorMessage, "gave up after 1 attempts") {
		t.Fatalf("expected request failed after exhaustion, got %s %q", got.Status, got.ErrorMessage)
	}
}

func TestAcquireUsenetSourceUsesUsenetClient(t *testing.T) {
	h := newHarness(t, nil)
	sab := newFakeClient("sab", downloader.ProtocolUsenet)
	sab.addID = "SABnzbd_nzo_1"
	h.clients.clients["sab"] = sab
	req := testsupport.NewRequest(t, h.store, "Dune", "Frank Herbert")

	h.submit(workflow.Spec{
		Type:      pipeline.JobAcquire,
		Payload:   pipeline.AcquirePayload{RequestID: req.ID, SourceURL: "https://indexer.example/get/dune.nzb?apikey=x"},
		RequestID: req.ID,
	})
	h.runDue()

	if len(sab.added) != 1 || len(h.client.added) != 0 {
		t.Fatalf("expected the usenet client to receive the source: sab=%d qbit=%d", len(sab.added), len(h.client.added))
	}
	history, _ := h.store.SelectedHistory(context.Background(), req.ID)
	if history == nil || history.DownloadClientID != "SABnzbd_nzo_1" {
		t.Fatalf("unexpected history: %#v", history)
	}
}

func TestDownloadFlowThroughOrganizeAndCompletion(t *testing.T) {
	h := newHarness(t, nil)
	req := testsupport.NewRequest(t, h.store, "Dune", "Frank Herbert")
	h.client.setDownload(downloader.Download{ID: "abc123", Name: "Dune", Status: downloader.StatusDownloading, Progress: 0.5, Size: 1000})

	h.submit(acquireSpec(req.ID))
	h.runDue()

	h.clock.Advance(3 * time.Second)
	if n := h.runDue(); n != 1 {
		t.Fatalf("expected one monitor poll, ran %d", n)
	}
	if got := h.request(req.ID); got.Progress != 50 {
		t.Fatalf("expected progress 50, got %v", got.Progress)
	}
	next := h.jobs(pipeline.JobMonitor, store.JobPending)
	if len(next) != 1 || !next[0].RunAt.Equal(h.clock.Now().Add(10*time.Second)) {
		t.Fatalf("expected monitor resubmitted at the poll interval, got %#v", next)
	}

	h.client.setDownload(downloader.Download{ID: "abc123", Name: "Dune", Status: downloader.StatusSeeding, Progress: 1, Size: 1000, Path: "/remote/done/Dune"})
	h.clock.Advance(10 * time.Second)
	h.runDue()

	if len(h.org.requests) != 1 {
		t.Fatalf("expected organizer to run once, got %d", len(h.org.requests))
	}
	if src := h.org.requests[0].SourcePath; src != "/srv/downloads/Dune" {
		t.Fatalf("expected mapped local path, got %q", src)
	}
	if book := h.org.requests[0].Book; book.Title != "Dune" || book.Author != "Frank Herbert" {
		t.Fatalf("unexpected book: %#v", book)
	}

	got := h.request(req.ID)
	if got.Status != store.StatusCompleted {
		t.Fatalf("expected completed without a library, got %s", got.Status)
	}
	if got.TargetPath == "" || got.Progress != 100 {
		t.Fatalf("expected target path and full progress: %#v", got)
	}
	history, _ := h.store.SelectedHistory(context.Background(), req.ID)
	if history.DownloadPath != "/srv/downloads/Dune" || history.CompletedAt == nil {
		t.Fatalf("history should record the local path and completion: %#v", history)
	}
	if !slices.Equal(h.client.processed, []string{"abc123"}) {
		t.Fatalf("expected post-processing, got %v", h.client.processed)
	}
	if !slices.Equal(h.notifier.events, []string{"downloaded:Dune"}) {
		t.Fatalf("unexpected notifications: %v", h.notifier.events)
	}
	if pending := h.jobs("", store.JobPending); len(pending) != 0 {
		t.Fatalf("expected no pending jobs, got %d", len(pending))
	}
}

func TestMonitorToleratesNotFoundWithinGrace(t *testing.T) {
	h := newHarness(t, nil)
	req := testsupport.NewRequest(t, h.store, "Dune", "Frank Herbert")
	h.submit(acquireSpec(req.ID))
	h.runDue()

	h.clock.Advance(3 * time.Second)
	h.runDue()
	if got := h.request(req.ID); got.Status != store.StatusDownloading {
		t.Fatalf("missing download inside grace must keep downloading, got %s", got.Status)
	}
	if len(h.jobs(pipeline.JobMonitor, store.JobPending)) != 1 {
		t.Fatal("expected monitor resubmitted inside grace window")
	}

	h.clock.Advance(120 * time.Second)
	h.runDue()
	got := h.request(req.ID)
	if got.Status != store.StatusFailed || !strings.Contains(got.ErrorMessage, "disappeared") {
		t.Fatalf("expected failure after grace, got %s %q", got.Status, got.ErrorMessage)
	}
}

func TestMonitorClientFailureFailsRequest(t *testing.T) {
	h := newHarness(t, nil)
	req := testsupport.NewRequest(t, h.store, "Dune", "Frank Herbert")
	h.client.setDownload(downloader.Download{ID: "abc123", Status: downloader.StatusFailed, Error: "tracker returned an error"})
	h.submit(acquireSpec(req.ID))
	h.runDue()
	h.clock.Advance(3 * time.Second)
	h.runDue()

	got := h.request(req.ID)
	if got.Status != store.StatusFailed || !strings.Contains(got.ErrorMessage, "tracker returned an error") {
		t.Fatalf("expected client error text preserved, got %s %q", got.Status, got.ErrorMessage)
	}
	history, _ := h.store.SelectedHistory(context.Background(), req.ID)
	if history.Status != string(downloader.StatusFailed) {
		t.Fatalf("expected history failed, got %q", history.Status)
	}
}

func TestMonitorStopsForDeniedRequest(t *testing.T) {
	h := newHarness(t, nil)
	req := testsupport.NewRequest(t, h.store, "Dune", "Frank Herbert")
	h.submit(acquireSpec(req.ID))
	h.runDue()
	if err := h.store.DenyRequest(context.Background(), req.ID, "not wanted"); err != nil {
		t.Fatalf("DenyRequest: %v", err)
	}
	h.clock.Advance(3 * time.Second)
	h.runDue()
	if got := h.request(req.ID); got.Status != store.StatusDenied {
		t.Fatalf("expected denied to stick, got %s", got.Status)
	}
}

func TestOrganizeContentFailureFailsRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.org.err = services.Wrap(services.ErrContent, "organizer", "collect sources", "no usable audio files", nil)
	req := testsupport.NewRequest(t, h.store, "Dune", "Frank Herbert")
	if _, err := h.store.StartDownload(context.Background(), store.NewDownload{RequestID: req.ID, ClientID: "qbit", DownloadClientID: "abc123"}); err != nil {
		t.Fatalf("StartDownload: %v", err)
	}

	h.submit(workflow.Spec{
		Type:      pipeline.JobOrganize,
		Payload:   pipeline.OrganizePayload{RequestID: req.ID, SourcePath: "/srv/downloads/Dune"},
		RequestID: req.ID,
	})
	h.runDue()

	got := h.request(req.ID)
	if got.Status != store.StatusFailed || !strings.Contains(got.ErrorMessage, "no usable audio files") {
		t.Fatalf("expected failed request, got %s %q", got.Status, got.ErrorMessage)
	}
}

func TestOrganizeIsIdempotentForOrganizedRequest(t *testing.T) {
	h := newHarness(t, nil)
	req, _ := h.organizedRequest("Dune", "Frank Herbert", "audiobookbay", "abc123")
	job := h.submit(workflow.Spec{
		Type:      pipeline.JobOrganize,
		Payload:   pipeline.OrganizePayload{RequestID: req.ID, SourcePath: "/srv/downloads/Dune"},
		RequestID: req.ID,
	})
	h.runDue()
	if len(h.org.requests) != 0 {
		t.Fatal("organizer must not rerun for an organized request")
	}
	stored, _ := h.store.GetJob(context.Background(), job.ID)
	if stored.Status != store.JobCompleted {
		t.Fatalf("expected completed job, got %s", stored.Status)
	}
}

func TestScanMatchesLibraryItem(t *testing.T) {
	h := newHarness(t, nil, withLibrary(
		library.Item{ID: "li_1", Title: "Dune", Author: "Frank Herbert"},
		library.Item{ID: "li_2", Title: "Children of Dune", Author: "Frank Herbert"},
	))
	dune, _ := h.organizedRequest("Dune", "Frank Herbert", "audiobookbay", "abc123")
	other, _ := h.organizedRequest("Project Hail Mary", "Andy Weir", "audiobookbay", "def456")

	job := h.submit(workflow.Spec{Type: pipeline.JobScan, Payload: pipeline.ScanPayload{}})
	h.runDue()

	got := h.request(dune.ID)
	if got.Status != store.StatusAvailable || got.LibraryItemID != "li_1" {
		t.Fatalf("expected available with library item, got %s %q", got.Status, got.LibraryItemID)
	}
	pending := h.request(other.ID)
	if pending.Status != store.StatusCompleted || pending.StatusNote != pipeline.NotePendingConfirmation {
		t.Fatalf("unmatched request should complete pending confirmation, got %s %q", pending.Status, pending.StatusNote)
	}
	if !slices.Equal(h.notifier.events, []string{"available:Dune"}) {
		t.Fatalf("unexpected notifications: %v", h.notifier.events)
	}

	stored, _ := h.store.GetJob(context.Background(), job.ID)
	var result workflow.Result
	if err := json.Unmarshal([]byte(stored.ResultJSON), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Fields["matched"] != float64(1) || result.Fields["pending"] != float64(1) {
		t.Fatalf("unexpected scan tally: %#v", result.Fields)
	}

	// A later scan confirms the pending request once the library has it.
	h.lib.items = append(h.lib.items, library.Item{ID: "li_3", Title: "Project Hail Mary", Author: "Andy Weir"})
	h.submit(workflow.Spec{Type: pipeline.JobScan, Payload: pipeline.ScanPayload{}})
	h.runDue()
	if got := h.request(other.ID); got.Status != store.StatusAvailable || got.LibraryItemID != "li_3" {
		t.Fatalf("expected pending request confirmed later, got %s %q", got.Status, got.LibraryItemID)
	}
}

func TestScanFiltersAndForcesRescan(t *testing.T) {
	h := newHarness(t, nil, withLibrary(library.Item{ID: "li_1", Title: "Dune", Author: "Frank Herbert"}))
	dune, _ := h.organizedRequest("Dune", "Frank Herbert", "audiobookbay", "abc123")
	other, _ := h.organizedRequest("Emma", "Jane Austen", "audiobookbay", "def456")

	partial := false
	h.submit(workflow.Spec{Type: pipeline.JobScan, Payload: pipeline.ScanPayload{Path: dune.TargetPath, Partial: &partial}})
	h.runDue()

	if !slices.Equal(h.lib.scans, []bool{true}) {
		t.Fatalf("expected a forced rescan, got %v", h.lib.scans)
	}
	if got := h.request(dune.ID); got.Status != store.StatusAvailable {
		t.Fatalf("expected filtered request matched, got %s", got.Status)
	}
	if got := h.request(other.ID); got.Status != store.StatusDownloaded {
		t.Fatalf("request outside the path filter must be untouched, got %s", got.Status)
	}
}

func TestScanSearchFailureStillCompletes(t *testing.T) {
	h := newHarness(t, nil, withLibrary())
	h.lib.searchErr = services.Wrap(services.ErrTransient, "library", "search", "library returned 502", nil)
	req, _ := h.organizedRequest("Dune", "Frank Herbert", "audiobookbay", "abc123")

	h.submit(workflow.Spec{Type: pipeline.JobScan, Payload: pipeline.ScanPayload{RequestID: req.ID}})
	h.runDue()

	got := h.request(req.ID)
	if got.Status != store.StatusCompleted || got.StatusNote != pipeline.NotePendingConfirmation {
		t.Fatalf("library outage must not block completion, got %s %q", got.Status, got.StatusNote)
	}
}

func TestRecurringScanResubmitsItself(t *testing.T) {
	h := newHarness(t, nil)
	for _, spec := range pipeline.RecurringSpecs() {
		h.submit(spec)
	}
	h.runDue()

	for _, jobType := range []string{pipeline.JobScan, pipeline.JobCleanup} {
		pending := h.jobs(jobType, store.JobPending)
		if len(pending) != 1 {
			t.Fatalf("expected one pending recurring %s job, got %d", jobType, len(pending))
		}
		if !pending[0].RunAt.After(h.clock.Now()) {
			t.Fatalf("recurring %s job should be delayed, runs at %v", jobType, pending[0].RunAt)
		}
	}
	scan := h.jobs(pipeline.JobScan, store.JobPending)[0]
	if want := h.clock.Now().Add(time.Duration(h.cfg.Workflow.ScanIntervalMinutes) * time.Minute); !scan.RunAt.Equal(want) {
		t.Fatalf("expected scan at %v, got %v", want, scan.RunAt)
	}
}

func TestCleanupHonoursSeedingRules(t *testing.T) {
	h := newHarness(t, []testsupport.ConfigOption{
		testsupport.WithSeedingMinutes("audiobookbay", 60),
		testsupport.WithSeedingMinutes("private-tracker", 0),
	})
	ctx := context.Background()

	_, seeded := h.organizedRequest("Dune", "Frank Herbert", "audiobookbay", "seeded")
	_, young := h.organizedRequest("Emma", "Jane Austen", "audiobookbay", "young")
	_, unlimited := h.organizedRequest("Beloved", "Toni Morrison", "private-tracker", "unlimited")
	_, gone := h.organizedRequest("Ulysses", "James Joyce", "audiobookbay", "gone")

	h.client.setDownload(downloader.Download{ID: "seeded", Status: downloader.StatusSeeding, SeedingTime: 2 * time.Hour})
	h.client.setDownload(downloader.Download{ID: "young", Status: downloader.StatusSeeding, SeedingTime: 10 * time.Minute})
	h.client.setDownload(downloader.Download{ID: "unlimited", Status: downloader.StatusSeeding, SeedingTime: 100 * time.Hour})

	h.submit(workflow.Spec{Type: pipeline.JobCleanup, Payload: pipeline.CleanupPayload{}})
	h.runDue()

	if !slices.Equal(h.client.deleted, []string{"seeded"}) {
		t.Fatalf("expected only the seeded download removed, got %v", h.client.deleted)
	}
	cleaned := func(id int64) bool {
		row, err := h.store.GetHistory(ctx, id)
		if err != nil || row == nil {
			t.Fatalf("GetHistory %d: %v", id, err)
		}
		return row.CleanedAt != nil
	}
	if !cleaned(seeded.ID) || !cleaned(gone.ID) {
		t.Fatal("removed and vanished downloads should be marked cleaned")
	}
	if cleaned(young.ID) || cleaned(unlimited.ID) {
		t.Fatal("still seeding and unlimited downloads must stay")
	}
}

func TestCleanupContinuesPastClientErrors(t *testing.T) {
	h := newHarness(t, []testsupport.ConfigOption{testsupport.WithSeedingMinutes("audiobookbay", 60)})
	h.organizedRequest("Dune", "Frank Herbert", "audiobookbay", "abc123")
	h.client.getErr = services.Wrap(services.ErrTransient, "qbittorrent", "get", "connection refused", nil)

	job := h.submit(workflow.Spec{Type: pipeline.JobCleanup, Payload: pipeline.CleanupPayload{}})
	h.runDue()

	stored, _ := h.store.GetJob(context.Background(), job.ID)
	if stored.Status != store.JobCompleted {
		t.Fatalf("per-row errors must not fail the sweep, got %s", stored.Status)
	}
	var result workflow.Result
	if err := json.Unmarshal([]byte(stored.ResultJSON), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", result.Warnings)
	}
}

func TestCleanupSweepsStaleMergeScratch(t *testing.T) {
	h := newHarness(t, nil)
	stale := filepath.Join(h.cfg.Paths.TempDir, "merge-interrupted")
	fresh := filepath.Join(h.cfg.Paths.TempDir, "merge-running")
	for _, dir := range []string{stale, fresh} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	staleTime := h.clock.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(stale, staleTime, staleTime); err != nil {
		t.Fatal(err)
	}
	freshTime := h.clock.Now().Add(-time.Hour)
	if err := os.Chtimes(fresh, freshTime, freshTime); err != nil {
		t.Fatal(err)
	}

	h.submit(workflow.Spec{Type: pipeline.JobCleanup, Payload: pipeline.CleanupPayload{}})
	h.runDue()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("stale merge scratch should be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("recent merge scratch must stay")
	}
}
