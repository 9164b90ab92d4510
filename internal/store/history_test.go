package store_test

import (
	"context"
	"errors"
	"testing"

	"shelfarr/internal/store"
	"shelfarr/internal/testsupport"
)

func TestStartDownloadSelectsSingleRow(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	req := testsupport.NewRequest(t, st, "Dune", "Frank Herbert")

	first, err := st.StartDownload(ctx, store.NewDownload{
		RequestID:        req.ID,
		IndexerName:      "MyAnonamouse",
		ClientID:         "qbit",
		ClientType:       "qbittorrent",
		DownloadClientID: "abc123",
		TorrentName:      "Dune",
		SizeBytes:        1024,
	})
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	if !first.Selected || first.Status != store.HistoryStatusQueued || first.StartedAt == nil {
		t.Fatalf("unexpected history row: %#v", first)
	}
	if got := testsupport.MustGetRequest(t, st, req.ID); got.Status != store.StatusDownloading {
		t.Fatalf("expected downloading, got %s", got.Status)
	}

	// A second start is rejected because the request already left pending.
	if _, err := st.StartDownload(ctx, store.NewDownload{RequestID: req.ID, DownloadClientID: "def"}); !errors.Is(err, store.ErrTransitionRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	rows, err := st.ListHistory(ctx, req.ID)
	if err != nil || len(rows) != 1 {
		t.Fatalf("rejected start must not insert a row: %v (%d rows)", err, len(rows))
	}

	failed, err := st.RecordFailedAttempt(ctx, store.NewDownload{RequestID: req.ID, IndexerName: "Other"}, "invalid torrent")
	if err != nil {
		t.Fatalf("RecordFailedAttempt: %v", err)
	}
	if failed.Selected || failed.ErrorMessage != "invalid torrent" {
		t.Fatalf("unexpected failed row: %#v", failed)
	}

	if err := st.SelectHistory(ctx, req.ID, failed.ID); err != nil {
		t.Fatalf("SelectHistory: %v", err)
	}
	rows, err = st.ListHistory(ctx, req.ID)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	selected := 0
	for _, row := range rows {
		if row.Selected {
			selected++
			if row.ID != failed.ID {
				t.Fatalf("wrong row selected: %#v", row)
			}
		}
	}
	if selected != 1 {
		t.Fatalf("expected exactly one selected row, got %d", selected)
	}

	sel, err := st.SelectedHistory(ctx, req.ID)
	if err != nil || sel == nil || sel.ID != failed.ID {
		t.Fatalf("SelectedHistory: %v %#v", err, sel)
	}
}

func TestUpdateHistoryKeepsExistingValues(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	req := testsupport.NewRequest(t, st, "Dune", "Frank Herbert")
	h, err := st.StartDownload(ctx, store.NewDownload{RequestID: req.ID, DownloadClientID: "abc", TorrentName: "Dune", SizeBytes: 10})
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}

	if err := st.UpdateHistory(ctx, h.ID, store.HistoryUpdate{Status: "downloading"}); err != nil {
		t.Fatalf("UpdateHistory: %v", err)
	}
	if err := st.UpdateHistory(ctx, h.ID, store.HistoryUpdate{Status: "completed", DownloadPath: "/downloads/Dune", Completed: true}); err != nil {
		t.Fatalf("UpdateHistory: %v", err)
	}
	got, err := st.GetHistory(ctx, h.ID)
	if err != nil || got == nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if got.Status != "completed" || got.DownloadPath != "/downloads/Dune" || got.TorrentName != "Dune" || got.SizeBytes != 10 {
		t.Fatalf("unexpected history: %#v", got)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at")
	}
}

func TestListCleanupCandidates(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	done := testsupport.NewRequest(t, st, "Done", "")
	active := testsupport.NewRequest(t, st, "Active", "")

	doneHistory, err := st.StartDownload(ctx, store.NewDownload{RequestID: done.ID, IndexerName: "mam", DownloadClientID: "aaa"})
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	if _, err := st.StartDownload(ctx, store.NewDownload{RequestID: active.ID, DownloadClientID: "bbb"}); err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	for _, target := range []store.Status{store.StatusOrganizing, store.StatusDownloaded} {
		if err := st.Transition(ctx, done.ID, target, store.TransitionUpdate{}); err != nil {
			t.Fatalf("transition: %v", err)
		}
	}

	candidates, err := st.ListCleanupCandidates(ctx)
	if err != nil {
		t.Fatalf("ListCleanupCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].History.ID != doneHistory.ID || candidates[0].RequestStatus != store.StatusDownloaded {
		t.Fatalf("unexpected candidates: %#v", candidates)
	}
	if candidates[0].History.IndexerName != "mam" || candidates[0].RequestTitle != "Done" {
		t.Fatalf("candidate fields not scanned: %#v", candidates[0])
	}

	if err := st.MarkHistoryCleaned(ctx, doneHistory.ID); err != nil {
		t.Fatalf("MarkHistoryCleaned: %v", err)
	}
	candidates, err = st.ListCleanupCandidates(ctx)
	if err != nil || len(candidates) != 0 {
		t.Fatalf("expected no candidates after cleaning, got %v %#v", err, candidates)
	}
}
