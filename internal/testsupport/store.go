package testsupport

import (
	"context"
	"testing"

	"shelfarr/internal/config"
	"shelfarr/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewRequest creates a pending request for tests using the provided store.
func NewRequest(t testing.TB, st *store.Store, title, author string) *store.Request {
	t.Helper()

	req, err := st.CreateRequest(context.Background(), store.NewRequest{Title: title, Author: author})
	if err != nil {
		t.Fatalf("store.CreateRequest: %v", err)
	}
	return req
}

// MustGetRequest reloads a request and fails the test when it is missing.
func MustGetRequest(t testing.TB, st *store.Store, id int64) *store.Request {
	t.Helper()

	req, err := st.GetRequest(context.Background(), id)
	if err != nil {
		t.Fatalf("store.GetRequest: %v", err)
	}
	if req == nil {
		t.Fatalf("request %d not found", id)
	}
	return req
}
