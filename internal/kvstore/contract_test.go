package kvstore

import (
	"context"
	"errors"
	"testing"
)

func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := store.Set(ctx, "submission:contact:a@b.com::555", []byte(`{"id":"app_1"}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := store.Get(ctx, "submission:contact:a@b.com::555")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || string(got) != `{"id":"app_1"}` {
		t.Fatalf("unexpected value ok=%v value=%q", ok, got)
	}

	if err := store.Set(ctx, "submission:contact:a@b.com::555", []byte(`{"id":"app_2"}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _, _ = store.Get(ctx, "submission:contact:a@b.com::555")
	if string(got) != `{"id":"app_2"}` {
		t.Fatalf("expected overwrite to replace value, got %q", got)
	}

	if err := store.Remove(ctx, "submission:contact:a@b.com::555"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "submission:contact:a@b.com::555"); ok {
		t.Fatalf("expected key to be removed")
	}
	if err := store.Remove(ctx, "never-set"); err != nil {
		t.Fatalf("remove missing key should not error: %v", err)
	}

	if err := store.Set(ctx, "  ", []byte("x")); !errors.Is(err, ErrKeyRequired) {
		t.Fatalf("expected ErrKeyRequired, got %v", err)
	}

	type snapshot struct {
		Hash  string   `json:"hash"`
		Items []string `json:"items"`
	}
	if err := SetJSON(ctx, store, Join("catalog", "snapshot"), snapshot{Hash: "h1", Items: []string{"a", "b"}}); err != nil {
		t.Fatalf("set json: %v", err)
	}
	var loaded snapshot
	ok, err = GetJSON(ctx, store, "catalog:snapshot", &loaded)
	if err != nil || !ok {
		t.Fatalf("get json ok=%v err=%v", ok, err)
	}
	if loaded.Hash != "h1" || len(loaded.Items) != 2 {
		t.Fatalf("unexpected decoded snapshot %#v", loaded)
	}
}
