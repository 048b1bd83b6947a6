package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/scrypster/entitylink/internal/config"
	"github.com/scrypster/entitylink/internal/resolver"
	"github.com/scrypster/entitylink/pkg/types"
)

func TestOpenStoreCreatesSQLiteDataDir(t *testing.T) {
	cfg := config.Load()
	cfg.Storage.Engine = "sqlite"
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "nested", "entitylink.db")

	store, err := openStore(cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer store.Close()

	if _, err := store.ListPendingFeedback(context.Background(), 1); err != nil {
		t.Errorf("store not usable: %v", err)
	}
}

func TestOpenStoreRejectsUnknownEngine(t *testing.T) {
	cfg := config.Load()
	cfg.Storage.Engine = "cassandra"

	if _, err := openStore(cfg); err == nil {
		t.Error("expected error for unknown engine")
	}
}

func TestBuildResolverWithoutLLM(t *testing.T) {
	cfg := config.Load()
	cfg.Storage.Engine = "sqlite"
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "entitylink.db")

	store, err := openStore(cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer store.Close()

	*noLLM = true
	defer func() { *noLLM = false }()

	r, err := buildResolver(cfg, store)
	if err != nil {
		t.Fatalf("buildResolver: %v", err)
	}

	res, err := r.Resolve(context.Background(), resolver.Request{Mention: "Acme", EntityType: "customer"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Result != types.ResolutionNewEntity {
		t.Errorf("Result = %s, want new_entity", res.Result)
	}
}
