// Command entitylink-resolve resolves entity mentions against the canonical
// registry. It resolves a single mention given as an argument, or a batch of
// tab-separated "type<TAB>mention" lines from stdin with -batch.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scrypster/entitylink/internal/backup"
	"github.com/scrypster/entitylink/internal/config"
	"github.com/scrypster/entitylink/internal/llm"
	"github.com/scrypster/entitylink/internal/resolver"
	"github.com/scrypster/entitylink/internal/storage"
	"github.com/scrypster/entitylink/internal/storage/postgres"
	"github.com/scrypster/entitylink/internal/storage/sqlite"
)

var (
	configPath  = flag.String("config", "", "Path to YAML config file (optional, uses env vars by default)")
	entityType  = flag.String("type", "customer", "Entity type: customer, feature, issue, theme")
	signalID    = flag.String("signal", "", "Signal id recorded as mention provenance")
	contextText = flag.String("context", "", "Surrounding signal text passed to the semantic matcher")
	batch       = flag.Bool("batch", false, "Read tab-separated \"type<TAB>mention\" lines from stdin")
	noLLM       = flag.Bool("no-llm", false, "Disable the semantic matcher and embedding provider")
	pending     = flag.Bool("pending", false, "List pending human-review items and exit")
	logTail     = flag.Int("log", 0, "Print the last N resolution log entries and exit")
	snapshotDir = flag.String("snapshot", "", "Write a verified registry snapshot to this directory and exit (sqlite only)")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	if *snapshotDir != "" {
		if cfg.Storage.Engine != "sqlite" {
			log.Fatalf("Snapshots are supported for the sqlite engine only")
		}
		res, err := backup.Snapshot(ctx, cfg.Storage.SQLitePath, *snapshotDir)
		if err != nil {
			log.Fatalf("Snapshot failed: %v", err)
		}
		fmt.Printf("Snapshot written: %s (%d bytes, %d entities, %v)\n",
			res.Path, res.Size, res.Entities, res.Duration)
		return
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open entity store: %v", err)
	}
	defer store.Close()

	if *pending {
		listPending(ctx, store)
		return
	}
	if *logTail > 0 {
		listLog(ctx, store, *logTail)
		return
	}

	r, err := buildResolver(cfg, store)
	if err != nil {
		log.Fatalf("Failed to build resolver: %v", err)
	}

	if *batch {
		runBatch(ctx, cfg, r)
		return
	}

	mention := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if mention == "" {
		fmt.Fprintln(os.Stderr, "Usage: entitylink-resolve [flags] <mention>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	res, err := r.Resolve(ctx, resolver.Request{
		Mention:     mention,
		EntityType:  *entityType,
		SignalID:    *signalID,
		ContextText: *contextText,
		ResolvedBy:  "cli",
	})
	if err != nil {
		log.Fatalf("Resolution failed: %v", err)
	}
	printJSON(res)
}

func loadConfig() (*config.Config, error) {
	path := *configPath
	if path == "" {
		path = os.Getenv("ENTITYLINK_CONFIG_FILE")
	}
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load(), nil
}

func openStore(cfg *config.Config) (storage.EntityStore, error) {
	switch cfg.Storage.Engine {
	case "sqlite":
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		return sqlite.NewEntityStore(cfg.Storage.SQLitePath)
	case "postgres":
		return postgres.NewEntityStore(cfg.Storage.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}
}

func buildResolver(cfg *config.Config, store storage.EntityStore) (*resolver.Resolver, error) {
	if *noLLM {
		return resolver.New(store, nil, nil), nil
	}

	pc := cfg.ProviderConfig()
	generator, err := llm.NewTextGenerator(pc)
	if err != nil {
		return nil, err
	}
	embedder, err := llm.NewEmbeddingGenerator(pc)
	if err != nil {
		return nil, err
	}

	var matcher resolver.SemanticMatcher
	if generator != nil {
		matcher = llm.NewEntityMatcher(generator)
	}
	return resolver.NewWithCacheSize(store, matcher, embedder, cfg.Resolver.MentionCacheSize), nil
}

func runBatch(ctx context.Context, cfg *config.Config, r *resolver.Resolver) {
	var reqs []resolver.Request
	scanner := bufio.NewScanner(os.Stdin)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		parts := strings.SplitN(text, "\t", 2)
		if len(parts) != 2 {
			log.Printf("Skipping line %d: expected \"type<TAB>mention\"", line)
			continue
		}
		reqs = append(reqs, resolver.Request{
			Mention:    strings.TrimSpace(parts[1]),
			EntityType: strings.TrimSpace(parts[0]),
			SignalID:   *signalID,
			ResolvedBy: "cli",
		})
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("Failed to read stdin: %v", err)
	}

	itemTimeout := time.Duration(cfg.Resolver.ItemTimeoutSeconds) * time.Second
	results := r.ResolveBatch(ctx, reqs, itemTimeout)

	failures := 0
	for _, got := range results {
		if got.Err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "%s\t%s\tERROR: %v\n", got.Request.EntityType, got.Request.Mention, got.Err)
			continue
		}
		fmt.Printf("%s\t%s\t%s\t%s\t%.2f\n", got.Request.EntityType, got.Request.Mention,
			got.Resolution.Result, got.Resolution.CanonicalName, got.Resolution.Confidence)
	}
	if failures > 0 {
		log.Fatalf("%d of %d items failed", failures, len(results))
	}
}

func listPending(ctx context.Context, store storage.EntityStore) {
	items, err := store.ListPendingFeedback(ctx, 50)
	if err != nil {
		log.Fatalf("Failed to list pending feedback: %v", err)
	}
	if len(items) == 0 {
		fmt.Println("No pending review items.")
		return
	}
	for _, item := range items {
		fmt.Printf("%s  %-8s  %q -> %q  (%.2f)\n", item.CreatedAt.Format(time.RFC3339),
			item.EntityType, item.MentionText, item.CandidateName, item.Confidence)
		if item.Reasoning != "" {
			fmt.Printf("    %s\n", item.Reasoning)
		}
	}
}

func listLog(ctx context.Context, store storage.EntityStore, n int) {
	entries, err := store.ListResolutionLog(ctx, n)
	if err != nil {
		log.Fatalf("Failed to list resolution log: %v", err)
	}
	for _, e := range entries {
		fmt.Printf("%s  %-8s  %-13s  %q  conf=%.2f  %s\n", e.CreatedAt.Format(time.RFC3339),
			e.EntityType, e.ResolutionResult, e.MentionText, e.Confidence, e.MatchDetails)
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
}
