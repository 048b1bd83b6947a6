package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/entitylink/internal/llm"
	"github.com/scrypster/entitylink/internal/storage"
	"github.com/scrypster/entitylink/internal/storage/sqlite"
	"github.com/scrypster/entitylink/pkg/types"
)

// fakeMatcher scripts the oracle: it matches when the mention equals
// matchMention, answering with the candidate whose name is matchName at the
// scripted confidence.
type fakeMatcher struct {
	matchMention  string
	matchName     string
	confidence    float64
	reasoning     string
	canonicalForm string
	err           error
	matchCalls    int
}

func (f *fakeMatcher) MatchEntity(ctx context.Context, mention, entityType string, candidates []llm.Candidate, contextText string) (*llm.MatchResult, error) {
	f.matchCalls++
	if f.err != nil {
		return nil, f.err
	}
	if mention == f.matchMention {
		for _, c := range candidates {
			if c.Name == f.matchName {
				id := c.ID
				return &llm.MatchResult{EntityID: &id, Confidence: f.confidence, Reasoning: f.reasoning}, nil
			}
		}
	}
	return &llm.MatchResult{Confidence: 0, Reasoning: "no match"}, nil
}

func (f *fakeMatcher) ExtractCanonicalForm(ctx context.Context, mention, entityType, contextText string) string {
	if f.canonicalForm != "" {
		return f.canonicalForm
	}
	return mention
}

// fakeEmbedder returns a fixed unit vector per distinct text so identical
// texts have cosine similarity 1 and distinct texts are orthogonal.
type fakeEmbedder struct {
	vectors map[string][]float32
	calls   int
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0, 1}, nil
}

func (f *fakeEmbedder) GetModel() string { return "fake-embed" }

// brokenStore wraps a working store and fails scripted write operations.
type brokenStore struct {
	storage.EntityStore
	enqueueErr  error
	addAliasErr error
}

func (s *brokenStore) EnqueueFeedback(ctx context.Context, item *types.FeedbackQueueItem) error {
	if s.enqueueErr != nil {
		return s.enqueueErr
	}
	return s.EntityStore.EnqueueFeedback(ctx, item)
}

func (s *brokenStore) AddAlias(ctx context.Context, params storage.AddAliasParams) (*types.Alias, error) {
	if s.addAliasErr != nil {
		return nil, s.addAliasErr
	}
	return s.EntityStore.AddAlias(ctx, params)
}

func newTestStore(t *testing.T) storage.EntityStore {
	t.Helper()
	store, err := sqlite.NewEntityStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func mustCreate(t *testing.T, store storage.EntityStore, entityType, name string) *types.CanonicalEntity {
	t.Helper()
	e, err := store.CreateEntity(context.Background(), storage.CreateEntityParams{
		EntityType:    entityType,
		CanonicalName: name,
		CreatedBy:     "test",
	})
	require.NoError(t, err)
	return e
}

func lastLogEntry(t *testing.T, store storage.EntityStore) *types.ResolutionLogEntry {
	t.Helper()
	entries := allLogEntries(t, store)
	require.NotEmpty(t, entries, "expected at least one resolution log entry")
	return entries[len(entries)-1]
}

func TestResolveRejectsInvalidInput(t *testing.T) {
	r := New(newTestStore(t), nil, nil)

	_, err := r.Resolve(context.Background(), Request{Mention: "  ", EntityType: "customer"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = r.Resolve(context.Background(), Request{Mention: "Acme", EntityType: "company"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestResolveExactAliasMatch(t *testing.T) {
	store := newTestStore(t)
	entity := mustCreate(t, store, "customer", "Acme Corporation")
	_, err := store.AddAlias(context.Background(), storage.AddAliasParams{EntityID: entity.ID, Alias: "acme"})
	require.NoError(t, err)

	matcher := &fakeMatcher{}
	r := New(store, matcher, nil)

	res, err := r.Resolve(context.Background(), Request{Mention: "ACME", EntityType: "customer", SignalID: "sig-1"})
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionAliasMatched, res.Result)
	assert.Equal(t, entity.ID, res.EntityID)
	assert.Equal(t, "Acme Corporation", res.CanonicalName)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Zero(t, matcher.matchCalls, "exact match must not consult the oracle")

	entry := lastLogEntry(t, store)
	assert.Equal(t, types.ResolutionAliasMatched, entry.ResolutionResult)
	assert.Equal(t, "exact alias match", entry.MatchDetails)
	assert.Equal(t, "sig-1", entry.SignalID)
}

func TestResolveExactCanonicalNameMatch(t *testing.T) {
	store := newTestStore(t)
	entity := mustCreate(t, store, "feature", "Dark Mode")
	r := New(store, nil, nil)

	res, err := r.Resolve(context.Background(), Request{Mention: "dark mode", EntityType: "feature"})
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionAliasMatched, res.Result)
	assert.Equal(t, entity.ID, res.EntityID)
}

func TestResolveIdempotent(t *testing.T) {
	store := newTestStore(t)
	r := New(store, nil, nil)

	first, err := r.Resolve(context.Background(), Request{Mention: "login timeout", EntityType: "issue"})
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionNewEntity, first.Result)

	second, err := r.Resolve(context.Background(), Request{Mention: "login timeout", EntityType: "issue"})
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionAliasMatched, second.Result)
	assert.Equal(t, first.EntityID, second.EntityID)
}

func TestResolveAutoMergeAtThreshold(t *testing.T) {
	store := newTestStore(t)
	entity := mustCreate(t, store, "customer", "Acme Corporation")

	matcher := &fakeMatcher{matchMention: "Acme Corp International", matchName: "Acme Corporation", confidence: 0.85, reasoning: "same company"}
	r := New(store, matcher, nil)

	res, err := r.Resolve(context.Background(), Request{Mention: "Acme Corp International", EntityType: "customer", SignalID: "sig-9"})
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionAutoMerged, res.Result)
	assert.Equal(t, entity.ID, res.EntityID)
	assert.Equal(t, 0.85, res.Confidence)

	// The mention is now a durable alias: resolving again is an exact match.
	again, err := r.Resolve(context.Background(), Request{Mention: "acme corp international", EntityType: "customer"})
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionAliasMatched, again.Result)
	assert.Equal(t, entity.ID, again.EntityID)

	full, err := store.GetWithAliases(context.Background(), entity.ID)
	require.NoError(t, err)
	var merged *types.Alias
	for i, a := range full.Aliases {
		if a.Alias == "Acme Corp International" {
			merged = &full.Aliases[i]
		}
	}
	require.NotNil(t, merged)
	assert.Equal(t, types.AliasSourceLLMAutoMerge, merged.AliasSource)
	assert.Equal(t, "sig-9", merged.SignalID)
	assert.False(t, merged.ConfirmedByHuman)
}

func TestResolveHumanReviewBand(t *testing.T) {
	store := newTestStore(t)
	entity := mustCreate(t, store, "customer", "Acme Corporation")

	matcher := &fakeMatcher{matchMention: "Acme Ltd", matchName: "Acme Corporation", confidence: 0.70, reasoning: "possibly the same"}
	r := New(store, matcher, nil)

	res, err := r.Resolve(context.Background(), Request{Mention: "Acme Ltd", EntityType: "customer"})
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionHumanReview, res.Result)
	assert.Equal(t, entity.ID, res.EntityID, "entity id returned for optimistic attribution")

	// No alias is durable until a human confirms.
	found, err := store.FindByAlias(context.Background(), "customer", "Acme Ltd")
	require.NoError(t, err)
	assert.Nil(t, found, "review-band mention must not become an alias")

	pending, err := store.ListPendingFeedback(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Acme Ltd", pending[0].MentionText)
	assert.Equal(t, "Acme Corporation", pending[0].CandidateName)
	assert.Equal(t, "possibly the same", pending[0].Reasoning)
	assert.Equal(t, 0.70, pending[0].Confidence)
	assert.Equal(t, types.FeedbackStatusPending, pending[0].Status)
}

func TestResolveHumanReviewAtLowerBoundary(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, "customer", "Acme Corporation")

	matcher := &fakeMatcher{matchMention: "Acme Group", matchName: "Acme Corporation", confidence: 0.65}
	r := New(store, matcher, nil)

	res, err := r.Resolve(context.Background(), Request{Mention: "Acme Group", EntityType: "customer"})
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionHumanReview, res.Result)
}

func TestResolveBelowReviewCreatesNewEntity(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, "customer", "Acme Corporation")

	matcher := &fakeMatcher{matchMention: "Acme Something", matchName: "Acme Corporation", confidence: 0.649999, canonicalForm: "Acme Something"}
	r := New(store, matcher, nil)

	res, err := r.Resolve(context.Background(), Request{Mention: "Acme Something", EntityType: "customer"})
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionNewEntity, res.Result)
	assert.Equal(t, "Acme Something", res.CanonicalName)
}

func TestResolveOracleFailureFallsThrough(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, "customer", "Acme Corporation")

	matcher := &fakeMatcher{err: errors.New("oracle down")}
	r := New(store, matcher, nil)

	res, err := r.Resolve(context.Background(), Request{Mention: "Globex", EntityType: "customer"})
	require.NoError(t, err, "oracle failure must not fail resolution")
	assert.Equal(t, types.ResolutionNewEntity, res.Result)
	assert.Equal(t, "Globex", res.CanonicalName)
}

func TestResolveFeedbackWriteFailurePropagates(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, "customer", "Acme Corporation")

	broken := &brokenStore{EntityStore: store, enqueueErr: errors.New("registry write failed")}
	matcher := &fakeMatcher{matchMention: "Acme Ltd", matchName: "Acme Corporation", confidence: 0.70}
	r := New(broken, matcher, nil)

	res, err := r.Resolve(context.Background(), Request{Mention: "Acme Ltd", EntityType: "customer"})
	require.Error(t, err, "a registry write failure must surface, not fall through")
	assert.ErrorContains(t, err, "feedback enqueue failed")
	assert.Nil(t, res)

	// The failed call created no duplicate entity and logged nothing.
	found, err := store.FindByName(context.Background(), "customer", "Acme Ltd")
	require.NoError(t, err)
	assert.Nil(t, found)
	assert.Empty(t, allLogEntries(t, store))
}

func TestResolveAutoMergeAliasWriteFailurePropagates(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, "customer", "Acme Corporation")

	broken := &brokenStore{EntityStore: store, addAliasErr: errors.New("registry write failed")}
	matcher := &fakeMatcher{matchMention: "Acme Ltd", matchName: "Acme Corporation", confidence: 0.92}
	r := New(broken, matcher, nil)

	res, err := r.Resolve(context.Background(), Request{Mention: "Acme Ltd", EntityType: "customer"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "alias insert failed")
	assert.Nil(t, res)

	found, err := store.FindByName(context.Background(), "customer", "Acme Ltd")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestLocalMatchRegistryWriteFailurePropagates(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, "customer", "Acme Corporation")

	broken := &brokenStore{EntityStore: store, addAliasErr: errors.New("registry write failed")}
	v := []float32{1, 0, 0, 0}
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"acme corpn":       v,
		"Acme Corporation": v,
	}}
	r := New(broken, nil, embedder)

	res, err := r.Resolve(context.Background(), Request{Mention: "acme corpn", EntityType: "customer"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "alias insert failed")
	assert.Nil(t, res)

	found, err := store.FindByName(context.Background(), "customer", "Acme Corpn")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestResolveNewEntityUsesCanonicalFormAndKeepsMentionAlias(t *testing.T) {
	store := newTestStore(t)
	matcher := &fakeMatcher{canonicalForm: "Microsoft Corporation"}
	r := New(store, matcher, nil)

	res, err := r.Resolve(context.Background(), Request{Mention: "msft", EntityType: "customer", SignalID: "sig-2"})
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionNewEntity, res.Result)
	assert.Equal(t, "Microsoft Corporation", res.CanonicalName)

	// Both the canonical name and the raw mention resolve back to it.
	byName, err := store.FindByAlias(context.Background(), "customer", "Microsoft Corporation")
	require.NoError(t, err)
	require.NotNil(t, byName)
	byMention, err := store.FindByAlias(context.Background(), "customer", "MSFT")
	require.NoError(t, err)
	require.NotNil(t, byMention)
	assert.Equal(t, byName.ID, byMention.ID)
}

func TestResolveWritesExactlyOneLogEntryPerCall(t *testing.T) {
	store := newTestStore(t)
	entity := mustCreate(t, store, "customer", "Acme Corporation")
	matcher := &fakeMatcher{matchMention: "Acme Corp Intl", matchName: "Acme Corporation", confidence: 0.9}
	r := New(store, matcher, nil)

	calls := []Request{
		{Mention: "Acme Corporation", EntityType: "customer"}, // alias_matched
		{Mention: "Acme Corp Intl", EntityType: "customer"},   // auto_merged
		{Mention: "Initech", EntityType: "customer"},          // new_entity
	}
	for _, req := range calls {
		_, err := r.Resolve(context.Background(), req)
		require.NoError(t, err)
	}

	entries := allLogEntries(t, store)
	require.Len(t, entries, len(calls))
	assert.Equal(t, types.ResolutionAliasMatched, entries[0].ResolutionResult)
	assert.Equal(t, entity.ID, entries[0].ResolvedToEntityID)
	assert.Equal(t, types.ResolutionAutoMerged, entries[1].ResolutionResult)
	assert.Equal(t, types.ResolutionNewEntity, entries[2].ResolutionResult)
}

func TestResolveTypeScoping(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, "customer", "Phoenix")
	r := New(store, nil, nil)

	// The same name with a different entity type is a different concept.
	res, err := r.Resolve(context.Background(), Request{Mention: "Phoenix", EntityType: "feature"})
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionNewEntity, res.Result)
}

func allLogEntries(t *testing.T, store storage.EntityStore) []*types.ResolutionLogEntry {
	t.Helper()
	entries, err := store.ListResolutionLog(context.Background(), 100)
	require.NoError(t, err)
	// ListResolutionLog returns newest first; reverse into call order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

func TestResolveInTxRollbackDiscardsEverything(t *testing.T) {
	store := newTestStore(t)
	r := New(store, nil, nil)

	tx, err := store.(*sqlite.EntityStore).BeginTx(context.Background())
	require.NoError(t, err)

	res, err := r.ResolveInTx(context.Background(), tx, Request{Mention: "Ephemeral Corp", EntityType: "customer"})
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionNewEntity, res.Result)

	require.NoError(t, tx.Rollback())

	found, err := store.FindByName(context.Background(), "customer", "Ephemeral Corp")
	require.NoError(t, err)
	assert.Nil(t, found, "rolled-back entity must not be visible")
	assert.Empty(t, allLogEntries(t, store), "rolled-back log entry must not be visible")
}

func TestResolveInTxCommitPersists(t *testing.T) {
	store := newTestStore(t)
	r := New(store, nil, nil)

	tx, err := store.(*sqlite.EntityStore).BeginTx(context.Background())
	require.NoError(t, err)

	res, err := r.ResolveInTx(context.Background(), tx, Request{Mention: "Durable Corp", EntityType: "customer"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	found, err := store.FindByName(context.Background(), "customer", "Durable Corp")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, res.EntityID, found.ID)
}

func TestLocalMatchEmbeddingAutoMerge(t *testing.T) {
	store := newTestStore(t)
	entity := mustCreate(t, store, "customer", "Acme Corporation")

	// Mention and candidate share the same vector, so cosine similarity is 1
	// and the composite clears the auto-merge threshold even with modest
	// string similarity.
	v := []float32{1, 0, 0, 0}
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"acme corpn":       v,
		"Acme Corporation": v,
	}}
	r := New(store, nil, embedder)

	res, err := r.Resolve(context.Background(), Request{Mention: "acme corpn", EntityType: "customer"})
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionAutoMerged, res.Result)
	assert.Equal(t, entity.ID, res.EntityID)
	assert.GreaterOrEqual(t, res.Confidence, AutoMergeThreshold)

	// The durable entity embedding was upserted during scoring.
	stored, err := store.GetEntityEmbedding(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, v, stored)
}

func TestLocalMatchStringOnlyNewEntity(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, "customer", "Acme Corporation")
	r := New(store, nil, nil)

	res, err := r.Resolve(context.Background(), Request{Mention: "acme subsidiaries llc", EntityType: "customer"})
	require.NoError(t, err)
	// Low string similarity and no embeddings: no merge, new entity.
	assert.Equal(t, types.ResolutionNewEntity, res.Result)
}

func TestMentionEmbeddingCached(t *testing.T) {
	store := newTestStore(t)
	embedder := &fakeEmbedder{}
	r := New(store, nil, embedder)

	_, err := r.mentionEmbedding(context.Background(), "Acme Corp")
	require.NoError(t, err)
	_, err = r.mentionEmbedding(context.Background(), "acme-corp")
	require.NoError(t, err)

	assert.Equal(t, 1, embedder.calls, "normalized-equivalent mention must hit the cache")
}

func TestPrewarmEmbeddings(t *testing.T) {
	store := newTestStore(t)
	embedder := &fakeEmbedder{}
	r := New(store, nil, embedder)

	mentions := []string{"alpha", "beta", "Alpha", "gamma"}
	fetched := r.PrewarmEmbeddings(context.Background(), mentions, 1000)
	assert.Equal(t, 3, fetched, "duplicate normalized mentions are fetched once")
	assert.Equal(t, 3, embedder.calls)

	// A second pre-warm is a no-op.
	fetched = r.PrewarmEmbeddings(context.Background(), mentions, 1000)
	assert.Zero(t, fetched)
}

func TestGetMentionEmbeddingBatch(t *testing.T) {
	store := newTestStore(t)
	embedder := &fakeEmbedder{}
	r := New(store, nil, embedder)

	got := r.GetMentionEmbeddingBatch(context.Background(), []string{"Alpha", "alpha", "beta", "  "}, 1000)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "alpha")
	assert.Contains(t, got, "beta")
	assert.Equal(t, 2, embedder.calls)

	// A repeat batch is served from the cache.
	got = r.GetMentionEmbeddingBatch(context.Background(), []string{"alpha", "beta"}, 1000)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, embedder.calls)
}

func TestGetMentionEmbeddingBatchNoProvider(t *testing.T) {
	r := New(newTestStore(t), nil, nil)
	got := r.GetMentionEmbeddingBatch(context.Background(), []string{"alpha"}, 1000)
	assert.Empty(t, got)
}

func TestResolveBatchFallsBackPerItem(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, "customer", "Acme Corporation")

	matcher := &fakeMatcher{err: errors.New("oracle down")}
	r := New(store, matcher, nil)

	reqs := []Request{
		{Mention: "Acme Corporation", EntityType: "customer"},
		{Mention: "Globex", EntityType: "customer"},
	}
	results := r.ResolveBatch(context.Background(), reqs, DefaultItemTimeout)
	require.Len(t, results, 2)
	for i, got := range results {
		require.NoError(t, got.Err, "item %d", i)
		require.NotNil(t, got.Resolution, "item %d", i)
	}
	assert.Equal(t, types.ResolutionAliasMatched, results[0].Resolution.Result)
	assert.Equal(t, types.ResolutionNewEntity, results[1].Resolution.Result)
}

func TestResolveBatchManyDistinctMentions(t *testing.T) {
	store := newTestStore(t)
	r := New(store, nil, nil)

	reqs := make([]Request, 20)
	for i := range reqs {
		reqs[i] = Request{Mention: fmt.Sprintf("issue number %d", i), EntityType: "issue"}
	}
	results := r.ResolveBatch(context.Background(), reqs, DefaultItemTimeout)
	for i, got := range results {
		require.NoError(t, got.Err, "item %d", i)
		assert.Equal(t, types.ResolutionNewEntity, got.Resolution.Result, "item %d", i)
	}
	assert.Len(t, allLogEntries(t, store), 20)
}
