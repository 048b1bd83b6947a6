// Package resolver implements the entity resolution pipeline: given a raw
// mention and its entity type, decide whether it refers to a known canonical
// entity, should be merged as a new alias, needs human review, or warrants a
// brand-new entity. Every call terminates in exactly one of those states and
// writes one audit log entry.
package resolver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/scrypster/entitylink/internal/cache"
	"github.com/scrypster/entitylink/internal/llm"
	"github.com/scrypster/entitylink/internal/normalize"
	"github.com/scrypster/entitylink/internal/storage"
	"github.com/scrypster/entitylink/pkg/types"
)

// Shared routing thresholds. They apply identically to oracle confidence and
// to the local composite score, so changing matching strategy never changes
// routing policy.
const (
	// AutoMergeThreshold is the minimum confidence to attach a mention to an
	// existing entity as a new alias without human involvement.
	AutoMergeThreshold = 0.85

	// HumanReviewThreshold is the minimum confidence to defer a candidate
	// match to the feedback queue instead of creating a new entity.
	HumanReviewThreshold = 0.65
)

// maxCandidates caps how many registry candidates are considered per
// resolution, for both the oracle and the local fallback.
const maxCandidates = 10

// errOracle marks semantic-matcher transport and parse failures, the only
// failure class that falls through to entity creation. Registry read and
// write failures propagate to the caller instead, since resolving against a
// broken registry would corrupt durable state.
var errOracle = errors.New("oracle call failed")

// SemanticMatcher is the oracle surface the resolver consumes. A nil matcher
// disables semantic matching and routes through the local fallback.
type SemanticMatcher interface {
	MatchEntity(ctx context.Context, mention, entityType string, candidates []llm.Candidate, contextText string) (*llm.MatchResult, error)
	ExtractCanonicalForm(ctx context.Context, mention, entityType, contextText string) string
}

// Request is one mention to resolve.
type Request struct {
	Mention     string
	EntityType  string
	SignalID    string
	ContextText string

	// ResolvedBy identifies the caller in audit records. Empty defaults to
	// "resolver".
	ResolvedBy string
}

// Resolution is the terminal outcome of one resolution call.
type Resolution struct {
	Result        types.ResolutionResult `json:"result"`
	EntityID      string                 `json:"entity_id"`
	CanonicalName string                 `json:"canonical_name"`
	Confidence    float64                `json:"confidence"`

	// Reasoning carries the oracle's explanation or a description of the
	// local match path.
	Reasoning string `json:"reasoning,omitempty"`
}

// Resolver composes the registry, the semantic oracle, the embedding
// provider, and the mention cache into the resolution pipeline. Matcher and
// embedder are both optional; with neither configured the pipeline still
// performs exact matching and entity creation.
type Resolver struct {
	store    storage.EntityStore
	matcher  SemanticMatcher
	embedder llm.EmbeddingGenerator
	mentions *cache.EmbeddingCache
	embModel string
}

// New creates a resolver. matcher and embedder may both be nil; the mention
// cache is only allocated when an embedding provider is configured.
func New(store storage.EntityStore, matcher SemanticMatcher, embedder llm.EmbeddingGenerator) *Resolver {
	return NewWithCacheSize(store, matcher, embedder, cache.DefaultCapacity)
}

// NewWithCacheSize creates a resolver with a custom mention cache capacity.
func NewWithCacheSize(store storage.EntityStore, matcher SemanticMatcher, embedder llm.EmbeddingGenerator, cacheSize int) *Resolver {
	r := &Resolver{
		store:   store,
		matcher: matcher,
	}
	if embedder != nil {
		r.embedder = embedder
		r.embModel = embedder.GetModel()
		r.mentions = cache.NewEmbeddingCache(cacheSize)
	}
	return r
}

// Resolve runs the full decision pipeline for one mention, opening its own
// unit of work per registry mutation.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	return r.resolve(ctx, r.store, req, true)
}

// ResolveInTx runs the pipeline with all registry reads and writes bound to
// an externally managed transaction, so resolution can be part of a larger
// atomic ingestion write. The caller owns commit and rollback.
func (r *Resolver) ResolveInTx(ctx context.Context, tx *sql.Tx, req Request) (*Resolution, error) {
	return r.resolve(ctx, r.store.WithTx(tx), req, true)
}

// resolve is the four-step state machine. useOracle disables the semantic
// matcher for local-fallback callers; the exact-match steps and entity
// creation are unaffected.
func (r *Resolver) resolve(ctx context.Context, store storage.EntityStore, req Request, useOracle bool) (*Resolution, error) {
	req.Mention = strings.TrimSpace(req.Mention)
	if req.Mention == "" {
		return nil, fmt.Errorf("resolver: %w: empty mention", storage.ErrInvalidInput)
	}
	if !types.IsValidEntityType(req.EntityType) {
		return nil, fmt.Errorf("resolver: %w: unknown entity type %q", storage.ErrInvalidInput, req.EntityType)
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = "resolver"
	}

	// Step 1: exact alias lookup.
	entity, err := store.FindByAlias(ctx, req.EntityType, req.Mention)
	if err != nil {
		return nil, fmt.Errorf("resolver: alias lookup failed: %w", err)
	}
	if entity != nil {
		return r.finish(ctx, store, req, &Resolution{
			Result:        types.ResolutionAliasMatched,
			EntityID:      entity.ID,
			CanonicalName: entity.CanonicalName,
			Confidence:    1.0,
		}, "exact alias match")
	}

	// Step 2: exact canonical-name lookup. Identical to step 1 downstream,
	// distinguished only in match_details.
	entity, err = store.FindByName(ctx, req.EntityType, req.Mention)
	if err != nil {
		return nil, fmt.Errorf("resolver: name lookup failed: %w", err)
	}
	if entity != nil {
		return r.finish(ctx, store, req, &Resolution{
			Result:        types.ResolutionAliasMatched,
			EntityID:      entity.ID,
			CanonicalName: entity.CanonicalName,
			Confidence:    1.0,
		}, "exact canonical name match")
	}

	// Step 3: semantic match against registry candidates, or the local
	// scored fallback when no oracle is configured. Oracle failures are
	// logged and fall through to entity creation; registry failures abort
	// the resolution.
	var res *Resolution
	var details string
	if useOracle && r.matcher != nil {
		res, details, err = r.semanticMatch(ctx, store, req)
		if err != nil {
			if !errors.Is(err, errOracle) {
				return nil, fmt.Errorf("resolver: semantic match failed: %w", err)
			}
			log.Printf("resolver: oracle failed for %q, falling through: %v", req.Mention, err)
			res = nil
		}
	} else {
		res, details, err = r.localMatch(ctx, store, req)
		if err != nil {
			return nil, fmt.Errorf("resolver: local match failed: %w", err)
		}
	}
	if res != nil {
		return r.finish(ctx, store, req, res, details)
	}

	// Step 4: create a new canonical entity.
	return r.createEntity(ctx, store, req, useOracle)
}

// semanticMatch fetches candidates, consults the oracle, and routes by the
// shared thresholds. A nil Resolution with nil error means "fall through".
func (r *Resolver) semanticMatch(ctx context.Context, store storage.EntityStore, req Request) (*Resolution, string, error) {
	candidates, err := r.loadCandidates(ctx, store, req)
	if err != nil {
		return nil, "", err
	}

	match, err := r.matcher.MatchEntity(ctx, req.Mention, req.EntityType, candidates, req.ContextText)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", errOracle, err)
	}
	if match.EntityID == nil {
		return nil, "", nil
	}

	switch {
	case match.Confidence >= AutoMergeThreshold:
		alias, err := store.AddAlias(ctx, storage.AddAliasParams{
			EntityID:   *match.EntityID,
			Alias:      req.Mention,
			Source:     types.AliasSourceLLMAutoMerge,
			Confidence: match.Confidence,
			SignalID:   req.SignalID,
		})
		if err != nil {
			return nil, "", fmt.Errorf("auto-merge alias insert failed: %w", err)
		}
		entity, err := store.GetEntity(ctx, alias.CanonicalEntityID)
		if err != nil {
			return nil, "", fmt.Errorf("auto-merge entity fetch failed: %w", err)
		}
		return &Resolution{
			Result:        types.ResolutionAutoMerged,
			EntityID:      entity.ID,
			CanonicalName: entity.CanonicalName,
			Confidence:    match.Confidence,
			Reasoning:     match.Reasoning,
		}, "oracle auto-merge", nil

	case match.Confidence >= HumanReviewThreshold:
		entity, err := store.GetEntity(ctx, *match.EntityID)
		if err != nil {
			return nil, "", fmt.Errorf("review candidate fetch failed: %w", err)
		}
		// The entity id is returned so callers can attribute the mention
		// optimistically, but no alias is written until a human confirms.
		if err := store.EnqueueFeedback(ctx, &types.FeedbackQueueItem{
			MentionText:   req.Mention,
			CandidateName: entity.CanonicalName,
			EntityType:    req.EntityType,
			EntityID:      entity.ID,
			Reasoning:     match.Reasoning,
			Confidence:    match.Confidence,
			Status:        types.FeedbackStatusPending,
		}); err != nil {
			return nil, "", fmt.Errorf("feedback enqueue failed: %w", err)
		}
		return &Resolution{
			Result:        types.ResolutionHumanReview,
			EntityID:      entity.ID,
			CanonicalName: entity.CanonicalName,
			Confidence:    match.Confidence,
			Reasoning:     match.Reasoning,
		}, "oracle match below auto-merge threshold", nil

	default:
		return nil, "", nil
	}
}

// loadCandidates searches the registry and attaches each candidate's active
// aliases for oracle context.
func (r *Resolver) loadCandidates(ctx context.Context, store storage.EntityStore, req Request) ([]llm.Candidate, error) {
	entities, err := searchCandidates(ctx, store, req.EntityType, req.Mention)
	if err != nil {
		return nil, err
	}

	candidates := make([]llm.Candidate, 0, len(entities))
	for _, e := range entities {
		full, err := store.GetWithAliases(ctx, e.ID)
		if err != nil {
			return nil, fmt.Errorf("candidate alias load failed: %w", err)
		}
		candidates = append(candidates, llm.CandidateFromEntity(full))
	}
	return candidates, nil
}

// searchCandidates finds registry candidates for a mention. A full-mention
// substring search runs first; when it finds nothing, each normalized token
// of length >= 3 is searched separately so "Acme Corp International" still
// surfaces "Acme Corporation" as a candidate. Results are deduplicated and
// capped at maxCandidates.
func searchCandidates(ctx context.Context, store storage.EntityStore, entityType, mention string) ([]*types.CanonicalEntity, error) {
	entities, err := store.Search(ctx, entityType, mention, maxCandidates)
	if err != nil {
		return nil, fmt.Errorf("candidate search failed: %w", err)
	}
	if len(entities) > 0 {
		return entities, nil
	}

	seen := make(map[string]struct{})
	for _, token := range strings.Fields(normalize.Normalize(mention)) {
		if len(token) < 3 {
			continue
		}
		batch, err := store.Search(ctx, entityType, token, maxCandidates)
		if err != nil {
			return nil, fmt.Errorf("candidate search failed: %w", err)
		}
		for _, e := range batch {
			if _, ok := seen[e.ID]; ok {
				continue
			}
			seen[e.ID] = struct{}{}
			entities = append(entities, e)
			if len(entities) == maxCandidates {
				return entities, nil
			}
		}
	}
	return entities, nil
}

// createEntity derives a canonical display name, creates the entity (which
// inserts the canonical name as its first alias), and attaches the raw
// mention as a second alias when its normalized form differs.
func (r *Resolver) createEntity(ctx context.Context, store storage.EntityStore, req Request, useOracle bool) (*Resolution, error) {
	var canonicalName string
	if useOracle && r.matcher != nil {
		canonicalName = r.matcher.ExtractCanonicalForm(ctx, req.Mention, req.EntityType, req.ContextText)
	} else {
		canonicalName = normalize.TitleCase(req.Mention)
	}

	entity, err := store.CreateEntity(ctx, storage.CreateEntityParams{
		EntityType:    req.EntityType,
		CanonicalName: canonicalName,
		CreatedBy:     req.ResolvedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("resolver: entity creation failed: %w", err)
	}

	if normalize.Normalize(req.Mention) != normalize.Normalize(canonicalName) {
		if _, err := store.AddAlias(ctx, storage.AddAliasParams{
			EntityID: entity.ID,
			Alias:    req.Mention,
			Source:   types.AliasSourceAutoDetected,
			SignalID: req.SignalID,
		}); err != nil {
			return nil, fmt.Errorf("resolver: mention alias insert failed: %w", err)
		}
	}

	// Best effort: warm the durable name embedding so the local fallback can
	// score this entity without an extra provider call later.
	if r.embedder != nil {
		if emb, embErr := r.mentionEmbedding(ctx, entity.CanonicalName); embErr == nil {
			if storeErr := store.StoreEntityEmbedding(ctx, entity.ID, emb, r.embModel); storeErr != nil {
				log.Printf("resolver: failed to store embedding for %s: %v", entity.ID, storeErr)
			}
		}
	}

	return r.finish(ctx, store, req, &Resolution{
		Result:        types.ResolutionNewEntity,
		EntityID:      entity.ID,
		CanonicalName: entity.CanonicalName,
		Confidence:    1.0,
	}, "no acceptable match, created new entity")
}

// finish writes the audit log entry for a terminal state and returns it.
func (r *Resolver) finish(ctx context.Context, store storage.EntityStore, req Request, res *Resolution, details string) (*Resolution, error) {
	entry := &types.ResolutionLogEntry{
		MentionText:        req.Mention,
		EntityType:         req.EntityType,
		SignalID:           req.SignalID,
		ResolutionResult:   res.Result,
		ResolvedToEntityID: res.EntityID,
		Confidence:         res.Confidence,
		MatchDetails:       details,
		LLMReasoning:       res.Reasoning,
		ResolvedBy:         req.ResolvedBy,
	}
	if err := store.LogResolution(ctx, entry); err != nil {
		return nil, fmt.Errorf("resolver: audit log write failed: %w", err)
	}
	return res, nil
}
