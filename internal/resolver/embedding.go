package resolver

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/scrypster/entitylink/internal/scorer"
	"github.com/scrypster/entitylink/internal/storage"
	"github.com/scrypster/entitylink/pkg/types"
)

// localMatch is the degraded matching path used when no semantic oracle is
// configured. It scores registry candidates with string similarity plus
// optional embedding cosine similarity and routes the best candidate through
// the same thresholds as the oracle path. A nil Resolution with nil error
// means "fall through" to entity creation. Embedding failures degrade to
// string-only scoring; registry failures abort the resolution.
func (r *Resolver) localMatch(ctx context.Context, store storage.EntityStore, req Request) (*Resolution, string, error) {
	entities, err := searchCandidates(ctx, store, req.EntityType, req.Mention)
	if err != nil {
		return nil, "", err
	}
	if len(entities) == 0 {
		return nil, "", nil
	}

	var mentionEmb []float32
	if r.embedder != nil {
		mentionEmb, err = r.mentionEmbedding(ctx, req.Mention)
		if err != nil {
			log.Printf("resolver: mention embedding failed for %q, scoring by string only: %v", req.Mention, err)
			mentionEmb = nil
		}
	}

	var best *types.CanonicalEntity
	var bestScore scorer.Score
	for _, e := range entities {
		in := scorer.Input{
			NameA: req.Mention,
			NameB: e.CanonicalName,
			// Search is type-scoped, so every candidate's type matches.
			TypeMatch: true,
		}
		if mentionEmb != nil {
			if entityEmb, embErr := r.candidateEmbedding(ctx, store, e); embErr == nil {
				sim := scorer.CosineSimilarity(mentionEmb, entityEmb)
				in.EmbeddingSimilarity = &sim
			}
		}
		s := scorer.Compute(in)
		if best == nil || s.CompositeScore > bestScore.CompositeScore {
			best = e
			bestScore = s
		}
	}

	switch {
	case bestScore.CompositeScore >= AutoMergeThreshold:
		alias, err := store.AddAlias(ctx, storage.AddAliasParams{
			EntityID:   best.ID,
			Alias:      req.Mention,
			Source:     types.AliasSourceAutoDetected,
			Confidence: bestScore.CompositeScore,
			SignalID:   req.SignalID,
		})
		if err != nil {
			return nil, "", fmt.Errorf("auto-merge alias insert failed: %w", err)
		}
		return &Resolution{
			Result:        types.ResolutionAutoMerged,
			EntityID:      alias.CanonicalEntityID,
			CanonicalName: best.CanonicalName,
			Confidence:    bestScore.CompositeScore,
			Reasoning:     scoreDetails(bestScore),
		}, "local similarity auto-merge", nil

	case bestScore.CompositeScore >= HumanReviewThreshold:
		if err := store.EnqueueFeedback(ctx, &types.FeedbackQueueItem{
			MentionText:   req.Mention,
			CandidateName: best.CanonicalName,
			EntityType:    req.EntityType,
			EntityID:      best.ID,
			Reasoning:     scoreDetails(bestScore),
			Confidence:    bestScore.CompositeScore,
			Status:        types.FeedbackStatusPending,
		}); err != nil {
			return nil, "", fmt.Errorf("feedback enqueue failed: %w", err)
		}
		return &Resolution{
			Result:        types.ResolutionHumanReview,
			EntityID:      best.ID,
			CanonicalName: best.CanonicalName,
			Confidence:    bestScore.CompositeScore,
			Reasoning:     scoreDetails(bestScore),
		}, "local similarity below auto-merge threshold", nil

	default:
		return nil, "", nil
	}
}

// mentionEmbedding returns the mention's embedding from the bounded cache,
// calling the provider only on a miss.
func (r *Resolver) mentionEmbedding(ctx context.Context, mention string) ([]float32, error) {
	if r.embedder == nil {
		return nil, fmt.Errorf("resolver: no embedding provider configured")
	}
	if emb, ok := r.mentions.Get(mention); ok {
		return emb, nil
	}

	emb, err := r.embedder.Embed(ctx, mention)
	if err != nil {
		return nil, fmt.Errorf("resolver: embed call failed: %w", err)
	}
	r.mentions.Set(mention, emb)
	return emb, nil
}

// candidateEmbedding returns the durable per-entity name embedding,
// generating and upserting it when absent. Canonical names change far less
// often than mentions arrive, so absence is the only refresh trigger.
func (r *Resolver) candidateEmbedding(ctx context.Context, store storage.EntityStore, e *types.CanonicalEntity) ([]float32, error) {
	emb, err := store.GetEntityEmbedding(ctx, e.ID)
	if err == nil {
		return emb, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	emb, err = r.embedder.Embed(ctx, e.CanonicalName)
	if err != nil {
		return nil, fmt.Errorf("resolver: candidate embed call failed: %w", err)
	}
	if err := store.StoreEntityEmbedding(ctx, e.ID, emb, r.embModel); err != nil {
		return nil, err
	}
	return emb, nil
}

func scoreDetails(s scorer.Score) string {
	if s.EmbeddingSimilarity != nil {
		return fmt.Sprintf("string_similarity=%.3f embedding_similarity=%.3f composite=%.3f",
			s.StringSimilarity, *s.EmbeddingSimilarity, s.CompositeScore)
	}
	return fmt.Sprintf("string_similarity=%.3f composite=%.3f", s.StringSimilarity, s.CompositeScore)
}
