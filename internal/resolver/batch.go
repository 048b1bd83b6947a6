package resolver

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/scrypster/entitylink/internal/normalize"
)

// DefaultItemTimeout bounds one resolution within a batch. The resolver
// itself imposes no internal timeout on the oracle; the batch wrapper owns
// cancellation.
const DefaultItemTimeout = 30 * time.Second

// DefaultPrewarmRate is the embedding pre-warm request rate in calls per
// second. Pre-warming trades a short pause up front for cache hits during
// the batch proper.
const DefaultPrewarmRate = 5.0

// BatchResult pairs one request with its outcome. Err is set only when even
// the local fallback failed; Resolution is nil in that case.
type BatchResult struct {
	Request    Request
	Resolution *Resolution
	Err        error

	// UsedFallback reports that the primary resolution timed out or failed
	// and the outcome came from the oracle-free local path.
	UsedFallback bool
}

// ResolveBatch resolves many mentions with a per-item timeout. An item that
// times out or fails is retried once through the local fallback path (exact
// matching, similarity scoring, raw-mention entity creation) so one slow
// oracle call never blocks the rest of the batch. When an embedding provider
// is configured, distinct mentions are pre-warmed into the cache first at a
// bounded rate.
func (r *Resolver) ResolveBatch(ctx context.Context, reqs []Request, itemTimeout time.Duration) []BatchResult {
	if itemTimeout <= 0 {
		itemTimeout = DefaultItemTimeout
	}

	if r.embedder != nil {
		mentions := make([]string, len(reqs))
		for i, req := range reqs {
			mentions[i] = req.Mention
		}
		r.PrewarmEmbeddings(ctx, mentions, DefaultPrewarmRate)
	}

	results := make([]BatchResult, len(reqs))
	for i, req := range reqs {
		results[i] = r.resolveOne(ctx, req, itemTimeout)
	}
	return results
}

func (r *Resolver) resolveOne(ctx context.Context, req Request, itemTimeout time.Duration) BatchResult {
	itemCtx, cancel := context.WithTimeout(ctx, itemTimeout)
	res, err := r.Resolve(itemCtx, req)
	cancel()
	if err == nil {
		return BatchResult{Request: req, Resolution: res}
	}
	if ctx.Err() != nil {
		return BatchResult{Request: req, Err: ctx.Err()}
	}
	log.Printf("resolver: batch item %q failed, using local fallback: %v", req.Mention, err)

	fbCtx, cancel := context.WithTimeout(ctx, itemTimeout)
	defer cancel()
	res, err = r.resolve(fbCtx, r.store, req, false)
	if err != nil {
		return BatchResult{Request: req, Err: err}
	}
	return BatchResult{Request: req, Resolution: res, UsedFallback: true}
}

// GetMentionEmbeddingBatch returns embeddings for the given mentions keyed
// by normalized mention, serving cached entries and fetching the rest at the
// given rate (calls per second). Fetched embeddings are cached. Mentions that
// normalize to the empty string or whose embedding cannot be obtained are
// absent from the result.
func (r *Resolver) GetMentionEmbeddingBatch(ctx context.Context, mentions []string, callsPerSecond float64) map[string][]float32 {
	out := make(map[string][]float32, len(mentions))
	if r.embedder == nil {
		return out
	}
	if callsPerSecond <= 0 {
		callsPerSecond = DefaultPrewarmRate
	}
	limiter := rate.NewLimiter(rate.Limit(callsPerSecond), 1)

	for _, mention := range mentions {
		key := normalize.Normalize(mention)
		if key == "" {
			continue
		}
		if _, ok := out[key]; ok {
			continue
		}
		if emb, ok := r.mentions.Get(mention); ok {
			out[key] = emb
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return out
		}
		emb, err := r.embedder.Embed(ctx, mention)
		if err != nil {
			log.Printf("resolver: batch embed failed for %q: %v", mention, err)
			continue
		}
		r.mentions.Set(mention, emb)
		out[key] = emb
	}
	return out
}

// PrewarmEmbeddings fetches embeddings for any uncached mentions at the
// given rate (calls per second). Failures are logged and skipped; pre-warm
// is an optimization, never a correctness requirement. It returns the number
// of embeddings fetched.
func (r *Resolver) PrewarmEmbeddings(ctx context.Context, mentions []string, callsPerSecond float64) int {
	if r.embedder == nil || len(mentions) == 0 {
		return 0
	}
	if callsPerSecond <= 0 {
		callsPerSecond = DefaultPrewarmRate
	}
	limiter := rate.NewLimiter(rate.Limit(callsPerSecond), 1)

	fetched := 0
	for _, mention := range mentions {
		if r.mentions.Has(mention) {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return fetched
		}
		emb, err := r.embedder.Embed(ctx, mention)
		if err != nil {
			log.Printf("resolver: pre-warm embed failed for %q: %v", mention, err)
			continue
		}
		r.mentions.Set(mention, emb)
		fetched++
	}
	return fetched
}
