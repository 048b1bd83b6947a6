// Package storage provides the storage interfaces for the entitylink
// resolution system.
//
// The resolver reads and writes five structures: canonical entities, aliases,
// the append-only resolution log, the human-review feedback queue, and the
// durable per-entity name-embedding cache. Registry mutations are
// correctness-critical, so database errors propagate to the caller uncaught;
// the one deliberate exception is AddAlias, which resolves the expected
// uniqueness conflict under concurrency to a no-op.
package storage

import (
	"context"
	"database/sql"

	"github.com/scrypster/entitylink/pkg/types"
)

// EntityStore is the canonical registry: the durable store of canonical
// entities, their aliases, and the resolver's audit structures.
type EntityStore interface {
	// CreateEntity inserts a canonical entity and, in the same transaction,
	// inserts the canonical name as its first alias. The alias is marked
	// confirmed_by_human only when params.CreatedBy == "human".
	CreateEntity(ctx context.Context, params CreateEntityParams) (*types.CanonicalEntity, error)

	// GetEntity retrieves an entity by ID. Returns ErrNotFound if absent.
	GetEntity(ctx context.Context, id string) (*types.CanonicalEntity, error)

	// GetWithAliases retrieves an entity together with all of its active
	// aliases, used to build semantic-matcher candidate context.
	GetWithAliases(ctx context.Context, id string) (*types.CanonicalEntity, error)

	// FindByName performs a case-insensitive exact match on canonical names
	// of active entities of the given type. Returns (nil, nil) when no
	// entity matches.
	FindByName(ctx context.Context, entityType, name string) (*types.CanonicalEntity, error)

	// FindByAlias normalizes the input and matches active aliases of active
	// entities of the given type by exact normalized equality or by prefix
	// containment in either direction, preferring the longest normalized
	// alias on ties. Returns (nil, nil) when no alias matches.
	FindByAlias(ctx context.Context, entityType, alias string) (*types.CanonicalEntity, error)

	// Search performs a case-insensitive substring search over canonical
	// names of active entities of the given type, ordered alphabetically.
	// It builds candidate lists for semantic matching; it is not a
	// resolution decision by itself.
	Search(ctx context.Context, entityType, query string, limit int) ([]*types.CanonicalEntity, error)

	// AddAlias inserts an alias with insert-or-ignore semantics on the
	// (canonical_entity_id, alias_normalized) uniqueness invariant, so
	// concurrent callers adding the same alias never error or duplicate.
	// Returns the alias row (existing or new).
	AddAlias(ctx context.Context, params AddAliasParams) (*types.Alias, error)

	// Deactivate soft-deletes an entity with an audit stamp. Deactivation is
	// the only destructive operation the resolver's schema supports.
	Deactivate(ctx context.Context, entityID, performedBy string) error

	// LogResolution appends one audit record per resolution attempt.
	// Entries are never mutated after insert.
	LogResolution(ctx context.Context, entry *types.ResolutionLogEntry) error

	// ListResolutionLog returns audit records, newest first. The log is read
	// for accuracy evaluation and debugging, never for resolution decisions.
	ListResolutionLog(ctx context.Context, limit int) ([]*types.ResolutionLogEntry, error)

	// EnqueueFeedback inserts a pending human-review item. Resolution of the
	// pending status is owned by the external review collaborator.
	EnqueueFeedback(ctx context.Context, item *types.FeedbackQueueItem) error

	// ListPendingFeedback returns pending feedback items, newest first.
	ListPendingFeedback(ctx context.Context, limit int) ([]*types.FeedbackQueueItem, error)

	// StoreEntityEmbedding upserts the one durable embedding kept per
	// canonical entity name, keyed by entity ID. Upsert semantics avoid
	// read-then-write races between concurrent resolutions.
	StoreEntityEmbedding(ctx context.Context, entityID string, embedding []float32, model string) error

	// GetEntityEmbedding retrieves the durable embedding for an entity.
	// Returns ErrNotFound when no embedding has been stored.
	GetEntityEmbedding(ctx context.Context, entityID string) ([]float32, error)

	// WithTx returns a store bound to an externally managed transaction, so
	// entity resolution can be part of a larger atomic ingestion write.
	// The caller owns commit and rollback.
	WithTx(tx *sql.Tx) EntityStore

	// Close releases any resources held by the store.
	Close() error
}
