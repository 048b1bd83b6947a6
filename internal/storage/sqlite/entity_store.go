// Package sqlite provides a SQLite implementation of the entity store.
// It uses the pure-Go modernc.org/sqlite driver so the resolver can run and
// be tested without a database server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/entitylink/internal/normalize"
	"github.com/scrypster/entitylink/internal/storage"
	"github.com/scrypster/entitylink/pkg/types"
)

// dbtx is the subset of *sql.DB and *sql.Tx the store needs, so every query
// can run either on the pool or inside an externally managed transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// EntityStore implements storage.EntityStore using SQLite.
type EntityStore struct {
	db *sql.DB
	q  dbtx // equals db normally, or an external *sql.Tx after WithTx
}

// NewEntityStore opens (or creates) a SQLite entity store at the given DSN
// and applies the embedded schema. Use "file::memory:?cache=shared" for an
// in-memory store.
func NewEntityStore(dsn string) (*EntityStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent resolutions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to apply schema: %w", err)
	}

	return &EntityStore{db: db, q: db}, nil
}

// GetDB returns the underlying database connection, used by callers that
// manage their own transactions around resolution.
func (s *EntityStore) GetDB() *sql.DB {
	return s.db
}

// WithTx returns a store bound to an externally managed transaction.
// The caller owns commit and rollback.
func (s *EntityStore) WithTx(tx *sql.Tx) storage.EntityStore {
	return &EntityStore{db: s.db, q: tx}
}

// BeginTx starts a transaction on the underlying connection for callers that
// make resolution part of a larger atomic write via WithTx.
func (s *EntityStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	return tx, nil
}

// inExternalTx reports whether the store is bound to an external transaction.
func (s *EntityStore) inExternalTx() bool {
	_, isDB := s.q.(*sql.DB)
	return !isDB
}

// Close releases the database connection. It is a no-op on a store bound to
// an external transaction (the owning store holds the connection).
func (s *EntityStore) Close() error {
	if s.inExternalTx() {
		return nil
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateEntity inserts a canonical entity and its canonical-name alias in one
// transaction. When the store is bound to an external transaction the inserts
// join it instead of opening a nested one.
func (s *EntityStore) CreateEntity(ctx context.Context, params storage.CreateEntityParams) (*types.CanonicalEntity, error) {
	if !types.IsValidEntityType(params.EntityType) {
		return nil, fmt.Errorf("%w: invalid entity type %q", storage.ErrInvalidInput, params.EntityType)
	}
	if params.CanonicalName == "" {
		return nil, fmt.Errorf("%w: canonical name is required", storage.ErrInvalidInput)
	}

	q := s.q
	var tx *sql.Tx
	if !s.inExternalTx() {
		var err error
		tx, err = s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to begin transaction: %w", err)
		}
		defer tx.Rollback()
		q = tx
	}

	now := time.Now().UTC()
	entity := &types.CanonicalEntity{
		ID:            uuid.New().String(),
		EntityType:    params.EntityType,
		CanonicalName: params.CanonicalName,
		Description:   params.Description,
		Metadata:      params.Metadata,
		Confidence:    1.0,
		CreatedBy:     params.CreatedBy,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var metadataJSON []byte
	if entity.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entity.Metadata)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to marshal metadata: %w", err)
		}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO canonical_entities (
			id, entity_type, canonical_name, description, metadata,
			confidence, created_by, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`, entity.ID, entity.EntityType, entity.CanonicalName, entity.Description,
		nullableJSON(metadataJSON), entity.Confidence, entity.CreatedBy, now, now)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to insert entity: %w", err)
	}

	// The canonical name is always inserted as its own alias, confirmed only
	// for human-created entities.
	alias := &types.Alias{
		ID:                uuid.New().String(),
		CanonicalEntityID: entity.ID,
		Alias:             params.CanonicalName,
		AliasNormalized:   normalize.Normalize(params.CanonicalName),
		AliasSource:       types.AliasSourceAutoDetected,
		Confidence:        1.0,
		ConfirmedByHuman:  params.CreatedBy == "human",
		IsActive:          true,
		CreatedAt:         now,
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO entity_aliases (
			id, canonical_entity_id, alias, alias_normalized, alias_source,
			confidence, signal_id, confirmed_by_human, is_active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, '', ?, 1, ?)
	`, alias.ID, alias.CanonicalEntityID, alias.Alias, alias.AliasNormalized,
		alias.AliasSource, alias.Confidence, boolToInt(alias.ConfirmedByHuman), now)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to insert canonical-name alias: %w", err)
	}

	if tx != nil {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("sqlite: failed to commit entity creation: %w", err)
		}
	}

	entity.Aliases = []types.Alias{*alias}
	return entity, nil
}

const entityColumns = `
	id, entity_type, canonical_name, description, metadata,
	confidence, created_by, is_active, created_at, updated_at`

// GetEntity retrieves an entity by ID.
func (s *EntityStore) GetEntity(ctx context.Context, id string) (*types.CanonicalEntity, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	row := s.q.QueryRowContext(ctx, `
		SELECT `+entityColumns+`
		FROM canonical_entities
		WHERE id = ?
	`, id)

	entity, err := scanEntity(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: failed to get entity: %w", err)
	}
	return entity, nil
}

// GetWithAliases retrieves an entity together with all of its active aliases.
func (s *EntityStore) GetWithAliases(ctx context.Context, id string) (*types.CanonicalEntity, error) {
	entity, err := s.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, canonical_entity_id, alias, alias_normalized, alias_source,
		       confidence, signal_id, confirmed_by_human, is_active, created_at
		FROM entity_aliases
		WHERE canonical_entity_id = ? AND is_active = 1
		ORDER BY created_at
	`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query aliases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		alias, err := scanAlias(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan alias: %w", err)
		}
		entity.Aliases = append(entity.Aliases, *alias)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate aliases: %w", err)
	}

	return entity, nil
}

// FindByName performs a case-insensitive exact match on canonical names of
// active entities. Returns (nil, nil) when nothing matches.
func (s *EntityStore) FindByName(ctx context.Context, entityType, name string) (*types.CanonicalEntity, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+entityColumns+`
		FROM canonical_entities
		WHERE entity_type = ? AND LOWER(canonical_name) = LOWER(?) AND is_active = 1
		ORDER BY created_at
		LIMIT 1
	`, entityType, name)

	entity, err := scanEntity(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: failed to find entity by name: %w", err)
	}
	return entity, nil
}

// FindByAlias normalizes the input and matches active aliases by exact
// normalized equality or by prefix containment in either direction. The
// longest normalized alias wins ties, so the most specific match is returned.
func (s *EntityStore) FindByAlias(ctx context.Context, entityType, alias string) (*types.CanonicalEntity, error) {
	normalized := normalize.Normalize(alias)
	if normalized == "" {
		return nil, nil
	}

	row := s.q.QueryRowContext(ctx, `
		SELECT `+entityColumnsPrefixed("e")+`
		FROM entity_aliases a
		JOIN canonical_entities e ON e.id = a.canonical_entity_id
		WHERE e.entity_type = ?
		  AND e.is_active = 1
		  AND a.is_active = 1
		  AND (a.alias_normalized LIKE ? || '%'
		       OR ? LIKE a.alias_normalized || '%')
		ORDER BY (a.alias_normalized = ?) DESC, LENGTH(a.alias_normalized) DESC
		LIMIT 1
	`, entityType, normalized, normalized, normalized)

	entity, err := scanEntity(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: failed to find entity by alias: %w", err)
	}
	return entity, nil
}

// escapeLike escapes LIKE wildcards so a query containing % or _ matches
// those characters literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// Search performs a case-insensitive substring search over canonical names of
// active entities, ordered alphabetically.
func (s *EntityStore) Search(ctx context.Context, entityType, query string, limit int) ([]*types.CanonicalEntity, error) {
	if limit < 1 {
		limit = 10
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+entityColumns+`
		FROM canonical_entities
		WHERE entity_type = ?
		  AND is_active = 1
		  AND LOWER(canonical_name) LIKE '%' || LOWER(?) || '%' ESCAPE '\'
		ORDER BY canonical_name
		LIMIT ?
	`, entityType, escapeLike(query), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to search entities: %w", err)
	}
	defer rows.Close()

	var entities []*types.CanonicalEntity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan entity: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate entities: %w", err)
	}

	return entities, nil
}

// AddAlias inserts an alias with insert-or-ignore semantics on the
// (canonical_entity_id, alias_normalized) uniqueness invariant. Concurrent
// attempts to add the same alias to the same entity resolve to a no-op for
// the loser; the surviving row is returned in both cases.
func (s *EntityStore) AddAlias(ctx context.Context, params storage.AddAliasParams) (*types.Alias, error) {
	if params.EntityID == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if params.Alias == "" {
		return nil, fmt.Errorf("%w: alias text is required", storage.ErrInvalidInput)
	}
	params.Normalize()
	if !types.IsValidAliasSource(params.Source) {
		return nil, fmt.Errorf("%w: invalid alias source %q", storage.ErrInvalidInput, params.Source)
	}

	normalized := normalize.Normalize(params.Alias)
	now := time.Now().UTC()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO entity_aliases (
			id, canonical_entity_id, alias, alias_normalized, alias_source,
			confidence, signal_id, confirmed_by_human, is_active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, 1, ?)
		ON CONFLICT(canonical_entity_id, alias_normalized) DO NOTHING
	`, uuid.New().String(), params.EntityID, params.Alias, normalized,
		params.Source, params.Confidence, params.SignalID, now)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to insert alias: %w", err)
	}

	row := s.q.QueryRowContext(ctx, `
		SELECT id, canonical_entity_id, alias, alias_normalized, alias_source,
		       confidence, signal_id, confirmed_by_human, is_active, created_at
		FROM entity_aliases
		WHERE canonical_entity_id = ? AND alias_normalized = ?
	`, params.EntityID, normalized)

	alias, err := scanAlias(row)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to read alias after insert: %w", err)
	}
	return alias, nil
}

// Deactivate soft-deletes an entity with an audit stamp.
func (s *EntityStore) Deactivate(ctx context.Context, entityID, performedBy string) error {
	if entityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	result, err := s.q.ExecContext(ctx, `
		UPDATE canonical_entities
		SET is_active = 0, deactivated_by = ?, deactivated_at = ?, updated_at = ?
		WHERE id = ? AND is_active = 1
	`, performedBy, now, now, entityID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to deactivate entity: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// LogResolution appends one audit record per resolution attempt.
func (s *EntityStore) LogResolution(ctx context.Context, entry *types.ResolutionLogEntry) error {
	if entry == nil {
		return storage.ErrInvalidInput
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO entity_resolution_log (
			id, mention_text, entity_type, signal_id, resolution_result,
			resolved_to_entity_id, confidence, match_details, llm_reasoning,
			resolved_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.MentionText, entry.EntityType, entry.SignalID,
		string(entry.ResolutionResult), entry.ResolvedToEntityID, entry.Confidence,
		entry.MatchDetails, entry.LLMReasoning, entry.ResolvedBy, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: failed to insert resolution log entry: %w", err)
	}
	return nil
}

// ListResolutionLog returns audit records, newest first.
func (s *EntityStore) ListResolutionLog(ctx context.Context, limit int) ([]*types.ResolutionLogEntry, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, mention_text, entity_type, signal_id, resolution_result,
		       resolved_to_entity_id, confidence, match_details, llm_reasoning,
		       resolved_by, created_at
		FROM entity_resolution_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list resolution log: %w", err)
	}
	defer rows.Close()

	var entries []*types.ResolutionLogEntry
	for rows.Next() {
		entry := &types.ResolutionLogEntry{}
		var result string
		if err := rows.Scan(&entry.ID, &entry.MentionText, &entry.EntityType,
			&entry.SignalID, &result, &entry.ResolvedToEntityID, &entry.Confidence,
			&entry.MatchDetails, &entry.LLMReasoning, &entry.ResolvedBy,
			&entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan resolution log entry: %w", err)
		}
		entry.ResolutionResult = types.ResolutionResult(result)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate resolution log: %w", err)
	}

	return entries, nil
}

// EnqueueFeedback inserts a pending human-review item.
func (s *EntityStore) EnqueueFeedback(ctx context.Context, item *types.FeedbackQueueItem) error {
	if item == nil {
		return storage.ErrInvalidInput
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = types.FeedbackStatusPending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO entity_feedback_queue (
			id, mention_text, candidate_name, entity_type, entity_id,
			reasoning, confidence, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.MentionText, item.CandidateName, item.EntityType,
		item.EntityID, item.Reasoning, item.Confidence, item.Status, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: failed to enqueue feedback item: %w", err)
	}
	return nil
}

// ListPendingFeedback returns pending feedback items, newest first.
func (s *EntityStore) ListPendingFeedback(ctx context.Context, limit int) ([]*types.FeedbackQueueItem, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, mention_text, candidate_name, entity_type, entity_id,
		       reasoning, confidence, status, created_at
		FROM entity_feedback_queue
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, types.FeedbackStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list feedback items: %w", err)
	}
	defer rows.Close()

	var items []*types.FeedbackQueueItem
	for rows.Next() {
		item := &types.FeedbackQueueItem{}
		if err := rows.Scan(&item.ID, &item.MentionText, &item.CandidateName,
			&item.EntityType, &item.EntityID, &item.Reasoning, &item.Confidence,
			&item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan feedback item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate feedback items: %w", err)
	}

	return items, nil
}

// StoreEntityEmbedding upserts the one durable embedding kept per canonical
// entity name. Upsert semantics avoid read-then-write races.
func (s *EntityStore) StoreEntityEmbedding(ctx context.Context, entityID string, embedding []float32, model string) error {
	if entityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO entity_name_embeddings (entity_id, embedding, dimension, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(entity_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			model = excluded.model,
			updated_at = CURRENT_TIMESTAMP
	`, entityID, serializeEmbedding(embedding), len(embedding), model)
	if err != nil {
		return fmt.Errorf("sqlite: failed to store entity embedding: %w", err)
	}
	return nil
}

// GetEntityEmbedding retrieves the durable embedding for an entity.
func (s *EntityStore) GetEntityEmbedding(ctx context.Context, entityID string) ([]float32, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	var buf []byte
	var dimension int
	err := s.q.QueryRowContext(ctx, `
		SELECT embedding, dimension FROM entity_name_embeddings WHERE entity_id = ?
	`, entityID).Scan(&buf, &dimension)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: failed to get entity embedding: %w", err)
	}

	embedding, err := deserializeEmbedding(buf, dimension)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to deserialize entity embedding: %w", err)
	}
	return embedding, nil
}

// entityColumnsPrefixed returns the entity column list qualified with a table
// alias, for queries joining against entity_aliases.
func entityColumnsPrefixed(alias string) string {
	return alias + `.id, ` + alias + `.entity_type, ` + alias + `.canonical_name, ` +
		alias + `.description, ` + alias + `.metadata, ` + alias + `.confidence, ` +
		alias + `.created_by, ` + alias + `.is_active, ` + alias + `.created_at, ` +
		alias + `.updated_at`
}

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*types.CanonicalEntity, error) {
	entity := &types.CanonicalEntity{}
	var metadataJSON sql.NullString
	var isActive int

	err := row.Scan(&entity.ID, &entity.EntityType, &entity.CanonicalName,
		&entity.Description, &metadataJSON, &entity.Confidence, &entity.CreatedBy,
		&isActive, &entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return nil, err
	}

	entity.IsActive = isActive != 0
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &entity.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return entity, nil
}

func scanAlias(row rowScanner) (*types.Alias, error) {
	alias := &types.Alias{}
	var confirmed, isActive int

	err := row.Scan(&alias.ID, &alias.CanonicalEntityID, &alias.Alias,
		&alias.AliasNormalized, &alias.AliasSource, &alias.Confidence,
		&alias.SignalID, &confirmed, &isActive, &alias.CreatedAt)
	if err != nil {
		return nil, err
	}

	alias.ConfirmedByHuman = confirmed != 0
	alias.IsActive = isActive != 0
	return alias, nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Compile-time assertion.
var _ storage.EntityStore = (*EntityStore)(nil)
