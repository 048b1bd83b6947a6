package postgres

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log"
	"math"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/entitylink/internal/storage"
)

// StoreEntityEmbedding upserts the one durable embedding kept per canonical
// entity name. The embedding is always stored in the BYTEA column; when
// pgvector is available it is also stored in embedding_vec for efficient
// cosine-distance queries. Upsert semantics avoid read-then-write races
// between concurrent resolutions refreshing the same entity.
func (s *EntityStore) StoreEntityEmbedding(ctx context.Context, entityID string, embedding []float32, model string) error {
	if entityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}

	embeddingBytes := serializeEmbedding(embedding)

	if s.pgvectorAvailable {
		vec := pgvector.NewVector(embedding)

		_, err := s.q.ExecContext(ctx, `
			INSERT INTO entity_name_embeddings (entity_id, embedding, dimension, model, embedding_vec, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
			ON CONFLICT (entity_id) DO UPDATE SET
				embedding = excluded.embedding,
				dimension = excluded.dimension,
				model = excluded.model,
				embedding_vec = excluded.embedding_vec,
				updated_at = NOW()
		`, entityID, embeddingBytes, len(embedding), model, vec)
		if err == nil {
			return nil
		}
		// Vector store failed (e.g. dimension mismatch with the column).
		// Fall back to the BYTEA-only path and log.
		log.Printf("postgres: failed to store embedding_vec (falling back to BYTEA only): %v", err)
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO entity_name_embeddings (entity_id, embedding, dimension, model, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (entity_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			model = excluded.model,
			updated_at = NOW()
	`, entityID, embeddingBytes, len(embedding), model)
	if err != nil {
		return fmt.Errorf("postgres: failed to store entity embedding: %w", err)
	}
	return nil
}

// GetEntityEmbedding retrieves the durable embedding for an entity.
// Returns storage.ErrNotFound when no embedding has been stored.
func (s *EntityStore) GetEntityEmbedding(ctx context.Context, entityID string) ([]float32, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	var buf []byte
	var dimension int
	err := s.q.QueryRowContext(ctx, `
		SELECT embedding, dimension FROM entity_name_embeddings WHERE entity_id = $1
	`, entityID).Scan(&buf, &dimension)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get entity embedding: %w", err)
	}

	embedding, err := deserializeEmbedding(buf, dimension)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to deserialize entity embedding: %w", err)
	}
	return embedding, nil
}

// serializeEmbedding converts a float32 slice to its binary representation,
// 4 bytes per value in little-endian order.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeEmbedding converts a binary representation back to a float32
// slice. dimension is used to validate the buffer size.
func deserializeEmbedding(buf []byte, dimension int) ([]float32, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dimension)
	}

	expectedSize := dimension * 4
	if len(buf) != expectedSize {
		return nil, fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", expectedSize, len(buf))
	}

	embedding := make([]float32, dimension)
	for i := 0; i < dimension; i++ {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return embedding, nil
}
