package storage

import (
	"errors"

	"github.com/scrypster/entitylink/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// CreateEntityParams are the inputs for EntityStore.CreateEntity.
type CreateEntityParams struct {
	// EntityType is one of the types.ValidEntityTypes values.
	EntityType string

	// CanonicalName is the human-readable display form.
	CanonicalName string

	// Description is an optional free-form description.
	Description string

	// Metadata holds optional type-specific metadata.
	Metadata map[string]interface{}

	// CreatedBy identifies the creator. The canonical-name alias inserted at
	// creation time is marked confirmed only when CreatedBy == "human".
	CreatedBy string
}

// AddAliasParams are the inputs for EntityStore.AddAlias.
type AddAliasParams struct {
	// EntityID is the owning canonical entity.
	EntityID string

	// Alias is the raw alias text; the normalized form is always derived.
	Alias string

	// Source is one of the types alias-source constants
	// (default: auto_detected).
	Source string

	// Confidence is the confidence attached to the alias (default: 1.0).
	Confidence float64

	// SignalID is optional provenance for the alias.
	SignalID string
}

// Normalize applies defaults to AddAliasParams.
func (p *AddAliasParams) Normalize() {
	if p.Source == "" {
		p.Source = types.AliasSourceAutoDetected
	}
	if p.Confidence == 0 {
		p.Confidence = 1.0
	}
}
