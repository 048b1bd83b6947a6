package llm

import "context"

// TextGenerator is the interface for LLM text completion. The semantic
// matcher uses single-string completion style (not chat); prompt construction
// and response parsing live in this package, the transport does not matter.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
// Failure is treated by callers as "no embedding available", degrading to
// string-only scoring.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
