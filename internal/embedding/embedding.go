package embedding

import "context"

// Embedder converts text into a fixed-length vector.
type Embedder interface {
	// Embed returns the embedding for one text.
	Embed(ctx context.Context, text string) ([]float64, error)
	// Dimensions is the model-declared vector length. May be 0 before the
	// first successful Embed call when the model does not advertise it.
	Dimensions() int
}
