// Package retrieval provides the prior-art similarity search used by the
// retrieve stage. Documents are embedded with a deterministic feature-hashing
// scheme and searched with a brute-force inner-product scan; both ends use the
// same tokenizer as the matching engine so retrieval and matching agree on
// what a token is.
package retrieval

import (
	"fmt"
	"hash/fnv"
	"math"

	"github.com/hmoriya/tradegate/internal/common"
	"github.com/hmoriya/tradegate/internal/token"
)

// DefaultDim is the embedding dimensionality used when none is configured.
const DefaultDim = 256

// Embedder maps text onto fixed-size hashed token vectors. Embeddings are
// deterministic: the same text always produces the same vector, so persisted
// vectors stay valid across process restarts.
type Embedder struct {
	dim int
}

// NewEmbedder creates an embedder with the given dimensionality. Non-positive
// values fall back to DefaultDim.
func NewEmbedder(dim int) *Embedder {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &Embedder{dim: dim}
}

// ModelTag identifies the embedding scheme and dimensionality. Vectors
// persisted under a different tag are never mixed into the same index.
func (e *Embedder) ModelTag() string {
	return fmt.Sprintf("hash-v1-%d", e.dim)
}

// Dim returns the embedding dimensionality.
func (e *Embedder) Dim() int {
	return e.dim
}

// Embed produces an L2-normalized vector for the text. Normalization makes the
// index's inner product equal to cosine similarity. Text that tokenizes to
// nothing returns common.ErrCannotEmbed.
func (e *Embedder) Embed(text string) ([]float32, error) {
	tokens := token.Tokenize(text)
	if len(tokens) == 0 {
		return nil, common.ErrCannotEmbed
	}

	vec := make([]float32, e.dim)
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		bucket := int(sum % uint32(e.dim))
		// A second hash bit decides the sign so collisions tend to cancel
		// rather than stack.
		if sum>>16&1 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return nil, common.ErrCannotEmbed
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}
