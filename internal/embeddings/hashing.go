package embeddings

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/healforge/healer/pkg/vecmath"
)

// DefaultHashingDimensions is the vector size of the local hashing embedder.
const DefaultHashingDimensions = 384

const bigramWeight = 0.5

// HashingClient is an offline embedder using signed feature hashing over word unigrams and bigrams.
// Similarity reflects token overlap, which is what error and test signatures need: identical
// signatures score 1 and unrelated ones score near 0.
type HashingClient struct {
	dimensions int
}

// NewHashingClient creates a hashing embedder. Non-positive dimensions select the default.
func NewHashingClient(dimensions int) *HashingClient {
	if dimensions <= 0 {
		dimensions = DefaultHashingDimensions
	}

	return &HashingClient{dimensions: dimensions}
}

// Dimensions returns the vector size.
func (c *HashingClient) Dimensions() int { return c.dimensions }

// CreateEmbedding hashes input into a unit vector. Empty input yields the zero vector.
func (c *HashingClient) CreateEmbedding(_ context.Context, input string) ([]float32, error) {
	vec := make([]float32, c.dimensions)
	tokens := tokenize(input)

	for i, tok := range tokens {
		c.add(vec, tok, 1)

		if i > 0 {
			c.add(vec, tokens[i-1]+" "+tok, bigramWeight)
		}
	}

	vecmath.NormalizeL2(vec)

	return vec, nil
}

// CreateEmbeddings embeds each input.
func (c *HashingClient) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))

	for i, in := range inputs {
		vec, err := c.CreateEmbedding(ctx, in)
		if err != nil {
			return nil, err
		}

		out[i] = vec
	}

	return out, nil
}

func (c *HashingClient) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	//nolint:gosec // G115: modulo by a positive int fits in int
	idx := int(sum % uint64(c.dimensions))
	if sum>>63 == 1 {
		weight = -weight
	}

	vec[idx] += weight
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

var (
	_ Client      = (*HashingClient)(nil)
	_ BatchClient = (*HashingClient)(nil)
)
