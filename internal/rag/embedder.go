package rag

import (
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf16"
)

// DefaultDimension is the vector length of the hashed embedding. Changing it
// invalidates every stored vector.
const DefaultDimension = 1024

const (
	hashProbes     = 5
	probeStride    = 127
	positionStride = 7
	lengthStride   = 31
	lengthWeight   = 0.1
	summaryFields  = 4
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(text string) []float64
	Dimension() int
}

// HashEmbedder is a deterministic hashed bag-of-features vectorizer. Identical
// text always yields bit-identical vectors, which is what keeps stored entries
// comparable with new queries.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	if dim <= summaryFields {
		panic(fmt.Sprintf("rag: embedding dimension %d too small", dim))
	}
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Dimension() int { return e.dim }

func (e *HashEmbedder) Embed(text string) []float64 {
	words := Tokenize(text)
	vec := make([]float64, e.dim)
	if len(words) == 0 {
		return vec
	}

	d := int64(e.dim)
	for i, w := range words {
		h := wordHash(w)
		for j := int64(0); j < hashProbes; j++ {
			vec[(h+j*probeStride)%d] += 1 / float64(j+1)
		}
		vec[(int64(i)*positionStride)%d] += 1 / math.Log(float64(i+2))
		vec[(int64(len(w))*lengthStride)%d] += lengthWeight
	}

	n := float64(len(words))
	var totalLen, longWords int
	distinct := make(map[string]struct{}, len(words))
	for _, w := range words {
		totalLen += len(w)
		if len(w) > 6 {
			longWords++
		}
		distinct[w] = struct{}{}
	}
	vec[e.dim-4] = math.Log(n+1) / 10
	vec[e.dim-3] = float64(totalLen) / n / 10
	vec[e.dim-2] = float64(len(distinct)) / n
	vec[e.dim-1] = float64(longWords) / n

	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	mag := math.Sqrt(sum)
	if mag > 0 {
		for i := range vec {
			vec[i] /= mag
		}
	}
	return vec
}

// fullLower applies the one unconditional multi-rune lowercase mapping:
// U+0130 becomes "i" plus a combining dot, which then splits the token.
// strings.ToLower covers every other rune the same way.
var fullLower = strings.NewReplacer("\u0130", "i\u0307")

// Tokenize lowercases text, blanks everything that is not an ASCII word
// character or whitespace, and keeps tokens longer than two characters.
func Tokenize(text string) []string {
	lowered := strings.ToLower(fullLower.Replace(text))
	cleaned := strings.Map(func(r rune) rune {
		if isWordRune(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, lowered)

	fields := strings.Fields(cleaned)
	words := fields[:0]
	for _, f := range fields {
		if len(f) > 2 {
			words = append(words, f)
		}
	}
	return words
}

func isWordRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// wordHash is the 32-bit polynomial rolling hash h = h*31 + c over UTF-16 code
// units, wrapped to int32, returned as its absolute value.
func wordHash(w string) int64 {
	var h int32
	for _, u := range utf16.Encode([]rune(w)) {
		h = h*31 + int32(u)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return abs
}

// Dot returns the dot product of two equal-length vectors. A length mismatch
// is a programming error.
func Dot(a, b []float64) float64 {
	if len(a) != len(b) {
		panic(fmt.Sprintf("rag: vector length mismatch %d != %d", len(a), len(b)))
	}
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
