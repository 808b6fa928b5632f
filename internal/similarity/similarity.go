// Package similarity scores how alike short report texts are.
//
// Each call builds its own bounded TF-IDF vocabulary (unigrams and bigrams,
// English stop words removed, at most MaxFeatures terms) and throws it away
// afterwards, so memory stays flat in a long-running process. Scores are
// cosine similarities clamped to [0, 1]. Degenerate input scores 0; nothing
// in this package returns an error or panics on text input.
package similarity

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// DefaultMaxFeatures bounds the per-call vocabulary.
const DefaultMaxFeatures = 1000

// Scorer computes text similarity. The zero value uses DefaultMaxFeatures.
// A Scorer holds no state between calls and is safe for concurrent use.
type Scorer struct {
	MaxFeatures int
}

// New returns a Scorer with the given vocabulary bound (<= 0 selects the default).
func New(maxFeatures int) Scorer {
	return Scorer{MaxFeatures: maxFeatures}
}

// Score returns the cosine similarity of two texts.
func Score(a, b string) float64 {
	return Scorer{}.Score(a, b)
}

// Matrix returns the N×N similarity matrix for texts.
func Matrix(texts []string) [][]float64 {
	return Scorer{}.Matrix(texts)
}

// Score returns the cosine similarity of two texts.
func (s Scorer) Score(a, b string) float64 {
	m := s.Matrix([]string{a, b})
	return m[0][1]
}

// Max returns the highest similarity between text and any candidate, and
// the index of that candidate (-1 when there are none). All texts share one
// vocabulary.
func (s Scorer) Max(text string, candidates []string) (float64, int) {
	if len(candidates) == 0 {
		return 0, -1
	}
	docs := make([]string, 0, len(candidates)+1)
	docs = append(docs, text)
	docs = append(docs, candidates...)
	vecs := s.vectorize(docs)

	best, idx := 0.0, -1
	for i := range candidates {
		sim := cosine(vecs[0], vecs[i+1])
		if idx < 0 || sim > best {
			best, idx = sim, i
		}
	}
	return best, idx
}

// Matrix returns the N×N similarity matrix for texts. The matrix is
// symmetric; the diagonal is 1 for texts with at least one feature and 0
// for degenerate ones.
func (s Scorer) Matrix(texts []string) [][]float64 {
	n := len(texts)
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	if n == 0 {
		return m
	}

	vecs := s.vectorize(texts)
	for i := 0; i < n; i++ {
		if len(vecs[i]) > 0 {
			m[i][i] = 1.0
		}
		for j := i + 1; j < n; j++ {
			sim := cosine(vecs[i], vecs[j])
			m[i][j] = sim
			m[j][i] = sim
		}
	}
	return m
}

// vector is a sparse, L2-normalized TF-IDF vector keyed by feature index.
type vector map[int]float64

// vectorize fits a fresh vocabulary on docs and returns one vector per doc.
func (s Scorer) vectorize(docs []string) []vector {
	maxFeatures := s.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = DefaultMaxFeatures
	}

	counts := make([]map[string]int, len(docs))
	corpus := make(map[string]int)
	docFreq := make(map[string]int)
	for i, d := range docs {
		counts[i] = termCounts(d)
		for term, c := range counts[i] {
			corpus[term] += c
			docFreq[term]++
		}
	}

	vocab := selectFeatures(corpus, maxFeatures)

	n := float64(len(docs))
	idf := make(map[string]float64, len(vocab))
	for term := range vocab {
		// Smoothed IDF: ln((1+n)/(1+df)) + 1.
		idf[term] = math.Log((1+n)/(1+float64(docFreq[term]))) + 1
	}

	vecs := make([]vector, len(docs))
	for i, tc := range counts {
		v := make(vector)
		var norm float64
		for term, c := range tc {
			idx, ok := vocab[term]
			if !ok {
				continue
			}
			w := float64(c) * idf[term]
			v[idx] = w
			norm += w * w
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for k := range v {
				v[k] /= norm
			}
		}
		vecs[i] = v
	}
	return vecs
}

// selectFeatures keeps the maxFeatures most frequent terms, breaking ties
// by term so the vocabulary is deterministic.
func selectFeatures(corpus map[string]int, maxFeatures int) map[string]int {
	terms := make([]string, 0, len(corpus))
	for t := range corpus {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if corpus[terms[i]] != corpus[terms[j]] {
			return corpus[terms[i]] > corpus[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > maxFeatures {
		terms = terms[:maxFeatures]
	}
	vocab := make(map[string]int, len(terms))
	for i, t := range terms {
		vocab[t] = i
	}
	return vocab
}

func cosine(a, b vector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for k, va := range a {
		dot += va * b[k]
	}
	return clamp(dot)
}

func clamp(x float64) float64 {
	switch {
	case math.IsNaN(x) || x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

// termCounts tokenizes text into stop-word-free unigrams and the bigrams
// formed from them.
func termCounts(text string) map[string]int {
	tokens := Tokenize(text)
	counts := make(map[string]int, len(tokens)*2)
	for i, tok := range tokens {
		counts[tok]++
		if i > 0 {
			counts[tokens[i-1]+" "+tok]++
		}
	}
	return counts
}

// Tokenize folds case and splits text into tokens of two or more letters or
// digits, dropping English stop words.
func Tokenize(text string) []string {
	folded := cases.Fold().String(text)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopWords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}
