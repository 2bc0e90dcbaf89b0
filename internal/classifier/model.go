package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// modelArtifact is the exported vectorizer+classifier pair: a tf-idf
// vocabulary with per-term idf weights, and a logistic regression over
// that vocabulary.
type modelArtifact struct {
	Vocabulary map[string]int `json:"vocabulary"`
	IDF        []float64      `json:"idf"`
	Coef       []float64      `json:"coef"`
	Intercept  float64        `json:"intercept"`
}

// Model scores text with a positive-class probability in [0,1].
type Model struct {
	name     string
	artifact modelArtifact
	logger   *zap.Logger
}

// LoadModel reads a pretrained artifact from disk. Callers treat a
// load failure at startup as fatal.
func LoadModel(name, path string, logger *zap.Logger) (*Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", name, err)
	}
	var artifact modelArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, fmt.Errorf("parse model %s: %w", name, err)
	}
	if len(artifact.IDF) != len(artifact.Vocabulary) || len(artifact.Coef) != len(artifact.Vocabulary) {
		return nil, fmt.Errorf("model %s: vocabulary/weight size mismatch", name)
	}
	return &Model{name: name, artifact: artifact, logger: logger}, nil
}

// Score returns the positive-class probability for text. Any internal
// failure yields 0: the pipeline stays available and biased against
// false positives rather than crashing on odd input.
func (m *Model) Score(text string) float64 {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("classifier panic, scoring 0",
				zap.String("model", m.name), zap.Any("cause", r))
		}
	}()

	terms := tokenize(Transliterate(text))
	if len(terms) == 0 {
		return sigmoid(m.artifact.Intercept)
	}

	counts := make(map[int]float64, len(terms))
	for _, term := range terms {
		if idx, ok := m.artifact.Vocabulary[term]; ok {
			counts[idx]++
		}
	}

	// tf-idf with L2 normalization, then the logistic layer.
	var norm2 float64
	weights := make(map[int]float64, len(counts))
	for idx, tf := range counts {
		w := tf * m.artifact.IDF[idx]
		weights[idx] = w
		norm2 += w * w
	}
	z := m.artifact.Intercept
	if norm2 > 0 {
		scale := 1 / math.Sqrt(norm2)
		for idx, w := range weights {
			z += m.artifact.Coef[idx] * w * scale
		}
	}
	return sigmoid(z)
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Transliterate folds accented characters to their ASCII base form so
// the vectorizer sees the vocabulary it was trained on.
func Transliterate(text string) string {
	folded, _, err := transform.String(asciiFold, text)
	if err != nil {
		return text
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
