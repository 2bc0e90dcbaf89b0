package classifier

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writeArtifact(t *testing.T, artifact modelArtifact) string {
	t.Helper()
	raw, err := json.Marshal(artifact)
	if err != nil {
		t.Fatalf("marshal artifact: %v", err)
	}
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

func TestModelScoreBounds(t *testing.T) {
	path := writeArtifact(t, modelArtifact{
		Vocabulary: map[string]int{"idiot": 0, "hate": 1, "hello": 2},
		IDF:        []float64{2.1, 2.4, 1.1},
		Coef:       []float64{3.5, 4.0, -1.2},
		Intercept:  -2.0,
	})
	m, err := LoadModel("toxicity", path, zap.NewNop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	for _, text := range []string{"", "hello there", "you idiot", "I hate hate hate you", "ünïcödé soup"} {
		score := m.Score(text)
		if score < 0 || score > 1 {
			t.Fatalf("score out of range for %q: %v", text, score)
		}
	}

	toxic := m.Score("you idiot")
	clean := m.Score("hello hello")
	if toxic <= clean {
		t.Fatalf("expected toxic text to outscore clean: %v <= %v", toxic, clean)
	}
}

func TestModelEmptyTextDoesNotPanic(t *testing.T) {
	path := writeArtifact(t, modelArtifact{
		Vocabulary: map[string]int{"x": 0},
		IDF:        []float64{1},
		Coef:       []float64{1},
		Intercept:  -1,
	})
	m, err := LoadModel("hate_speech", path, zap.NewNop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	score := m.Score("")
	if score < 0 || score > 1 {
		t.Fatalf("empty score out of range: %v", score)
	}
}

func TestLoadModelRejectsMismatchedWeights(t *testing.T) {
	path := writeArtifact(t, modelArtifact{
		Vocabulary: map[string]int{"a": 0, "b": 1},
		IDF:        []float64{1},
		Coef:       []float64{1, 2},
	})
	if _, err := LoadModel("toxicity", path, zap.NewNop()); err == nil {
		t.Fatalf("expected size mismatch error")
	}
}

func TestTransliterate(t *testing.T) {
	got := Transliterate("café naïve")
	if got != "cafe naive" {
		t.Fatalf("transliterate: got %q", got)
	}
}

func TestWordFilter(t *testing.T) {
	f := NewWordFilter([]string{"Badword", "  worse  ", ""})
	if f.Empty() {
		t.Fatalf("filter should not be empty")
	}
	if !f.Contains("this has a BADWORD inside") {
		t.Fatalf("expected case-insensitive match")
	}
	if f.Contains("perfectly fine text") {
		t.Fatalf("unexpected match")
	}

	censored := f.Censor("A badword and worse")
	if censored != "a ******* and *****" {
		t.Fatalf("censor: got %q", censored)
	}
}

func TestCensorMasksAccentedMatches(t *testing.T) {
	f := NewWordFilter([]string{"badword"})
	text := "such a bädwörd here"
	if !f.Contains(text) {
		t.Fatalf("accented variant should match")
	}
	// Whatever Contains matches, Censor must mask; a flagged word may
	// not surface verbatim in the logs.
	censored := f.Censor(text)
	if censored != "such a ******* here" {
		t.Fatalf("censor: got %q", censored)
	}
}
