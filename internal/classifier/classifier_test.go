package classifier_test

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/scan-classifier/internal/classifier"
	"github.com/example/scan-classifier/internal/classifier/classifiertest"
	"github.com/example/scan-classifier/internal/nn"
	"github.com/example/scan-classifier/internal/preprocess"
	"github.com/example/scan-classifier/internal/weights"
)

func zeroTensor() preprocess.Tensor {
	return preprocess.Tensor{
		Shape: [4]int{1, 3, preprocess.ImageSize, preprocess.ImageSize},
		Data:  make([]float32, 3*preprocess.ImageSize*preprocess.ImageSize),
	}
}

func TestOpenLoadsVersionedWeights(t *testing.T) {
	path := classifiertest.WriteWeights(t, classifier.Brain, nil)

	c, err := classifier.Open(path, classifier.Brain, classifier.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	label, confidence, err := c.Classify(context.Background(), zeroTensor())
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if !slices.Contains(classifier.Labels(classifier.Brain), label) {
		t.Fatalf("label %q not in brain table", label)
	}
	if confidence < 0 || confidence > 1 {
		t.Fatalf("confidence out of range: %f", confidence)
	}
}

func TestOpenRejectsInconsistentFiles(t *testing.T) {
	cases := map[string]struct {
		mutate func(*weights.Header)
		want   error
	}{
		"reordered labels": {
			mutate: func(h *weights.Header) { h.Labels = []string{"glioma", "no_tumor", "meningioma", "pituitary"} },
			want:   classifier.ErrLabelMismatch,
		},
		"other organ": {
			mutate: func(h *weights.Header) { h.Organ = "retina" },
			want:   classifier.ErrLabelMismatch,
		},
		"unknown architecture": {
			mutate: func(h *weights.Header) { h.Architecture = "resnet18" },
			want:   weights.ErrFormat,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			path := classifiertest.WriteWeights(t, classifier.Brain, tc.mutate)
			_, err := classifier.Open(path, classifier.Brain, classifier.Options{})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestOpenRejectsClassCountMismatch(t *testing.T) {
	path := classifiertest.WriteWeights(t, classifier.Retina, func(h *weights.Header) {
		h.Organ = ""
		h.Labels = nil
	})

	_, err := classifier.Open(path, classifier.Brain, classifier.Options{})
	if !errors.Is(err, classifier.ErrLabelMismatch) {
		t.Fatalf("expected label mismatch, got %v", err)
	}
}

func TestLoadReturnsNilOnFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.scnw")
	if c := classifier.Load(missing, classifier.Brain, classifier.Options{}, zap.NewNop()); c != nil {
		t.Fatal("expected nil classifier for missing file")
	}
}

func TestPredictRejectsWrongShape(t *testing.T) {
	c := classifiertest.New(t, classifier.Retina, classifier.Options{})

	_, err := c.Predict(context.Background(), preprocess.Tensor{Shape: [4]int{1, 3, 32, 32}, Data: make([]float32, 3*32*32)})
	if !errors.Is(err, nn.ErrShape) {
		t.Fatalf("expected shape error, got %v", err)
	}
}

func TestPredictOnAbsentClassifier(t *testing.T) {
	var c *classifier.Classifier
	logits, err := c.Predict(context.Background(), zeroTensor())
	if !errors.Is(err, classifier.ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
	if label, confidence := classifier.Decode(logits, classifier.Labels(classifier.Brain)); label != "model-not-loaded" || confidence != 0 {
		t.Fatalf("unexpected decode of absent logits: %s %f", label, confidence)
	}
}

func TestPredictHonoursTimeout(t *testing.T) {
	c := classifiertest.New(t, classifier.Brain, classifier.Options{Timeout: time.Nanosecond})

	_, err := c.Predict(context.Background(), zeroTensor())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestFingerprintTracksWeights(t *testing.T) {
	build := func(seed uint64) *classifier.Classifier {
		c, err := classifier.New(classifier.Brain, classifiertest.Model(t, classifier.Brain, seed), classifier.Options{})
		if err != nil {
			t.Fatalf("build classifier: %v", err)
		}
		return c
	}

	a, again, other := build(1), build(1), build(2)
	if a.Fingerprint() == "" {
		t.Fatal("expected a fingerprint")
	}
	if a.Fingerprint() != again.Fingerprint() {
		t.Fatal("identical weights must share a fingerprint")
	}
	if a.Fingerprint() == other.Fingerprint() {
		t.Fatal("different weights must not share a fingerprint")
	}

	path := classifiertest.WriteWeights(t, classifier.Brain, nil)
	first, err := classifier.Open(path, classifier.Brain, classifier.Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	second, err := classifier.Open(path, classifier.Brain, classifier.Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if first.Fingerprint() != second.Fingerprint() {
		t.Fatal("reloading the same file must keep the fingerprint")
	}
}

func TestRegistryIsAvailabilitySnapshot(t *testing.T) {
	brain := classifiertest.New(t, classifier.Brain, classifier.Options{})
	models := map[classifier.Organ]*classifier.Classifier{
		classifier.Brain:  brain,
		classifier.Retina: nil,
	}
	reg := classifier.NewRegistry(models)
	models[classifier.Retina] = brain

	if got, ok := reg.Get(classifier.Brain); !ok || got != brain {
		t.Fatal("expected brain classifier")
	}
	if _, ok := reg.Get(classifier.Retina); ok {
		t.Fatal("retina should stay unavailable after the source map changes")
	}
	status := reg.Status()
	if !status[classifier.Brain] || status[classifier.Retina] {
		t.Fatalf("unexpected status: %v", status)
	}
}

func TestLoadRegistry(t *testing.T) {
	paths := map[classifier.Organ]string{
		classifier.Brain:  classifiertest.WriteWeights(t, classifier.Brain, nil),
		classifier.Retina: filepath.Join(t.TempDir(), "missing.scnw"),
	}
	reg := classifier.LoadRegistry(paths, classifier.Options{}, zap.NewNop())

	status := reg.Status()
	if !status[classifier.Brain] || status[classifier.Retina] {
		t.Fatalf("unexpected status: %v", status)
	}
}

func TestParseOrgan(t *testing.T) {
	cases := map[string]classifier.Organ{
		"brain":  classifier.Brain,
		"Retina": classifier.Retina,
		" eye ":  classifier.Retina,
	}
	for in, want := range cases {
		got, err := classifier.ParseOrgan(in)
		if err != nil || got != want {
			t.Fatalf("ParseOrgan(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := classifier.ParseOrgan("lung"); !errors.Is(err, classifier.ErrUnknownOrgan) {
		t.Fatalf("expected ErrUnknownOrgan, got %v", err)
	}
}
