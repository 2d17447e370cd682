// Package classifiertest builds randomly initialised classifiers for tests
// in other packages.
package classifiertest

import (
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/example/scan-classifier/internal/classifier"
	"github.com/example/scan-classifier/internal/nn"
	"github.com/example/scan-classifier/internal/preprocess"
	"github.com/example/scan-classifier/internal/weights"
)

// Model returns a service-sized network for organ with seeded random weights.
func Model(t testing.TB, organ classifier.Organ, seed uint64) *nn.SmallCNN {
	t.Helper()
	m, err := nn.New(preprocess.ImageSize, len(classifier.Labels(organ)))
	if err != nil {
		t.Fatalf("build network: %v", err)
	}
	m.InitUniform(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
	return m
}

// New returns a ready classifier for organ.
func New(t testing.TB, organ classifier.Organ, opts classifier.Options) *classifier.Classifier {
	t.Helper()
	c, err := classifier.New(organ, Model(t, organ, 7), opts)
	if err != nil {
		t.Fatalf("build classifier: %v", err)
	}
	return c
}

// WriteWeights writes a weight file for organ into a temporary directory
// and returns its path. mutate may adjust the header before writing.
func WriteWeights(t testing.TB, organ classifier.Organ, mutate func(*weights.Header)) string {
	t.Helper()
	m := Model(t, organ, 11)
	h := weights.Header{
		Architecture: nn.Architecture,
		Organ:        string(organ),
		NumClasses:   m.NumClasses,
		InputSize:    m.InputSize,
		Labels:       classifier.Labels(organ),
		DType:        weights.Float16,
		Compression:  weights.None,
	}
	if mutate != nil {
		mutate(&h)
	}
	path := filepath.Join(t.TempDir(), string(organ)+".scnw")
	if err := weights.WriteFile(path, h, m.Params()); err != nil {
		t.Fatalf("write weights: %v", err)
	}
	return path
}
