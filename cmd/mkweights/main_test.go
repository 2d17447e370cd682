package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/scan-classifier/internal/classifier"
	"github.com/example/scan-classifier/internal/preprocess"
)

func TestRunWritesLoadableWeights(t *testing.T) {
	dir := t.TempDir()

	paths, err := run(options{outDir: dir, dtype: "float16", compression: "zstd", seed: 1})
	require.NoError(t, err)
	require.Len(t, paths, len(classifier.Organs()))

	input := make([]float32, 3*preprocess.ImageSize*preprocess.ImageSize)
	tensor := preprocess.Tensor{Shape: [4]int{1, 3, preprocess.ImageSize, preprocess.ImageSize}, Data: input}
	for organ, path := range paths {
		c, err := classifier.Open(path, organ, classifier.Options{})
		require.NoError(t, err, organ)

		label, confidence, err := c.Classify(context.Background(), tensor)
		require.NoError(t, err)
		assert.Contains(t, classifier.Labels(organ), label)
		assert.Greater(t, confidence, 0.0)
	}
}

func TestRunRejectsUnknownDType(t *testing.T) {
	_, err := run(options{outDir: t.TempDir(), dtype: "int8", compression: "none"})
	assert.Error(t, err)
}
