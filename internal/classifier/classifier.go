// Package classifier loads organ classifiers from weight files, runs
// bounded forward passes and decodes logits into labels.
package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/example/scan-classifier/internal/nn"
	"github.com/example/scan-classifier/internal/preprocess"
	"github.com/example/scan-classifier/internal/weights"
)

// ErrNotLoaded is returned when predicting with an absent classifier.
var ErrNotLoaded = errors.New("model not loaded")

// ErrLabelMismatch reports a weight file whose class list disagrees with
// the organ's label table.
var ErrLabelMismatch = errors.New("label table mismatch")

// Options bound the cost of inference.
type Options struct {
	// Timeout caps a single forward pass. Zero means no extra deadline.
	Timeout time.Duration
	// Limiter caps concurrent forward passes across classifiers sharing it.
	// Nil allocates one sized to GOMAXPROCS.
	Limiter *semaphore.Weighted
}

// Classifier is an immutable loaded model for one organ. It is safe for
// concurrent use.
type Classifier struct {
	organ       Organ
	labels      []string
	model       *nn.SmallCNN
	fingerprint string
	timeout     time.Duration
	limiter     *semaphore.Weighted
}

// New wraps a constructed network. The network's class count must equal
// the organ's label table length.
func New(organ Organ, model *nn.SmallCNN, opts Options) (*Classifier, error) {
	labels, ok := labelTables[organ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOrgan, organ)
	}
	if model.NumClasses != len(labels) {
		return nil, fmt.Errorf("%w: %s expects %d classes, model has %d", ErrLabelMismatch, organ, len(labels), model.NumClasses)
	}
	if opts.Limiter == nil {
		opts.Limiter = semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0)))
	}
	return &Classifier{
		organ:       organ,
		labels:      Labels(organ),
		model:       model,
		fingerprint: fingerprint(model),
		timeout:     opts.Timeout,
		limiter:     opts.Limiter,
	}, nil
}

// fingerprint hashes parameter names, shapes and values, so any change of
// weights yields a different identity.
func fingerprint(model *nn.SmallCNN) string {
	h := sha256.New()
	var buf [4]byte
	for _, p := range model.Params() {
		h.Write([]byte(p.Name))
		for _, d := range p.Shape {
			binary.LittleEndian.PutUint32(buf[:], uint32(d))
			h.Write(buf[:])
		}
		for _, v := range p.Data {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}

// Open reads a weight file and builds the organ's classifier from it.
func Open(path string, organ Organ, opts Options) (*Classifier, error) {
	file, err := weights.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weights %s: %w", path, err)
	}
	h := file.Header
	if h.Architecture != nn.Architecture {
		return nil, fmt.Errorf("%w: architecture %q", weights.ErrFormat, h.Architecture)
	}
	if h.Organ != "" && h.Organ != string(organ) {
		return nil, fmt.Errorf("%w: file is for %q, loading as %q", ErrLabelMismatch, h.Organ, organ)
	}
	if h.InputSize != preprocess.ImageSize {
		return nil, fmt.Errorf("%w: input size %d, service feeds %d", nn.ErrShape, h.InputSize, preprocess.ImageSize)
	}
	if len(h.Labels) > 0 && !slices.Equal(h.Labels, labelTables[organ]) {
		return nil, fmt.Errorf("%w: file labels %v, expected %v", ErrLabelMismatch, h.Labels, labelTables[organ])
	}

	model, err := nn.New(h.InputSize, h.NumClasses)
	if err != nil {
		return nil, err
	}
	if err := file.Assign(model.Params()); err != nil {
		return nil, err
	}
	return New(organ, model, opts)
}

// Load is Open with failures logged and converted into an absent
// classifier, so a broken weight file only disables one organ.
func Load(path string, organ Organ, opts Options, logger *zap.Logger) *Classifier {
	c, err := Open(path, organ, opts)
	if err != nil {
		logger.Error("failed to load model",
			zap.String("organ", string(organ)),
			zap.String("path", path),
			zap.Error(err))
		return nil
	}
	logger.Info("loaded model", zap.String("organ", string(organ)), zap.String("path", path))
	return c
}

// Organ returns the organ this classifier serves.
func (c *Classifier) Organ() Organ {
	return c.organ
}

// Fingerprint identifies the loaded weights. Results cached under one
// fingerprint are not valid for another.
func (c *Classifier) Fingerprint() string {
	return c.fingerprint
}

// Labels returns the classifier's label table.
func (c *Classifier) Labels() []string {
	return append([]string(nil), c.labels...)
}

// Predict runs a forward pass over a 1x3xSxS tensor and returns the logits.
func (c *Classifier) Predict(ctx context.Context, t preprocess.Tensor) ([]float32, error) {
	if c == nil {
		return nil, ErrNotLoaded
	}
	want := [4]int{1, 3, c.model.InputSize, c.model.InputSize}
	if t.Shape != want || len(t.Data) != t.Len() {
		return nil, fmt.Errorf("%w: tensor shape %v, expected %v", nn.ErrShape, t.Shape, want)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.limiter.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for inference slot: %w", err)
	}
	defer c.limiter.Release(1)

	logits, err := c.model.Forward(ctx, t.Data)
	if err != nil {
		return nil, fmt.Errorf("forward pass: %w", err)
	}
	return logits, nil
}

// Classify runs Predict and decodes the logits against the label table.
func (c *Classifier) Classify(ctx context.Context, t preprocess.Tensor) (string, float64, error) {
	logits, err := c.Predict(ctx, t)
	if err != nil {
		return "", 0, err
	}
	label, confidence := Decode(logits, c.labels)
	return label, confidence, nil
}
