// Command mkweights writes freshly initialised weight files for every organ
// so the inference API can start without trained checkpoints.
package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/example/scan-classifier/internal/classifier"
	"github.com/example/scan-classifier/internal/logging"
	"github.com/example/scan-classifier/internal/nn"
	"github.com/example/scan-classifier/internal/preprocess"
	"github.com/example/scan-classifier/internal/weights"
)

type options struct {
	outDir      string
	dtype       string
	compression string
	seed        uint64
}

func main() {
	var opts options
	pflag.StringVarP(&opts.outDir, "out", "o", "models", "output directory")
	pflag.StringVar(&opts.dtype, "dtype", string(weights.Float32), "element encoding: float32|float16")
	pflag.StringVar(&opts.compression, "compress", string(weights.None), "payload compression: none|zstd")
	pflag.Uint64Var(&opts.seed, "seed", 42, "random seed")
	pflag.Parse()

	logger, err := logging.NewLogger("info")
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	paths, err := run(opts)
	if err != nil {
		logger.Error("failed to write weights", zap.Error(err))
		os.Exit(1)
	}
	for organ, path := range paths {
		logger.Info("wrote weights", zap.String("organ", string(organ)), zap.String("path", path))
	}
}

func run(opts options) (map[classifier.Organ]string, error) {
	dtype := weights.DType(opts.dtype)
	if dtype != weights.Float32 && dtype != weights.Float16 {
		return nil, fmt.Errorf("unknown dtype %q", opts.dtype)
	}
	compression := weights.Compression(opts.compression)
	if compression != weights.None && compression != weights.Zstd {
		return nil, fmt.Errorf("unknown compression %q", opts.compression)
	}
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", opts.outDir, err)
	}

	paths := make(map[classifier.Organ]string)
	for i, organ := range classifier.Organs() {
		labels := classifier.Labels(organ)
		m, err := nn.New(preprocess.ImageSize, len(labels))
		if err != nil {
			return nil, err
		}
		m.InitUniform(rand.New(rand.NewPCG(opts.seed, uint64(i))))

		path := filepath.Join(opts.outDir, string(organ)+"_model.scnw")
		err = weights.WriteFile(path, weights.Header{
			Architecture: nn.Architecture,
			Organ:        string(organ),
			NumClasses:   len(labels),
			InputSize:    preprocess.ImageSize,
			Labels:       labels,
			DType:        dtype,
			Compression:  compression,
		}, m.Params())
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		paths[organ] = path
	}
	return paths, nil
}
