package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/scan-classifier/internal/classifier"
	"github.com/example/scan-classifier/internal/logging"
	"github.com/example/scan-classifier/internal/preprocess"
	"github.com/example/scan-classifier/internal/repository"
	"github.com/example/scan-classifier/internal/retry"
)

// ErrModelUnavailable is returned when the requested organ has no loaded model.
var ErrModelUnavailable = errors.New("model not loaded")

// PredictionRepository defines the persistence operations needed by the use case.
type PredictionRepository interface {
	SaveLog(ctx context.Context, log *repository.PredictionLog) error
	Recent(ctx context.Context, limit int) ([]*repository.PredictionLog, error)
}

// Request is one image submitted for classification.
type Request struct {
	Organ    classifier.Organ
	Image    []byte
	Filename string
	Mode     string
	Subject  string
}

// Result is the outcome of a successful prediction.
type Result struct {
	RequestID  string
	Label      string
	Confidence float64
	Cached     bool
}

// PredictionUseCase encapsulates the classification flow.
type PredictionUseCase struct {
	registry *classifier.Registry
	repo     PredictionRepository
	cache    Cache
	cacheTTL time.Duration
	logger   *zap.Logger
	retry    retry.Policy
}

// NewPredictionUseCase constructs a new use case instance.
func NewPredictionUseCase(registry *classifier.Registry, repo PredictionRepository, cache Cache, cacheTTL time.Duration, logger *zap.Logger) *PredictionUseCase {
	if cache == nil {
		cache = NoopCache{}
	}
	return &PredictionUseCase{
		registry: registry,
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger.Named("prediction_usecase"),
		retry:    cacheRetryPolicy(),
	}
}

// Available reports whether organ has a loaded model.
func (uc *PredictionUseCase) Available(organ classifier.Organ) bool {
	_, ok := uc.registry.Get(organ)
	return ok
}

// ModelStatus reports availability for every organ.
func (uc *PredictionUseCase) ModelStatus() map[classifier.Organ]bool {
	return uc.registry.Status()
}

// Predict classifies req.Image with the organ's model. Caching and logging
// are best effort: their failures are logged and never fail the request.
func (uc *PredictionUseCase) Predict(ctx context.Context, req Request) (*Result, error) {
	c, ok := uc.registry.Get(req.Organ)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelUnavailable, req.Organ)
	}

	started := time.Now()
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.predict", requestID).With(zap.String("organ", string(req.Organ)))

	hash := sha1.Sum(req.Image)
	hashHex := hex.EncodeToString(hash[:])
	cacheKey := predictionKey(req.Organ, c.Fingerprint(), hashHex)

	result := &Result{RequestID: requestID}
	if cached, ok := uc.lookup(ctx, requestID, cacheKey); ok {
		result.Label, result.Confidence, result.Cached = cached.Label, cached.Confidence, true
	} else {
		tensor, err := preprocess.FromBytes(req.Image)
		if err != nil {
			wrapped := logging.NewOrganError("usecase.preprocess", string(req.Organ), requestID, err)
			opLogger.Warn("preprocessing failed", zap.Error(wrapped))
			return nil, wrapped
		}
		label, confidence, err := c.Classify(ctx, tensor)
		if err != nil {
			wrapped := logging.NewOrganError("usecase.classify", string(req.Organ), requestID, err)
			opLogger.Error("inference failed", zap.Error(wrapped))
			return nil, wrapped
		}
		result.Label, result.Confidence = label, confidence
		uc.store(ctx, requestID, cacheKey, cachedPrediction{Label: label, Confidence: confidence, CreatedAt: time.Now().UTC()})
	}

	latency := time.Since(started)
	log := &repository.PredictionLog{
		RequestID:  requestID,
		Organ:      string(req.Organ),
		Label:      result.Label,
		Confidence: result.Confidence,
		Filename:   req.Filename,
		Mode:       req.Mode,
		Subject:    req.Subject,
		SHA1Hash:   hashHex,
		Cached:     result.Cached,
		LatencyMs:  float64(latency.Microseconds()) / 1000,
		CreatedAt:  time.Now().UTC(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		opLogger.Error("failed to persist prediction log", zap.Error(logging.NewOperationError("usecase.save_log", requestID, err)))
	}

	opLogger.Info("prediction served",
		zap.String("label", result.Label),
		zap.Float64("confidence", result.Confidence),
		zap.Bool("cached", result.Cached),
		zap.Duration("latency", latency))
	return result, nil
}

// History returns up to limit prediction logs, most recent first.
func (uc *PredictionUseCase) History(ctx context.Context, limit int) ([]*repository.PredictionLog, error) {
	logs, err := uc.repo.Recent(ctx, limit)
	if err != nil {
		return nil, logging.NewOperationError("usecase.history", "", err)
	}
	return logs, nil
}

func (uc *PredictionUseCase) lookup(ctx context.Context, requestID, cacheKey string) (cachedPrediction, bool) {
	var payload cachedPrediction
	raw, err := uc.withRedisGet(ctx, requestID, "cache.get.prediction", cacheKey)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.WithOperation(uc.logger, "usecase.lookup", requestID).Warn("failed to read cache", zap.Error(err))
		}
		return payload, false
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		logging.WithOperation(uc.logger, "usecase.lookup", requestID).Warn("failed to decode cached prediction", zap.Error(err))
		return payload, false
	}
	return payload, true
}

func (uc *PredictionUseCase) store(ctx context.Context, requestID, cacheKey string, payload cachedPrediction) {
	serialized, err := json.Marshal(payload)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.store", requestID).Error("failed to serialize prediction", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.prediction", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), uc.cacheTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.store", requestID).Warn("failed to cache prediction", zap.Error(err))
	}
}

func (uc *PredictionUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	return retry.Do(ctx, uc.retry, uc.logger, "redis", operation, requestID, fn)
}

func (uc *PredictionUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// cacheRetryPolicy treats a miss as a normal answer rather than a failure.
func cacheRetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Expected = func(err error) bool { return errors.Is(err, redis.Nil) }
	return p
}
