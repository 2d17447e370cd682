package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/scan-classifier/internal/auth"
	"github.com/example/scan-classifier/internal/classifier"
	"github.com/example/scan-classifier/internal/logging"
	"github.com/example/scan-classifier/internal/usecase"
)

// MaxUploadSize caps the accepted image size in bytes.
const MaxUploadSize = 10 << 20

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	// multipart framing allowance on top of MaxUploadSize
	bodySlack = 1 << 20
)

type predictionResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type historyItem struct {
	RequestID  string    `json:"request_id"`
	Organ      string    `json:"organ"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Filename   string    `json:"filename,omitempty"`
	Mode       string    `json:"mode,omitempty"`
	Cached     bool      `json:"cached"`
	LatencyMs  float64   `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.PredictionUseCase, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		models := gin.H{}
		for organ, ok := range uc.ModelStatus() {
			models[string(organ)] = ok
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "models": models})
	})

	api := router.Group("/", limitBody(MaxUploadSize+bodySlack), authMiddleware)

	for _, organ := range classifier.Organs() {
		organ := organ
		api.POST("/predict/"+string(organ), func(c *gin.Context) {
			predict(c, uc, organ, "")
		})
	}

	api.POST("/predict", func(c *gin.Context) {
		organ, err := classifier.ParseOrgan(c.PostForm("target"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "target must be one of brain, retina, eye"})
			return
		}
		mode := c.DefaultPostForm("type", "base")
		if mode != "base" && mode != "advanced" {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "type must be base or advanced"})
			return
		}
		predict(c, uc, organ, mode)
	})

	api.GET("/history", func(c *gin.Context) {
		limit := defaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"detail": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		logs, err := uc.History(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": errorDetail(err)})
			return
		}

		items := make([]historyItem, 0, len(logs))
		for _, log := range logs {
			items = append(items, historyItem{
				RequestID:  log.RequestID,
				Organ:      log.Organ,
				Label:      log.Label,
				Confidence: log.Confidence,
				Filename:   log.Filename,
				Mode:       log.Mode,
				Cached:     log.Cached,
				LatencyMs:  log.LatencyMs,
				CreatedAt:  log.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	})
}

func predict(c *gin.Context, uc *usecase.PredictionUseCase, organ classifier.Organ, mode string) {
	if !uc.Available(organ) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": unavailableDetail(organ)})
		return
	}

	data, filename, status, err := readUpload(c, "file")
	if err != nil {
		c.JSON(status, gin.H{"detail": err.Error()})
		return
	}

	subject, _ := auth.Subject(c.Request.Context())
	result, err := uc.Predict(c.Request.Context(), usecase.Request{
		Organ:    organ,
		Image:    data,
		Filename: filename,
		Mode:     mode,
		Subject:  subject,
	})
	if err != nil {
		if errors.Is(err, usecase.ErrModelUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"detail": unavailableDetail(organ)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": errorDetail(err)})
		return
	}

	c.Header("X-Request-ID", result.RequestID)
	c.JSON(http.StatusOK, predictionResponse{Label: result.Label, Confidence: result.Confidence})
}

func readUpload(c *gin.Context, field string) ([]byte, string, int, error) {
	file, err := c.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", http.StatusRequestEntityTooLarge, errors.New("image exceeds upload limit")
		}
		return nil, "", http.StatusBadRequest, errors.New("image file is required in form field \"" + field + "\"")
	}
	if file.Size > MaxUploadSize {
		return nil, "", http.StatusRequestEntityTooLarge, errors.New("image exceeds upload limit")
	}

	src, err := file.Open()
	if err != nil {
		return nil, "", http.StatusBadRequest, errors.New("unable to open image")
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, "", http.StatusInternalServerError, errors.New("failed to read image")
	}
	return data, file.Filename, http.StatusOK, nil
}

func unavailableDetail(organ classifier.Organ) string {
	name := string(organ)
	return strings.ToUpper(name[:1]) + name[1:] + " model not loaded"
}

// errorDetail strips operation metadata so clients see the cause only.
func errorDetail(err error) string {
	return logging.Cause(err).Error()
}

func limitBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// RequestLogger logs one structured line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(started)),
			zap.String("client_ip", c.ClientIP()),
		}
		if id := c.Writer.Header().Get("X-Request-ID"); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			logger.Error("request failed", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("request rejected", fields...)
		default:
			logger.Info("request served", fields...)
		}
	}
}
