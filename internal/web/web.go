// Package web serves the browser frontend. Page flow lives in the
// navigation state machine; this package only renders its views and turns
// form posts and links into events.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/scan-classifier/internal/apiclient"
	"github.com/example/scan-classifier/internal/navigation"
	"github.com/example/scan-classifier/internal/session"
)

// CookieName holds the session id.
const CookieName = "scan_session"

// MaxUploadSize mirrors the inference API's limit.
const MaxUploadSize = 10 << 20

//go:embed templates/*.html
var templateFS embed.FS

// Predictor submits an upload for classification.
type Predictor interface {
	Predict(ctx context.Context, upload apiclient.Upload, target, mode string) (*apiclient.Prediction, error)
}

// Handler renders pages for one session store and backend.
type Handler struct {
	sessions   session.Store
	predictor  Predictor
	sessionTTL time.Duration
	logger     *zap.Logger
}

// NewHandler constructs the frontend handler.
func NewHandler(sessions session.Store, predictor Predictor, sessionTTL time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		sessions:   sessions,
		predictor:  predictor,
		sessionTTL: sessionTTL,
		logger:     logger.Named("web"),
	}
}

// Templates parses the embedded page templates.
func Templates() (*template.Template, error) {
	tmpl, err := template.New("pages").Funcs(template.FuncMap{
		"percent": func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}

// RegisterRoutes installs the templates and page routes on router.
func (h *Handler) RegisterRoutes(router *gin.Engine) error {
	tmpl, err := Templates()
	if err != nil {
		return err
	}
	router.SetHTMLTemplate(tmpl)

	router.GET("/", h.index)
	router.GET("/upload/preview", h.preview)
	router.POST("/predict", h.predict)
	router.POST("/upload/clear", h.clearUpload)
	return nil
}

type pageData struct {
	View    navigation.View
	State   navigation.State
	Upload  *session.UploadRecord
	Result  *session.Result
	History []string
	Error   string
	Warning bool
}

func (h *Handler) index(c *gin.Context) {
	id, data := h.load(c)

	if action := c.Query("action"); action != "" {
		ev, err := navigation.ParseAction(action)
		if err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		data.Apply(ev)
		h.save(c, id, data)
		c.Redirect(http.StatusSeeOther, "/")
		return
	}

	page := pageData{
		State:   data.State,
		Upload:  data.Upload,
		Result:  data.Result,
		History: data.History,
		Error:   data.Error,
		Warning: data.State.Warning && data.Upload == nil,
	}

	if data.State.View == navigation.AnalysisResult && data.Result == nil {
		if page.Error == "" {
			page.Error = "No prediction result available. Please upload an image and try again."
		}
		data.Apply(navigation.Back)
	}
	page.View = data.State.View
	page.State = data.State

	// notices are shown once
	data.State.Warning = false
	data.Error = ""
	h.save(c, id, data)

	c.HTML(http.StatusOK, "layout", page)
}

func (h *Handler) preview(c *gin.Context) {
	_, data := h.load(c)
	if data.Upload == nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, previewContentType(data.Upload.Data), data.Upload.Data)
}

// previewContentType sniffs the stored bytes and only ever answers with an
// image type, whatever the uploader claimed.
func previewContentType(raw []byte) string {
	if detected := http.DetectContentType(raw); strings.HasPrefix(detected, "image/") {
		return detected
	}
	return "application/octet-stream"
}

func (h *Handler) predict(c *gin.Context) {
	id, data := h.load(c)
	data.State = navigation.WithMode(data.State, c.PostForm("type"))

	upload, err := readUpload(c)
	if err != nil {
		data.Error = err.Error()
		data.Apply(navigation.PredictFailed)
		h.save(c, id, data)
		c.Redirect(http.StatusSeeOther, "/")
		return
	}
	if upload != nil {
		if data.Upload == nil || data.Upload.Name != upload.Name {
			data.Apply(navigation.UploadChanged)
			data.Result = nil
		}
		data.Upload = upload
	}

	if data.Upload == nil {
		data.Apply(navigation.PredictMissingUpload)
		h.save(c, id, data)
		c.Redirect(http.StatusSeeOther, "/")
		return
	}

	target := string(data.State.Target)
	mode := string(data.State.Mode)
	prediction, err := h.predictor.Predict(c.Request.Context(), apiclient.Upload{
		Filename:    data.Upload.Name,
		ContentType: data.Upload.ContentType,
		Data:        data.Upload.Data,
	}, target, mode)
	if err != nil {
		h.logger.Warn("prediction request failed",
			zap.String("target", target),
			zap.String("filename", data.Upload.Name),
			zap.Error(err))
		data.Result = nil
		data.Error = "Prediction request failed: " + err.Error()
		data.Apply(navigation.PredictFailed)
		h.save(c, id, data)
		c.Redirect(http.StatusSeeOther, "/")
		return
	}

	data.Result = &session.Result{Label: prediction.Label, Confidence: prediction.Confidence}
	data.AddHistory(fmt.Sprintf("Analyzed %s as %s (%s)", data.Upload.Name, target, mode))
	data.Apply(navigation.PredictSucceeded)
	h.save(c, id, data)
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) clearUpload(c *gin.Context) {
	id, data := h.load(c)
	data.Upload = nil
	data.Apply(navigation.UploadCleared)
	h.save(c, id, data)
	c.Redirect(http.StatusSeeOther, "/")
}

// readUpload returns nil when the form carries no file.
func readUpload(c *gin.Context) (*session.UploadRecord, error) {
	file, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if file.Size > MaxUploadSize {
		return nil, errors.New("image exceeds upload limit")
	}

	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return &session.UploadRecord{
		Name:        file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Size:        file.Size,
		Data:        raw,
	}, nil
}

// load returns the caller's session, starting a new one when the cookie is
// missing or the stored session expired.
func (h *Handler) load(c *gin.Context) (string, *session.Data) {
	id, err := c.Cookie(CookieName)
	if err == nil && id != "" {
		data, err := h.sessions.Load(c.Request.Context(), id)
		if err == nil {
			return id, data
		}
		if !errors.Is(err, session.ErrNotFound) {
			h.logger.Warn("failed to load session", zap.String("session_id", id), zap.Error(err))
		}
	}
	return uuid.NewString(), session.New()
}

func (h *Handler) save(c *gin.Context, id string, data *session.Data) {
	if err := h.sessions.Save(c.Request.Context(), id, data); err != nil {
		h.logger.Error("failed to save session", zap.String("session_id", id), zap.Error(err))
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, id, int(h.sessionTTL.Seconds()), "/", "", false, true)
}
