// Package api exposes the liveness engine over HTTP
package api

import (
	"bytes"
	"errors"
	"image"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/faceattend/faceattend/internal/config"
	"github.com/faceattend/faceattend/internal/engine"
	"github.com/faceattend/faceattend/internal/liveness"
	"github.com/faceattend/faceattend/internal/store"
	"github.com/faceattend/faceattend/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DefaultMaxUploadSize is used when the server config leaves the limit unset
const DefaultMaxUploadSize = 10 << 20

// CheckResponse is the body of a liveness check
type CheckResponse struct {
	CheckID          string             `json:"check_id,omitempty"`
	Source           string             `json:"source"`
	LivenessScore    *float64           `json:"liveness_score"`
	IsLive           bool               `json:"is_live"`
	Reason           string             `json:"reason,omitempty"`
	Reasons          []string           `json:"reasons"`
	Features         *liveness.Features `json:"features,omitempty"`
	Skipped          bool               `json:"skipped"`
	Cached           bool               `json:"cached"`
	ProcessingTimeMS int64              `json:"processing_time_ms"`
}

// NewCheckResponse converts an engine result to its response body
func NewCheckResponse(result *engine.Result) CheckResponse {
	resp := CheckResponse{
		CheckID:          result.ID,
		Source:           result.Source,
		IsLive:           result.IsLive(),
		Reasons:          []string{},
		Skipped:          result.Skipped,
		Cached:           result.Cached,
		ProcessingTimeMS: result.ProcessingTime.Milliseconds(),
	}

	if v := result.Verdict; v != nil {
		score := v.Score
		resp.LivenessScore = &score
		resp.Reason = v.Reason()
		resp.Reasons = v.Reasons
		resp.Features = v.Features
	}

	return resp
}

type handler struct {
	engine *engine.Engine
	cfg    config.ServerConfig
	logger *logrus.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router
func RegisterRoutes(router *gin.Engine, e *engine.Engine, cfg config.ServerConfig, logger *logrus.Logger) {
	h := &handler{engine: e, cfg: cfg, logger: logger}
	if h.cfg.MaxUploadBytes <= 0 {
		h.cfg.MaxUploadBytes = DefaultMaxUploadSize
	}
	router.MaxMultipartMemory = h.cfg.MaxUploadBytes

	router.GET("/health", h.health)

	api := router.Group("/api")
	api.POST("/liveness", h.checkLiveness)
	api.GET("/config", h.getConfig)
	api.POST("/config", h.updateConfig)
	api.GET("/checks", h.listChecks)
	api.GET("/checks/:id", h.getCheck)
	api.GET("/stats", h.stats)
	api.DELETE("/lockouts/:source", h.clearLockout)
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"liveness":  h.engine.Settings(),
	})
}

func (h *handler) checkLiveness(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes)

	file, err := c.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer func() { _ = src.Close() }()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}

	crop, err := parseCrop(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	source := c.PostForm("source")
	if source == "" {
		source = c.ClientIP()
	}

	var result *engine.Result
	if img, ok, err := h.prepare(data, crop); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	} else if ok {
		result, err = h.engine.CheckImage(c.Request.Context(), source, img)
		if err != nil {
			h.checkError(c, err)
			return
		}
	} else {
		result, err = h.engine.Check(c.Request.Context(), source, data)
		if err != nil {
			h.checkError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, NewCheckResponse(result))
}

// prepare crops and downscales the upload when asked to or when it is larger
// than the configured dimension. It reports false when the original bytes
// should be checked as they are, including when they cannot be decoded.
func (h *handler) prepare(data []byte, crop *image.Rectangle) (image.Image, bool, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, false, nil
	}

	maxDim := h.cfg.MaxImageDimension
	oversized := maxDim > 0 && (cfg.Width > maxDim || cfg.Height > maxDim)
	if crop == nil && !oversized {
		return nil, false, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, nil
	}

	if crop != nil {
		img, err = utils.CropImage(img, crop.Min.X, crop.Min.Y, crop.Dx(), crop.Dy())
		if err != nil {
			return nil, false, err
		}
	}

	return utils.FitWithin(img, maxDim), true, nil
}

func (h *handler) checkError(c *gin.Context, err error) {
	if errors.Is(err, engine.ErrSourceLocked) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	}
	h.logger.Errorf("Liveness check failed: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "liveness check failed"})
}

// parseCrop reads the optional x, y, width and height form fields. All four
// are required once any is given.
func parseCrop(c *gin.Context) (*image.Rectangle, error) {
	names := []string{"x", "y", "width", "height"}
	values := make([]int, len(names))
	given := 0

	for i, name := range names {
		raw := c.PostForm(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.New("crop field " + name + " must be an integer")
		}
		values[i] = v
		given++
	}

	switch {
	case given == 0:
		return nil, nil
	case given < len(names):
		return nil, errors.New("crop requires x, y, width and height")
	case values[2] <= 0 || values[3] <= 0:
		return nil, errors.New("crop width and height must be positive")
	}

	r := image.Rect(values[0], values[1], values[0]+values[2], values[1]+values[3])
	return &r, nil
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

func (h *handler) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Settings())
}

func (h *handler) updateConfig(c *gin.Context) {
	// Fields missing from the body keep their current value
	settings := h.engine.Settings()
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settings body: " + err.Error()})
		return
	}

	if err := h.engine.UpdateSettings(settings); err != nil {
		if errors.Is(err, config.ErrInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Errorf("Failed to update settings: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update settings"})
		return
	}

	c.JSON(http.StatusOK, h.engine.Settings())
}

func (h *handler) listChecks(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = v
	}

	checks, err := h.engine.History(c.Query("source"), limit)
	if err != nil {
		h.historyError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"checks": checks, "count": len(checks)})
}

func (h *handler) getCheck(c *gin.Context) {
	check, err := h.engine.GetCheck(c.Param("id"))
	if err != nil {
		h.historyError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

func (h *handler) stats(c *gin.Context) {
	stats, err := h.engine.Stats()
	if err != nil {
		h.historyError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// clearLockout lifts a spoof lockout before it expires
func (h *handler) clearLockout(c *gin.Context) {
	source := c.Param("source")
	h.engine.Guard().ClearLockout(source)
	c.JSON(http.StatusOK, gin.H{"source": source, "cleared": true})
}

func (h *handler) historyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "check not found"})
	case errors.Is(err, engine.ErrNoStore):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Errorf("History query failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
	}
}
