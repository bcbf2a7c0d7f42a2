package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jontes-page/avatar-service/internal/pipeline"
	"github.com/jontes-page/avatar-service/internal/transcoder"
	"github.com/jontes-page/avatar-service/pkg/response"
)

// User-visible error messages. These are part of the public API contract.
const (
	msgInvalidSize   = "Invalid size"
	msgUpstream      = "Upstream did not return a valid image"
	msgUnprocessable = "Could not process image, maybe the transcoder doesn't support this format?"
	msgNotFound      = "File not found or could not be processed"
)

const cacheControl = "public, max-age=604800" // 7 days

// Handler handles HTTP requests for the avatar service.
type Handler struct {
	pipeline *pipeline.Pipeline
}

// NewHandler creates a new HTTP handler.
func NewHandler(p *pipeline.Pipeline) *Handler {
	return &Handler{pipeline: p}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/:size/:file", h.GetAvatar)
}

// Health reports service liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetAvatar serves GET /{size}/{name}.webp.
func (h *Handler) GetAvatar(c *gin.Context) {
	ctx := c.Request.Context()

	name, ok := strings.CutSuffix(c.Param("file"), ".webp")
	if !ok || name == "" {
		c.JSON(http.StatusNotFound, response.ErrorBody{Error: msgNotFound})
		return
	}

	size, err := strconv.Atoi(c.Param("size"))
	if err != nil {
		response.BadRequest(c, msgInvalidSize)
		return
	}

	res, err := h.pipeline.Serve(ctx, name, size)
	if res.IPFSPath != "" {
		c.Header("x-ipfs-path", res.IPFSPath)
	}

	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrInvalidSize):
			response.BadRequest(c, msgInvalidSize)
		case errors.Is(err, pipeline.ErrUpstream):
			response.BadGateway(c, msgUpstream)
		case errors.Is(err, transcoder.ErrUnprocessable):
			response.UnprocessableEntity(c, msgUnprocessable)
		default:
			response.InternalError(c, msgNotFound)
		}
		return
	}

	if res.Cacheable {
		c.Header("Cache-Control", cacheControl)
		c.Header("X-Cache", res.CacheStatus)
	}
	c.Data(http.StatusOK, res.ContentType, res.Body)
}
