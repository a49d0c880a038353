package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-broadcast/internal/audit"
	"github.com/weiawesome/wes-io-broadcast/internal/domain"
	"github.com/weiawesome/wes-io-broadcast/internal/lifecycle"
	"github.com/weiawesome/wes-io-broadcast/internal/payment"
	"github.com/weiawesome/wes-io-broadcast/internal/service"
	"github.com/weiawesome/wes-io-broadcast/pkg/log"
	"github.com/weiawesome/wes-io-broadcast/pkg/response"
)

// IngestEvents receives stream lifecycle callbacks from the ingest server.
type IngestEvents interface {
	Published(ctx context.Context, name string) (domain.Video, error)
}

// BoostConfirmer delivers the message of a paid invoice.
type BoostConfirmer interface {
	Confirm(ctx context.Context, invoiceID string, amountSats uint64) (bool, error)
}

// Handler handles HTTP requests for the broadcast service.
type Handler struct {
	videos service.VideoService
	ingest IngestEvents
	boosts BoostConfirmer
}

// NewHandler creates a new HTTP handler.
func NewHandler(videos service.VideoService, ingest IngestEvents, boosts BoostConfirmer) *Handler {
	return &Handler{videos: videos, ingest: ingest, boosts: boosts}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.POST("/callback/on_publish", h.OnPublish)
	r.POST("/btcpay_webhook", h.PaymentWebhook)

	api := r.Group("/api/v1")
	{
		videos := api.Group("/videos")
		{
			videos.GET("", h.ListVideos)
			videos.GET("/:id", h.GetVideo)
			videos.GET("/:id/playback", h.GetPlayback)
			videos.POST("", h.ScheduleVideo)
		}
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// OnPublish is the nginx-rtmp on_publish callback. The stream name is the
// video id. Any non-2xx answer makes the ingest server drop the stream.
func (h *Handler) OnPublish(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	name := c.PostForm("name")
	if name == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	_, err := h.ingest.Published(ctx, name)
	switch {
	case err == nil:
		c.Status(http.StatusOK)
	case errors.Is(err, lifecycle.ErrVideoNotFound):
		l.Info().Str(log.FieldVideoID, name).Msg("publish for unknown stream key")
		c.Status(http.StatusNotFound)
	case errors.Is(err, lifecycle.ErrNotAcceptable):
		l.Info().Err(err).Str(log.FieldVideoID, name).Msg("publish for video in wrong state")
		c.Status(http.StatusNotAcceptable)
	default:
		l.Error().Err(err).Str(log.FieldVideoID, name).Msg("failed to handle publish")
		c.Status(http.StatusInternalServerError)
	}
}

// PaymentWebhook receives invoice status notifications. Notifications for
// unsettled or unknown invoices are acknowledged and ignored.
func (h *Handler) PaymentWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var hook payment.Webhook
	if err := c.ShouldBindJSON(&hook); err != nil {
		l.Warn().Err(err).Msg("failed to bind payment webhook")
		response.BadRequest(c, "invalid webhook body")
		return
	}
	if hook.Data.ID == "" {
		response.BadRequest(c, "missing invoice id")
		return
	}

	l = l.With().Str(log.FieldInvoiceID, hook.Data.ID).Str("invoice_status", hook.Data.Status).Logger()
	if !hook.Settled() {
		l.Debug().Msg("ignoring unsettled invoice notification")
		c.Status(http.StatusOK)
		return
	}

	sats, err := hook.PaidSats()
	if err != nil {
		l.Warn().Err(err).Msg("invalid paid amount")
		response.BadRequest(c, "invalid paid amount")
		return
	}

	sent, err := h.boosts.Confirm(ctx, hook.Data.ID, sats)
	if err != nil {
		l.Error().Err(err).Msg("failed to confirm boost")
		response.InternalError(c, "failed to confirm boost")
		return
	}
	if sent {
		audit.LogWithDetail(ctx, audit.ActionBoostDelivered, audit.ActorPayment, hook.Data.ID, hook.Data.BTCPaid, "boosted message delivered")
	}
	c.Status(http.StatusOK)
}

// ListVideos lists every video.
func (h *Handler) ListVideos(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	videos, err := h.videos.List(ctx)
	if err != nil {
		l.Error().Err(err).Msg("failed to list videos")
		response.InternalError(c, "failed to list videos")
		return
	}
	if videos == nil {
		videos = []domain.Video{}
	}
	response.Success(c, videos)
}

// GetVideo retrieves a video by id.
func (h *Handler) GetVideo(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	id := c.Param("id")
	video, err := h.videos.Get(ctx, id)
	if err != nil {
		if errors.Is(err, service.ErrVideoNotFound) {
			response.NotFound(c, "video not found")
			return
		}
		l.Error().Err(err).Str(log.FieldVideoID, id).Msg("failed to get video")
		response.InternalError(c, "failed to get video")
		return
	}
	response.Success(c, video)
}

// ScheduleVideo creates a Scheduled video and returns it with its stream key.
func (h *Handler) ScheduleVideo(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req service.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind schedule request")
		response.BadRequest(c, err.Error())
		return
	}

	video, err := h.videos.Schedule(ctx, req)
	if err != nil {
		l.Error().Err(err).Msg("failed to schedule video")
		response.InternalError(c, "failed to schedule video")
		return
	}
	response.Created(c, video)
}

// GetPlayback returns playable URLs for a published video.
func (h *Handler) GetPlayback(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	id := c.Param("id")
	sources, err := h.videos.Playback(ctx, id)
	switch {
	case err == nil:
		response.Success(c, sources)
	case errors.Is(err, service.ErrVideoNotFound):
		response.NotFound(c, "video not found")
	case errors.Is(err, service.ErrNotPublished):
		response.Conflict(c, "video is not published yet")
	case errors.Is(err, service.ErrPlaybackDisabled):
		response.NotFound(c, "vod playback is not enabled")
	default:
		l.Error().Err(err).Str(log.FieldVideoID, id).Msg("failed to get playback")
		response.InternalError(c, "failed to get playback")
	}
}
