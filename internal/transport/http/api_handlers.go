package http

import (
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/vovakirdan/staffchat-server/internal/auth"
	"github.com/vovakirdan/staffchat-server/internal/core"
	"github.com/vovakirdan/staffchat-server/internal/proto"
)

// APIHandlers serves the operational API used by dashboards and domain services.
type APIHandlers struct {
	hub       *core.Hub
	publisher RosterPublisher
	log       *zerolog.Logger
	started   time.Time
	proc      *process.Process
}

// NewAPIHandlers creates a new API handlers instance. publisher may be nil.
func NewAPIHandlers(hub *core.Hub, publisher RosterPublisher, logger *zerolog.Logger) *APIHandlers {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn().Err(err).Msg("process stats unavailable")
	}
	return &APIHandlers{
		hub:       hub,
		publisher: publisher,
		log:       logger,
		started:   time.Now(),
		proc:      proc,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ProcessStats describes the server process.
type ProcessStats struct {
	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
	Goroutines int     `json:"goroutines"`
	Uptime     string  `json:"uptime"`
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Engine  core.Snapshot `json:"engine"`
	Process ProcessStats  `json:"process"`
}

// AlertRequest is the body of POST /api/alerts.
type AlertRequest struct {
	Severity string `json:"severity" binding:"omitempty,oneof=info warning critical"`
	Title    string `json:"title" binding:"required"`
	Body     string `json:"body"`
}

// NewsRequest is the body of POST /api/news.
type NewsRequest struct {
	Title string `json:"title" binding:"required"`
	Body  string `json:"body"`
}

// ChannelEventRequest is the body of POST /api/channels/:id/events.
type ChannelEventRequest struct {
	Kind string         `json:"kind" binding:"required"`
	Data map[string]any `json:"data"`
}

// Stats returns engine counters and process usage.
// GET /api/stats
func (h *APIHandlers) Stats(c *gin.Context) {
	resp := StatsResponse{
		Engine: h.hub.Statistics(),
		Process: ProcessStats{
			Goroutines: runtime.NumGoroutine(),
			Uptime:     time.Since(h.started).Round(time.Second).String(),
		},
	}
	if h.proc != nil {
		if mem, err := h.proc.MemoryInfoWithContext(c.Request.Context()); err == nil {
			resp.Process.RSSBytes = mem.RSS
		}
		if cpu, err := h.proc.CPUPercentWithContext(c.Request.Context()); err == nil {
			resp.Process.CPUPercent = cpu
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Presence lists every known participant presence.
// GET /api/presence
func (h *APIHandlers) Presence(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"participants": h.hub.PresenceSnapshot()})
}

// IssueAlert fans an emergency alert out to every connection.
// POST /api/alerts
func (h *APIHandlers) IssueAlert(c *gin.Context) {
	var req AlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid alert request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	alert, err := h.hub.IssueAlert(c.Request.Context(), proto.Alert{
		Severity: req.Severity,
		Title:    req.Title,
		Body:     req.Body,
		IssuedBy: identityName(c),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to issue alert")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "alert not dispatched"})
		return
	}
	c.JSON(http.StatusAccepted, alert)
}

// PublishNews fans a news item out to every connection.
// POST /api/news
func (h *APIHandlers) PublishNews(c *gin.Context) {
	var req NewsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	news, err := h.hub.PublishNews(c.Request.Context(), proto.News{
		Title:  req.Title,
		Body:   req.Body,
		Author: identityName(c),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to publish news")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "news not dispatched"})
		return
	}
	c.JSON(http.StatusAccepted, news)
}

// PublishChannelEvent fans a channel event out to the channel roster.
// POST /api/channels/:id/events
func (h *APIHandlers) PublishChannelEvent(c *gin.Context) {
	channelID, ok := channelParam(c)
	if !ok {
		return
	}
	var req ChannelEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.hub.PublishChannelEvent(c.Request.Context(), channelID, proto.ChannelEvent{Kind: req.Kind, Data: req.Data}); err != nil {
		h.log.Error().Err(err).Int64("channel_id", channelID).Msg("failed to publish channel event")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "event not dispatched"})
		return
	}
	c.Status(http.StatusAccepted)
}

// InvalidateChannel drops the cached roster here and on every other node.
// POST /api/channels/:id/invalidate
func (h *APIHandlers) InvalidateChannel(c *gin.Context) {
	channelID, ok := channelParam(c)
	if !ok {
		return
	}

	h.hub.InvalidateRoster(channelID)
	if h.publisher != nil {
		if err := h.publisher.PublishInvalidation(c.Request.Context(), channelID); err != nil {
			h.log.Warn().Err(err).Int64("channel_id", channelID).Msg("failed to publish invalidation")
		}
	}
	c.Status(http.StatusNoContent)
}

func channelParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid channel id"})
		return 0, false
	}
	return id, true
}

func identityName(c *gin.Context) string {
	if identity, ok := c.Get(ContextKeyIdentity); ok {
		if id, ok := identity.(auth.Identity); ok {
			return id.Name
		}
	}
	return ""
}
