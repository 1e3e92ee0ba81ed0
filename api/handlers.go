package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"channel_sync/channels"
	"channel_sync/extract"
	"channel_sync/metrics"
	"channel_sync/models"
	"channel_sync/services"
	"channel_sync/storage"
)

const maxCaptureBytes = 1 << 20

// Syncer is the orchestrator surface the API triggers.
type Syncer interface {
	SyncAllChannels(ctx context.Context, userID int64) (map[string]models.SyncResult, error)
	SyncChannel(ctx context.Context, userID int64, channel models.ChannelID) (models.SyncResult, error)
	IsPaused() bool
	ChannelNames() []string
}

// Operations is the SQLite run, stats and command surface.
type Operations interface {
	EnqueueCommand(cmd models.CommandType, params *models.CommandParams) (int64, error)
	GetChannelStats() ([]models.ChannelStats, error)
	GetRunLogs(runID int64) ([]models.SyncLog, error)
}

type Handler struct {
	syncer   Syncer
	store    storage.Store
	ops      Operations
	registry *channels.Registry
	metrics  metrics.Recorder
	hub      http.Handler
	started  time.Time
}

func NewHandler(syncer Syncer, store storage.Store, ops Operations, registry *channels.Registry, rec metrics.Recorder, hub http.Handler) *Handler {
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Handler{
		syncer:   syncer,
		store:    store,
		ops:      ops,
		registry: registry,
		metrics:  rec,
		hub:      hub,
		started:  time.Now(),
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"paused":    h.syncer.IsPaused(),
		"channels":  h.syncer.ChannelNames(),
	})
}

// SyncUser runs every active connection of the user and returns the
// per-channel results. ?channel= limits it to one connection; ?async=true
// queues the sync on the command table instead.
func (h *Handler) SyncUser(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	channel := c.Query("channel")

	if c.Query("async") == "true" {
		cmd := models.CmdSyncUser
		if channel != "" {
			cmd = models.CmdSyncChannel
		}
		id, err := h.ops.EnqueueCommand(cmd, &models.CommandParams{UserID: userID, Channel: channel})
		if err != nil {
			log.Error().Err(err).Int64("user_id", userID).Msg("enqueue sync command")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue sync"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"command_id": id, "status": "queued"})
		return
	}

	if channel != "" {
		result, err := h.syncer.SyncChannel(c.Request.Context(), userID, models.ChannelID(channel))
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No active connection for channel"})
			return
		}
		if err != nil {
			log.Error().Err(err).Int64("user_id", userID).Str("channel", channel).Msg("channel sync")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Sync failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{channel: result})
		return
	}

	results, err := h.syncer.SyncAllChannels(c.Request.Context(), userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("user sync")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load connections"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *Handler) ListBookings(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	bookings, err := h.store.ListBookings(c.Request.Context(), userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("list bookings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings, "total": len(bookings)})
}

// Calendar exports the user's bookings as an iCalendar feed.
func (h *Handler) Calendar(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}
	bookings, err := h.store.ListBookings(c.Request.Context(), userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("calendar export")
		c.Status(http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := services.WriteCalendar(&buf, "Bookings", bookings, time.Now()); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("render calendar")
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("X-Calendar-Events", strconv.Itoa(len(bookings)))
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", buf.Bytes())
}

// CaptureExtensionBookings stores a browser-extension payload for the
// connection that owns the token. The payload is decoded once up front so
// malformed captures are rejected instead of queued.
func (h *Handler) CaptureExtensionBookings(c *gin.Context) {
	token := c.GetHeader("X-Extension-Token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "X-Extension-Token required"})
		return
	}

	ctx := c.Request.Context()
	conn, err := h.store.GetConnectionByExtensionToken(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid extension token"})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("resolve extension token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	adapter, err := h.registry.Get(conn.Channel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCaptureBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}
	if len(payload) > maxCaptureBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
		return
	}

	candidates, err := extract.DecodeCapture(payload, adapter)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid capture", "message": err.Error()})
		return
	}

	capture := &models.CapturedBooking{
		ConnectionID: conn.ID,
		Payload:      payload,
		CapturedAt:   time.Now().UTC(),
	}
	if err := h.store.SaveCapture(ctx, capture); err != nil {
		log.Error().Err(err).Int64("connection_id", conn.ID).Msg("save capture")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	log.Info().
		Int64("user_id", conn.UserID).
		Str("channel", string(conn.Channel)).
		Int("bookings", len(candidates)).
		Msg("extension capture stored")
	c.JSON(http.StatusAccepted, gin.H{"capture_id": capture.ID, "bookings": len(candidates)})
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.ops.GetChannelStats()
	if err != nil {
		log.Error().Err(err).Msg("channel stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if stats == nil {
		stats = []models.ChannelStats{}
	}
	c.JSON(http.StatusOK, gin.H{"channels": stats})
}

func (h *Handler) RunLogs(c *gin.Context) {
	runID, err := strconv.ParseInt(c.Param("run_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run id"})
		return
	}
	logs, err := h.ops.GetRunLogs(runID)
	if err != nil {
		log.Error().Err(err).Int64("run", runID).Msg("run logs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if logs == nil {
		logs = []models.SyncLog{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (h *Handler) Pause(c *gin.Context) {
	h.enqueue(c, models.CmdPause)
}

func (h *Handler) Resume(c *gin.Context) {
	h.enqueue(c, models.CmdResume)
}

func (h *Handler) enqueue(c *gin.Context, cmd models.CommandType) {
	id, err := h.ops.EnqueueCommand(cmd, nil)
	if err != nil {
		log.Error().Err(err).Str("command", string(cmd)).Msg("enqueue command")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue command"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"command_id": id, "command": cmd})
}

func userParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return 0, false
	}
	return id, true
}
