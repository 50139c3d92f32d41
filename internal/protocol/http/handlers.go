package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sumire-audio/zonehub/internal/coordinator"
	"github.com/sumire-audio/zonehub/internal/domain"
	"github.com/sumire-audio/zonehub/internal/statestore"
)

// Handler is the HTTP protocol adapter's request-parsing layer: handlers
// here parse and validate,
// then delegate to the coordinator, which is the single place command
// semantics (debounce, echo suppression, backpressure) live.
type Handler struct {
	store *statestore.Store
	coord *coordinator.Coordinator
	log   *slog.Logger
}

// NewHandler builds the HTTP adapter's handler set.
func NewHandler(store *statestore.Store, coord *coordinator.Coordinator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: store, coord: coord, log: log}
}

func intPathParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid " + name})
		return 0, false
	}
	return v, true
}

// GetZone handles GET /zones/:id.
func (h *Handler) GetZone(c *gin.Context) {
	id, ok := intPathParam(c, "id")
	if !ok {
		return
	}
	z, found := h.store.Snapshot().Zones[id]
	if !found {
		writeError(c, notFoundf("zone %d not found", id))
		return
	}
	c.JSON(http.StatusOK, zoneView(z))
}

type zoneUpdateRequest struct {
	Volume *int  `json:"volume"`
	Mute   *bool `json:"mute"`
}

// PutZone handles PUT /zones/:id, accepting a partial update of the zone's
// mutable fields. Each present field is submitted to the coordinator as its
// own tagged command, so debounce and echo suppression apply exactly as
// they would for a command arriving over MQTT or KNX.
func (h *Handler) PutZone(c *gin.Context) {
	id, ok := intPathParam(c, "id")
	if !ok {
		return
	}
	var req zoneUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	if req.Volume != nil {
		h.submit(c, coordinator.TaggedCommand{Kind: coordinator.CmdSetZoneVolume, Source: domain.SourceAPI, ZoneID: id, IntValue: req.Volume})
	}
	if req.Mute != nil {
		h.submit(c, coordinator.TaggedCommand{Kind: coordinator.CmdSetZoneMute, Source: domain.SourceAPI, ZoneID: id, BoolValue: req.Mute})
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// GetClient handles GET /clients/:id.
func (h *Handler) GetClient(c *gin.Context) {
	id, ok := intPathParam(c, "id")
	if !ok {
		return
	}
	cl, found := h.store.Snapshot().Clients[id]
	if !found {
		writeError(c, notFoundf("client %d not found", id))
		return
	}
	c.JSON(http.StatusOK, clientView(cl))
}

type clientUpdateRequest struct {
	Volume *int  `json:"volume"`
	Mute   *bool `json:"mute"`
	ZoneID *int  `json:"zoneId"`
}

// PutClient handles PUT /clients/:id.
func (h *Handler) PutClient(c *gin.Context) {
	id, ok := intPathParam(c, "id")
	if !ok {
		return
	}
	var req clientUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	if req.Volume != nil {
		h.submit(c, coordinator.TaggedCommand{Kind: coordinator.CmdSetClientVolume, Source: domain.SourceAPI, ClientID: id, IntValue: req.Volume})
	}
	if req.Mute != nil {
		h.submit(c, coordinator.TaggedCommand{Kind: coordinator.CmdSetClientMute, Source: domain.SourceAPI, ClientID: id, BoolValue: req.Mute})
	}
	if req.ZoneID != nil {
		h.submit(c, coordinator.TaggedCommand{Kind: coordinator.CmdAssignClientToZone, Source: domain.SourceAPI, ClientID: id, IntValue: req.ZoneID})
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

type commandRequest struct {
	PositionSeconds *float64 `json:"positionSeconds"`
	PlaylistID      *int64   `json:"playlistId"`
	TrackIndex      *int     `json:"trackIndex"`
}

var commandVerbs = map[string]coordinator.CommandKind{
	"play":            coordinator.CmdPlay,
	"pause":           coordinator.CmdPause,
	"stop":            coordinator.CmdStop,
	"next":            coordinator.CmdNext,
	"previous":        coordinator.CmdPrevious,
	"seek":            coordinator.CmdSeek,
	"set-playlist":    coordinator.CmdSetPlaylist,
	"set-track-index": coordinator.CmdSetTrackByIndex,
}

// PostZoneCommand handles POST /zones/:id/commands/:verb.
func (h *Handler) PostZoneCommand(c *gin.Context) {
	id, ok := intPathParam(c, "id")
	if !ok {
		return
	}
	verb := c.Param("verb")
	kind, known := commandVerbs[verb]
	if !known {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "unrecognized command: " + verb})
		return
	}

	var req commandRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
			return
		}
	}

	cmd := coordinator.TaggedCommand{Kind: kind, Source: domain.SourceAPI, ZoneID: id}
	switch kind {
	case coordinator.CmdSeek:
		if req.PositionSeconds == nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "seek requires positionSeconds"})
			return
		}
		d := time.Duration(*req.PositionSeconds * float64(time.Second))
		cmd.DurationValue = &d
	case coordinator.CmdSetPlaylist:
		if req.PlaylistID == nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "set-playlist requires playlistId"})
			return
		}
		cmd.Int64Value = req.PlaylistID
	case coordinator.CmdSetTrackByIndex:
		if req.TrackIndex == nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "set-track-index requires trackIndex"})
			return
		}
		cmd.IntValue = req.TrackIndex
	}

	h.submit(c, cmd)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *Handler) submit(c *gin.Context, cmd coordinator.TaggedCommand) {
	if err := h.coord.Submit(cmd); err != nil {
		h.log.Warn("failed to submit command", "kind", cmd.Kind, "error", err)
	}
}
