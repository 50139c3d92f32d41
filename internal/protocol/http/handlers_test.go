package http

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire-audio/zonehub/internal/coordinator"
	"github.com/sumire-audio/zonehub/internal/domain"
	"github.com/sumire-audio/zonehub/internal/statestore"
)

func jsonBody(s string) io.Reader { return strings.NewReader(s) }

func seedStore() *statestore.Store {
	return statestore.New(statestore.Snapshot{
		Zones: map[int]domain.Zone{
			1: {ID: 1, Name: "Kitchen", Volume: 50, ClientIDs: map[int]struct{}{}},
		},
		Clients: map[int]domain.Client{
			1: {ID: 1, Name: "kitchen-speaker", Volume: 40},
		},
	}, nil)
}

func newTestHandler(t *testing.T) (*Handler, *statestore.Store) {
	gin.SetMode(gin.TestMode)
	store := seedStore()
	coord := coordinator.New(store, nil, nil, nil, nil, coordinator.Config{DebounceWindow: 5 * time.Millisecond}, nil)
	go coord.Run(t.Context())
	return NewHandler(store, coord, nil), store
}

func TestGetZoneReturnsView(t *testing.T) {
	h, _ := newTestHandler(t)
	engine := gin.New()
	engine.GET("/zones/:id", h.GetZone)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/zones/1", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `"id":1`)
}

func TestGetZoneMissingReturns404(t *testing.T) {
	h, _ := newTestHandler(t)
	engine := gin.New()
	engine.GET("/zones/:id", h.GetZone)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/zones/99", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, 404, w.Code)
}

func TestPutZoneSubmitsVolumeCommand(t *testing.T) {
	h, store := newTestHandler(t)
	engine := gin.New()
	engine.PUT("/zones/:id", h.PutZone)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("PUT", "/zones/1", jsonBody(`{"volume":80}`))
	engine.ServeHTTP(w, req)

	assert.Equal(t, 202, w.Code)
	require.Eventually(t, func() bool {
		return store.Snapshot().Zones[1].Volume == 80
	}, time.Second, 5*time.Millisecond)
}

func TestPostZoneCommandRejectsUnknownVerb(t *testing.T) {
	h, _ := newTestHandler(t)
	engine := gin.New()
	engine.POST("/zones/:id/commands/:verb", h.PostZoneCommand)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/zones/1/commands/teleport", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
}
