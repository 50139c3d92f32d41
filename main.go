package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sumire-audio/zonehub/internal/apperr"
	"github.com/sumire-audio/zonehub/internal/auth"
	"github.com/sumire-audio/zonehub/internal/catalog"
	"github.com/sumire-audio/zonehub/internal/config"
	"github.com/sumire-audio/zonehub/internal/coordinator"
	"github.com/sumire-audio/zonehub/internal/domain"
	"github.com/sumire-audio/zonehub/internal/pipeline"
	zhttp "github.com/sumire-audio/zonehub/internal/protocol/http"
	"github.com/sumire-audio/zonehub/internal/protocol/knx"
	zmqtt "github.com/sumire-audio/zonehub/internal/protocol/mqtt"
	"github.com/sumire-audio/zonehub/internal/reconciler"
	"github.com/sumire-audio/zonehub/internal/resume"
	"github.com/sumire-audio/zonehub/internal/snapcast"
	"github.com/sumire-audio/zonehub/internal/statestore"
)

// Exit codes: 0 clean shutdown, 2 configuration error, 3 a required
// downstream (Snapcast) never became reachable within startup.
const (
	exitOK            = 0
	exitConfig        = 2
	exitDownstream    = 3
	snapcastDialBudget = 30 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(exitConfig)
	}

	logger.Info("starting zonehub",
		"http_addr", cfg.HTTP.Addr,
		"zones", len(cfg.Zones),
		"clients", len(cfg.Clients),
		"mqtt_enabled", cfg.MQTT.Enabled,
		"knx_enabled", cfg.KNX.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	store := statestore.New(seedSnapshot(cfg), logger)

	snap := snapcast.New(snapcast.Config{
		Addr:         fmt.Sprintf("%s:%d", cfg.Snapcast.Host, cfg.Snapcast.Port),
		CallTimeout:  cfg.Snapcast.CallTimeout,
		ReconnectMin: cfg.Snapcast.ReconnectMin,
		ReconnectMax: cfg.Snapcast.ReconnectMax,
	}, logger)
	snap.Connect(ctx)
	if !waitForSnapcast(ctx, snap, snapcastDialBudget) {
		logger.Error("snapcast never became reachable within startup budget", "budget", snapcastDialBudget)
		os.Exit(exitDownstream)
	}

	recon := reconciler.New(store, snap, logger, cfg.ReconcileInterval, int64(cfg.ReconcileConcurrency))

	decoder := pipeline.NewFFmpegDecoder(pipeline.Format{SampleRate: 48000, BitDepth: 16, Channels: 2}, logger)
	pipe := pipeline.New(decoder, pipeline.FileSinkOpener(cfg.Snapcast.SinkDir), logger)

	source, err := catalog.NewFilesystemSource(cfg.MusicDir, logger)
	if err != nil {
		logger.Error("failed to initialize music catalog", "error", err)
		os.Exit(exitConfig)
	}
	cat := catalog.New(source, cfg.CatalogTTL, logger)

	resumeStore := resume.Load(cfg.ResumeFile, logger)
	resumeZones(ctx, cfg, resumeStore, cat, pipe, logger)
	resumeDriver := resume.NewDriver(resumeStore, pipe, logger)

	coord := coordinator.New(store, pipe, snap, cat, recon, coordinator.Config{
		EchoWindow:      cfg.EchoWindow,
		DebounceWindow:  cfg.DebounceWindow,
		BackpressureCap: cfg.BackpressureCap,
	}, logger)

	authInstance := auth.New(auth.Config{
		Username:           cfg.Auth.Username,
		Password:           cfg.Auth.Password,
		JWTSecret:          cfg.Auth.JWTSecret,
		TokenTTL:           cfg.Auth.TokenTTL,
		MaxLoginAttempts:   5,
		LoginWindowSeconds: 900,
	}, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() { defer wg.Done(); recon.Run(ctx) }()

	wg.Add(1)
	go func() { defer wg.Done(); coord.Run(ctx) }()

	wg.Add(1)
	go func() { defer wg.Done(); resumeDriver.Run(ctx) }()

	var mqttAdapter *zmqtt.Adapter
	if cfg.MQTT.Enabled {
		mqttAdapter = zmqtt.New(zmqtt.Config{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			TopicRoot: cfg.MQTT.TopicRoot,
		}, coord, logger)
		if err := mqttAdapter.Connect(); err != nil {
			logger.Error("mqtt adapter failed to connect", "error", err)
		} else {
			coord.RegisterEgress(mqttAdapter)
			defer mqttAdapter.Disconnect()
		}
	}

	var knxAdapter *knx.Adapter
	if cfg.KNX.Enabled {
		knxAdapter, err = knx.New(cfg.KNX.GatewayAddr, knxGroupAddresses(cfg.KNX.GroupAddresses), coord, logger)
		if err != nil {
			logger.Error("knx adapter failed to start", "error", err)
		} else {
			coord.RegisterEgress(knxAdapter)
			wg.Add(1)
			go func() { defer wg.Done(); knxAdapter.Run() }()
			defer knxAdapter.Close()
		}
	}

	server := zhttp.NewServer(cfg.HTTP.Addr, store, coord, authInstance, logger)
	if err := server.Start(ctx); err != nil {
		logger.Error("http adapter error", "error", err)
		cancel()
		wg.Wait()
		os.Exit(1)
	}

	wg.Wait()
	logger.Info("zonehub stopped cleanly")
	os.Exit(exitOK)
}

// seedSnapshot builds the initial state-store snapshot from the
// configured zone/client topology. Playlists and tracks start empty; they
// are populated lazily as the catalog resolves them.
func seedSnapshot(cfg *config.Config) statestore.Snapshot {
	zones := make(map[int]domain.Zone, len(cfg.Zones))
	for _, z := range cfg.Zones {
		zones[z.ID] = domain.Zone{
			ID:        z.ID,
			Name:      z.Name,
			State:     domain.Stopped,
			Volume:    50,
			ClientIDs: map[int]struct{}{},
		}
	}

	clients := make(map[int]domain.Client, len(cfg.Clients))
	for _, c := range cfg.Clients {
		clients[c.ID] = domain.Client{
			ID:     c.ID,
			Name:   c.Name,
			MAC:    c.MAC,
			Volume: 50,
			ZoneID: c.ZoneID,
		}
		if c.ZoneID != nil {
			if z, ok := zones[*c.ZoneID]; ok {
				z.ClientIDs[c.ID] = struct{}{}
				zones[*c.ZoneID] = z
			}
		}
	}

	return statestore.Snapshot{
		Zones:     zones,
		Clients:   clients,
		Tracks:    map[int64]domain.Track{},
		Playlists: map[int64]domain.Playlist{},
	}
}

// resumeZones starts each zone's last known track from its saved resume
// state, if any, seeking to the saved position once the pipeline reaches
// Streaming. A CatalogMiss means the track no longer resolves; the zone is
// left Stopped rather than treated as a startup failure.
func resumeZones(ctx context.Context, cfg *config.Config, store *resume.Store, cat *catalog.Provider, pipe *pipeline.Manager, logger *slog.Logger) {
	for _, z := range cfg.Zones {
		st, ok := store.Get(z.ID)
		if !ok {
			continue
		}

		track, err := cat.ResolveTrack(ctx, st.TrackID)
		if err != nil {
			if apperr.Is(err, apperr.KindCatalogMiss) {
				logger.Info("resume track no longer resolves in catalog, leaving zone stopped", "zone", z.ID, "track_id", st.TrackID)
				continue
			}
			logger.Warn("resume track lookup failed", "zone", z.ID, "track_id", st.TrackID, "error", err)
			continue
		}
		url, err := cat.StreamURL(ctx, st.TrackID)
		if err != nil {
			logger.Warn("resume stream url lookup failed", "zone", z.ID, "track_id", st.TrackID, "error", err)
			continue
		}

		meta := pipeline.TrackMetadata{
			TrackID:   track.ID,
			Title:     track.Title,
			Artist:    track.Artist,
			Album:     track.Album,
			DurationS: track.DurationS,
		}
		if err := pipe.Start(ctx, z.ID, url, meta); err != nil {
			logger.Warn("resume pipeline start failed", "zone", z.ID, "track_id", st.TrackID, "error", err)
			continue
		}
		position := time.Duration(st.PositionMS) * time.Millisecond
		if position > 0 {
			if err := pipe.Seek(ctx, z.ID, position); err != nil {
				logger.Warn("resume seek to saved position failed", "zone", z.ID, "position_ms", st.PositionMS, "error", err)
			}
		}
		logger.Info("resumed zone from saved state", "zone", z.ID, "track_id", st.TrackID, "position_ms", st.PositionMS)
	}
}

// waitForSnapcast blocks until the client reports a connected state or
// budget elapses, so a dead downstream is caught at startup rather than on
// the first command.
func waitForSnapcast(ctx context.Context, snap *snapcast.Client, budget time.Duration) bool {
	deadline := time.After(budget)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if snap.State() == snapcast.StateConnected {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline:
			return snap.State() == snapcast.StateConnected
		case <-ticker.C:
		}
	}
}

func knxGroupAddresses(src []config.KNXGroupAddress) []knx.GroupAddress {
	out := make([]knx.GroupAddress, 0, len(src))
	for _, g := range src {
		scope := coordinator.EntityZone
		if g.Scope == "client" {
			scope = coordinator.EntityClient
		}
		direction := knx.DirectionStatus
		if g.Direction == "command" {
			direction = knx.DirectionCommand
		}
		out = append(out, knx.GroupAddress{
			Scope:     scope,
			ID:        g.ID,
			Field:     g.Field,
			Address:   g.Address,
			DPT:       knx.DPT(g.DPT),
			Direction: direction,
		})
	}
	return out
}
