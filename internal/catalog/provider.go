package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/sumire-audio/zonehub/internal/apperr"
	"github.com/sumire-audio/zonehub/internal/domain"
)

// Provider caches Source results with a default 5 minute TTL and turns
// absence or backend failure into a logged warning plus CatalogMiss, never
// a panic or a propagated transport error.
type Provider struct {
	source Source
	cache  *cache.Cache
	log    *slog.Logger
}

// New wraps source with a cache whose entries expire after ttl (default
// 5 minutes), purging expired entries every 2*ttl.
func New(source Source, ttl time.Duration, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Provider{
		source: source,
		cache:  cache.New(ttl, 2*ttl),
		log:    log,
	}
}

func trackKey(id int64) string    { return fmt.Sprintf("track:%d", id) }
func playlistKey(id int64) string { return fmt.Sprintf("playlist:%d", id) }
func streamKey(id int64) string   { return fmt.Sprintf("stream:%d", id) }

// ResolveTrack implements resolve_track: Option<Track>, surfaced here as
// (Track, error); a track that is absent or whose lookup fails is reported
// as a CatalogMiss error.
func (p *Provider) ResolveTrack(ctx context.Context, id int64) (domain.Track, error) {
	if v, ok := p.cache.Get(trackKey(id)); ok {
		return v.(domain.Track), nil
	}
	t, ok, err := p.source.Track(ctx, id)
	if err != nil {
		p.log.Warn("catalog track resolution failed", "track_id", id, "error", err)
		return domain.Track{}, apperr.CatalogMiss(fmt.Sprintf("track %d unresolvable", id))
	}
	if !ok {
		return domain.Track{}, apperr.CatalogMiss(fmt.Sprintf("track %d not found", id))
	}
	p.cache.SetDefault(trackKey(id), t)
	return t, nil
}

// ResolvePlaylist implements resolve_playlist.
func (p *Provider) ResolvePlaylist(ctx context.Context, id int64) (domain.Playlist, error) {
	if v, ok := p.cache.Get(playlistKey(id)); ok {
		return v.(domain.Playlist), nil
	}
	pl, ok, err := p.source.Playlist(ctx, id)
	if err != nil {
		p.log.Warn("catalog playlist resolution failed", "playlist_id", id, "error", err)
		return domain.Playlist{}, apperr.CatalogMiss(fmt.Sprintf("playlist %d unresolvable", id))
	}
	if !ok {
		return domain.Playlist{}, apperr.CatalogMiss(fmt.Sprintf("playlist %d not found", id))
	}
	p.cache.SetDefault(playlistKey(id), pl)
	return pl, nil
}

// StreamURL implements stream_url.
func (p *Provider) StreamURL(ctx context.Context, id int64) (string, error) {
	if v, ok := p.cache.Get(streamKey(id)); ok {
		return v.(string), nil
	}
	u, ok, err := p.source.StreamURL(ctx, id)
	if err != nil {
		p.log.Warn("catalog stream url resolution failed", "track_id", id, "error", err)
		return "", apperr.CatalogMiss(fmt.Sprintf("stream url for track %d unresolvable", id))
	}
	if !ok {
		return "", apperr.CatalogMiss(fmt.Sprintf("stream url for track %d not found", id))
	}
	p.cache.SetDefault(streamKey(id), u)
	return u, nil
}

// Refresh invalidates every cached entry for a track id, forcing the next
// resolution to hit the backing source again.
func (p *Provider) Refresh(id int64) {
	p.cache.Delete(trackKey(id))
	p.cache.Delete(streamKey(id))
}

// RefreshPlaylist invalidates a cached playlist entry.
func (p *Provider) RefreshPlaylist(id int64) {
	p.cache.Delete(playlistKey(id))
}
