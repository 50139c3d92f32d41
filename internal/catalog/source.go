// Package catalog is a read-through façade over external media catalogs.
package catalog

import (
	"context"

	"github.com/sumire-audio/zonehub/internal/domain"
)

// Source is one backing catalog. A filesystem scan and a subsonic-style
// HTTP server are both valid implementations; Provider wraps whichever is
// configured with caching and CatalogMiss translation.
type Source interface {
	Track(ctx context.Context, id int64) (domain.Track, bool, error)
	Playlist(ctx context.Context, id int64) (domain.Playlist, bool, error)
	StreamURL(ctx context.Context, id int64) (string, bool, error)
}
