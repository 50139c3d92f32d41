package pipeline

import (
	"os"
	"strings"

	"github.com/dhowden/tag"
)

// ProbeLocalFile extracts embedded metadata from a local audio file using
// dhowden/tag, the same library the catalog provider uses for library
// scanning. Network and subsonic-backed sources skip this step entirely —
// metadata for those comes from the Catalog Provider, not the decoder.
func ProbeLocalFile(path string) (*TrackMetadata, bool) {
	if strings.Contains(path, "://") {
		return nil, false
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, false
	}

	return &TrackMetadata{
		Title:  m.Title(),
		Artist: m.Artist(),
		Album:  m.Album(),
	}, true
}

// emitTrackInfoIfChanged publishes EventTrackInfoChanged when probing a
// local source reveals metadata that differs from what the caller supplied
// when starting the pipeline.
func (m *Manager) emitTrackInfoIfChanged(zone int, supplied TrackMetadata, url string) {
	probed, ok := ProbeLocalFile(url)
	if !ok {
		return
	}
	if probed.Title == "" && probed.Artist == "" && probed.Album == "" {
		return
	}
	if probed.Title == supplied.Title && probed.Artist == supplied.Artist && probed.Album == supplied.Album {
		return
	}
	probed.TrackID = supplied.TrackID
	probed.DurationS = supplied.DurationS
	m.publish(Event{Zone: zone, Kind: EventTrackInfoChanged, Track: probed})
}
