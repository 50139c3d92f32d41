package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dhowden/tag"

	"github.com/sumire-audio/zonehub/internal/domain"
)

// supportedFormats lists the audio extensions this source will index.
var supportedFormats = map[string]struct{}{
	".mp3": {}, ".wav": {}, ".flac": {}, ".aac": {}, ".ogg": {},
}

func isSupportedFormat(ext string) bool {
	_, ok := supportedFormats[strings.ToLower(ext)]
	return ok
}

// FilesystemSource scans a music directory and serves tracks by stable id,
// assigned on first discovery and kept for the process lifetime.
type FilesystemSource struct {
	dir string
	log *slog.Logger

	mu       sync.RWMutex
	byID     map[int64]domain.Track
	byPath   map[string]int64
	nextID   int64
	playlist domain.Playlist
}

// NewFilesystemSource scans dir immediately and returns a populated source.
func NewFilesystemSource(dir string, log *slog.Logger) (*FilesystemSource, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &FilesystemSource{dir: dir, log: log, byID: map[int64]domain.Track{}, byPath: map[string]int64{}}
	if err := s.Scan(); err != nil {
		return nil, err
	}
	return s, nil
}

// Scan walks the directory recursively, adding newly discovered files and
// preserving stable ids for files already known, the same checksum-free
// simplification appropriate for a control-plane catalog (full checksum
// verification belongs to a librarian tool, not the runtime).
func (s *FilesystemSource) Scan() error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("cannot access music directory %q: %w", s.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%q is not a directory", s.dir)
	}

	var found []string
	err = filepath.Walk(s.dir, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			s.log.Warn("catalog scan: error accessing path", "path", path, "error", walkErr)
			return nil
		}
		if fi.IsDir() {
			return nil
		}
		if !isSupportedFormat(filepath.Ext(path)) {
			return nil
		}
		found = append(found, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking music directory %q: %w", s.dir, err)
	}
	sort.Strings(found)

	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for _, path := range found {
		if id, ok := s.byPath[path]; ok {
			ids = append(ids, id)
			continue
		}
		s.nextID++
		id := s.nextID
		track := trackFromFile(id, path, s.log)
		s.byID[id] = track
		s.byPath[path] = id
		ids = append(ids, id)
	}

	s.playlist = domain.Playlist{ID: 1, Name: "Library", TrackIDs: ids}
	s.log.Info("catalog filesystem scan complete", "directory", s.dir, "tracks", len(ids))
	return nil
}

func trackFromFile(id int64, path string, log *slog.Logger) domain.Track {
	filename := filepath.Base(path)
	title := strings.TrimSuffix(filename, filepath.Ext(filename))

	track := domain.Track{ID: id, Title: title, SourceURL: path}

	f, err := os.Open(path)
	if err != nil {
		log.Warn("catalog: could not open file for metadata", "path", path, "error", err)
		return track
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		log.Debug("catalog: could not read tags", "path", path, "error", err)
		return track
	}
	if m.Title() != "" {
		track.Title = m.Title()
	}
	if m.Artist() != "" {
		track.Artist = m.Artist()
	}
	if m.Album() != "" {
		track.Album = m.Album()
	}
	return track
}

func (s *FilesystemSource) Track(_ context.Context, id int64) (domain.Track, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	return t, ok, nil
}

func (s *FilesystemSource) Playlist(_ context.Context, id int64) (domain.Playlist, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id != s.playlist.ID {
		return domain.Playlist{}, false, nil
	}
	return s.playlist, true, nil
}

func (s *FilesystemSource) StreamURL(_ context.Context, id int64) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return "", false, nil
	}
	return t.SourceURL, true, nil
}
