package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sumire-audio/zonehub/internal/domain"
)

// SubsonicSource resolves tracks and playlists against a Subsonic-API-style
// media server, the network-catalog counterpart to FilesystemSource. No
// corpus example wires a Subsonic client, so this talks plain net/http, as
// there is no ecosystem client library among the retrieved repos for this
// specific API surface.
type SubsonicSource struct {
	baseURL  string
	user     string
	token    string
	salt     string
	apiVer   string
	client   *http.Client
	log      *slog.Logger
}

// NewSubsonicSource creates a client against a Subsonic-compatible server.
// token/salt follow the Subsonic token-auth scheme (md5(password+salt)).
func NewSubsonicSource(baseURL, user, token, salt string, log *slog.Logger) *SubsonicSource {
	if log == nil {
		log = slog.Default()
	}
	return &SubsonicSource{
		baseURL: baseURL,
		user:    user,
		token:   token,
		salt:    salt,
		apiVer:  "1.16.1",
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

func (s *SubsonicSource) authQuery() url.Values {
	v := url.Values{}
	v.Set("u", s.user)
	v.Set("t", s.token)
	v.Set("s", s.salt)
	v.Set("v", s.apiVer)
	v.Set("c", "zonehub")
	v.Set("f", "json")
	return v
}

type subsonicEnvelope struct {
	SubsonicResponse struct {
		Status string `json:"status"`
		Song   *struct {
			ID       string  `json:"id"`
			Title    string  `json:"title"`
			Artist   string  `json:"artist"`
			Album    string  `json:"album"`
			Duration float64 `json:"duration"`
		} `json:"song"`
		Playlist *struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Entry []struct {
				ID string `json:"id"`
			} `json:"entry"`
		} `json:"playlist"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"subsonic-response"`
}

func (s *SubsonicSource) get(ctx context.Context, endpoint string, extra url.Values) (*subsonicEnvelope, error) {
	q := s.authQuery()
	for k, vals := range extra {
		for _, v := range vals {
			q.Add(k, v)
		}
	}
	reqURL := fmt.Sprintf("%s/rest/%s?%s", s.baseURL, endpoint, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env subsonicEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding subsonic response: %w", err)
	}
	if env.SubsonicResponse.Error != nil {
		return nil, fmt.Errorf("subsonic error %d: %s", env.SubsonicResponse.Error.Code, env.SubsonicResponse.Error.Message)
	}
	return &env, nil
}

func (s *SubsonicSource) Track(ctx context.Context, id int64) (domain.Track, bool, error) {
	env, err := s.get(ctx, "getSong", url.Values{"id": {fmt.Sprintf("%d", id)}})
	if err != nil {
		s.log.Warn("subsonic getSong failed", "id", id, "error", err)
		return domain.Track{}, false, err
	}
	if env.SubsonicResponse.Song == nil {
		return domain.Track{}, false, nil
	}
	song := env.SubsonicResponse.Song
	duration := song.Duration
	return domain.Track{
		ID:        id,
		Title:     song.Title,
		Artist:    song.Artist,
		Album:     song.Album,
		DurationS: &duration,
		SourceURL: s.streamURL(id),
	}, true, nil
}

func (s *SubsonicSource) Playlist(ctx context.Context, id int64) (domain.Playlist, bool, error) {
	env, err := s.get(ctx, "getPlaylist", url.Values{"id": {fmt.Sprintf("%d", id)}})
	if err != nil {
		s.log.Warn("subsonic getPlaylist failed", "id", id, "error", err)
		return domain.Playlist{}, false, err
	}
	if env.SubsonicResponse.Playlist == nil {
		return domain.Playlist{}, false, nil
	}
	pl := env.SubsonicResponse.Playlist
	ids := make([]int64, 0, len(pl.Entry))
	for _, e := range pl.Entry {
		var trackID int64
		if _, err := fmt.Sscanf(e.ID, "%d", &trackID); err == nil {
			ids = append(ids, trackID)
		}
	}
	return domain.Playlist{ID: id, Name: pl.Name, TrackIDs: ids}, true, nil
}

func (s *SubsonicSource) streamURL(id int64) string {
	q := s.authQuery()
	q.Set("id", fmt.Sprintf("%d", id))
	return fmt.Sprintf("%s/rest/stream?%s", s.baseURL, q.Encode())
}

func (s *SubsonicSource) StreamURL(ctx context.Context, id int64) (string, bool, error) {
	_, ok, err := s.Track(ctx, id)
	if err != nil || !ok {
		return "", ok, err
	}
	return s.streamURL(id), true, nil
}
