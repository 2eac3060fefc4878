package progressive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const playerEndpoint = "https://www.youtube.com/youtubei/v1/player"

// The android client receives direct stream URLs without signature
// ciphering, which keeps this backend free of player-JS evaluation.
var playerContext = map[string]any{
	"context": map[string]any{
		"client": map[string]any{
			"clientName":        "ANDROID",
			"clientVersion":     "19.09.37",
			"androidSdkVersion": 30,
			"hl":                "en",
		},
	},
}

// stream is one downloadable rendition reported by the player response.
type stream struct {
	Itag          int    `json:"itag"`
	URL           string `json:"url"`
	MimeType      string `json:"mimeType"`
	Bitrate       int64  `json:"bitrate"`
	ContentLength string `json:"contentLength"`
	QualityLabel  string `json:"qualityLabel"`
	AudioQuality  string `json:"audioQuality"`
}

// ext returns the container implied by the stream's mime type ("mp4",
// "webm", ...).
func (s stream) ext() string {
	mt := s.MimeType
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = mt[:i]
	}
	if i := strings.Index(mt, "/"); i >= 0 {
		return mt[i+1:]
	}
	return ""
}

// height parses the rendition height out of a quality label like "720p" or
// "720p60". Zero when absent.
func (s stream) height() int {
	label := s.QualityLabel
	if i := strings.Index(label, "p"); i > 0 {
		if n, err := strconv.Atoi(label[:i]); err == nil {
			return n
		}
	}
	return 0
}

func (s stream) size() int64 {
	n, _ := strconv.ParseInt(s.ContentLength, 10, 64)
	return n
}

type playerResponse struct {
	Playability struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	StreamingData struct {
		Formats         []stream `json:"formats"`
		AdaptiveFormats []stream `json:"adaptiveFormats"`
	} `json:"streamingData"`
	VideoDetails struct {
		VideoID       string `json:"videoId"`
		Title         string `json:"title"`
		Author        string `json:"author"`
		LengthSeconds string `json:"lengthSeconds"`
		Thumbnail     struct {
			Thumbnails []struct {
				URL string `json:"url"`
			} `json:"thumbnails"`
		} `json:"thumbnail"`
	} `json:"videoDetails"`
}

func (p *playerResponse) thumbnail() string {
	t := p.VideoDetails.Thumbnail.Thumbnails
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1].URL
}

func (p *playerResponse) duration() int64 {
	n, _ := strconv.ParseInt(p.VideoDetails.LengthSeconds, 10, 64)
	return n
}

// player fetches and decodes the player response for a video ID.
func (a *Adapter) player(ctx context.Context, videoID string) (*playerResponse, error) {
	body := map[string]any{"videoId": videoID}
	for k, v := range playerContext {
		body[k] = v
	}
	payload, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.playerURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "com.google.android.youtube/19.09.37 (Linux; U; Android 11) gzip")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("player http %d: %s", resp.StatusCode, string(b))
	}

	var pr playerResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("player decode: %w", err)
	}
	if pr.Playability.Status != "OK" {
		return nil, fmt.Errorf("video not playable: %s (%s)", pr.Playability.Status, pr.Playability.Reason)
	}
	return &pr, nil
}

// videoID extracts the 11-character video ID from the usual URL shapes:
// watch?v=, youtu.be/<id>, shorts/<id>, embed/<id>.
func videoID(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if v := u.Query().Get("v"); v != "" {
		return v, nil
	}
	path := strings.Trim(u.Path, "/")
	if host := strings.ToLower(u.Hostname()); host == "youtu.be" {
		if path != "" {
			return strings.SplitN(path, "/", 2)[0], nil
		}
	}
	for _, prefix := range []string{"shorts/", "embed/", "v/"} {
		if rest, ok := strings.CutPrefix(path, prefix); ok && rest != "" {
			return strings.SplitN(rest, "/", 2)[0], nil
		}
	}
	return "", fmt.Errorf("no video id in %s", raw)
}
