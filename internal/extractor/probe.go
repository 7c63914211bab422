package extractor

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/fdown/api/internal/model"
)

// ytProbeInfo mirrors the subset of yt-dlp -J output we care about.
type ytProbeInfo struct {
	Title     string          `json:"title"`
	Thumbnail string          `json:"thumbnail"`
	Duration  float64         `json:"duration"`
	Formats   []ytProbeFormat `json:"formats"`
}

type ytProbeFormat struct {
	FormatID   string  `json:"format_id"`
	Ext        string  `json:"ext"`
	Protocol   string  `json:"protocol"`
	FormatNote string  `json:"format_note"`
	Resolution string  `json:"resolution"`
	Vcodec     string  `json:"vcodec"`
	Height     int     `json:"height"`
	Width      int     `json:"width"`
	Filesize   *int64  `json:"filesize"`
	FPS        float64 `json:"fps"`
}

var playerFriendlyExts = map[string]bool{
	"mp4": true,
	"mov": true,
	"avi": true,
	"mkv": true,
}

// parseProbeOutput converts raw yt-dlp -J output into VideoInfo, keeping only
// formats a standard video player can open: streaming-only (DASH/HLS) and
// audio-only renditions are dropped, and duplicate resolutions collapse to
// the first entry. When nothing survives the filter a single "best" entry is
// returned so the client always has something to request.
func parseProbeOutput(raw []byte) (*model.VideoInfo, error) {
	var info ytProbeInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, NewError(model.ErrKindExtractionFailed, "unparseable extractor metadata: %v", err)
	}

	title := info.Title
	if title == "" {
		title = "Facebook Video"
	}

	var formats []model.VideoFormat
	seen := make(map[string]bool)
	for _, f := range info.Formats {
		if skipFormat(f) {
			continue
		}
		resolution := formatResolution(f)
		if seen[resolution] {
			continue
		}
		seen[resolution] = true

		note := "Standard quality - " + strings.ToUpper(f.Ext)
		if f.Height > 0 {
			note = resolution + " - " + strings.ToUpper(f.Ext)
		}
		formats = append(formats, model.VideoFormat{
			FormatID:   f.FormatID,
			Resolution: resolution,
			Ext:        f.Ext,
			Filesize:   f.Filesize,
			Note:       note,
		})
	}

	if len(formats) == 0 {
		formats = append(formats, model.VideoFormat{
			FormatID:   "best",
			Resolution: "best",
			Ext:        "mp4",
			Note:       "Best available quality - MP4 (recommended)",
		})
	}

	return &model.VideoInfo{
		Title:        title,
		ThumbnailURL: info.Thumbnail,
		Duration:     int(info.Duration),
		Formats:      formats,
	}, nil
}

func skipFormat(f ytProbeFormat) bool {
	protocol := strings.ToLower(f.Protocol)
	note := strings.ToLower(f.FormatNote)
	for _, streaming := range []string{"m3u8", "dash", "http_dash_segments"} {
		if strings.Contains(protocol, streaming) {
			return true
		}
	}
	for _, streaming := range []string{"dash", "hls", "fragment"} {
		if strings.Contains(note, streaming) {
			return true
		}
	}
	if f.Vcodec == "" || f.Vcodec == "none" {
		return true
	}
	if strings.EqualFold(f.Resolution, "audio only") {
		return true
	}
	ext := strings.ToLower(f.Ext)
	if ext == "" {
		ext = "mp4"
	}
	return !playerFriendlyExts[ext]
}

func formatResolution(f ytProbeFormat) string {
	if f.Height > 0 && f.Width > 0 {
		return strconv.Itoa(f.Width) + "x" + strconv.Itoa(f.Height)
	}
	if f.Resolution != "" {
		return f.Resolution
	}
	if f.FormatNote != "" {
		return f.FormatNote
	}
	return "unknown"
}
