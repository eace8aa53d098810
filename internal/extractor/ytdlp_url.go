package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// LocalURL asks yt-dlp for the metadata of a video and proxies the best
// single-fragment m4a audio format.
type LocalURL struct {
	Tool *Ytdlp
}

// NewLocalURL creates the local-url extractor.
func NewLocalURL(tool *Ytdlp) *LocalURL {
	return &LocalURL{Tool: tool}
}

func (e *LocalURL) Name() string { return NameLocalURL }

// ytdlpInfo is the part of yt-dlp -j output we read.
type ytdlpInfo struct {
	Formats []ytdlpFormat `json:"formats"`
}

type ytdlpFormat struct {
	FormatID    string            `json:"format_id"`
	URL         string            `json:"url"`
	Quality     *float64          `json:"quality"`
	Resolution  string            `json:"resolution"`
	AudioExt    string            `json:"audio_ext"`
	Fragments   []ytdlpFragment   `json:"fragments"`
	HTTPHeaders map[string]string `json:"http_headers"`
}

type ytdlpFragment struct {
	URL string `json:"url"`
}

func (e *LocalURL) Extract(ctx context.Context, videoID string) (Result, error) {
	stdout, _, err := e.Tool.run(ctx, "-j", VideoURL(videoID))
	if err != nil {
		return nil, &Error{Extractor: NameLocalURL, VideoID: videoID, Kind: KindTool, Err: err}
	}

	f, err := bestAudioFormat(stdout)
	if err != nil {
		return nil, &Error{Extractor: NameLocalURL, VideoID: videoID, Kind: KindExtraction, Err: err}
	}

	header := make(http.Header, len(f.HTTPHeaders))
	for k, v := range f.HTTPHeaders {
		header.Set(k, v)
	}
	return &Proxy{URL: f.mediaURL(), Header: header}, nil
}

// mediaURL returns the URL of a format with at most one fragment.
func (f ytdlpFormat) mediaURL() string {
	if len(f.Fragments) == 1 && f.Fragments[0].URL != "" {
		return f.Fragments[0].URL
	}
	return f.URL
}

func (f ytdlpFormat) quality() float64 {
	if f.Quality == nil {
		return 0
	}
	return *f.Quality
}

// bestAudioFormat picks the highest quality audio-only m4a format that can
// be fetched with a single request.
func bestAudioFormat(data []byte) (ytdlpFormat, error) {
	var info ytdlpInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return ytdlpFormat{}, fmt.Errorf("%w: parse yt-dlp output: %v", ErrMalformedOutput, err)
	}

	var best *ytdlpFormat
	for i := range info.Formats {
		f := &info.Formats[i]
		if f.Resolution != "audio only" || f.AudioExt != "m4a" {
			continue
		}
		if len(f.Fragments) > 1 || f.mediaURL() == "" {
			continue
		}
		if best == nil || f.quality() > best.quality() {
			best = f
		}
	}
	if best == nil {
		return ytdlpFormat{}, ErrNoFormat
	}
	return *best, nil
}
