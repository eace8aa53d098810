// Package extractor turns a YouTube video id into a playable audio source.
//
// There are several strategies with different cost and reliability: a Piped
// API mirror, the embedded kkdai/youtube client and the yt-dlp command line
// tool in three modes (direct URL, streamed stdout, cached file). Each one
// implements Extractor and returns a Result.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"ytfeed/internal/piped"
)

// Names of the built-in extractors.
const (
	NamePiped       = "piped"
	NameEmbedded    = "embedded"
	NameLocalURL    = "local-url"
	NameLocalStream = "local-stream"
	NameLocalFile   = "local-file"
)

// Extractor finds a playable audio source for a video.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, videoID string) (Result, error)
}

// InstanceSource hands out the current Piped instance.
type InstanceSource interface {
	Current() piped.Instance
	NotifyFailure()
}

// Kind classifies extraction errors.
type Kind int

const (
	// KindUpstream is a transport or status failure talking to a remote service.
	KindUpstream Kind = iota + 1
	// KindExtraction means the upstream answered but had no usable audio.
	KindExtraction
	// KindTool is a failure of the local yt-dlp process.
	KindTool
)

func (k Kind) String() string {
	switch k {
	case KindUpstream:
		return "upstream"
	case KindExtraction:
		return "extraction"
	case KindTool:
		return "tool"
	default:
		return "unknown"
	}
}

var (
	ErrNoAudioStream    = errors.New("no audio-only stream")
	ErrNoFormat         = errors.New("no matching audio format")
	ErrToolReported     = errors.New("yt-dlp reported an error")
	ErrToolNotInstalled = errors.New("yt-dlp not installed")
	ErrMalformedOutput  = errors.New("malformed response")
)

// Error is returned by every extractor.
type Error struct {
	Extractor string
	VideoID   string
	Kind      Kind
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extractor %s: video %s: %s: %v", e.Extractor, e.VideoID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// VideoURL is the watch page URL handed to yt-dlp.
func VideoURL(videoID string) string {
	return "https://youtube.com/watch?v=" + url.QueryEscape(videoID)
}
