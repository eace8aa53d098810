package extractor

import (
	"context"
	"net/http"
	"strings"
	"time"

	youtube "github.com/kkdai/youtube/v2"

	ythttp "ytfeed/http"
)

// fullRange asks the media server for the whole file in one response.
const fullRange = "range=0-999999999999"

// Embedded resolves stream URLs in-process with the kkdai/youtube client.
type Embedded struct {
	Client *youtube.Client
}

// NewEmbedded creates the embedded extractor. The client routes through
// proxyURL when it is set.
func NewEmbedded(proxyURL string) (*Embedded, error) {
	transport, err := ythttp.NewTransport(ythttp.DefaultTransportConfig(), proxyURL)
	if err != nil {
		return nil, err
	}
	return &Embedded{
		Client: &youtube.Client{
			HTTPClient: &http.Client{
				Timeout:   15 * time.Second,
				Transport: transport,
			},
		},
	}, nil
}

func (e *Embedded) Name() string { return NameEmbedded }

func (e *Embedded) Extract(ctx context.Context, videoID string) (Result, error) {
	upstream := func(err error) (Result, error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{Extractor: NameEmbedded, VideoID: videoID, Kind: KindUpstream, Err: err}
	}

	video, err := e.Client.GetVideoContext(ctx, videoID)
	if err != nil {
		return upstream(err)
	}

	format := bestAudioOnly(video.Formats)
	if format == nil {
		return nil, &Error{Extractor: NameEmbedded, VideoID: videoID, Kind: KindExtraction, Err: ErrNoAudioStream}
	}

	streamURL, err := e.Client.GetStreamURLContext(ctx, video, format)
	if err != nil {
		return upstream(err)
	}
	return &Proxy{URL: withFullRange(streamURL)}, nil
}

// bestAudioOnly returns the audio-only format with the highest bitrate.
func bestAudioOnly(formats youtube.FormatList) *youtube.Format {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if !strings.HasPrefix(f.MimeType, "audio/") || f.QualityLabel != "" {
			continue
		}
		if best == nil || f.Bitrate > best.Bitrate {
			best = f
		}
	}
	return best
}

func withFullRange(streamURL string) string {
	if strings.Contains(streamURL, "?") {
		return streamURL + "&" + fullRange
	}
	return streamURL + "?" + fullRange
}
