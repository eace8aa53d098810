package extractor

import (
	"context"
	"errors"

	ythttp "ytfeed/http"
)

// Piped resolves a video through the streams endpoint of a Piped API
// mirror and proxies the first audio stream it lists.
type Piped struct {
	Client    *ythttp.Client
	Instances InstanceSource
}

// NewPiped creates the piped extractor.
func NewPiped(client *ythttp.Client, instances InstanceSource) *Piped {
	return &Piped{Client: client, Instances: instances}
}

func (e *Piped) Name() string { return NamePiped }

type pipedStreams struct {
	AudioStreams []pipedAudioStream `json:"audioStreams"`
}

type pipedAudioStream struct {
	URL      string `json:"url"`
	MIMEType string `json:"mimeType"`
	Bitrate  int    `json:"bitrate"`
}

func (e *Piped) Extract(ctx context.Context, videoID string) (Result, error) {
	instance := e.Instances.Current()

	var streams pipedStreams
	err := e.Client.GetJSON(ctx, instance.StreamURL(videoID), &streams)
	switch {
	case err == nil:
	case errors.Is(err, ythttp.ErrMalformedJSON):
		return nil, &Error{Extractor: NamePiped, VideoID: videoID, Kind: KindExtraction, Err: errors.Join(ErrMalformedOutput, err)}
	default:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if instanceFailed(err) {
			e.Instances.NotifyFailure()
		}
		return nil, &Error{Extractor: NamePiped, VideoID: videoID, Kind: KindUpstream, Err: err}
	}

	stream, err := firstAudioStream(streams)
	if err != nil {
		return nil, &Error{Extractor: NamePiped, VideoID: videoID, Kind: KindExtraction, Err: err}
	}
	return &Proxy{URL: stream.URL}, nil
}

// instanceFailed reports whether err points at the instance rather than the
// video. Client errors such as 404 for a removed video don't.
func instanceFailed(err error) bool {
	var httpErr *ythttp.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	return true
}

func firstAudioStream(streams pipedStreams) (pipedAudioStream, error) {
	if len(streams.AudioStreams) == 0 {
		return pipedAudioStream{}, ErrNoAudioStream
	}
	s := streams.AudioStreams[0]
	if s.URL == "" {
		return pipedAudioStream{}, errors.Join(ErrNoAudioStream, errors.New("first audio stream has no url"))
	}
	return s, nil
}
