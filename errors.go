package ytfeed

import (
	ythttp "ytfeed/http"
	"ytfeed/internal/audio"
	"ytfeed/internal/audiocache"
	"ytfeed/internal/extractor"
	"ytfeed/internal/race"
	"ytfeed/internal/retry"
)

// Error handling types exported for library users.
//
// Using errors.Is() for sentinel errors:
//
//	if errors.Is(err, ytfeed.ErrToolNotInstalled) {
//		fmt.Println("install yt-dlp")
//	}
//
// Using errors.As() for wrapped errors:
//
//	var exErr *ytfeed.ExtractorError
//	if errors.As(err, &exErr) {
//		fmt.Printf("%s failed for %s: %v\n", exErr.Extractor, exErr.VideoID, exErr.Err)
//	}

// Type aliases for convenient error handling.
type (
	// ExtractorError is returned by every extractor.
	ExtractorError = extractor.Error
	// ErrorKind classifies an ExtractorError.
	ErrorKind = extractor.Kind
	// RateLimitError reports a rate limited upstream response.
	RateLimitError = ythttp.RateLimitError
	// HTTPError reports a non-2xx upstream response.
	HTTPError = ythttp.HTTPError
)

// Error kinds.
const (
	KindUpstream   = extractor.KindUpstream
	KindExtraction = extractor.KindExtraction
	KindTool       = extractor.KindTool
)

// Sentinel errors exported from sub-packages.
var (
	// ErrNoAudioStream indicates the upstream listed no audio-only stream.
	ErrNoAudioStream = extractor.ErrNoAudioStream
	// ErrNoFormat indicates yt-dlp offered no usable audio format.
	ErrNoFormat = extractor.ErrNoFormat
	// ErrToolReported indicates yt-dlp printed an error.
	ErrToolReported = extractor.ErrToolReported
	// ErrToolNotInstalled indicates the yt-dlp binary was not found.
	ErrToolNotInstalled = extractor.ErrToolNotInstalled
	// ErrMalformedOutput indicates an unparseable upstream or tool response.
	ErrMalformedOutput = extractor.ErrMalformedOutput

	// ErrInvalidVideoID indicates an empty or over-long video id.
	ErrInvalidVideoID = audio.ErrInvalidVideoID
	// ErrUpstream indicates a proxied media request failed.
	ErrUpstream = audio.ErrUpstream

	// ErrCacheClosed indicates the audio cache was shut down.
	ErrCacheClosed = audiocache.ErrClosed
	// ErrMissingOutput indicates a download finished without a file.
	ErrMissingOutput = audiocache.ErrMissingOutput

	// ErrCircuitOpen indicates requests to a host are suspended.
	ErrCircuitOpen = ythttp.ErrCircuitOpen
	// ErrNoOperations indicates a race was started with nothing to run.
	ErrNoOperations = race.ErrNoOperations
)

// IsRetryable determines if an error should be retried.
func IsRetryable(err error) bool {
	return retry.IsRetryable(err)
}
