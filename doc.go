// Package ytfeed serves the audio of YouTube videos to podcast players.
//
// A request for /audio/<video-id> is resolved by one of several extractors
// and delivered with byte range support, so players can seek.
//
// Extractors
//
// Each extractor finds a playable source for a video id:
//
//   - piped: asks a Piped API mirror for the audio streams of the video
//   - embedded: resolves stream URLs in-process with kkdai/youtube
//   - local-url: asks yt-dlp for the best single-request m4a format
//   - local-stream: pipes yt-dlp's output straight to the listener
//   - local-file: downloads with yt-dlp into a shared file cache
//
// The extractor is chosen with the extractor query parameter. "race" tries
// piped, embedded, local-url and local-file concurrently and keeps the first
// success in that order. Without a parameter local-file is used.
//
// Configuration
//
// ytfeed loads settings from several sources:
//
//  1. Environment variables, including a .env file (highest priority)
//  2. Config file (ytfeed.json or ~/.config/ytfeed/ytfeed.json)
//  3. Default values (lowest priority)
//
// Environment variables:
//
//   - YTFEED_LISTEN_ADDR: HTTP listen address (:8080)
//   - YTFEED_LOG_LEVEL: debug, info, warn or error
//   - YTFEED_CACHE_DIR: audio cache directory, wiped at start
//   - YTFEED_CACHE_CAPACITY: maximum cached files (30)
//   - YTFEED_CACHE_TTL: idle time before a cached file is dropped (10m)
//   - YTFEED_YTDLP_PATH: path to yt-dlp
//   - YTDLP_CONCURRENCY: parallel yt-dlp downloads (1)
//   - YTDLP_PROXY: outbound proxy for yt-dlp and the embedded client
//   - YTFEED_PIPED_INSTANCE: Piped API mirror used until a refresh succeeds
//   - YTFEED_PIPED_REFRESH: mirror refresh interval, 0 disables (1h)
//   - YTFEED_PIPED_DIRECTORY_URL: public mirror list
//   - YTFEED_RACE_LIMIT: extractors running at once in a race (10)
//   - YTFEED_MAX_RETRIES, YTFEED_INITIAL_BACKOFF, YTFEED_MAX_BACKOFF: API retries
//
// Error Handling
//
// Extractors fail with *ExtractorError, classified by Kind:
//
//	var exErr *ytfeed.ExtractorError
//	if errors.As(err, &exErr) && exErr.Kind == ytfeed.KindTool {
//		fmt.Println("yt-dlp failed:", exErr.Err)
//	}
//
// Dependencies
//
// The local-* extractors require yt-dlp in PATH or at YTFEED_YTDLP_PATH.
//
// Install yt-dlp: https://github.com/yt-dlp/yt-dlp
package ytfeed
