package extractor

import (
	"context"
	"fmt"
	"time"

	"ytfeed/internal/audiocache"
)

// LocalFile downloads the audio with yt-dlp into the file cache and serves
// the cached file. Concurrent requests for one video share a download.
type LocalFile struct {
	Tool  *Ytdlp
	Cache *audiocache.Cache
}

// NewLocalFile creates the local-file extractor.
func NewLocalFile(tool *Ytdlp, cache *audiocache.Cache) *LocalFile {
	return &LocalFile{Tool: tool, Cache: cache}
}

func (e *LocalFile) Name() string { return NameLocalFile }

func (e *LocalFile) Extract(ctx context.Context, videoID string) (Result, error) {
	entry, err := e.Cache.GetOrAllocate(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("audio cache: %w", err)
	}

	if err := entry.Populate(ctx, e.download(videoID)); err != nil {
		entry.Release()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if evictErr := e.Cache.Evict(context.WithoutCancel(ctx), entry); evictErr != nil {
			e.Tool.logger().Warnw("failed to evict failed download", "videoID", videoID, "error", evictErr)
		}
		return nil, &Error{Extractor: NameLocalFile, VideoID: videoID, Kind: KindTool, Err: err}
	}

	f, err := entry.Open()
	if err != nil {
		entry.Release()
		return nil, &Error{Extractor: NameLocalFile, VideoID: videoID, Kind: KindTool, Err: err}
	}
	return &File{File: f, MIMEType: "audio/mp4", release: entry.Release}, nil
}

func (e *LocalFile) download(videoID string) audiocache.DownloadFunc {
	return func(ctx context.Context, tempPath string) error {
		release, err := e.Tool.acquire(ctx)
		if err != nil {
			return err
		}
		defer release()

		log := e.Tool.logger().With("videoID", videoID)
		log.Infow("downloading audio", "url", VideoURL(videoID))
		start := time.Now()

		_, stderr, err := e.Tool.run(ctx,
			"-f", "ba[ext=m4a]",
			"--no-progress",
			"--no-mtime",
			"-o", tempPath,
			VideoURL(videoID),
		)
		if toolErr := detectError(stderr); toolErr != nil {
			err = toolErr
		}
		if err != nil {
			log.Warnw("audio download failed", "error", err, "elapsed", time.Since(start))
			return err
		}

		log.Infow("audio downloaded", "elapsed", time.Since(start))
		return nil
	}
}
