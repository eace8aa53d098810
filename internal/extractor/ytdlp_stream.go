package extractor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"ytfeed/internal/bytestream"
)

// LocalStream pipes yt-dlp's stdout to the listener without touching disk.
// The output can't be seeked, so range requests are served by skipping.
type LocalStream struct {
	Tool *Ytdlp
}

// NewLocalStream creates the local-stream extractor.
func NewLocalStream(tool *Ytdlp) *LocalStream {
	return &LocalStream{Tool: tool}
}

func (e *LocalStream) Name() string { return NameLocalStream }

func (e *LocalStream) Extract(ctx context.Context, videoID string) (Result, error) {
	fail := func(err error) (Result, error) {
		return nil, &Error{Extractor: NameLocalStream, VideoID: videoID, Kind: KindTool, Err: err}
	}

	// The process outlives Extract when it succeeds and is stopped by Close.
	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := e.Tool.command(procCtx, "-f", "ba[ext=m4a]", "-o", "-", VideoURL(videoID))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fail(err)
	}
	s := &toolStream{cmd: cmd, cancel: cancel, stderr: &bytes.Buffer{}}
	cmd.Stderr = s.stderr

	if err := cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, exec.ErrNotFound) {
			err = ErrToolNotInstalled
		}
		return fail(err)
	}
	s.stdout = bufio.NewReaderSize(stdout, bytestream.DefaultChunkSize)

	// wait for the first byte so a failing video falls through to the next
	// extractor instead of producing an empty response
	stop := context.AfterFunc(ctx, cancel)
	_, peekErr := s.stdout.Peek(1)
	stop()
	if peekErr != nil {
		waitErr := s.wait()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if waitErr == nil {
			waitErr = fmt.Errorf("%w: empty output", ErrToolReported)
		}
		return fail(waitErr)
	}

	return &Stream{
		Body:     &streamBody{s: s, extractor: NameLocalStream, videoID: videoID},
		MIMEType: "audio/mp4",
		Size:     -1,
	}, nil
}

// toolStream is a running yt-dlp process writing to stdout.
type toolStream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout *bufio.Reader
	stderr *bytes.Buffer

	once    sync.Once
	waitErr error
}

// wait reaps the process once stdout is drained or the process was killed.
func (s *toolStream) wait() error {
	s.once.Do(func() {
		err := s.cmd.Wait()
		if toolErr := detectError(s.stderr.Bytes()); toolErr != nil {
			err = toolErr
		} else if err != nil {
			err = fmt.Errorf("yt-dlp failed: %w: %s", err, lastLines(s.stderr.Bytes(), 3))
		}
		s.waitErr = err
		s.cancel()
	})
	return s.waitErr
}

type streamBody struct {
	s         *toolStream
	extractor string
	videoID   string
}

// Read turns a clean EOF into an error when yt-dlp reported a failure.
func (b *streamBody) Read(p []byte) (int, error) {
	n, err := b.s.stdout.Read(p)
	if err == io.EOF {
		if waitErr := b.s.wait(); waitErr != nil {
			return n, &Error{Extractor: b.extractor, VideoID: b.videoID, Kind: KindTool, Err: waitErr}
		}
	}
	return n, err
}

// Close kills the process if it is still running.
func (b *streamBody) Close() error {
	b.s.cancel()
	b.s.wait()
	return nil
}
