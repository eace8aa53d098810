package extractor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const defaultYtdlpPath = "yt-dlp"

// waitDelay bounds how long Wait blocks on output pipes held open by
// children of a killed process.
const waitDelay = 2 * time.Second

// Ytdlp runs the yt-dlp executable. It is shared by the local-* extractors.
type Ytdlp struct {
	// Path is the path to the yt-dlp executable. Defaults to "yt-dlp".
	Path string

	// Proxy is passed to yt-dlp as --proxy when set.
	Proxy string

	// ExtraArgs are passed to every invocation.
	ExtraArgs []string

	// Permit bounds concurrent downloads across the process. Nil means
	// unbounded.
	Permit *semaphore.Weighted

	Logger *zap.SugaredLogger
}

// NewYtdlp creates a runner allowing concurrency parallel downloads.
func NewYtdlp(path, proxy string, concurrency int64, logger *zap.SugaredLogger) *Ytdlp {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Ytdlp{
		Path:   path,
		Proxy:  proxy,
		Permit: semaphore.NewWeighted(concurrency),
		Logger: logger,
	}
}

func (y *Ytdlp) path() string {
	if y.Path != "" {
		return y.Path
	}
	return defaultYtdlpPath
}

func (y *Ytdlp) logger() *zap.SugaredLogger {
	if y.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return y.Logger
}

// args prepends the shared flags to args.
func (y *Ytdlp) args(args ...string) []string {
	var out []string
	if y.Proxy != "" {
		out = append(out, "--proxy", y.Proxy)
	}
	out = append(out, y.ExtraArgs...)
	return append(out, args...)
}

// command builds the process. It is killed when ctx is done.
func (y *Ytdlp) command(ctx context.Context, args ...string) *exec.Cmd {
	full := y.args(args...)
	y.logger().Debugw("running yt-dlp", "path", y.path(), "args", redactArgs(full))
	cmd := exec.CommandContext(ctx, y.path(), full...)
	cmd.WaitDelay = waitDelay
	return cmd
}

// run executes yt-dlp and collects its output.
func (y *Ytdlp) run(ctx context.Context, args ...string) (stdout, stderr []byte, err error) {
	cmd := y.command(ctx, args...)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		} else if errors.Is(err, exec.ErrNotFound) {
			err = ErrToolNotInstalled
		} else {
			err = fmt.Errorf("yt-dlp failed: %w: %s", err, lastLines(errBuf.Bytes(), 3))
		}
	}
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// acquire takes one download permit.
func (y *Ytdlp) acquire(ctx context.Context) (release func(), err error) {
	if y.Permit == nil {
		return func() {}, nil
	}
	if err := y.Permit.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { y.Permit.Release(1) }, nil
}

// CheckInstalled runs yt-dlp --version.
func (y *Ytdlp) CheckInstalled(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, y.path(), "--version").Output()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrToolNotInstalled, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// detectError looks for an ERROR: line in yt-dlp's stderr. yt-dlp does not
// always exit non-zero when a download fails.
func detectError(stderr []byte) error {
	sc := bufio.NewScanner(bytes.NewReader(stderr))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.Index(line, "ERROR:"); i >= 0 {
			return fmt.Errorf("%w: %s", ErrToolReported, strings.TrimSpace(line[i+len("ERROR:"):]))
		}
	}
	return nil
}

func lastLines(b []byte, n int) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "; ")
}

// RedactProxy hides the password of a proxy URL for logging.
func RedactProxy(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid proxy url>"
	}
	return u.Redacted()
}

func redactArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i+1 < len(out); i++ {
		if out[i] == "--proxy" {
			out[i+1] = RedactProxy(out[i+1])
		}
	}
	return out
}
