package audiocache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// MaxIDLength bounds the length of a sanitized id used as a file name.
const MaxIDLength = 64

// ErrMissingOutput is returned by Populate when the download function
// succeeded but left nothing at the temporary path.
var ErrMissingOutput = errors.New("audiocache: download produced no file")

// State is the download state of an AudioFile.
type State int32

const (
	StateNew State = iota
	StateDownloading
	StateReady
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateDownloading:
		return "downloading"
	case StateReady:
		return "ready"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// DownloadFunc writes the audio for an entry to tempPath.
type DownloadFunc func(ctx context.Context, tempPath string) error

// AudioFile is one video's slot in the on-disk cache.
//
// An AudioFile is reference counted. The cache holds one reference while the
// entry is resident and every GetOrAllocate hands out another, which the
// caller gives back with Release. Dropping the last reference deletes the
// temporary and final files.
type AudioFile struct {
	id       string
	path     string
	tempPath string
	logger   *zap.SugaredLogger

	refs atomic.Int32

	mu    sync.Mutex
	state State
	err   error
	done  chan struct{}
}

func newAudioFile(dir, id string, logger *zap.SugaredLogger) *AudioFile {
	stem := fileStem(id)
	f := &AudioFile{
		id:       id,
		path:     filepath.Join(dir, stem+".m4a"),
		tempPath: filepath.Join(dir, stem+".temp.m4a"),
		logger:   logger,
		done:     make(chan struct{}),
	}
	f.refs.Store(1)
	return f
}

// ID returns the video id the entry was allocated for.
func (f *AudioFile) ID() string { return f.id }

// Path returns the location of the finished file.
func (f *AudioFile) Path() string { return f.path }

// TempPath returns the location the download is written to.
func (f *AudioFile) TempPath() string { return f.tempPath }

// State returns the current download state.
func (f *AudioFile) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err returns the download error of an Errored entry.
func (f *AudioFile) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Done is closed once the entry is Ready or Errored.
func (f *AudioFile) Done() <-chan struct{} { return f.done }

func (f *AudioFile) acquire() {
	f.refs.Add(1)
}

// Release gives back one reference. The last release removes the files.
func (f *AudioFile) Release() {
	n := f.refs.Add(-1)
	switch {
	case n == 0:
		f.destroy()
	case n < 0:
		panic("audiocache: AudioFile released more times than acquired")
	}
}

func (f *AudioFile) destroy() {
	for _, p := range []string{f.tempPath, f.path} {
		err := os.Remove(p)
		switch {
		case err == nil:
			f.logger.Debugw("removed cached audio", "videoID", f.id, "path", p)
		case errors.Is(err, os.ErrNotExist):
		default:
			f.logger.Warnw("failed to remove cached audio", "videoID", f.id, "path", p, "error", err)
		}
	}
}

// Populate makes sure the entry is downloaded.
//
// The first caller on a New entry starts fn in the background and every
// caller, the first included, waits for it or for its own ctx. The download
// keeps running when waiters give up, since other requests may share the
// entry. On success the temporary file is renamed to Path and the entry
// becomes Ready. On failure the entry becomes Errored and keeps returning
// that error.
func (f *AudioFile) Populate(ctx context.Context, fn DownloadFunc) error {
	f.mu.Lock()
	if f.state == StateNew {
		f.state = StateDownloading
		f.acquire()
		go f.download(context.WithoutCancel(ctx), fn)
	}
	f.mu.Unlock()

	select {
	case <-f.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return f.Err()
}

func (f *AudioFile) download(ctx context.Context, fn DownloadFunc) {
	err := fn(ctx, f.tempPath)
	if err == nil {
		err = f.commit()
	}

	f.mu.Lock()
	if err != nil {
		f.state = StateErrored
		f.err = err
	} else {
		f.state = StateReady
	}
	f.mu.Unlock()

	// drop the download's reference before waking waiters
	f.Release()
	close(f.done)
}

// commit moves the finished download into place.
func (f *AudioFile) commit() error {
	if _, err := os.Stat(f.tempPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrMissingOutput
		}
		return fmt.Errorf("stat temp file: %w", err)
	}
	if err := os.Rename(f.tempPath, f.path); err != nil {
		os.Remove(f.tempPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Open opens the finished file for reading.
func (f *AudioFile) Open() (*os.File, error) {
	return os.Open(f.path)
}

// SanitizeID maps an untrusted video id to a safe file name component.
// Characters outside [A-Za-z0-9_-] become '_', the result is cut to
// MaxIDLength bytes and an empty id becomes "_".
func SanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if b.Len() >= MaxIDLength {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// fileStem names the files of id. An id that SanitizeID changes gets a
// digest suffix after a '.', which SanitizeID never emits, so distinct ids
// never share files.
func fileStem(id string) string {
	stem := SanitizeID(id)
	if stem == id {
		return stem
	}
	sum := sha256.Sum256([]byte(id))
	return stem + "." + hex.EncodeToString(sum[:6])
}
