// Package bytestream trims byte-chunk sequences to an offset window. It backs
// HTTP range requests over proxied, streamed and cached audio.
package bytestream

import (
	"errors"
	"io"
	"iter"
)

// DefaultChunkSize is the read size used by Chunks when none is given.
const DefaultChunkSize = 32 * 1024

// NoLimit disables the upper bound of a Window.
const NoLimit int64 = -1

// Window returns a sequence that drops the first skip bytes of chunks and
// stops after limit bytes have been emitted. A negative limit means no limit.
//
// Skipping spans chunk boundaries. The chunk that crosses the limit is
// truncated exactly at the boundary and the upstream sequence is not pulled
// any further. Empty chunks are never emitted. The first upstream error is
// yielded unchanged and ends the sequence.
func Window(chunks iter.Seq2[[]byte, error], skip, limit int64) iter.Seq2[[]byte, error] {
	if skip < 0 {
		skip = 0
	}
	return func(yield func([]byte, error) bool) {
		if limit == 0 {
			return
		}

		toSkip := skip
		remaining := limit

		for chunk, err := range chunks {
			if err != nil {
				yield(nil, err)
				return
			}

			if toSkip > 0 {
				if int64(len(chunk)) <= toSkip {
					toSkip -= int64(len(chunk))
					continue
				}
				chunk = chunk[toSkip:]
				toSkip = 0
			}
			if len(chunk) == 0 {
				continue
			}

			if remaining >= 0 {
				if int64(len(chunk)) >= remaining {
					yield(chunk[:remaining], nil)
					return
				}
				remaining -= int64(len(chunk))
			}

			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Chunks adapts r to a chunk sequence. Every chunk is a fresh slice, so
// consumers may retain them. io.EOF ends the sequence without an error.
func Chunks(r io.Reader, size int) iter.Seq2[[]byte, error] {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return func(yield func([]byte, error) bool) {
		for {
			buf := make([]byte, size)
			n, err := r.Read(buf)
			if n > 0 {
				if !yield(buf[:n], nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// Slice turns in-memory chunks into a sequence. Mostly useful in tests.
func Slice(chunks ...[]byte) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

// WriteTo drains seq into w and returns the number of bytes written.
func WriteTo(w io.Writer, seq iter.Seq2[[]byte, error]) (int64, error) {
	var written int64
	for chunk, err := range seq {
		if err != nil {
			return written, err
		}
		n, werr := w.Write(chunk)
		written += int64(n)
		if werr != nil {
			return written, werr
		}
	}
	return written, nil
}
