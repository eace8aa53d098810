package audio

import (
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"ytfeed/internal/bytestream"
	"ytfeed/internal/extractor"
)

// hopHeaders apply to a single connection and are not forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ServeAudio resolves videoID and writes the audio to w.
//
// Errors returned before anything was written leave w untouched so the
// caller can choose a status. Errors while copying the body are returned
// too, after the status line was sent.
func (s *Service) ServeAudio(w http.ResponseWriter, r *http.Request, videoID, selector string) error {
	res, err := s.extract(r.Context(), videoID, selector)
	if err != nil {
		return err
	}
	defer res.result.Close()

	log := s.logger.With("videoID", videoID, "extractor", res.name)

	switch v := res.result.(type) {
	case *extractor.Proxy:
		err = s.serveProxy(w, r, v)
	case *extractor.Stream:
		err = serveStream(w, r, v)
	case *extractor.File:
		err = serveFile(w, r, v)
	default:
		err = fmt.Errorf("unexpected result type %T", v)
	}
	if err != nil {
		log.Warnw("audio delivery failed", "error", err)
		return err
	}
	log.Debugw("audio served", "method", r.Method, "range", r.Header.Get("Range"))
	return nil
}

// serveProxy fetches the remote URL on the listener's behalf and relays the
// response as is.
func (s *Service) serveProxy(w http.ResponseWriter, r *http.Request, p *extractor.Proxy) error {
	method := http.MethodGet
	if r.Method == http.MethodHead {
		method = http.MethodHead
	}

	req, err := http.NewRequestWithContext(r.Context(), method, p.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header = forwardHeaders(r.Header)
	for k, vs := range p.Header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := r.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	h := w.Header()
	for k, vs := range forwardHeaders(resp.Header) {
		h[k] = vs
	}
	w.WriteHeader(resp.StatusCode)

	if method == http.MethodHead {
		return nil
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("relay body: %w", err)
	}
	return nil
}

// forwardHeaders copies h without hop-by-hop headers and Host. Headers named
// in Connection are hop-by-hop too.
func forwardHeaders(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = make(http.Header)
	}
	for _, v := range out.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = textproto.TrimString(name); name != "" {
				out.Del(name)
			}
		}
	}
	for _, k := range hopHeaders {
		out.Del(k)
	}
	out.Del("Host")
	return out
}

// serveStream writes a one-shot stream, skipping to the requested range.
func serveStream(w http.ResponseWriter, r *http.Request, s *extractor.Stream) error {
	rng := bytestream.ParseRange(r.Header.Get("Range"))
	skip, limit := int64(0), bytestream.NoLimit
	status := http.StatusOK

	h := w.Header()
	h.Set("Content-Type", s.MIMEType)

	switch {
	case rng.IsSet() && s.Size >= 0:
		start, end, ok := rng.Resolve(s.Size)
		if ok {
			skip, limit = start, end-start+1
			h.Set("Content-Range", bytestream.ContentRange(start, end, s.Size))
			status = http.StatusPartialContent
		}
	case rng.IsSet():
		skip = *rng.Start
		if rng.End != nil {
			limit = max(*rng.End-skip+1, 0)
			if limit > 0 {
				h.Set("Content-Range", bytestream.ContentRange(skip, *rng.End, -1))
			}
		}
		status = http.StatusPartialContent
	}

	switch {
	case limit >= 0:
		h.Set("Content-Length", strconv.FormatInt(limit, 10))
	case s.Size >= 0:
		h.Set("Content-Length", strconv.FormatInt(s.Size, 10))
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return nil
	}
	chunks := bytestream.Window(bytestream.Chunks(s.Body, bytestream.DefaultChunkSize), skip, limit)
	if _, err := bytestream.WriteTo(w, chunks); err != nil {
		return fmt.Errorf("stream body: %w", err)
	}
	return nil
}

// serveFile serves a local file. The range is clamped to the file and
// Content-Range is always set.
func serveFile(w http.ResponseWriter, r *http.Request, f *extractor.File) error {
	info, err := f.File.Stat()
	if err != nil {
		return fmt.Errorf("stat audio file: %w", err)
	}
	size := info.Size()

	h := w.Header()
	h.Set("Content-Type", f.MIMEType)
	h.Set("Accept-Ranges", "bytes")

	start, end, ok := bytestream.ParseRange(r.Header.Get("Range")).Resolve(size)
	if !ok {
		h.Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
		return nil
	}

	n := end - start + 1
	h.Set("Content-Range", bytestream.ContentRange(start, end, size))
	h.Set("Content-Length", strconv.FormatInt(n, 10))

	status := http.StatusOK
	if start > 0 || end < size-1 {
		status = http.StatusPartialContent
	}

	if _, err := f.File.Seek(start, io.SeekStart); err != nil {
		return fmt.Errorf("seek audio file: %w", err)
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := io.CopyN(w, f.File, n); err != nil {
		return fmt.Errorf("copy audio file: %w", err)
	}
	return nil
}
