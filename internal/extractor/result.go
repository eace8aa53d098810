package extractor

import (
	"io"
	"net/http"
	"os"
)

// Result is the playable audio source an extractor found. It is one of
// *Proxy, *Stream or *File. The holder must Close it.
type Result interface {
	Close() error
	isResult()
}

// Proxy is a remote URL to fetch on the listener's behalf.
type Proxy struct {
	URL string
	// Header is sent along with the listener's own request headers.
	Header http.Header
}

// Stream is audio produced while it is being served. The body can be read
// only once.
type Stream struct {
	Body     io.ReadCloser
	MIMEType string
	// Size is the total length in bytes, or negative if unknown.
	Size int64
}

// File is a complete audio file on local disk.
type File struct {
	File     *os.File
	MIMEType string

	// release is called after the file is closed.
	release func()
}

func (*Proxy) isResult()  {}
func (*Stream) isResult() {}
func (*File) isResult()   {}

func (p *Proxy) Close() error { return nil }

func (s *Stream) Close() error {
	if s.Body == nil {
		return nil
	}
	return s.Body.Close()
}

func (f *File) Close() error {
	err := f.File.Close()
	if f.release != nil {
		f.release()
		f.release = nil
	}
	return err
}
