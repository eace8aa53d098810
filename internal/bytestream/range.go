package bytestream

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var rangeRegex = regexp.MustCompile(`^bytes=(\d*)-(\d*)$`)

// Range is a parsed single byte range. Nil bounds are open.
// Both bounds are inclusive, as on the wire.
type Range struct {
	Start *int64
	End   *int64
}

// IsSet reports whether the request asked for a range at all.
func (r Range) IsSet() bool {
	return r.Start != nil || r.End != nil
}

// ParseRange parses a Range header of the form bytes=<start>?-<end>?.
//
// Suffix ranges (bytes=-N) carry no start and are treated like every other
// unsupported or malformed value: as if no range was requested.
func ParseRange(header string) Range {
	m := rangeRegex.FindStringSubmatch(strings.TrimSpace(header))
	if m == nil || m[1] == "" {
		return Range{}
	}

	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Range{}
	}

	r := Range{Start: &start}
	if m[2] != "" {
		end, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return Range{}
		}
		r.End = &end
	}
	return r
}

// Resolve clamps the range against a resource of the given size and returns
// the inclusive byte span to serve. The start defaults to 0 and the end to the
// last byte. ok is false for an empty resource.
func (r Range) Resolve(size int64) (start, end int64, ok bool) {
	if size <= 0 {
		return 0, 0, false
	}

	end = size - 1
	if r.End != nil && *r.End < end {
		end = *r.End
	}
	if r.Start != nil {
		start = *r.Start
	}
	if start > end {
		start = end
	}
	if start < 0 {
		start = 0
	}
	return start, end, true
}

// ContentRange formats a Content-Range header value. A negative size is
// written as "*".
func ContentRange(start, end, size int64) string {
	total := "*"
	if size >= 0 {
		total = strconv.FormatInt(size, 10)
	}
	return fmt.Sprintf("bytes %d-%d/%s", start, end, total)
}
