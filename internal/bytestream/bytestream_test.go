package bytestream

import (
	"bytes"
	"errors"
	"io"
	"iter"
	"strings"
	"testing"
)

func collect(t *testing.T, seq iter.Seq2[[]byte, error]) ([]string, error) {
	t.Helper()
	var out []string
	for chunk, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, string(chunk))
	}
	return out, nil
}

func chunksOf(parts ...string) iter.Seq2[[]byte, error] {
	bs := make([][]byte, len(parts))
	for i, p := range parts {
		bs[i] = []byte(p)
	}
	return Slice(bs...)
}

func TestWindow(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		skip  int64
		limit int64
		want  []string
	}{
		{"passthrough", []string{"hello", "world"}, 0, NoLimit, []string{"hello", "world"}},
		{"skip inside first chunk", []string{"hello", "world"}, 2, NoLimit, []string{"llo", "world"}},
		{"limit inside second chunk", []string{"hello", "world"}, 0, 6, []string{"hello", "w"}},
		{"skip and limit", []string{"hello", "world"}, 2, 6, []string{"llo", "wor"}},
		{"skip whole first chunk", []string{"hello", "world"}, 5, NoLimit, []string{"world"}},
		{"skip across chunk boundary", []string{"hello", "world"}, 6, NoLimit, []string{"orld"}},
		{"limit inside first chunk", []string{"hello", "world"}, 0, 3, []string{"hel"}},
		{"limit at chunk boundary", []string{"hello", "world"}, 0, 5, []string{"hello"}},
		{"zero limit", []string{"hello", "world"}, 0, 0, nil},
		{"skip past end", []string{"hello", "world"}, 100, NoLimit, nil},
		{"limit past end", []string{"hello", "world"}, 0, 100, []string{"hello", "world"}},
		{"skip and limit past end", []string{"hello", "world"}, 100, 100, nil},
		{"empty input", nil, 0, NoLimit, nil},
		{"empty input with skip", nil, 100, NoLimit, nil},
		{"empty input with limit", nil, 0, 100, nil},
		{"empty input with skip and limit", nil, 100, 100, nil},
		{"empty chunks are dropped", []string{"", "ab", "", "cd"}, 1, NoLimit, []string{"b", "cd"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := collect(t, Window(chunksOf(tt.input...), tt.skip, tt.limit))
			if err != nil {
				t.Fatalf("Window() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Window() = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Window() chunk %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestWindowMatchesOffsets(t *testing.T) {
	input := []string{"abc", "defgh", "i", "", "jklmnop", "qr"}
	full := strings.Join(input, "")

	for skip := int64(0); skip <= int64(len(full))+2; skip++ {
		for limit := int64(-1); limit <= int64(len(full))+2; limit++ {
			got, err := collect(t, Window(chunksOf(input...), skip, limit))
			if err != nil {
				t.Fatalf("Window(%d, %d) error = %v", skip, limit, err)
			}

			want := ""
			if skip < int64(len(full)) {
				want = full[skip:]
			}
			if limit >= 0 && int64(len(want)) > limit {
				want = want[:limit]
			}
			if joined := strings.Join(got, ""); joined != want {
				t.Errorf("Window(%d, %d) = %q, want %q", skip, limit, joined, want)
			}
		}
	}
}

func TestWindowPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	src := func(yield func([]byte, error) bool) {
		if !yield([]byte("hello"), nil) {
			return
		}
		if !yield(nil, boom) {
			return
		}
		t.Error("upstream pulled after error")
	}

	got, err := collect(t, Window(src, 1, NoLimit))
	if !errors.Is(err, boom) {
		t.Fatalf("Window() error = %v, want %v", err, boom)
	}
	if len(got) != 1 || got[0] != "ello" {
		t.Errorf("Window() before error = %q, want [ello]", got)
	}
}

func TestWindowStopsPullingAtLimit(t *testing.T) {
	pulled := 0
	src := func(yield func([]byte, error) bool) {
		for i := 0; i < 10; i++ {
			pulled++
			if !yield([]byte("xx"), nil) {
				return
			}
		}
	}

	if _, err := collect(t, Window(src, 0, 3)); err != nil {
		t.Fatal(err)
	}
	if pulled != 2 {
		t.Errorf("pulled %d chunks, want 2", pulled)
	}
}

func TestChunks(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 7)
	var buf bytes.Buffer
	n, err := WriteTo(&buf, Chunks(bytes.NewReader(data), 16))
	if err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("WriteTo() = %d, want %d", n, len(data))
	}
	if !bytes.Equal(buf.Bytes(), data) {
		t.Error("WriteTo() output differs from input")
	}
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestChunksReaderError(t *testing.T) {
	boom := errors.New("read failed")
	_, err := collect(t, Chunks(io.MultiReader(strings.NewReader("abc"), failingReader{boom}), 2))
	if !errors.Is(err, boom) {
		t.Errorf("Chunks() error = %v, want %v", err, boom)
	}
}
