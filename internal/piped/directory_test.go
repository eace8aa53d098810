package piped

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	ythttp "ytfeed/http"
)

const wikiHeader = `# Instances

Some text before the table.

Instance Name | Instance API URL | Instance Locations | CDN?
--- | --- | --- | ---
`

func TestInstanceURLs(t *testing.T) {
	i := NewInstance("https://pipedapi.example.com/")

	if got, want := i.StreamURL("dQw4w9WgXcQ"), "https://pipedapi.example.com/streams/dQw4w9WgXcQ"; got != want {
		t.Errorf("StreamURL() = %q, want %q", got, want)
	}
	if got, want := i.StreamURL("a/b"), "https://pipedapi.example.com/streams/a%2Fb"; got != want {
		t.Errorf("StreamURL() = %q, want %q", got, want)
	}
	if got := i.Host(); got != "pipedapi.example.com" {
		t.Errorf("Host() = %q", got)
	}
}

func TestParseListings(t *testing.T) {
	md := wikiHeader +
		"kavin.rocks (Official) | https://pipedapi.kavin.rocks | 🇮🇳 | Yes\n" +
		"plain http | http://insecure.example.com | 🇺🇸 | No\n" +
		"multi | https://api.multi.example.com | 🇩🇪, 🇫🇷 | No\n" +
		"garbage line\n"

	got := ParseListings(md)
	if len(got) != 2 {
		t.Fatalf("ParseListings() returned %d listings, want 2: %+v", len(got), got)
	}

	if got[0].Name != "kavin.rocks (Official)" {
		t.Errorf("Name = %q", got[0].Name)
	}
	if got[0].Instance.APIURL != "https://pipedapi.kavin.rocks" {
		t.Errorf("APIURL = %q", got[0].Instance.APIURL)
	}
	if len(got[0].Countries) != 1 || got[0].Countries[0] != "IN" {
		t.Errorf("Countries = %q, want [IN]", got[0].Countries)
	}
	if len(got[1].Countries) != 2 || got[1].Countries[0] != "DE" || got[1].Countries[1] != "FR" {
		t.Errorf("Countries = %q, want [DE FR]", got[1].Countries)
	}
}

func TestParseListingsNoTable(t *testing.T) {
	if got := ParseListings("# nothing here\n| a | b |"); got != nil {
		t.Errorf("ParseListings() = %+v, want nil", got)
	}
}

func TestDirectoryCurrentAndSet(t *testing.T) {
	d := NewDirectory(Config{}, nil, nil)
	if got := d.Current().APIURL; got != DefaultAPIURL {
		t.Errorf("Current() = %q, want %q", got, DefaultAPIURL)
	}

	d.Set(NewInstance("https://other.example.com"))
	if got := d.Current().APIURL; got != "https://other.example.com" {
		t.Errorf("Current() after Set() = %q", got)
	}
}

func TestNotifyFailureNeverBlocks(t *testing.T) {
	d := NewDirectory(Config{}, nil, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			d.NotifyFailure()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyFailure() blocked")
	}
}

type mirrors struct {
	fast, slow, broken *httptest.Server
	list               *httptest.Server
	listHits           atomic.Int32
}

func newMirrors(t *testing.T) *mirrors {
	t.Helper()
	m := &mirrors{}

	m.fast = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	m.slow = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		w.Write([]byte("ok"))
	}))
	m.broken = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	m.list = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.listHits.Add(1)
		fmt.Fprint(w, wikiHeader)
		fmt.Fprintf(w, "slow | %s | 🇺🇸 | No\n", m.slow.URL)
		fmt.Fprintf(w, "broken | %s | 🇺🇸 | No\n", m.broken.URL)
		fmt.Fprintf(w, "fast | %s | 🇺🇸 | No\n", m.fast.URL)
	}))

	t.Cleanup(func() {
		m.list.Close()
		m.fast.Close()
		m.slow.Close()
		m.broken.Close()
	})
	return m
}

func newTestDirectory(t *testing.T, m *mirrors, interval time.Duration) *Directory {
	t.Helper()
	cfg := ythttp.DefaultConfig()
	cfg.RateLimiter.DefaultRPS = 0
	client, err := ythttp.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })

	d := NewDirectory(Config{
		Default:         "https://default.example.com",
		ListURL:         m.list.URL,
		RefreshInterval: interval,
		ProbeTimeout:    2 * time.Second,
	}, client, nil)
	// the TLS test servers share one certificate
	d.probe = m.fast.Client()
	return d
}

func TestRefreshPicksFastest(t *testing.T) {
	m := newMirrors(t)
	d := newTestDirectory(t, m, 0)

	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := d.Current().APIURL; got != m.fast.URL {
		t.Errorf("Current() = %q, want fastest %q", got, m.fast.URL)
	}
}

func TestRefreshNoReachableInstance(t *testing.T) {
	m := newMirrors(t)
	d := newTestDirectory(t, m, 0)
	d.probe = http.DefaultClient // does not trust the test certificate

	err := d.Refresh(context.Background())
	if !errors.Is(err, ErrNoInstances) {
		t.Fatalf("Refresh() error = %v, want %v", err, ErrNoInstances)
	}
	if got := d.Current().APIURL; got != "https://default.example.com" {
		t.Errorf("Current() = %q, want unchanged default", got)
	}
}

func TestRunRefreshesEarlyOnFailure(t *testing.T) {
	m := newMirrors(t)
	d := newTestDirectory(t, m, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	waitFor(t, func() bool { return d.Current().APIURL == m.fast.URL })

	d.Set(NewInstance("https://dead.example.com"))
	d.NotifyFailure()

	waitFor(t, func() bool { return d.Current().APIURL == m.fast.URL })
	if got := m.listHits.Load(); got != 2 {
		t.Errorf("instance list fetched %d times, want 2", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
