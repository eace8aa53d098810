package piped

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	ythttp "ytfeed/http"
)

// DefaultListURL is the public instance list of the Piped wiki.
const DefaultListURL = "https://raw.githubusercontent.com/wiki/TeamPiped/Piped/Instances.md"

const (
	DefaultRefreshInterval = time.Hour
	DefaultProbeTimeout    = 10 * time.Second

	probeConcurrency = 16
	tableMarker      = "--- | --- | --- | ---"
)

// ErrNoInstances is returned when no listed instance answered a probe.
var ErrNoInstances = errors.New("piped: no reachable instance")

// Listing is one row of the instance list.
type Listing struct {
	Instance  Instance
	Name      string
	Countries []string

	// Latency of the probe. Zero when the instance did not answer.
	Latency time.Duration
}

// Config configures a Directory.
type Config struct {
	// Default is the instance used until a refresh succeeds.
	Default string
	// ListURL is the markdown instance list.
	ListURL string
	// RefreshInterval between refreshes. Zero or less disables the refresher.
	RefreshInterval time.Duration
	// ProbeTimeout bounds the latency probes of one refresh.
	ProbeTimeout time.Duration
}

// Directory holds the current instance.
type Directory struct {
	mu      sync.RWMutex
	current Instance

	cfg    Config
	client *ythttp.Client
	probe  *http.Client
	logger *zap.SugaredLogger

	// buffered, one pending early refresh at most
	early chan struct{}
}

// NewDirectory creates a Directory starting at cfg.Default.
func NewDirectory(cfg Config, client *ythttp.Client, logger *zap.SugaredLogger) *Directory {
	if cfg.Default == "" {
		cfg.Default = DefaultAPIURL
	}
	if cfg.ListURL == "" {
		cfg.ListURL = DefaultListURL
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	d := &Directory{
		current: NewInstance(cfg.Default),
		cfg:     cfg,
		client:  client,
		logger:  logger,
		early:   make(chan struct{}, 1),
	}
	if client != nil {
		d.probe = client.StreamingClient()
	} else {
		d.probe = http.DefaultClient
	}
	return d
}

// Current returns a snapshot of the current instance.
func (d *Directory) Current() Instance {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// Set replaces the current instance.
func (d *Directory) Set(i Instance) {
	d.mu.Lock()
	prev := d.current
	d.current = i
	d.mu.Unlock()

	if prev != i {
		d.logger.Infow("piped instance changed", "from", prev.Host(), "to", i.Host())
	}
}

// NotifyFailure asks the refresher for an early refresh. It never blocks and
// repeated calls before the refresh runs are coalesced.
func (d *Directory) NotifyFailure() {
	select {
	case d.early <- struct{}{}:
	default:
	}
}

// Run refreshes the current instance every RefreshInterval and whenever
// NotifyFailure was called, until ctx is done.
func (d *Directory) Run(ctx context.Context) {
	if d.cfg.RefreshInterval <= 0 || d.client == nil {
		d.logger.Infow("piped refresher disabled", "instance", d.Current().APIURL)
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(d.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		if err := d.Refresh(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warnw("piped refresh failed", "error", err, "instance", d.Current().APIURL)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.early:
			d.logger.Infow("early piped refresh requested", "instance", d.Current().APIURL)
		}
	}
}

// Refresh fetches the instance list, probes every instance and switches to
// the fastest one.
func (d *Directory) Refresh(ctx context.Context) error {
	resp, err := d.client.Get(ctx, d.cfg.ListURL)
	if err != nil {
		return fmt.Errorf("fetch instance list: %w", err)
	}

	listings := ParseListings(string(resp.Body))
	if len(listings) == 0 {
		return fmt.Errorf("instance list %s: %w", d.cfg.ListURL, ErrNoInstances)
	}

	listings = d.probeAll(ctx, listings)
	if len(listings) == 0 || listings[0].Latency == 0 {
		return ErrNoInstances
	}

	best := listings[0]
	d.logger.Debugw("piped instances probed", "count", len(listings), "best", best.Instance.APIURL, "latency", best.Latency)
	d.Set(best.Instance)
	return nil
}

// probeAll measures every listing and returns them fastest first, the
// unreachable ones last.
func (d *Directory) probeAll(ctx context.Context, listings []Listing) []Listing {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(probeConcurrency)
	for i := range listings {
		g.Go(func() error {
			listings[i].Latency = d.probeOne(ctx, listings[i].Instance)
			return nil
		})
	}
	g.Wait()

	slices.SortStableFunc(listings, func(a, b Listing) int {
		switch {
		case a.Latency == b.Latency:
			return 0
		case a.Latency == 0:
			return 1
		case b.Latency == 0:
			return -1
		case a.Latency < b.Latency:
			return -1
		default:
			return 1
		}
	})
	return listings
}

func (d *Directory) probeOne(ctx context.Context, i Instance) time.Duration {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.APIURL, nil)
	if err != nil {
		return 0
	}

	start := time.Now()
	resp, err := d.probe.Do(req)
	if err != nil {
		return 0
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0
	}
	return max(time.Since(start), time.Nanosecond)
}

// ParseListings reads the instance table of the Piped wiki page. Rows
// without an https API URL are skipped.
func ParseListings(markdown string) []Listing {
	lines := strings.Split(markdown, "\n")
	start := slices.IndexFunc(lines, func(l string) bool {
		return strings.HasPrefix(strings.TrimSpace(l), tableMarker)
	})
	if start < 0 {
		return nil
	}

	var out []Listing
	for _, line := range lines[start+1:] {
		parts := strings.Split(line, "|")
		if len(parts) < 3 {
			continue
		}
		apiURL := strings.TrimSpace(parts[1])
		if !strings.HasPrefix(apiURL, "https://") {
			continue
		}

		var countries []string
		for _, c := range strings.Split(parts[2], ",") {
			if c = strings.TrimSpace(c); c != "" {
				countries = append(countries, fromFlagEmoji(c))
			}
		}

		out = append(out, Listing{
			Instance:  NewInstance(apiURL),
			Name:      strings.TrimSpace(parts[0]),
			Countries: countries,
		})
	}
	return out
}

// fromFlagEmoji turns regional indicator symbols into ASCII letters.
func fromFlagEmoji(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 0x1F1E6 && r <= 0x1F1FF {
			return 'A' + (r - 0x1F1E6)
		}
		return r
	}, s)
}
