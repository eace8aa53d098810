// Package audio picks an extractor for a video and delivers the audio it
// finds to the listener, honoring byte ranges.
package audio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"

	"ytfeed/internal/audiocache"
	"ytfeed/internal/extractor"
	"ytfeed/internal/race"
)

// SelectorRace races the extractors of the preference order.
const SelectorRace = "race"

// DefaultSelector is used when the request names no known extractor.
const DefaultSelector = extractor.NameLocalFile

// DefaultOrder is the preference order of a race. local-stream is left out
// since its output can't be seeked.
var DefaultOrder = []string{
	extractor.NamePiped,
	extractor.NameEmbedded,
	extractor.NameLocalURL,
	extractor.NameLocalFile,
}

var (
	ErrInvalidVideoID = errors.New("invalid video id")
	ErrNoExtractor    = errors.New("no extractor available")
	ErrUpstream       = errors.New("upstream request failed")
)

// Config configures a Service.
type Config struct {
	// Order is the race preference order. Defaults to DefaultOrder.
	Order []string

	// RaceLimit bounds concurrently running extractors in a race.
	RaceLimit int

	// Client fetches Proxy results. It should have no overall timeout.
	Client *http.Client
}

// Service resolves and serves audio.
type Service struct {
	extractors map[string]extractor.Extractor
	order      []string
	raceLimit  int
	client     *http.Client
	logger     *zap.SugaredLogger
}

// New creates a Service over the given extractors.
func New(cfg Config, logger *zap.SugaredLogger, extractors ...extractor.Extractor) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if len(cfg.Order) == 0 {
		cfg.Order = DefaultOrder
	}
	if cfg.RaceLimit <= 0 {
		cfg.RaceLimit = race.DefaultLimit
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}

	s := &Service{
		extractors: make(map[string]extractor.Extractor, len(extractors)),
		raceLimit:  cfg.RaceLimit,
		client:     cfg.Client,
		logger:     logger,
	}
	for _, e := range extractors {
		s.extractors[e.Name()] = e
	}
	for _, name := range cfg.Order {
		if _, ok := s.extractors[name]; ok {
			s.order = append(s.order, name)
		}
	}
	return s
}

// Names returns the registered extractor names in race order first.
func (s *Service) Names() []string {
	var rest []string
	for name := range s.extractors {
		if !slices.Contains(s.order, name) {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	return append(slices.Clone(s.order), rest...)
}

// ValidateVideoID rejects ids that can't name a video: empty, longer than
// audiocache.MaxIDLength or holding runes outside [A-Za-z0-9_-].
func ValidateVideoID(videoID string) error {
	if videoID == "" || len(videoID) > audiocache.MaxIDLength || audiocache.SanitizeID(videoID) != videoID {
		return fmt.Errorf("%w: %q", ErrInvalidVideoID, videoID)
	}
	return nil
}

type resolved struct {
	name   string
	result extractor.Result
}

// Extract finds audio for videoID with the extractor named by selector, or
// races the preference order for SelectorRace. Unknown selectors use
// DefaultSelector. The caller must Close the result.
func (s *Service) Extract(ctx context.Context, videoID, selector string) (extractor.Result, error) {
	r, err := s.extract(ctx, videoID, selector)
	if err != nil {
		return nil, err
	}
	return r.result, nil
}

func (s *Service) extract(ctx context.Context, videoID, selector string) (resolved, error) {
	if err := ValidateVideoID(videoID); err != nil {
		return resolved{}, err
	}

	log := s.logger.With("videoID", videoID, "selector", selector)
	start := time.Now()

	if selector == SelectorRace {
		if len(s.order) == 0 {
			return resolved{}, ErrNoExtractor
		}
		ops := make([]race.Op[resolved], 0, len(s.order))
		for _, name := range s.order {
			ops = append(ops, s.op(name, videoID))
		}
		racer := race.Racer[resolved]{
			Limit: s.raceLimit,
			Discard: func(r resolved) {
				log.Debugw("closing losing result", "extractor", r.name)
				r.result.Close()
			},
		}
		r, err := racer.Run(ctx, ops...)
		if err != nil {
			log.Warnw("all extractors failed", "error", err, "elapsed", time.Since(start))
			return resolved{}, err
		}
		log.Infow("audio resolved", "extractor", r.name, "elapsed", time.Since(start))
		return r, nil
	}

	name := selector
	if _, ok := s.extractors[name]; !ok {
		name = DefaultSelector
	}
	if _, ok := s.extractors[name]; !ok {
		return resolved{}, fmt.Errorf("%w: %s", ErrNoExtractor, name)
	}

	r, err := s.op(name, videoID)(ctx)
	if err != nil {
		log.Warnw("extractor failed", "extractor", name, "error", err, "elapsed", time.Since(start))
		return resolved{}, err
	}
	log.Infow("audio resolved", "extractor", name, "elapsed", time.Since(start))
	return r, nil
}

func (s *Service) op(name, videoID string) race.Op[resolved] {
	e := s.extractors[name]
	return func(ctx context.Context) (resolved, error) {
		res, err := e.Extract(ctx, videoID)
		if err != nil {
			return resolved{}, err
		}
		return resolved{name: name, result: res}, nil
	}
}
