// Package server exposes the audio gateway over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ytfeed/internal/audio"
	"ytfeed/internal/extractor"
	"ytfeed/internal/piped"
)

const (
	// RequestIDHeader carries the id assigned to every request.
	RequestIDHeader = "X-Request-ID"

	// StatusClientClosedRequest is logged when the listener went away.
	StatusClientClosedRequest = 499
)

// InstanceReader reports the Piped instance in use.
type InstanceReader interface {
	Current() piped.Instance
}

// Counter reports the number of cached audio files.
type Counter interface {
	Len(ctx context.Context) (int, error)
}

// Server routes requests to the audio service.
type Server struct {
	audio     *audio.Service
	instances InstanceReader
	cache     Counter
	logger    *zap.SugaredLogger
	engine    *gin.Engine
}

// New builds the router. instances and cache may be nil.
func New(svc *audio.Service, instances InstanceReader, cache Counter, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		audio:     svc,
		instances: instances,
		cache:     cache,
		logger:    logger,
	}

	r := gin.New()
	r.Use(requestID(), accessLog(logger), gin.Recovery())
	r.GET("/audio/:videoId", s.handleAudio)
	r.HEAD("/audio/:videoId", s.handleAudio)
	r.GET("/health", s.handleHealth)
	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run listens on addr and serves until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes the
// listener and every open connection. In-flight requests are not drained.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Infow("listening", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	if err := srv.Close(); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleAudio(c *gin.Context) {
	videoID := c.Param("videoId")
	selector := c.Query("extractor")

	err := s.audio.ServeAudio(c.Writer, c.Request, videoID, selector)
	if err != nil {
		s.writeError(c, err)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":     "ok",
		"extractors": s.audio.Names(),
	}
	if s.instances != nil {
		body["instance"] = s.instances.Current().APIURL
	}
	if s.cache != nil {
		if n, err := s.cache.Len(c.Request.Context()); err == nil {
			body["cached"] = n
		} else {
			s.logger.Warnw("cache length unavailable", "error", err)
		}
	}
	c.JSON(http.StatusOK, body)
}

// writeError maps err to a status. Nothing is written when the response
// already started.
func (s *Server) writeError(c *gin.Context, err error) {
	log := s.logger.With("requestID", c.GetString("requestID"), "error", err)

	if c.Writer.Written() {
		log.Warnw("response aborted")
		c.Abort()
		return
	}

	// headers of a body that was never sent
	h := c.Writer.Header()
	for _, k := range []string{"Content-Length", "Content-Range", "Accept-Ranges"} {
		h.Del(k)
	}

	status := StatusFor(err)
	if status == StatusClientClosedRequest {
		log.Debugw("client went away")
		c.AbortWithStatus(status)
		return
	}
	if status >= http.StatusInternalServerError {
		log.Warnw("request failed", "status", status)
	}
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.String(status, err.Error())
	c.Abort()
}

// StatusFor maps an error to the HTTP status returned to the listener.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	case errors.Is(err, audio.ErrInvalidVideoID):
		return http.StatusBadRequest
	case extractor.KindOf(err) != 0, errors.Is(err, audio.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestID", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func accessLog(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Infow("request",
			"requestID", c.GetString("requestID"),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"query", c.Request.URL.RawQuery,
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"elapsed", time.Since(start),
		)
	}
}
