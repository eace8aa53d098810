package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	ythttp "ytfeed/http"
	"ytfeed/internal/audio"
	"ytfeed/internal/audiocache"
	"ytfeed/internal/config"
	"ytfeed/internal/extractor"
	"ytfeed/internal/piped"
	"ytfeed/internal/server"
)

func main() {
	command := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		cmdServe(args)
	case "extract":
		cmdExtract(args)
	case "check":
		cmdCheck(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `ytfeed - YouTube audio gateway for podcast players

Usage:
  ytfeed [serve] [flags]                 Run the HTTP server (default)
  ytfeed extract [flags] <video-id>      Resolve audio for one video
  ytfeed check                           Check that yt-dlp is installed
  ytfeed help                            Show this help message

Configuration is read from ytfeed.json, .env and YTFEED_* variables.

Examples:
  ytfeed                                          # Serve on :8080
  ytfeed serve --addr 127.0.0.1:9000              # Serve on another address
  ytfeed extract --extractor race dQw4w9WgXcQ     # Show the winning source
  ytfeed extract -o song.m4a dQw4w9WgXcQ          # Save the audio

For help on specific command: ytfeed <command> -h
`)
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "Listen address (overrides YTFEED_LISTEN_ADDR)")
	fs.Parse(args)

	cfg := loadConfig()
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(cfg, logger)
	if err != nil {
		logger.Fatalw("failed to start", "error", err)
	}
	defer a.close()

	if version, err := a.tool.CheckInstalled(ctx); err != nil {
		logger.Warnw("yt-dlp unavailable, local extractors will fail", "path", cfg.YtdlpPath, "error", err)
	} else {
		logger.Infow("yt-dlp found", "path", cfg.YtdlpPath, "version", version)
	}

	go a.directory.Run(ctx)

	logger.Infow("starting ytfeed",
		"addr", cfg.ListenAddr,
		"cacheDir", cfg.CacheDir,
		"extractors", a.audio.Names(),
		"proxy", cfg.RedactedProxy(),
	)

	srv := server.New(a.audio, a.directory, a.cache, logger)
	if err := srv.Run(ctx, cfg.ListenAddr); err != nil {
		logger.Errorw("server stopped", "error", err)
		return
	}
	logger.Infow("shutdown complete")
}

func cmdExtract(args []string) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	selector := fs.String("extractor", audio.DefaultSelector, "Extractor name or race")
	output := fs.String("o", "", "Write the audio to this file (stream and file results)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ytfeed extract [flags] <video-id>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Error: missing video-id\n")
		fs.Usage()
		os.Exit(1)
	}
	videoID := fs.Arg(0)

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	// a private cache, the server's directory is wiped on open
	dir, err := os.MkdirTemp("", "ytfeed-extract-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)
	cfg.CacheDir = dir

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	res, err := a.audio.Extract(ctx, videoID, *selector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer res.Close()

	var body io.Reader
	switch v := res.(type) {
	case *extractor.Proxy:
		fmt.Printf("proxy: %s\n", v.URL)
		for k := range v.Header {
			fmt.Printf("  %s: %s\n", k, v.Header.Get(k))
		}
	case *extractor.Stream:
		fmt.Printf("stream: %s\n", v.MIMEType)
		body = v.Body
	case *extractor.File:
		fmt.Printf("file: %s (%s)\n", v.File.Name(), v.MIMEType)
		body = v.File
	}

	if *output == "" || body == nil {
		return
	}
	if err := writeFile(*output, body); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", *output)
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.Parse(args)

	cfg := loadConfig()
	tool := extractor.NewYtdlp(cfg.YtdlpPath, cfg.YtdlpProxy, int64(cfg.YtdlpConcurrency), nil)
	version, err := tool.CheckInstalled(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("yt-dlp %s at %s\n", version, cfg.YtdlpPath)
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// app holds the wired components.
type app struct {
	client    *ythttp.Client
	directory *piped.Directory
	cache     *audiocache.Cache
	tool      *extractor.Ytdlp
	audio     *audio.Service
}

func build(cfg *config.Config, logger *zap.SugaredLogger) (*app, error) {
	httpCfg := ythttp.DefaultConfig()
	httpCfg.Proxy = cfg.YtdlpProxy
	httpCfg.Retry.MaxRetries = cfg.MaxRetries
	httpCfg.Retry.InitialBackoff = cfg.InitialBackoff
	httpCfg.Retry.MaxBackoff = cfg.MaxBackoff
	httpCfg.Retry.Multiplier = cfg.BackoffMultiplier
	client, err := ythttp.New(httpCfg)
	if err != nil {
		return nil, fmt.Errorf("http client: %w", err)
	}

	directory := piped.NewDirectory(piped.Config{
		Default:         cfg.PipedInstance,
		ListURL:         cfg.PipedDirectoryURL,
		RefreshInterval: cfg.PipedRefresh,
	}, client, logger.Named("piped"))

	cache, err := audiocache.New(audiocache.Config{
		Dir:      cfg.CacheDir,
		Capacity: cfg.CacheCapacity,
		TTL:      cfg.CacheTTL,
	}, logger.Named("cache"))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("audio cache: %w", err)
	}

	embedded, err := extractor.NewEmbedded(cfg.YtdlpProxy)
	if err != nil {
		cache.Close()
		client.Close()
		return nil, fmt.Errorf("embedded extractor: %w", err)
	}

	tool := extractor.NewYtdlp(cfg.YtdlpPath, cfg.YtdlpProxy, int64(cfg.YtdlpConcurrency), logger.Named("yt-dlp"))

	svc := audio.New(audio.Config{
		RaceLimit: cfg.RaceLimit,
		Client:    client.StreamingClient(),
	}, logger.Named("audio"),
		extractor.NewPiped(client, directory),
		embedded,
		extractor.NewLocalURL(tool),
		extractor.NewLocalStream(tool),
		extractor.NewLocalFile(tool, cache),
	)

	return &app{
		client:    client,
		directory: directory,
		cache:     cache,
		tool:      tool,
		audio:     svc,
	}, nil
}

func (a *app) close() {
	a.cache.Close()
	if err := a.client.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close http client: %v\n", err)
	}
}

func newLogger(level string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	case "warn", "warning":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger.Sugar()
}
