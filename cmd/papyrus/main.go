package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/a3tai/papyrus-engine/internal/annotations"
	"github.com/a3tai/papyrus-engine/internal/config"
	"github.com/a3tai/papyrus-engine/internal/engine/factory"
	"github.com/a3tai/papyrus-engine/internal/mcp"
	"github.com/a3tai/papyrus-engine/internal/store"
	"github.com/a3tai/papyrus-engine/internal/viewer"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

// setupLogging configures logging based on the server mode and returns the
// structured logger handed to the engine packages
func setupLogging(cfg *config.Config) *slog.Logger {
	var out io.Writer = os.Stderr
	if cfg.IsStdioMode() {
		// stdout carries the MCP protocol; stay quiet unless debugging
		if !cfg.IsDebug() {
			out = io.Discard
		}
	} else {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
	log.SetOutput(out)

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// openRepository builds the configured annotation store. The returned
// close function releases its connections.
func openRepository(ctx context.Context, cfg *config.Config) (annotations.Repository, func(), error) {
	switch cfg.Annotations {
	case config.AnnotationsMemory:
		return annotations.NewMemoryStore(), func() {}, nil
	case config.AnnotationsRedis:
		client, err := annotations.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return annotations.NewRedisStore(client, 0), func() { _ = client.Close() }, nil
	case config.AnnotationsSQLite:
		db, err := annotations.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

// newSession wires the engine factory, view-state store and annotation
// store into a viewer session
func newSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*viewer.Session, func(), error) {
	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s annotation store: %w", cfg.Annotations, err)
	}

	fc := cfg.FactoryConfig()
	fc.Logger = logger
	engines := factory.New(fc)

	s := store.New(nil)
	s.Initialize(cfg.ViewerConfig())

	opts := []viewer.Option{viewer.WithStore(s), viewer.WithLogger(logger)}
	if repo != nil {
		opts = append(opts, viewer.WithRepository(repo))
	}
	session := viewer.New(engines, opts...)

	return session, func() {
		session.Shutdown()
		engines.Close()
		closeRepo()
	}, nil
}

// runServerMode handles server mode execution with signal handling
func runServerMode(ctx context.Context, cancel context.CancelFunc, server *mcp.Server) error {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signalCh)

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.Run(ctx)
	}()

	select {
	case sig := <-signalCh:
		log.Printf("Received signal: %s", sig)
		log.Println("Initiating graceful shutdown...")
		cancel()

		if err := <-serverErrCh; err != nil {
			return fmt.Errorf("server shutdown with error: %w", err)
		}

	case err := <-serverErrCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Println("Server stopped successfully")
	return nil
}

// runStdioMode handles stdio mode execution
func runStdioMode(ctx context.Context, server *mcp.Server) error {
	// The parent process controls our lifecycle through stdin
	return server.Run(ctx)
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			printVersion()
			return
		}
	}

	cfg, err := config.LoadFromFlags()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := setupLogging(cfg)

	if version != "dev" {
		cfg.Version = version
	}

	if cfg.IsDebug() {
		log.Printf("Starting with configuration: %s", cfg.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, cleanup, err := newSession(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create viewer session: %v", err)
	}

	server, err := mcp.NewServer(cfg, session)
	if err != nil {
		cleanup()
		log.Fatalf("Failed to create MCP server: %v", err)
	}

	if cfg.IsServerMode() {
		err = runServerMode(ctx, cancel, server)
	} else {
		err = runStdioMode(ctx, server)
	}
	cleanup()
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("Papyrus Engine\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Git Commit: %s\n", gitCommit)
	fmt.Printf("Built with: %s\n", runtime.Version())
}
