package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/a3tai/papyrus-engine/internal/config"
	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/source"
	"github.com/a3tai/papyrus-engine/internal/store"
	"github.com/a3tai/papyrus-engine/internal/testdocs"
)

const testVersion = "1.2.3"

func TestPrintVersion(t *testing.T) {
	originalStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}
	os.Stdout = w

	oldVersion, oldBuildTime, oldGitCommit := version, buildTime, gitCommit
	version = testVersion
	buildTime = "2023-12-01_10:30:00"
	gitCommit = "abc123"

	defer func() {
		version, buildTime, gitCommit = oldVersion, oldBuildTime, oldGitCommit
		os.Stdout = originalStdout
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		printVersion()
		w.Close()
	}()

	var buf bytes.Buffer
	io.Copy(&buf, r)
	<-done

	output := buf.String()
	for _, expected := range []string{
		"Papyrus Engine",
		"Version: " + testVersion,
		"Build Time: 2023-12-01_10:30:00",
		"Git Commit: abc123",
		"Built with:",
	} {
		if !strings.Contains(output, expected) {
			t.Errorf("printVersion() output missing expected string: %s\nActual output:\n%s", expected, output)
		}
	}
}

func TestSetupLogging(t *testing.T) {
	originalOutput := log.Writer()
	originalFlags := log.Flags()
	originalDefault := slog.Default()
	defer func() {
		log.SetOutput(originalOutput)
		log.SetFlags(originalFlags)
		slog.SetDefault(originalDefault)
	}()

	tests := []struct {
		name      string
		mode      string
		level     string
		wantQuiet bool
		wantDebug bool
	}{
		{name: "stdio info is silent", mode: config.ModeStdio, level: "info", wantQuiet: true},
		{name: "stdio debug logs to stderr", mode: config.ModeStdio, level: "debug", wantDebug: true},
		{name: "server warn", mode: config.ModeServer, level: "warn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Mode: tt.mode, LogLevel: tt.level}
			logger := setupLogging(cfg)

			if quiet := log.Writer() == io.Discard; quiet != tt.wantQuiet {
				t.Errorf("setupLogging() quiet = %v, want %v", quiet, tt.wantQuiet)
			}
			if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("setupLogging() debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if slog.Default() != logger {
				t.Error("setupLogging() should install the logger as the slog default")
			}
		})
	}
}

func TestOpenRepository(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	tests := []struct {
		name    string
		modify  func(c *config.Config)
		wantNil bool
		wantErr bool
	}{
		{name: "memory", modify: func(c *config.Config) {}},
		{name: "none", modify: func(c *config.Config) { c.Annotations = config.AnnotationsNone }, wantNil: true},
		{name: "sqlite", modify: func(c *config.Config) {
			c.Annotations = config.AnnotationsSQLite
			c.SQLitePath = filepath.Join(t.TempDir(), "annotations.db")
		}},
		{name: "redis", modify: func(c *config.Config) {
			c.Annotations = config.AnnotationsRedis
			c.RedisURL = "redis://" + mr.Addr() + "/0"
		}},
		{name: "redis bad url", modify: func(c *config.Config) {
			c.Annotations = config.AnnotationsRedis
			c.RedisURL = "not a url"
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)

			repo, closeRepo, err := openRepository(ctx, cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("openRepository() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("openRepository() error = %v", err)
			}
			defer closeRepo()

			if (repo == nil) != tt.wantNil {
				t.Fatalf("openRepository() repo = %v, wantNil %v", repo, tt.wantNil)
			}
			if repo == nil {
				return
			}
			if err := repo.Save(ctx, "doc", []store.Annotation{{ID: "a", Type: store.AnnotationText}}); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			got, err := repo.Load(ctx, "doc")
			if err != nil || len(got) != 1 {
				t.Errorf("Load() = %v, %v; want one annotation", got, err)
			}
		})
	}
}

func TestNewSession(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "doc.pdf"), testdocs.PDF(), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.DocumentDirectory = dir
	cfg.InitialZoom = 2

	session, cleanup, err := newSession(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}
	defer cleanup()

	if err := session.Open(context.Background(), engine.LoadRequest{Source: source.FromURI("doc.pdf")}, ""); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	st := session.State()
	if st.PageCount != 2 {
		t.Errorf("PageCount = %d, want 2", st.PageCount)
	}
	if st.Zoom != 2 {
		t.Errorf("Zoom = %g, want 2", st.Zoom)
	}
}
