package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/engine/factory"
	"github.com/a3tai/papyrus-engine/internal/engine/webview"
	"github.com/a3tai/papyrus-engine/internal/source"
	"github.com/a3tai/papyrus-engine/internal/store"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Annotation backends
	AnnotationsNone   = "none"
	AnnotationsMemory = "memory"
	AnnotationsRedis  = "redis"
	AnnotationsSQLite = "sqlite"

	// Default values
	DefaultPort        = 8080
	DefaultHost        = "127.0.0.1"
	DefaultLogLevel    = "info"
	DefaultMaxFileSize = source.DefaultMaxSize
	DefaultEngine      = string(factory.KindAuto)
	DefaultAnnotations = AnnotationsMemory

	// Directory permissions
	DefaultDirPerm = 0o750
)

// Config holds all configuration for the Papyrus host
type Config struct {
	// Server configuration
	Mode string // "server" or "stdio"
	Host string
	Port int

	// Relative document paths resolve against this directory
	DocumentDirectory string

	// Application configuration
	Version     string
	ServerName  string
	LogLevel    string
	MaxFileSize int64 // Maximum document size in bytes

	// Engine configuration
	Engine         string
	RPCTimeout     time.Duration
	RPCLoadTimeout time.Duration

	// Annotation persistence
	Annotations string
	RedisURL    string
	SQLitePath  string

	// Viewer defaults
	InitialPage     int
	InitialZoom     float64
	InitialRotation int
	ViewMode        string
	UITheme         string
	PageTheme       string
	Locale          string
	AccentColor     string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		currentDir = "."
	}

	return &Config{
		Mode:              ModeStdio, // stdio is what MCP clients spawn
		Host:              DefaultHost,
		Port:              DefaultPort,
		DocumentDirectory: currentDir,
		Version:           "1.0.0",
		ServerName:        "papyrus",
		LogLevel:          DefaultLogLevel,
		MaxFileSize:       DefaultMaxFileSize,
		Engine:            DefaultEngine,
		RPCTimeout:        webview.DefaultTimeout,
		RPCLoadTimeout:    webview.DefaultLoadTimeout,
		Annotations:       DefaultAnnotations,
		InitialPage:       1,
		InitialZoom:       1.0,
		ViewMode:          string(store.ViewContinuous),
		UITheme:           string(store.UILight),
		PageTheme:         string(store.PageNormal),
		Locale:            store.LocaleEN,
		AccentColor:       store.DefaultAccentColor,
	}
}

// LoadFromFlags parses command line flags and returns a configuration
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	// Check for version flag before parsing
	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	populateConfigFromViper(cfg)

	if cfg.DocumentDirectory != "" {
		if expandedPath, err := filepath.Abs(cfg.DocumentDirectory); err == nil {
			cfg.DocumentDirectory = expandedPath
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	viper.SetEnvPrefix("PAPYRUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("host", cfg.Host)
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("dir", cfg.DocumentDirectory)
	viper.SetDefault("loglevel", cfg.LogLevel)
	viper.SetDefault("maxfilesize", cfg.MaxFileSize)
	viper.SetDefault("engine", cfg.Engine)
	viper.SetDefault("rpc-timeout", cfg.RPCTimeout)
	viper.SetDefault("rpc-load-timeout", cfg.RPCLoadTimeout)
	viper.SetDefault("annotations", cfg.Annotations)
	viper.SetDefault("redis-url", cfg.RedisURL)
	viper.SetDefault("sqlite-path", cfg.SQLitePath)
	viper.SetDefault("page", cfg.InitialPage)
	viper.SetDefault("zoom", cfg.InitialZoom)
	viper.SetDefault("rotation", cfg.InitialRotation)
	viper.SetDefault("view-mode", cfg.ViewMode)
	viper.SetDefault("ui-theme", cfg.UITheme)
	viper.SetDefault("page-theme", cfg.PageTheme)
	viper.SetDefault("locale", cfg.Locale)
	viper.SetDefault("accent-color", cfg.AccentColor)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("mode", cfg.Mode, "Server mode: 'stdio' for MCP standard I/O, 'server' for MCP over SSE")
	pflag.String("host", cfg.Host, "Server host address (server mode only)")
	pflag.Int("port", cfg.Port, "Server port (server mode only)")
	pflag.String("dir", cfg.DocumentDirectory, "Directory local document paths are confined to")
	pflag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pflag.Int64("maxfilesize", cfg.MaxFileSize, "Maximum document size in bytes")
	pflag.String("engine", cfg.Engine, "Document engine ("+kindList()+")")
	pflag.Duration("rpc-timeout", cfg.RPCTimeout, "WebView request timeout")
	pflag.Duration("rpc-load-timeout", cfg.RPCLoadTimeout, "WebView load request timeout")
	pflag.String("annotations", cfg.Annotations, "Annotation store (none, memory, redis, sqlite)")
	pflag.String("redis-url", cfg.RedisURL, "Redis URL for the redis annotation store")
	pflag.String("sqlite-path", cfg.SQLitePath, "Database file for the sqlite annotation store")
	pflag.Int("page", cfg.InitialPage, "Initial page (1-based)")
	pflag.Float64("zoom", cfg.InitialZoom, "Initial zoom factor")
	pflag.Int("rotation", cfg.InitialRotation, "Initial rotation in degrees (multiple of 90)")
	pflag.String("view-mode", cfg.ViewMode, "View mode (single, double, continuous)")
	pflag.String("ui-theme", cfg.UITheme, "UI theme (light, dark)")
	pflag.String("page-theme", cfg.PageTheme, "Page theme (normal, sepia, dark, high-contrast)")
	pflag.String("locale", cfg.Locale, "Interface locale (en, pt-BR)")
	pflag.String("accent-color", cfg.AccentColor, "Accent color as #rrggbb")
}

var keys = []string{
	"mode", "host", "port", "dir", "loglevel", "maxfilesize",
	"engine", "rpc-timeout", "rpc-load-timeout",
	"annotations", "redis-url", "sqlite-path",
	"page", "zoom", "rotation", "view-mode", "ui-theme", "page-theme", "locale", "accent-color",
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	for _, key := range keys {
		_ = viper.BindPFlag(key, pflag.Lookup(key))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nPapyrus - a document viewer engine driven over the Model Context Protocol\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                        # stdio mode, auto engine\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --engine=mobile --zoom=1.5             # native PDF, webview for the rest\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --annotations=sqlite --sqlite-path=a.db # persist annotations\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --port=8081              # MCP over SSE\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  Every option is also read from PAPYRUS_<OPTION>, dashes as underscores\n")
		fmt.Fprintf(os.Stderr, "  (for example PAPYRUS_RPC_TIMEOUT=10s, PAPYRUS_REDIS_URL=redis://localhost:6379/0)\n")
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return fmt.Errorf("version requested")
		}
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.Mode = viper.GetString("mode")
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.DocumentDirectory = viper.GetString("dir")
	cfg.LogLevel = viper.GetString("loglevel")
	cfg.MaxFileSize = viper.GetInt64("maxfilesize")
	cfg.Engine = viper.GetString("engine")
	cfg.RPCTimeout = viper.GetDuration("rpc-timeout")
	cfg.RPCLoadTimeout = viper.GetDuration("rpc-load-timeout")
	cfg.Annotations = viper.GetString("annotations")
	cfg.RedisURL = viper.GetString("redis-url")
	cfg.SQLitePath = viper.GetString("sqlite-path")
	cfg.InitialPage = viper.GetInt("page")
	cfg.InitialZoom = viper.GetFloat64("zoom")
	cfg.InitialRotation = viper.GetInt("rotation")
	cfg.ViewMode = viper.GetString("view-mode")
	cfg.UITheme = viper.GetString("ui-theme")
	cfg.PageTheme = viper.GetString("page-theme")
	cfg.Locale = viper.GetString("locale")
	cfg.AccentColor = viper.GetString("accent-color")
}

func kindList() string {
	kinds := factory.SupportedKinds()
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	// Port only matters in server mode
	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	if c.DocumentDirectory == "" {
		return errors.New("document directory cannot be empty")
	}
	if info, err := os.Stat(c.DocumentDirectory); err != nil {
		return fmt.Errorf("cannot access document directory %s: %w", c.DocumentDirectory, err)
	} else if !info.IsDir() {
		return fmt.Errorf("document directory %s is not a directory", c.DocumentDirectory)
	}

	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	if _, err := factory.ParseKind(c.Engine); err != nil {
		return err
	}
	if c.RPCTimeout <= 0 || c.RPCLoadTimeout <= 0 {
		return errors.New("rpc timeouts must be positive")
	}

	if err := c.validateAnnotations(); err != nil {
		return err
	}
	return c.validateViewer()
}

func (c *Config) validateAnnotations() error {
	switch c.Annotations {
	case AnnotationsNone, AnnotationsMemory:
		return nil
	case AnnotationsRedis:
		if c.RedisURL == "" {
			return errors.New("redis annotation store requires --redis-url")
		}
		return nil
	case AnnotationsSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite annotation store requires --sqlite-path")
		}
		return nil
	default:
		return fmt.Errorf("invalid annotation store: %s (must be one of: none, memory, redis, sqlite)", c.Annotations)
	}
}

func (c *Config) validateViewer() error {
	if c.InitialPage < 1 {
		return fmt.Errorf("initial page must be at least 1, got %d", c.InitialPage)
	}
	if c.InitialZoom <= 0 {
		return fmt.Errorf("initial zoom must be positive, got %g", c.InitialZoom)
	}
	if c.InitialRotation%90 != 0 {
		return fmt.Errorf("initial rotation must be a multiple of 90, got %d", c.InitialRotation)
	}
	if _, err := store.ParseViewMode(c.ViewMode); err != nil {
		return err
	}
	if _, err := store.ParseUITheme(c.UITheme); err != nil {
		return err
	}
	if _, err := store.ParsePageTheme(c.PageTheme); err != nil {
		return err
	}
	if c.Locale != store.LocaleEN && c.Locale != store.LocalePTBR {
		return fmt.Errorf("invalid locale: %s (must be one of: %s, %s)", c.Locale, store.LocaleEN, store.LocalePTBR)
	}
	if !isHexColor(c.AccentColor) {
		return fmt.Errorf("invalid accent color: %s (must be #rrggbb)", c.AccentColor)
	}
	return nil
}

func isHexColor(s string) bool {
	if len(s) != 7 || s[0] != '#' {
		return false
	}
	for _, r := range s[1:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

// FactoryConfig returns the engine factory configuration. Local document
// paths resolve against DocumentDirectory and may not leave it.
func (c *Config) FactoryConfig() factory.Config {
	kind, err := factory.ParseKind(c.Engine)
	if err != nil {
		kind = factory.KindAuto
	}
	fc := factory.DefaultConfig()
	fc.Kind = kind
	fc.MaxFileSize = c.MaxFileSize
	fc.RequestTimeout = c.RPCTimeout
	fc.LoadTimeout = c.RPCLoadTimeout
	fc.Fetcher = source.NewFetcher(
		source.WithConfinedDir(c.DocumentDirectory),
		source.WithMaxSize(c.MaxFileSize),
	)
	return fc
}

// ViewerConfig returns the initial view state.
func (c *Config) ViewerConfig() store.Config {
	viewMode, _ := store.ParseViewMode(c.ViewMode)
	uiTheme, _ := store.ParseUITheme(c.UITheme)
	pageTheme, _ := store.ParsePageTheme(c.PageTheme)
	rotation := engine.NormalizeRotation(c.InitialRotation)
	return store.Config{
		InitialPage:     &c.InitialPage,
		InitialZoom:     &c.InitialZoom,
		InitialRotation: &rotation,
		ViewMode:        &viewMode,
		UITheme:         &uiTheme,
		PageTheme:       &pageTheme,
		Locale:          &c.Locale,
		AccentColor:     &c.AccentColor,
	}
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, DocumentDirectory: %s, LogLevel: %s, MaxFileSize: %d, Engine: %s, Annotations: %s}",
		c.Mode, c.Host, c.Port, c.DocumentDirectory, c.LogLevel, c.MaxFileSize, c.Engine, c.Annotations)
}

// IsServerMode returns true if the server is running in HTTP server mode
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the server is running in stdio mode
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
