// Package factory builds document engines by kind and wires the remote
// backends to their in-process counterparts.
package factory

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/a3tai/papyrus-engine/internal/bridge"
	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/engine/epubengine"
	"github.com/a3tai/papyrus-engine/internal/engine/mobile"
	"github.com/a3tai/papyrus-engine/internal/engine/nativeengine"
	"github.com/a3tai/papyrus-engine/internal/engine/pdfengine"
	"github.com/a3tai/papyrus-engine/internal/engine/textengine"
	"github.com/a3tai/papyrus-engine/internal/engine/webview"
	"github.com/a3tai/papyrus-engine/internal/runtime"
	"github.com/a3tai/papyrus-engine/internal/source"
)

const backend = "factory"

// Kind selects a backend.
type Kind string

const (
	KindAuto    Kind = "auto"
	KindPDF     Kind = "pdf"
	KindEPUB    Kind = "epub"
	KindText    Kind = "text"
	KindNative  Kind = "native"
	KindWebView Kind = "webview"
	KindMobile  Kind = "mobile"
)

// ParseKind validates a backend name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k == "" {
		return KindAuto, nil
	}
	for _, supported := range SupportedKinds() {
		if k == supported {
			return k, nil
		}
	}
	return "", fmt.Errorf("invalid engine: %s (must be one of: %s)", s, kindList())
}

// SupportedKinds returns every kind Create accepts.
func SupportedKinds() []Kind {
	return []Kind{KindAuto, KindPDF, KindEPUB, KindText, KindNative, KindWebView, KindMobile}
}

func kindList() string {
	names := make([]string, 0, len(SupportedKinds()))
	for _, k := range SupportedKinds() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

// Capabilities describes what a backend offers beyond the base contract.
type Capabilities struct {
	Types     []engine.DocumentType `json:"types"`
	Search    bool                  `json:"search"`
	Selection bool                  `json:"selection"`
	Remote    bool                  `json:"remote"`
}

// KindCapabilities returns the capabilities of each concrete kind.
func KindCapabilities() map[Kind]Capabilities {
	all := []engine.DocumentType{engine.TypePDF, engine.TypeEPUB, engine.TypeText}
	return map[Kind]Capabilities{
		KindPDF:     {Types: []engine.DocumentType{engine.TypePDF}, Selection: true},
		KindEPUB:    {Types: []engine.DocumentType{engine.TypeEPUB}, Selection: true},
		KindText:    {Types: []engine.DocumentType{engine.TypeText}, Selection: true},
		KindNative:  {Types: all, Search: true, Selection: true, Remote: true},
		KindWebView: {Types: []engine.DocumentType{engine.TypeEPUB, engine.TypeText}, Search: true, Selection: true, Remote: true},
		KindMobile:  {Types: all, Search: true, Selection: true, Remote: true},
	}
}

// Connector attaches a webview engine to a runtime and returns a function
// releasing the connection.
type Connector func(e *webview.Engine) (func(), error)

// Config configures a Factory.
type Config struct {
	// Kind is used by Create when KindAuto is passed to CreateFor.
	Kind Kind

	MaxFileSize    int64
	RequestTimeout time.Duration
	LoadTimeout    time.Duration

	// Fetcher resolves URIs. Nil uses the default fetcher.
	Fetcher source.Fetcher

	// Registry holds the host module for native engines. Nil registers an
	// in-process host backed by the PDF engine.
	Registry *nativeengine.Registry

	// Connect attaches webview engines. Nil runs an in-process runtime.
	Connect Connector

	Logger *slog.Logger
}

// DefaultConfig returns the configuration used by New when none is given.
func DefaultConfig() Config {
	return Config{
		Kind:           KindAuto,
		MaxFileSize:    source.DefaultMaxSize,
		RequestTimeout: webview.DefaultTimeout,
		LoadTimeout:    webview.DefaultLoadTimeout,
	}
}

// Factory creates engines sharing one normalizer, registry and logger.
type Factory struct {
	config     Config
	normalizer *source.Normalizer
	registry   *nativeengine.Registry
	logger     *slog.Logger

	mu      sync.Mutex
	closers []func()
}

// New creates a factory.
func New(config Config) *Factory {
	if config.Kind == "" {
		config.Kind = KindAuto
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		config:     config,
		normalizer: source.NewNormalizer(config.Fetcher, config.MaxFileSize),
		registry:   config.Registry,
		logger:     logger,
	}
	if f.registry == nil {
		f.registry = nativeengine.NewRegistry()
		f.registry.Register(nativeengine.ModuleName, nativeengine.NewLocalHost(func() engine.DocumentEngine {
			return pdfengine.New(pdfengine.WithNormalizer(f.normalizer), pdfengine.WithLogger(f.logger))
		}))
	}
	return f
}

// Config returns the factory configuration.
func (f *Factory) Config() Config {
	return f.config
}

// Registry returns the host module registry used by native engines.
func (f *Factory) Registry() *nativeengine.Registry {
	return f.registry
}

// Normalizer returns the shared source normalizer.
func (f *Factory) Normalizer() *source.Normalizer {
	return f.normalizer
}

// Create builds an engine of the given kind. KindAuto falls back to the
// configured kind, and to the PDF engine when that is auto too.
func (f *Factory) Create(kind Kind) (engine.DocumentEngine, error) {
	switch kind {
	case KindPDF:
		return pdfengine.New(pdfengine.WithNormalizer(f.normalizer), pdfengine.WithLogger(f.logger)), nil
	case KindEPUB:
		return epubengine.New(epubengine.WithNormalizer(f.normalizer), epubengine.WithLogger(f.logger)), nil
	case KindText:
		return textengine.New(textengine.WithNormalizer(f.normalizer), textengine.WithLogger(f.logger)), nil
	case KindNative:
		return f.native(), nil
	case KindWebView:
		return f.webview()
	case KindMobile:
		web, err := f.webview()
		if err != nil {
			return nil, err
		}
		return mobile.New(f.native(), web, mobile.WithLogger(f.logger)), nil
	case KindAuto:
		if f.config.Kind != KindAuto {
			return f.Create(f.config.Kind)
		}
		return f.Create(KindPDF)
	default:
		return nil, engine.Errorf(engine.KindUnsupportedType, backend, "create", "unknown engine kind: %s", kind)
	}
}

// CreateFor builds the engine that should open req. With an auto kind the
// engine is picked from the inferred document type.
func (f *Factory) CreateFor(req engine.LoadRequest) (engine.DocumentEngine, error) {
	if f.config.Kind != KindAuto {
		return f.Create(f.config.Kind)
	}
	switch engine.InferType(req) {
	case engine.TypeEPUB:
		return f.Create(KindEPUB)
	case engine.TypeText:
		return f.Create(KindText)
	default:
		return f.Create(KindPDF)
	}
}

func (f *Factory) native() *nativeengine.Engine {
	return nativeengine.New(f.registry,
		nativeengine.WithNormalizer(f.normalizer),
		nativeengine.WithLogger(f.logger))
}

func (f *Factory) webview() (*webview.Engine, error) {
	e := webview.New(
		webview.WithNormalizer(f.normalizer),
		webview.WithLogger(f.logger),
		webview.WithTimeouts(f.config.RequestTimeout, f.config.LoadTimeout))

	connect := f.config.Connect
	if connect == nil {
		connect = f.embedded
	}
	release, err := connect(e)
	if err != nil {
		return nil, engine.NewError(engine.KindHostUnavailable, backend, "connect", err)
	}
	if release != nil {
		f.mu.Lock()
		f.closers = append(f.closers, release)
		f.mu.Unlock()
	}
	return e, nil
}

// embedded connects e to an in-process runtime over a pipe.
func (f *Factory) embedded(e *webview.Engine) (func(), error) {
	client, server := bridge.Pipe()
	rt := runtime.New(server,
		runtime.WithNormalizer(f.normalizer),
		runtime.WithLogger(f.logger.With("component", "runtime")))
	server.OnMessage(rt.HandleMessage)
	client.OnMessage(e.HandleMessage)
	e.Attach(client)
	if err := rt.Start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start runtime: %w", err)
	}
	return func() {
		rt.Close()
		client.Close()
	}, nil
}

// Close releases every runtime connection opened by the factory.
func (f *Factory) Close() {
	f.mu.Lock()
	closers := f.closers
	f.closers = nil
	f.mu.Unlock()

	for _, c := range closers {
		c()
	}
}
