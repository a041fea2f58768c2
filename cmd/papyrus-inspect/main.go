package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/engine/factory"
	"github.com/a3tai/papyrus-engine/internal/render"
	"github.com/a3tai/papyrus-engine/internal/search"
	"github.com/a3tai/papyrus-engine/internal/source"
)

// options holds the parsed command line
type options struct {
	format  string
	engine  string
	docType string
	query   string
	text    int
	render  int
	scale   float64
	out     string
	verbose bool
	timeout time.Duration
}

// InspectionResult is everything papyrus-inspect learned about a document
type InspectionResult struct {
	Source         string                `json:"source"`
	Type           engine.DocumentType   `json:"type"`
	Engine         string                `json:"engine"`
	PageCount      int                   `json:"page_count"`
	Pages          []engine.Dimensions   `json:"pages"`
	Outline        []engine.OutlineItem  `json:"outline"`
	Query          string                `json:"query,omitempty"`
	Matches        []engine.SearchResult `json:"matches,omitempty"`
	Text           string                `json:"text,omitempty"`
	Rendered       string                `json:"rendered,omitempty"`
	InspectionTime string                `json:"inspection_time"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("papyrus-inspect", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.format, "format", "text", "Output format: text, json")
	fs.StringVar(&opts.engine, "engine", "auto", "Engine to open the document with")
	fs.StringVar(&opts.docType, "type", "", "Document type (pdf, epub, text); inferred when empty")
	fs.StringVar(&opts.query, "search", "", "Search the document for this text")
	fs.IntVar(&opts.text, "text", 0, "Print the text of this page (1-based)")
	fs.IntVar(&opts.render, "render", 0, "Render this page (1-based) to --out")
	fs.Float64Var(&opts.scale, "scale", 1, "Render scale")
	fs.StringVar(&opts.out, "out", "page.png", "PNG file written by --render")
	fs.BoolVar(&opts.verbose, "verbose", false, "Log engine activity to stderr")
	fs.DurationVar(&opts.timeout, "timeout", time.Minute, "Give up after this long")
	help := fs.BoolP("help", "h", false, "Show help message")
	fs.Usage = func() { printHelp(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *help {
		printHelp(stdout, fs)
		return 0
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(stderr, "Error: document path or URL required\n\n")
		printHelp(stderr, fs)
		return 2
	}
	if opts.format != "text" && opts.format != "json" {
		fmt.Fprintf(stderr, "Error: unsupported output format: %s\n", opts.format)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	result, err := inspect(ctx, fs.Arg(0), opts, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := outputResults(stdout, opts.format, result); err != nil {
		fmt.Fprintf(stderr, "Error outputting results: %v\n", err)
		return 1
	}
	return 0
}

func printHelp(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "Papyrus Inspect - open a document with the Papyrus engines and report what they see")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  papyrus-inspect [OPTIONS] <document>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "OPTIONS:")
	fmt.Fprint(w, fs.FlagUsages())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "EXAMPLES:")
	fmt.Fprintln(w, "  papyrus-inspect report.pdf")
	fmt.Fprintln(w, "  papyrus-inspect --search whale --format json moby-dick.epub")
	fmt.Fprintln(w, "  papyrus-inspect --render 3 --scale 2 --out cover.png report.pdf")
	fmt.Fprintln(w, "  papyrus-inspect --engine mobile https://example.com/book.epub")
}

func inspect(ctx context.Context, location string, opts options, stderr io.Writer) (*InspectionResult, error) {
	start := time.Now()

	kind, err := factory.ParseKind(opts.engine)
	if err != nil {
		return nil, err
	}

	logOut := io.Discard
	if opts.verbose {
		logOut = stderr
	}
	cfg := factory.DefaultConfig()
	cfg.Kind = kind
	cfg.Logger = slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelDebug}))
	engines := factory.New(cfg)
	defer engines.Close()

	req := engine.LoadRequest{Source: source.FromURI(location), Type: engine.DocumentType(opts.docType)}
	eng, err := engines.CreateFor(req)
	if err != nil {
		return nil, err
	}
	defer eng.Destroy()

	if err := eng.Load(ctx, req); err != nil {
		return nil, err
	}

	result := &InspectionResult{
		Source:    location,
		Type:      engine.InferType(req),
		Engine:    fmt.Sprintf("%T", eng),
		PageCount: eng.PageCount(),
		Pages:     make([]engine.Dimensions, 0, eng.PageCount()),
	}

	for i := 0; i < eng.PageCount(); i++ {
		dims, err := eng.PageDimensions(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("page %d dimensions: %w", i+1, err)
		}
		result.Pages = append(result.Pages, dims)
	}

	if result.Outline, err = eng.Outline(ctx); err != nil {
		return nil, fmt.Errorf("outline: %w", err)
	}

	if opts.query != "" {
		result.Query = opts.query
		if result.Matches, err = search.New(eng, search.WithLogger(cfg.Logger)).Search(ctx, opts.query); err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
	}

	if opts.text > 0 {
		if !engine.ValidPage(opts.text, eng.PageCount()) {
			return nil, fmt.Errorf("text page %d out of range (1-%d)", opts.text, eng.PageCount())
		}
		items, err := eng.TextContent(ctx, opts.text-1)
		if err != nil {
			return nil, fmt.Errorf("page %d text: %w", opts.text, err)
		}
		result.Text = search.PageText(items)
	}

	if opts.render > 0 {
		if err := renderPage(ctx, eng, opts); err != nil {
			return nil, err
		}
		abs, err := filepath.Abs(opts.out)
		if err != nil {
			abs = opts.out
		}
		result.Rendered = abs
	}

	result.InspectionTime = time.Since(start).Round(time.Millisecond).String()
	return result, nil
}

func renderPage(ctx context.Context, eng engine.DocumentEngine, opts options) error {
	if !engine.ValidPage(opts.render, eng.PageCount()) {
		return fmt.Errorf("render page %d out of range (1-%d)", opts.render, eng.PageCount())
	}
	target := render.NewImageTarget("inspect", 0, 0)
	if err := eng.RenderPage(ctx, opts.render-1, target, opts.scale); err != nil {
		return err
	}
	png, err := target.PNG(engine.LayerPage)
	if err != nil {
		return fmt.Errorf("encode page %d: %w", opts.render, err)
	}
	if err := os.WriteFile(opts.out, png, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", opts.out, err)
	}
	return nil
}

func outputResults(w io.Writer, format string, result *InspectionResult) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	case "text":
		return outputText(w, result)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func outputText(w io.Writer, result *InspectionResult) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s\n", result.Source)
	fmt.Fprintf(&b, "Type: %s (%s)\n", result.Type, result.Engine)
	fmt.Fprintf(&b, "Pages: %d\n", result.PageCount)
	for i, dims := range result.Pages {
		if i >= 10 {
			fmt.Fprintf(&b, "  ... and %d more pages\n", len(result.Pages)-10)
			break
		}
		fmt.Fprintf(&b, "  %d. %g x %g\n", i+1, dims.Width, dims.Height)
	}

	if len(result.Outline) > 0 {
		b.WriteString("\nOutline:\n")
		writeOutline(&b, result.Outline, 1)
	}

	if result.Query != "" {
		fmt.Fprintf(&b, "\nSearch %q: %d matches\n", result.Query, len(result.Matches))
		for i, m := range result.Matches {
			fmt.Fprintf(&b, "  %d. page %d: %s\n", i+1, m.PageIndex+1, m.Text)
		}
	}

	if result.Text != "" {
		fmt.Fprintf(&b, "\nText:\n%s\n", result.Text)
	}
	if result.Rendered != "" {
		fmt.Fprintf(&b, "\nRendered: %s\n", result.Rendered)
	}
	fmt.Fprintf(&b, "\nInspected in %s\n", result.InspectionTime)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeOutline(b *strings.Builder, items []engine.OutlineItem, depth int) {
	for _, item := range items {
		page := "-"
		if item.PageIndex != engine.NoPage {
			page = fmt.Sprint(item.PageIndex + 1)
		}
		fmt.Fprintf(b, "%s%s (page %s)\n", strings.Repeat("  ", depth), item.Title, page)
		writeOutline(b, item.Children, depth+1)
	}
}
