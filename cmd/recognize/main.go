package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/jo-hoe/recognizer/internal/batch"
	appcfg "github.com/jo-hoe/recognizer/internal/config"
	"github.com/jo-hoe/recognizer/internal/llm"
	"github.com/jo-hoe/recognizer/internal/llm/aiproxy"
	"github.com/jo-hoe/recognizer/internal/llm/mock"
	"github.com/jo-hoe/recognizer/internal/params"
	"github.com/jo-hoe/recognizer/internal/upload"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// paramFlags collects repeated -param key=value flags.
type paramFlags params.Bag

func (p paramFlags) String() string {
	pairs := make([]string, 0, len(p))
	for k, v := range p {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (p paramFlags) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	p[strings.TrimSpace(k)] = v
	return nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("recognize", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: recognize [-config file] [-lang L] [-concurrency N] [-param key=value ...] image...")
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "YAML config file (defaults apply when empty)")
	lang := fs.String("lang", "", "output language (default from config)")
	concurrency := fs.Int("concurrency", 0, "parallel requests (default from config)")
	verbose := fs.Bool("v", false, "debug logging")
	overrides := paramFlags{}
	fs.Var(overrides, "param", "recognition parameter key=value, repeatable")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	var cfg *appcfg.Config
	if *configPath != "" {
		loaded, err := appcfg.Load(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "load config: %v\n", err)
			return 1
		}
		cfg = loaded
	} else {
		cfg = appcfg.Default()
	}

	level := cfg.SlogLevel()
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	var recognizer llm.Recognizer
	switch cfg.LLM.Provider {
	case appcfg.ProviderMock:
		recognizer = mock.New(cfg.LLM.Mock)
	default:
		recognizer = aiproxy.New(logger)
	}

	language := cfg.Recognition.Language
	if *lang != "" {
		language = *lang
	}
	workers := cfg.Recognition.Concurrency
	if *concurrency > 0 {
		workers = *concurrency
	}

	maxBytes := int64(cfg.Server.MaxUploadSize) // #nosec G115 - configured upload limits fit in int64
	var (
		items   []batch.Item
		results = make([]batch.Result, fs.NArg())
		slots   []int
	)
	for i, path := range fs.Args() {
		name := filepath.Base(path)
		img, err := upload.ReadFile(path, maxBytes)
		if err != nil {
			results[i] = batch.Result{Name: name, Err: err}
			continue
		}
		logger.Debug("queued image", "file", path, "type", img.MimeType, "size", humanize.IBytes(uint64(img.Size)))
		items = append(items, batch.Item{Name: name, ImageBase64: img.Base64})
		slots = append(slots, i)
	}

	bag := params.Merge(cfg.Recognition.Parameters, params.Bag(overrides))
	for j, res := range batch.Run(ctx, logger, recognizer, items, language, bag, workers) {
		results[slots[j]] = res
	}

	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(stderr, "%s: error: %v\n", res.Name, res.Err)
			continue
		}
		fmt.Fprintf(stdout, "%s: %s\n", res.Name, res.Text)
	}
	if failed := batch.Failed(results); failed > 0 {
		logger.Warn("some images failed", "failed", failed, "total", len(results))
		return 1
	}
	return 0
}
