// Command classify runs tomato leaf images through the local model or a
// remote prediction server and prints the diagnosis for each file.
//
//	classify [-backend local|remote] [-endpoint URL] [-workers N] [-top K] [-fetch-mask DIR] files...
//	classify -backend remote -endpoint URL -health
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/anime-shed/leaf-inspector-go/internal/backend"
	"github.com/anime-shed/leaf-inspector-go/internal/backend/onnx"
	"github.com/anime-shed/leaf-inspector-go/internal/config"
	"github.com/anime-shed/leaf-inspector-go/internal/decoder"
	apperrors "github.com/anime-shed/leaf-inspector-go/internal/errors"
	"github.com/anime-shed/leaf-inspector-go/internal/factory"
	"github.com/anime-shed/leaf-inspector-go/internal/knowledge"
	"github.com/anime-shed/leaf-inspector-go/internal/logger"
	"github.com/anime-shed/leaf-inspector-go/internal/pipeline"
	"github.com/anime-shed/leaf-inspector-go/internal/storage"
	"github.com/anime-shed/leaf-inspector-go/pkg/validation"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("classify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML config file")
	backendType := fs.String("backend", "", "inference backend: local or remote (default from config)")
	endpoint := fs.String("endpoint", "", "remote server base URL, e.g. http://192.168.1.10:5000")
	workers := fs.Int("workers", 4, "concurrent classifications")
	maskDir := fs.String("fetch-mask", "", "download remote mask overlays into this directory")
	topK := fs.Int("top", 0, "also list the K best labels (local backend)")
	health := fs.Bool("health", false, "check the remote server's /health before classifying")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 && !*health {
		fmt.Fprintln(stderr, "usage: classify [flags] image...")
		fs.PrintDefaults()
		return 2
	}

	// .env is optional
	_ = godotenv.Load()

	if *backendType != "" {
		os.Setenv(config.EnvPrefix+"BACKEND_TYPE", *backendType)
	}
	if *endpoint != "" {
		os.Setenv(config.EnvPrefix+"BACKEND_ENDPOINT", *endpoint)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}
	logger.Configure(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	// results own stdout
	if cfg.Log.File == "" {
		logger.Logger.SetOutput(stderr)
	}

	if cfg.Backend.Type == config.BackendRemote {
		if err := validation.NewURLValidator().ValidateEndpoint(cfg.Backend.Endpoint); err != nil {
			fmt.Fprintf(stderr, "endpoint: %v\n", err)
			return 2
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := factory.NewBackendFactory(cfg, storage.NewHTTPFetcher(), nil).CreateBackend(backend.Kind(cfg.Backend.Type))
	if err != nil {
		fmt.Fprintf(stderr, "backend: %v\n", err)
		return 1
	}
	if loader, ok := b.(*backend.Loader); ok {
		if _, err := loader.Load(ctx); err != nil {
			fmt.Fprintf(stderr, "model: %v\n", err)
			return 1
		}
		defer func() {
			loader.Close()
			onnx.DestroyEnvironment()
		}()
	}

	remote, _ := b.(*backend.Remote)
	if *health {
		if remote == nil {
			fmt.Fprintln(stdout, "local model: ok")
		} else if err := remote.Health(ctx); err != nil {
			fmt.Fprintf(stderr, "%s: unhealthy: %s\n", remote.Endpoint(), describeError(err))
			return 1
		} else {
			fmt.Fprintf(stdout, "%s: ok\n", remote.Endpoint())
		}
		if fs.NArg() == 0 {
			return 0
		}
	}

	kb := knowledge.Default()
	if cfg.Knowledge.Path != "" {
		if kb, err = knowledge.LoadFile(cfg.Knowledge.Path); err != nil {
			fmt.Fprintf(stderr, "knowledge: %v\n", err)
			return 1
		}
	}

	sources := make([]decoder.Source, 0, fs.NArg())
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", path, err)
			return 1
		}
		sources = append(sources, decoder.FromBytes(data, filepath.Base(path)))
	}

	failed := 0
	for _, item := range pipeline.New(b, pipeline.WithTopK(*topK)).ClassifyBatch(ctx, sources, *workers) {
		path := fs.Arg(item.Index)
		if item.Err != nil {
			failed++
			fmt.Fprintf(stdout, "%s: error: %s\n", path, describeError(item.Err))
			continue
		}

		pred := item.Result.Prediction
		fmt.Fprintf(stdout, "%s: %s (%.2f%%)\n  %s\n", path, pred.Label, percent(pred.Confidence, item.Result.Backend), kb.Describe(pred.Label))
		for i, c := range item.Result.Candidates {
			fmt.Fprintf(stdout, "  %d. %s (%.2f%%)\n", i+1, c.Label, percent(c.Confidence, item.Result.Backend))
		}

		if remote == nil || !item.Result.HasMask() {
			continue
		}
		fmt.Fprintf(stdout, "  mask: %s\n", remote.MaskURL(item.Result.Mask))
		if *maskDir != "" {
			if err := saveMask(ctx, remote, item.Result.Mask, *maskDir); err != nil {
				fmt.Fprintf(stderr, "%s: mask: %v\n", path, err)
			}
		}
	}

	if failed > 0 {
		return 1
	}
	return 0
}

func saveMask(ctx context.Context, remote *backend.Remote, mask, dir string) error {
	data, err := remote.FetchMask(ctx, mask)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, filepath.Base(mask)), data, 0o644)
}

func describeError(err error) string {
	var (
		classifyErr *apperrors.ClassificationError
		inferErr    *apperrors.InferenceError
	)
	switch {
	case errors.As(err, &classifyErr):
		return fmt.Sprintf("%s: %s", classifyErr.Stage, classifyErr.Message())
	case errors.As(err, &inferErr) && inferErr.Message != "":
		return fmt.Sprintf("%s: %s", inferErr.Kind, inferErr.Message)
	}
	return err.Error()
}

// percent converts local scores; remote servers already report percent
func percent(confidence float64, kind backend.Kind) float64 {
	if kind == backend.KindLocal {
		return confidence * 100
	}
	return confidence
}
