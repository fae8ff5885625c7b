// Command voxengine is the single entry point for the retrieval
// engine: with -cmd set it runs one CLI command and exits; otherwise
// it starts the HTTP server on -addr. This mirrors (and replaces) the
// three separate binaries an earlier layout split across main.go,
// cmd/server, and cmd/cli - the external subprocess contract an
// embedding client drives ([]string{"-addr", addr, "-data", dir,
// "-dim", n} for the server, and "-cmd", name with JSON on stdin for
// single-shot commands) is unchanged.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/voxrig/vecengine/internal/api"
	"github.com/voxrig/vecengine/internal/cliapp"
	"github.com/voxrig/vecengine/internal/config"
	"github.com/voxrig/vecengine/internal/engine"
	"github.com/voxrig/vecengine/internal/index"
	"github.com/voxrig/vecengine/internal/observability"
	"github.com/voxrig/vecengine/internal/storage"
)

func main() {
	var (
		addr       = flag.String("addr", "", "listen address (e.g. 127.0.0.1:8080). If empty and -cmd is empty, the config default is used")
		cmd        = flag.String("cmd", "", "CLI command: ingest_message | ingest_document | retrieve")
		dataDir    = flag.String("data", "", "data directory for vectors.bin and metadata.db")
		dim        = flag.Int("dim", 0, "vector dimension")
		input      = flag.String("input", "", "JSON input payload for CLI mode (or pipe via stdin)")
		configPath = flag.String("config", "", "optional YAML config file")
	)
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	cfg = cfg.ApplyEnv()

	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *dim != 0 {
		cfg.Dim = *dim
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		os.Exit(1)
	}

	log, err := observability.NewLogger(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal("create data dir", zap.Error(err))
	}

	m := observability.NewMetrics(prometheus.DefaultRegisterer)

	vecPath := filepath.Join(cfg.DataDir, "vectors.bin")
	metaPath := filepath.Join(cfg.DataDir, "metadata.db")

	vecs, err := storage.NewMmapVectorStore(vecPath, cfg.Dim, log, m)
	if err != nil {
		log.Fatal("open vector store", zap.Error(err))
	}
	defer func() {
		if err := vecs.Close(); err != nil {
			log.Error("close vector store", zap.Error(err))
		}
	}()

	meta, err := storage.NewBoltMetadataStore(metaPath, log)
	if err != nil {
		log.Fatal("open metadata store", zap.Error(err))
	}
	defer func() {
		if err := meta.Close(); err != nil {
			log.Error("close metadata store", zap.Error(err))
		}
	}()

	if *cmd != "" {
		runCLI(log, *cmd, *input, vecs, meta)
		return
	}

	runServer(log, cfg, m, vecs, meta)
}

func runCLI(log *zap.Logger, cmdName, rawInput string, vecs storage.VectorStore, meta storage.MetadataStore) {
	payload, err := cliapp.ReadInput(rawInput)
	if err != nil {
		log.Fatal("read cli input", zap.Error(err))
	}

	app := &cliapp.App{Vecs: vecs, Meta: meta, Log: log}
	if err := app.Run(os.Stdout, cmdName, payload); err != nil {
		log.Fatal("cli command failed", zap.String("cmd", cmdName), zap.Error(err))
	}
}

func runServer(log *zap.Logger, cfg config.Config, m *observability.Metrics, vecs storage.VectorStore, meta storage.MetadataStore) {
	idx, err := index.Replay(vecs, log, m)
	if err != nil {
		log.Fatal("replay index", zap.Error(err))
	}
	eng := engine.NewEngine(idx, vecs, meta, log)

	var limiter *rate.Limiter
	if cfg.Rate.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate.RequestsPerSecond), cfg.Rate.Burst)
	}

	srv := api.NewServer(eng, idx, meta, vecs, log, m, limiter)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.String("data_dir", cfg.DataDir), zap.Int("dim", cfg.Dim))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server stopped gracefully")
}
