package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/studygenie/studygenie/internal/api"
	"github.com/studygenie/studygenie/internal/cards"
	"github.com/studygenie/studygenie/internal/composer"
	"github.com/studygenie/studygenie/internal/config"
	"github.com/studygenie/studygenie/internal/ingest"
	"github.com/studygenie/studygenie/internal/ollama"
	"github.com/studygenie/studygenie/internal/progress"
	"github.com/studygenie/studygenie/internal/quiz"
	"github.com/studygenie/studygenie/internal/retrieval"
	"github.com/studygenie/studygenie/internal/scheduler"
	"github.com/studygenie/studygenie/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the studygenie server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show studygenie system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "studygenie version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Single-instance guard on the data directory.
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	lock := flock.New(filepath.Join(cfg.Storage.DataDir, "studygenie.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring data dir lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another studygenie instance is using %s", cfg.Storage.DataDir)
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ollamaClient := ollama.New(cfg.Ollama.BaseURL, cfg.Ollama.EmbedModel, cfg.Ollama.GenModel)
	if !ollamaClient.IsRunning(ctx) {
		printWarning("Ollama is not reachable at %s, uploads and questions will fail until it starts", cfg.Ollama.BaseURL)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Wire the indexing and answering pipeline.
	embedder := retrieval.NewEmbedder(ollamaClient, cfg.Ollama.EmbedDim)
	vectorStore := retrieval.NewSQLiteStore(store.DB())
	retriever := retrieval.NewRetriever(embedder, vectorStore)
	splitter := ingest.NewSplitter(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	indexer := ingest.NewIndexer(store, vectorStore, embedder, splitter)
	comp := composer.New(ollamaClient)
	recorder := progress.NewRecorder(store)
	sched := scheduler.NewService(store, recorder)
	cardGen := cards.NewGenerator(ollamaClient, sched, store)
	quizSvc := quiz.NewService(ollamaClient, store, recorder)

	handler := api.NewAppHandler(api.AppDeps{
		Store:      store,
		Indexer:    indexer,
		Retriever:  retriever,
		Composer:   comp,
		Cards:      cardGen,
		Quiz:       quizSvc,
		Scheduler:  sched,
		Progress:   recorder,
		Token:      cfg.Server.Token,
		TopK:       cfg.Index.TopK,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server over stdio for agent hosts.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Retriever: retriever,
		Composer:  comp,
		Scheduler: sched,
		TopK:      cfg.Index.TopK,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "studygenie listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Gen model", "%s", cfg.Ollama.GenModel)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
