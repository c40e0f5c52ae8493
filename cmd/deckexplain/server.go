package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/deckexplain/internal/api"
	"github.com/kalambet/deckexplain/internal/blob"
	"github.com/kalambet/deckexplain/internal/completion"
	"github.com/kalambet/deckexplain/internal/config"
	"github.com/kalambet/deckexplain/internal/explain"
	"github.com/kalambet/deckexplain/internal/service"
	"github.com/kalambet/deckexplain/internal/storage"
	"github.com/kalambet/deckexplain/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withWorker, _ := cmd.Flags().GetBool("with-worker")
		return runServer(withWorker)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process pending uploads (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")
		return runWorker(once)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func init() {
	serveCmd.Flags().Bool("with-worker", false, "also run the background worker in this process")
	workerCmd.Flags().Bool("once", false, "make a single pass over pending uploads and exit")
}

// backends holds the stores every long-running command opens.
type backends struct {
	store   *storage.Store
	uploads blob.Store
	outputs blob.Store
}

func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	uploads, outputs, err := blob.Open(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening %s blob storage: %w", cfg.Storage.Backend, err)
	}
	return &backends{store: store, uploads: uploads, outputs: outputs}, nil
}

func (b *backends) Close() {
	if err := b.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

// newWorker wires the completion client, generator and worker from cfg.
func newWorker(cfg config.Config, b *backends) (*worker.Worker, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}

	cc := completion.NewClientWithBaseURL(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	cc.SetTimeout(config.Duration(cfg.OpenAI.Timeout, 60*time.Second))

	gen := explain.NewGenerator(cc, explain.Options{
		Model:       cfg.OpenAI.Model,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Cooldown:    config.Duration(cfg.Explain.RateLimitCooldown, 60*time.Second),
		Concurrency: cfg.Explain.Concurrency,
	})

	slog.Debug("completion client configured", "base_url", cfg.OpenAI.BaseURL, "model", cfg.OpenAI.Model)
	return worker.NewWorker(b.store, b.uploads, b.outputs, gen, worker.Options{
		PollInterval: config.Duration(cfg.Worker.PollInterval, 10*time.Second),
		MaxAttempts:  cfg.Worker.MaxAttempts,
	}), nil
}

func runServer(withWorker bool) error {
	fmt.Fprintf(os.Stderr, "deckexplain version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	var w *worker.Worker
	if withWorker {
		if w, err = newWorker(cfg, b); err != nil {
			return err
		}
	}

	handler := api.NewHandler(api.Deps{
		Uploads:        service.NewUploader(b.store, b.uploads),
		Reports:        service.NewStatusReader(b.store, b.outputs),
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
	})

	addr := cfg.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	workerDone := make(chan struct{})
	if w != nil {
		go func() {
			defer close(workerDone)
			w.Run(ctx)
		}()
	} else {
		close(workerDone)
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "deckexplain listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	var serveErr error
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("server error: %w", err)
		}
		stop()
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	<-workerDone
	return serveErr
}

func runWorker(once bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	w, err := newWorker(cfg, b)
	if err != nil {
		return err
	}

	if once {
		n, err := w.RunOnce(ctx)
		if err != nil {
			return err
		}
		printSuccess("Processed %d upload(s)", n)
		return nil
	}

	w.Run(ctx)
	return nil
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Uploads: service.NewUploader(b.store, b.uploads),
		Reports: service.NewStatusReader(b.store, b.outputs),
		Version: version,

		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
	})
	slog.Info("MCP server started (stdio transport)")
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
