package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kalambet/cybermentor/internal/api"
	"github.com/kalambet/cybermentor/internal/config"
	"github.com/kalambet/cybermentor/internal/engine"
	"github.com/kalambet/cybermentor/internal/ingest"
	"github.com/kalambet/cybermentor/internal/intent"
	"github.com/kalambet/cybermentor/internal/knowledge"
	"github.com/kalambet/cybermentor/internal/logging"
	"github.com/kalambet/cybermentor/internal/pipeline"
	"github.com/kalambet/cybermentor/internal/retrieval"
	"github.com/kalambet/cybermentor/internal/router"
	"github.com/kalambet/cybermentor/internal/storage"
	"github.com/kalambet/cybermentor/internal/toolexec"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cybermentor server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cybermentor system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdin/stdout")
}

// models returns the chat and embedding model names for the configured backend.
func models(cfg config.Config) (chat, embed string) {
	if cfg.Engine.Backend == "ollama" {
		return cfg.Ollama.Model, cfg.Ollama.EmbedModel
	}
	return cfg.Gemini.Model, cfg.Gemini.EmbedModel
}

// app is the wired request path plus its background worker.
type app struct {
	store     *storage.Store
	index     *knowledge.Index
	retriever *retrieval.Retriever
	router    *router.Router
	worker    *ingest.Worker
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	eng, err := engine.Detect(ctx, engine.DetectConfig{
		Backend:       cfg.Engine.Backend,
		GeminiAPIKey:  cfg.Gemini.APIKey,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		Temperature:   cfg.Generation.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("detecting inference engine: %w", err)
	}

	chatModel, embedModel := models(cfg)
	if err := engine.EnsureReady(ctx, eng, chatModel, embedModel, cfg.Engine.Backend == "ollama", os.Stderr); err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	index := knowledge.NewIndex(store, knowledge.NewEmbedder(eng, embedModel), logger.Named("knowledge"))
	if _, err := index.Load(ctx, false); err != nil {
		store.Close()
		return nil, fmt.Errorf("loading knowledge index: %w", err)
	}

	ret := retrieval.New(index, retrieval.Options{StrictSourceMatch: cfg.Retrieval.StrictSourceMatch}, logger.Named("retrieval"))
	gen := engine.NewTextGenerator(eng, chatModel, cfg.Generation.Timeout)
	listener := toolexec.NewListenerClient(cfg.Tools.ListenerURL, cfg.Tools.Timeout)

	rt := router.New(router.Deps{
		Classifier: intent.NewClassifier(gen, logger.Named("intent")),
		Retriever:  ret,
		Generator:  gen,
		Planner: pipeline.NewPlanner(pipeline.PlanDeps{
			Generator:   gen,
			Retriever:   ret,
			ManualGuide: cfg.Pipeline.ManualGuide,
		}, logger.Named("pipeline")),
		Tools: toolexec.NewAgent(gen, listener, logger.Named("toolexec")),
	}, logger.Named("router"))

	worker := ingest.NewWorker(store, index, ingest.NewHTTPFetcher(nil), 500*time.Millisecond, logger.Named("ingest")).
		WithGenerator(gen)

	return &app{
		store:     store,
		index:     index,
		retriever: ret,
		router:    rt,
		worker:    worker,
	}, nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "cybermentor version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer logger.Sync()

	apiToken, err := config.APIToken(cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		printWarning("cybermentor is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	handler := api.NewHandler(api.Deps{
		Router:    a.router,
		Retriever: a.retriever,
		Store:     a.store,
		Index:     a.index,
		Token:     apiToken,
		Logger:    logger.Named("api"),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go a.worker.Run(ctx)

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Router:    a.router,
			Retriever: a.retriever,
			Store:     a.store,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", zap.Error(err))
			}
		}()
		logger.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.Int("chunks", a.index.Count()))
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

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		running = resp.StatusCode == http.StatusOK
		if running {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	chatModel, embedModel := models(cfg)
	printStatus("Backend", "%s", cfg.Engine.Backend)
	printStatus("Chat model", "%s", chatModel)
	printStatus("Embed model", "%s", embedModel)
	if cfg.Engine.Backend == "ollama" {
		if r, err := client.Get(cfg.Ollama.BaseURL + "/api/version"); err != nil {
			printStatus("Ollama", "not running")
		} else {
			r.Body.Close()
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		}
	}
	printStatus("Tool listener", "%s", cfg.Tools.ListenerURL)

	if running {
		if c, err := newAPIClient(); err == nil {
			var stats struct {
				Sources int `json:"sources"`
				Chunks  int `json:"chunks"`
				Jobs    struct {
					Pending int `json:"pending"`
					Failed  int `json:"failed"`
				} `json:"jobs"`
			}
			if r, err := c.get(context.Background(), "/stats"); err == nil && decodeJSON(r, &stats) == nil {
				printStatus("Sources", "%d (%d chunks)", stats.Sources, stats.Chunks)
				printStatus("Jobs", "%d pending, %d failed", stats.Jobs.Pending, stats.Jobs.Failed)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
