package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/chatcore/internal/agent"
	"github.com/hrygo/chatcore/internal/agent/orchestrator"
	"github.com/hrygo/chatcore/internal/bus"
	"github.com/hrygo/chatcore/internal/coordinator"
	"github.com/hrygo/chatcore/internal/embedprovider"
	"github.com/hrygo/chatcore/internal/llmprovider"
	"github.com/hrygo/chatcore/internal/observability"
	"github.com/hrygo/chatcore/internal/profile"
	"github.com/hrygo/chatcore/internal/registry"
	"github.com/hrygo/chatcore/internal/retrieval"
	"github.com/hrygo/chatcore/internal/store"
	"github.com/hrygo/chatcore/internal/store/memory"
	"github.com/hrygo/chatcore/internal/store/postgres"
	"github.com/hrygo/chatcore/internal/store/sqlite"
	"github.com/hrygo/chatcore/internal/transport"
	"github.com/hrygo/chatcore/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "chatcore",
	Short: "A streaming chat core: threads, messages, and pluggable agents over HTTP+SSE.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		return run()
	},
}

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("driver", "memory")
	viper.SetDefault("port", 8080)

	rootCmd.PersistentFlags().String("mode", "demo", `server mode: "prod", "dev", or "demo"`)
	rootCmd.PersistentFlags().String("addr", "0.0.0.0", "listen address")
	rootCmd.PersistentFlags().Int("port", 8080, "listen port")
	rootCmd.PersistentFlags().String("driver", "memory", "store driver: memory, postgres, sqlite")
	rootCmd.PersistentFlags().String("dsn", "", "data source name for the postgres/sqlite driver")
	rootCmd.PersistentFlags().String("data", "", "data directory for the sqlite driver")

	for _, name := range []string{"mode", "addr", "port", "driver", "dsn", "data"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("chatcore")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func run() error {
	p := &profile.Profile{
		Mode:   viper.GetString("mode"),
		Addr:   viper.GetString("addr"),
		Port:   viper.GetInt("port"),
		Driver: viper.GetString("driver"),
		DSN:    viper.GetString("dsn"),
		Data:   viper.GetString("data"),
	}
	p.FromEnv()
	// FromEnv resets the server fields from the environment; restore the
	// flag/viper values, which already include CHATCORE_* env overrides.
	p.Mode = viper.GetString("mode")
	p.Addr = viper.GetString("addr")
	p.Port = viper.GetInt("port")
	p.Driver = viper.GetString("driver")
	p.DSN = viper.GetString("dsn")
	p.Data = viper.GetString("data")
	p.Version = version.GetCurrentVersion(p.Mode)
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewBase(p.IsDev())
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, closer, err := openRepository(ctx, p)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if closer != nil {
		defer closer()
	}

	b := bus.New(logger)
	reg := registry.NewDistributed(b)
	defer reg.Close()

	agents := buildAgents(p, repo)

	coord := &coordinator.Coordinator{
		Repo:         repo,
		Registry:     reg,
		Agents:       agents,
		Logger:       logger,
		DefaultModel: p.LLMModel,
	}
	if p.IsAIEnabled() {
		coord.Titler = &coordinator.LLMTitler{
			LLM:   llmprovider.New(llmprovider.Config{APIKey: p.LLMAPIKey, BaseURL: p.LLMBaseURL, Timeout: time.Duration(p.LLMTimeout) * time.Second}),
			Model: p.LLMModel,
		}
	}

	svc := &transport.Service{
		Coordinator: coord,
		Repo:        repo,
		Registry:    reg,
		Logger:      logger,
		Agents: []transport.AgentDescriptor{
			{ID: "normal", Name: "Normal", Description: "Direct LLM completion, no retrieval or planning."},
			{ID: "rag", Name: "RAG", Description: "Retrieval-augmented generation over the user's indexed documents."},
			{ID: "orchestrator", Name: "Orchestrator", Description: "Plan, optionally research, then write — a fixed three-stage pipeline."},
		},
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	svc.Register(e, "/api/v1")

	addr := fmt.Sprintf("%s:%d", p.Addr, p.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	printGreeting(p, addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, terminationSignals...)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-sigCh:
		slog.Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return e.Shutdown(shutdownCtx)
}

// openRepository selects and opens the configured store.Repository
// driver, returning an optional close function for drivers that hold a
// connection pool.
func openRepository(ctx context.Context, p *profile.Profile) (store.Repository, func(), error) {
	switch p.Driver {
	case "postgres":
		s, err := postgres.Open(ctx, p.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.DB().Close() }, nil
	case "sqlite":
		s, err := sqlite.Open(ctx, p.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return memory.New(), nil, nil
	}
}

// buildAgents wires the three built-in agents against the configured
// LLM, embedding, and retrieval providers. RAG and the orchestrator's
// researcher stage degrade to LLM-only behaviour when no embedding
// provider is configured. When AI is disabled, no LLM provider is
// created and every agent is built with a nil LLM.
func buildAgents(p *profile.Profile, repo store.Repository) map[string]agent.Agent {
	agents := map[string]agent.Agent{
		"normal": &agent.Normal{},
	}

	var llm llmprovider.Provider
	if p.IsAIEnabled() {
		llm = llmprovider.New(llmprovider.Config{
			APIKey:  p.LLMAPIKey,
			BaseURL: p.LLMBaseURL,
			Timeout: time.Duration(p.LLMTimeout) * time.Second,
		})
		agents["normal"] = &agent.Normal{LLM: llm}
	}

	var embed embedprovider.Provider
	var retrievalProvider retrieval.Provider
	if p.IsAIEnabled() && p.EmbeddingAPIKey != "" {
		embed = embedprovider.New(embedprovider.Config{
			APIKey:     p.EmbeddingAPIKey,
			BaseURL:    p.EmbeddingBaseURL,
			Model:      p.EmbeddingModel,
			Dimensions: p.EmbeddingDim,
		})
		if pg, ok := repo.(*postgres.Store); ok {
			retrievalProvider = retrieval.NewPostgres(pg.DB(), "chat_documents")
		} else {
			retrievalProvider = retrieval.NewMemory()
		}
	}

	agents["rag"] = &agent.RAG{LLM: llm, Embed: embed, Retrieval: retrievalProvider, K: retrieval.DefaultK}
	agents["orchestrator"] = &orchestrator.Orchestrator{LLM: llm, Embed: embed, Retrieval: retrievalProvider, Model: p.LLMModel}

	return agents
}

func printGreeting(p *profile.Profile, addr string) {
	fmt.Printf("chatcore %s started\n", p.Version)
	fmt.Printf("mode: %s, driver: %s\n", p.Mode, p.Driver)
	fmt.Printf("listening on http://%s\n", addr)
	if !p.IsAIEnabled() {
		fmt.Println("AI disabled: set CHATCORE_LLM_API_KEY to enable the normal/rag/orchestrator agents' LLM calls")
	}
}

func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
