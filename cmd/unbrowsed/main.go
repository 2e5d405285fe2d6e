// Command unbrowsed is the Unbrowse control service: it owns the skill
// store, talks to the marketplace and the browser-control extension, and
// serves the HTTP API cmd/unbrowsectl and other clients use.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unbrowse-ai/unbrowse-core/internal/browser"
	"github.com/unbrowse-ai/unbrowse-core/internal/config"
	"github.com/unbrowse-ai/unbrowse-core/internal/controlservice"
	"github.com/unbrowse-ai/unbrowse-core/internal/creds"
	"github.com/unbrowse-ai/unbrowse-core/internal/lock"
	"github.com/unbrowse-ai/unbrowse-core/internal/marketplace"
	"github.com/unbrowse-ai/unbrowse-core/internal/orchestrator"
	"github.com/unbrowse-ai/unbrowse-core/internal/refresh"
	"github.com/unbrowse-ai/unbrowse-core/internal/replay"
	"github.com/unbrowse-ai/unbrowse-core/internal/similarity"
	"github.com/unbrowse-ai/unbrowse-core/internal/storage"
	"github.com/unbrowse-ai/unbrowse-core/internal/telemetry"
	"github.com/unbrowse-ai/unbrowse-core/internal/websocket"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("loading config", "error", err)
		os.Exit(1)
	}

	fileLock, err := lock.AcquireBlocking(cfg.BaseDir)
	if err != nil {
		logger.Error("acquiring instance lock", "error", err)
		os.Exit(1)
	}
	defer fileLock.Unlock()

	skillStore, err := storage.NewSkillStore(cfg.SkillsDir)
	if err != nil {
		logger.Error("opening skill store", "error", err)
		os.Exit(1)
	}
	recipeStore, err := storage.NewRecipeStore(cfg.BaseDir)
	if err != nil {
		logger.Error("opening recipe store", "error", err)
		os.Exit(1)
	}

	credProvider := buildCredentialProvider(cfg, logger)

	genkitApp := initGenkit(cfg)
	scorer := similarity.NewScorer(genkitApp, cfg.GenkitModel)

	marketplaceClient := marketplace.New(cfg.IndexURL, &http.Client{Timeout: 15 * time.Second})
	skillExecutor := replay.NewHTTPExecutor(cfg.ToolTimeout, credProvider)

	hub := websocket.NewHub()
	session := browser.NewSession(hub)
	capturer := browser.NewCapturer(session, skillExecutor, logger)
	loginCapturer := browser.NewLoginCapturer(session, 2*time.Second)

	// DefaultRegisterer, not a fresh registry: controlservice's /metrics
	// route serves promhttp.Handler()'s default-registry view.
	sink := telemetry.New(prometheus.DefaultRegisterer, logger)

	resolver := orchestrator.NewResolver(skillStore, marketplaceClient, skillExecutor, capturer, scorer, sink, logger)
	svc := controlservice.New(resolver, skillStore, marketplaceClient, recipeStore, loginCapturer, logger)

	refreshStore := storage.NewRefreshConfigAdapter(skillStore)
	refreshExecutor := refresh.NewHTTPExecutor(cfg.ToolTimeout)
	scheduler := refresh.NewScheduler(refreshStore, refreshExecutor, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := scheduler.Start(ctx); err != nil {
		logger.Error("starting refresh scheduler", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/", svc.Router())
	mux.HandleFunc("/ws/browser", hub.ServeWS)

	addr := listenAddr(cfg.ControlServiceURL)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("control service listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("control service stopped unexpectedly", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("control service shutdown", "error", err)
	}
}

// listenAddr derives the bind address from the configured client-facing
// URL, defaulting to all interfaces on the documented port when the URL
// doesn't parse.
func listenAddr(controlServiceURL string) string {
	u, err := url.Parse(controlServiceURL)
	if err != nil || u.Host == "" {
		return ":8911"
	}
	return u.Host
}

// initGenkit wires the googlegenai plugin the way similarity.Scorer expects
// to call it, mirroring the teacher's own genkit.Init invocation.
func initGenkit(cfg *config.Config) *genkit.Genkit {
	ctx := context.Background()
	return genkit.Init(
		ctx,
		genkit.WithPlugins(&googlegenai.GoogleAI{APIKey: os.Getenv("GEMINI_API_KEY")}),
		genkit.WithDefaultModel(cfg.GenkitModel),
	)
}

// buildCredentialProvider assembles the single configured credential
// source into a creds.Provider, per spec.md §6's UNBROWSE_CREDENTIAL_SOURCE
// variable.
func buildCredentialProvider(cfg *config.Config, logger *slog.Logger) creds.Provider {
	source := strings.ToLower(strings.TrimSpace(cfg.CredentialSource))
	if source == "" || source == "none" {
		return nil
	}

	var vault *creds.VaultProvider
	var keychain *creds.KeychainProvider
	switch source {
	case "vault":
		v, err := creds.OpenVault(filepath.Join(cfg.BaseDir, "vault.db"), cfg.BaseDir)
		if err != nil {
			logger.Error("opening credential vault", "error", err)
		} else {
			vault = v
		}
	case "keychain":
		keychain = &creds.KeychainProvider{}
	}

	chain := creds.BuildChain([]string{source}, vault, keychain)
	if len(chain.Providers) == 0 {
		return nil
	}
	return chain
}
