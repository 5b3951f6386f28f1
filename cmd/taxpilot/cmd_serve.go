package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"taxpilot/internal/logging"
	"taxpilot/internal/nlu"
	"taxpilot/internal/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API over a live browser session",
	Long: `Starts the taxpilot server: a JWT-protected HTTP API that accepts
conversational turns, fills them into the attached UFile session, and
serves return summaries and audit history.

Attaches to a browser prepared by 'taxpilot browser' when a control file
exists, otherwise launches its own.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.JWTSecret == "" {
		return errors.New("no JWT secret configured (set TAXPILOT_JWT_SECRET)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	var extractor nlu.Extractor
	if gem, err := nlu.NewGeminiExtractor(ctx, cfg.NLU.APIKey, cfg.NLU.Model, p.reg); err == nil {
		extractor = gem
		logger.Info("free-text extraction enabled", zap.String("model", cfg.NLU.Model))
	} else if errors.Is(err, nlu.ErrDisabled) {
		logger.Info("free-text extraction disabled, structured candidates only")
	} else {
		return err
	}

	normalizer := newNormalizer(cfg, p)
	srv := server.New(cfg, normalizer, server.OrchestratorService{O: p.orch}, p.sum, extractor)

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Boot("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	logger.Info("server exited gracefully")
	return nil
}
