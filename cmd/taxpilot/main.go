// Package main implements the taxpilot CLI: a conversational agent that
// fills Canadian tax slips into a live UFile return and keeps an auditable
// record of everything it wrote.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"taxpilot/internal/browser"
	"taxpilot/internal/config"
	"taxpilot/internal/extract"
	"taxpilot/internal/fill"
	"taxpilot/internal/logging"
	"taxpilot/internal/review"
	"taxpilot/internal/schema"
	"taxpilot/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	configPath string
	verbose    bool
	userID     string
	taxYear    int

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "taxpilot",
	Short: "taxpilot - conversational slip filling for UFile returns",
	Long: `taxpilot drives a live UFile browser session from validated slip data.

A statement like "my T4 box 14 is $85,000" becomes a validated entry, is
written into the matching box on the interview page, read back to verify,
and recorded in an append-only session log. Nothing unvalidated ever
reaches the form, and every write leaves an audit record.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		if err := logging.Initialize(cwd); err != nil {
			logger.Warn("debug logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "taxpilot.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "local", "user the entries belong to")
	rootCmd.PersistentFlags().IntVarP(&taxYear, "year", "y", 0, "tax year (default: active year from config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(browserCmd)
	rootCmd.AddCommand(fillCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(slipsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logging.Configure(cfg.Logging.DebugMode, cfg.Logging.Categories, cfg.Logging.Level, cfg.Logging.JSONFormat); err != nil {
		logger.Warn("debug logging unavailable", zap.Error(err))
	}
	applyControlFile(cfg)
	return cfg, nil
}

// controlFilePath is where `taxpilot browser` leaves the DevTools endpoint
// for other commands to attach to.
func controlFilePath() string {
	cwd, _ := os.Getwd()
	return filepath.Join(cwd, ".taxpilot", "browser", "control.txt")
}

func applyControlFile(cfg *config.Config) {
	if cfg.Browser.ControlURL != "" {
		return
	}
	if data, err := os.ReadFile(controlFilePath()); err == nil && len(data) > 0 {
		cfg.Browser.ControlURL = string(data)
		logging.Boot("attaching to browser at %s", cfg.Browser.ControlURL)
	}
}

// resolveYear picks the flag year or falls back to the configured active
// year.
func resolveYear(cfg *config.Config) int {
	if taxYear != 0 {
		return taxYear
	}
	return cfg.Return.ActiveYear
}

// pipeline bundles the wired components behind one Close.
type pipeline struct {
	cfg  *config.Config
	reg  *schema.Registry
	st   *store.SessionStore
	page *browser.UFilePage
	orch *fill.Orchestrator
	sum  *review.Summarizer

	cancel context.CancelFunc
}

// buildPipeline wires registry, store, browser session and orchestrator.
// The browser connects eagerly so a dead session fails fast.
func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	reg, err := schema.Load()
	if err != nil {
		return nil, err
	}

	st, err := store.NewSessionStore(cfg.Store.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	page := browser.New(cfg.Browser)
	if err := page.Connect(ctx); err != nil {
		st.Close()
		return nil, err
	}

	orch := fill.New(cfg.Fill, page, reg, st)
	workerCtx, cancel := context.WithCancel(context.Background())
	orch.Start(workerCtx)

	return &pipeline{
		cfg:    cfg,
		reg:    reg,
		st:     st,
		page:   page,
		orch:   orch,
		sum:    review.NewSummarizer(reg, st),
		cancel: cancel,
	}, nil
}

func (p *pipeline) Close() {
	p.cancel()
	p.orch.Stop()
	if err := p.page.Close(); err != nil {
		logging.SessionWarn("browser close: %v", err)
	}
	if err := p.st.Close(); err != nil {
		logging.StoreError("store close: %v", err)
	}
}

func newNormalizer(cfg *config.Config, p *pipeline) *extract.Normalizer {
	return extract.NewNormalizer(p.reg, cfg.Return.MinYear, cfg.Return.MaxYear, cfg.Return.ActiveYear)
}

// printOutcome renders one terminal task state for the terminal.
func printOutcome(task *fill.Task, entry extract.SlipEntry) {
	switch task.Status() {
	case fill.StatusVerifiedMatch:
		fmt.Printf("Verified: %s = %s (%d attempt(s))\n", entry.Key(), entry.Amount, task.Attempts())
	case fill.StatusVerifiedMismatch:
		fmt.Printf("MISMATCH on %s: %s\n", entry.Key(), task.Reason())
		fmt.Println("The form shows a different value. Review the slip before re-submitting.")
	default:
		fmt.Printf("Failed on %s: %s\n", entry.Key(), task.Reason())
	}
}
