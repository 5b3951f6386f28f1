// Browser session commands: launch a visible Chrome on the UFile login page
// and leave its DevTools endpoint in a control file so serve/fill can attach.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"taxpilot/internal/browser"
	"taxpilot/internal/logging"

	"github.com/spf13/cobra"
)

var browserCmd = &cobra.Command{
	Use:   "browser",
	Short: "Launch and hold the UFile browser session",
	Long: `Launches a visible Chrome at the UFile login page and keeps it open.
Credentials from config or UFILE_USERNAME/UFILE_PASSWORD are submitted
automatically when set; otherwise log in by hand. The DevTools endpoint is
written to a control file that other commands pick up.

Press Ctrl+C to shut the session down.`,
	RunE: runBrowser,
}

func runBrowser(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// This command owns the browser: always launch fresh and visible.
	cfg.Browser.ControlURL = ""
	cfg.Browser.Headless = false

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	page := browser.New(cfg.Browser)
	if err := page.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := page.Close(); err != nil {
			logging.SessionWarn("browser close: %v", err)
		}
	}()

	if cfg.Browser.Username != "" {
		if err := page.EnsureAuthenticated(ctx); err != nil {
			logging.SessionWarn("auto-login failed: %v", err)
			fmt.Println("Auto-login failed; log in manually in the browser window.")
		}
	}

	controlFile := controlFilePath()
	if err := os.MkdirAll(filepath.Dir(controlFile), 0o755); err == nil {
		if err := os.WriteFile(controlFile, []byte(page.ControlURL()), 0o644); err != nil {
			logging.BootWarn("failed to write browser control file: %v", err)
		}
	}

	fmt.Printf("Browser ready. Control URL: %s\n", page.ControlURL())
	fmt.Println("Press Ctrl+C to shutdown")

	<-ctx.Done()

	if err := os.Remove(controlFile); err != nil && !os.IsNotExist(err) {
		logging.BootWarn("failed to remove browser control file: %v", err)
	}
	return nil
}
