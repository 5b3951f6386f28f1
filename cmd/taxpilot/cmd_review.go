package main

import (
	"encoding/json"
	"fmt"
	"os"

	"taxpilot/internal/review"
	"taxpilot/internal/schema"
	"taxpilot/internal/store"

	"github.com/spf13/cobra"
)

var (
	reviewJSON    bool
	reviewHistory bool
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Show the current state of a return",
	Long: `Prints the latest verified amount per slip box, grouped by slip type.
Reads only the local session log; the browser is not touched.

Use --history for the full append-only audit trail instead.`,
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().BoolVar(&reviewJSON, "json", false, "emit JSON")
	reviewCmd.Flags().BoolVar(&reviewHistory, "history", false, "show the full audit log")
}

func runReview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg, err := schema.Load()
	if err != nil {
		return err
	}
	st, err := store.NewSessionStore(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	year := resolveYear(cfg)
	summarizer := review.NewSummarizer(reg, st)

	if reviewHistory {
		history, err := summarizer.History(userID, year)
		if err != nil {
			return err
		}
		if reviewJSON {
			return json.NewEncoder(os.Stdout).Encode(history)
		}
		if len(history) == 0 {
			fmt.Printf("Return %d: no records.\n", year)
			return nil
		}
		for _, o := range history {
			line := fmt.Sprintf("#%d %s/%s %s %s", o.ID, o.SlipType, o.Box, o.Amount, o.Status)
			if o.Reason != "" {
				line += " (" + o.Reason + ")"
			}
			fmt.Println(line)
		}
		return nil
	}

	summary, err := summarizer.Summarize(userID, year)
	if err != nil {
		return err
	}
	if reviewJSON {
		return json.NewEncoder(os.Stdout).Encode(summary)
	}
	fmt.Print(review.Render(summary))
	return nil
}
