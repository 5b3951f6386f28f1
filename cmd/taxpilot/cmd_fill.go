package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"taxpilot/internal/extract"

	"github.com/spf13/cobra"
)

var (
	fillSlip   string
	fillBox    string
	fillAmount string
	fillIssuer string
)

var fillCmd = &cobra.Command{
	Use:   "fill",
	Short: "Fill one slip box into the live return",
	Long: `Validates a single slip entry and writes it into the attached UFile
session, verifying the value the form echoes back.

Example:
  taxpilot fill --slip T4 --box 14 --amount 85000 --issuer "Acme Widgets"`,
	RunE: runFill,
}

func init() {
	fillCmd.Flags().StringVar(&fillSlip, "slip", "", "slip type (e.g. T4)")
	fillCmd.Flags().StringVar(&fillBox, "box", "", "box number (e.g. 14)")
	fillCmd.Flags().StringVar(&fillAmount, "amount", "", "amount (e.g. 85000 or $85,000.00)")
	fillCmd.Flags().StringVar(&fillIssuer, "issuer", "", "issuer name (optional)")
	_ = fillCmd.MarkFlagRequired("slip")
	_ = fillCmd.MarkFlagRequired("box")
	_ = fillCmd.MarkFlagRequired("amount")
}

func runFill(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	cand := extract.Candidate{
		SlipTypeText: fillSlip,
		BoxText:      fillBox,
		AmountText:   fillAmount,
		IssuerText:   fillIssuer,
		TaxYearText:  strconv.Itoa(resolveYear(cfg)),
	}

	entry, err := newNormalizer(cfg, p).Normalize(cand)
	if err != nil {
		var clarify *extract.NeedsClarification
		if errors.As(err, &clarify) {
			fmt.Println(clarify.Message)
			for _, c := range clarify.Candidates {
				fmt.Printf("  - %s\n", c)
			}
			return errors.New("entry needs clarification")
		}
		return err
	}

	fmt.Printf("Filling %s = %s (year %d)...\n", entry.Key(), entry.Amount, entry.TaxYear)
	task, err := p.orch.Submit(ctx, userID, entry)
	if err != nil {
		return err
	}
	printOutcome(task, entry)
	return nil
}
