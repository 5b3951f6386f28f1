package main

import (
	"context"
	"fmt"
	"strings"

	"taxpilot/internal/schema"

	"github.com/spf13/cobra"
)

var slipIssuer string

var slipsCmd = &cobra.Command{
	Use:   "slips",
	Short: "Slip catalog and live-slip operations",
	RunE:  runSlipsCatalog,
}

var slipsReadCmd = &cobra.Command{
	Use:   "read [slip-type]",
	Short: "Read a slip's fields back from the live form",
	Args:  cobra.ExactArgs(1),
	RunE:  runSlipsRead,
}

var slipsRemoveCmd = &cobra.Command{
	Use:   "remove [slip-type]",
	Short: "Remove a slip from the live return",
	Long: `Deletes the matching slip sub-form and appends removal records so the
affected boxes drop out of the return summary. The audit log keeps the
full history.`,
	Args: cobra.ExactArgs(1),
	RunE: runSlipsRemove,
}

var slipsRenumberCmd = &cobra.Command{
	Use:   "renumber [slip-type]",
	Short: "Renumber issuer serials on a slip type",
	Long: `Rewrites each slip's issuer as "Name#NN" in page order so duplicate
issuers stay distinguishable.`,
	Args: cobra.ExactArgs(1),
	RunE: runSlipsRenumber,
}

func init() {
	slipsReadCmd.Flags().StringVar(&slipIssuer, "issuer", "", "issuer to match")
	slipsRemoveCmd.Flags().StringVar(&slipIssuer, "issuer", "", "issuer to match")
	slipsCmd.AddCommand(slipsReadCmd)
	slipsCmd.AddCommand(slipsRemoveCmd)
	slipsCmd.AddCommand(slipsRenumberCmd)
}

// runSlipsCatalog lists the supported slip types and their legal boxes.
func runSlipsCatalog(cmd *cobra.Command, args []string) error {
	reg, err := schema.Load()
	if err != nil {
		return err
	}

	for _, st := range reg.SlipTypes() {
		def, err := reg.Def(st)
		if err != nil {
			return err
		}
		fmt.Printf("%s - %s\n", def.Code, def.Label)
		for _, box := range def.Boxes {
			neg := ""
			if box.AllowNegative {
				neg = " (may be negative)"
			}
			fmt.Printf("  box %-4s %s%s\n", box.Code, box.Label, neg)
		}
		fmt.Println()
	}
	return nil
}

func runSlipsRead(cmd *cobra.Command, args []string) error {
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

	slipType := schema.SlipType(strings.ToUpper(args[0]))
	fields, err := p.orch.ReadSlip(ctx, slipType, slipIssuer, resolveYear(cfg))
	if err != nil {
		return err
	}

	for _, f := range fields {
		if f.Box != "" {
			fmt.Printf("  box %-4s %12s  %s\n", f.Box, f.Value, f.Title)
		} else {
			fmt.Printf("  %s: %s\n", f.Title, f.Value)
		}
	}
	return nil
}

func runSlipsRemove(cmd *cobra.Command, args []string) error {
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

	slipType := schema.SlipType(strings.ToUpper(args[0]))
	year := resolveYear(cfg)
	if err := p.orch.RemoveSlip(ctx, userID, slipType, slipIssuer, year); err != nil {
		return err
	}
	fmt.Printf("Removed %s slip (year %d). The audit log keeps its history.\n", slipType, year)
	return nil
}

func runSlipsRenumber(cmd *cobra.Command, args []string) error {
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

	slipType := schema.SlipType(strings.ToUpper(args[0]))
	n, err := p.orch.RenumberIssuers(ctx, slipType, resolveYear(cfg))
	if err != nil {
		return err
	}
	fmt.Printf("Renumbered %d %s slip(s).\n", n, slipType)
	return nil
}
