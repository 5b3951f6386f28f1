// Package review renders the current state of a return for the user: the
// latest verified amount per slip box, grouped by slip type, with catalog
// labels. It reads only the session store's latest-wins projection and never
// touches the browser.
package review

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"taxpilot/internal/extract"
	"taxpilot/internal/logging"
	"taxpilot/internal/schema"
	"taxpilot/internal/store"
)

// LineItem is one verified box on the return.
type LineItem struct {
	Box        string        `json:"box"`
	BoxLabel   string        `json:"box_label"`
	Amount     extract.Cents `json:"amount_cents"`
	Display    string        `json:"amount"`
	Issuer     string        `json:"issuer,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// SlipGroup collects a slip type's verified boxes.
type SlipGroup struct {
	SlipType schema.SlipType `json:"slip_type"`
	Label    string          `json:"label"`
	Items    []LineItem      `json:"items"`
}

// Summary is the user-facing view of one return.
type Summary struct {
	UserID  string      `json:"user_id"`
	TaxYear int         `json:"tax_year"`
	Groups  []SlipGroup `json:"groups"`
	Entries int         `json:"entries"`
}

// Summarizer builds return summaries from the session store.
type Summarizer struct {
	reg *schema.Registry
	log *store.SessionStore
}

func NewSummarizer(reg *schema.Registry, log *store.SessionStore) *Summarizer {
	return &Summarizer{reg: reg, log: log}
}

// Summarize groups the latest verified entries by slip type in catalog
// order, boxes sorted within each group.
func (s *Summarizer) Summarize(userID string, taxYear int) (*Summary, error) {
	latest, err := s.log.LatestByKey(userID, taxYear)
	if err != nil {
		return nil, fmt.Errorf("load return state: %w", err)
	}

	byType := make(map[schema.SlipType][]LineItem)
	for _, o := range latest {
		label, lerr := s.reg.Label(o.SlipType, o.Box)
		if lerr != nil {
			// A row from an older catalog still shows, just unlabeled.
			label = ""
		}
		byType[o.SlipType] = append(byType[o.SlipType], LineItem{
			Box:        o.Box,
			BoxLabel:   label,
			Amount:     o.Amount,
			Display:    o.Amount.String(),
			Issuer:     o.Issuer,
			RecordedAt: o.RecordedAt,
		})
	}

	summary := &Summary{UserID: userID, TaxYear: taxYear}
	for _, st := range s.reg.SlipTypes() {
		items, ok := byType[st]
		if !ok {
			continue
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Box < items[j].Box })
		def, _ := s.reg.Def(st)
		summary.Groups = append(summary.Groups, SlipGroup{
			SlipType: st,
			Label:    def.Label,
			Items:    items,
		})
		summary.Entries += len(items)
		delete(byType, st)
	}
	// Slip types absent from the current catalog sort last.
	var rest []schema.SlipType
	for st := range byType {
		rest = append(rest, st)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, st := range rest {
		items := byType[st]
		sort.Slice(items, func(i, j int) bool { return items[i].Box < items[j].Box })
		summary.Groups = append(summary.Groups, SlipGroup{SlipType: st, Items: items})
		summary.Entries += len(items)
	}

	logging.Review("summarized return user=%s year=%d: %d entries in %d groups",
		userID, taxYear, summary.Entries, len(summary.Groups))
	return summary, nil
}

// History returns the full append-only log for a return, for audit review.
func (s *Summarizer) History(userID string, taxYear int) ([]store.Outcome, error) {
	return s.log.History(userID, taxYear)
}

// Render formats a summary as plain text for the CLI.
func Render(s *Summary) string {
	if s.Entries == 0 {
		return fmt.Sprintf("Return %d: no verified entries yet.\n", s.TaxYear)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Return %d (%d entries)\n", s.TaxYear, s.Entries)
	for _, g := range s.Groups {
		if g.Label != "" {
			fmt.Fprintf(&b, "\n%s - %s\n", g.SlipType, g.Label)
		} else {
			fmt.Fprintf(&b, "\n%s\n", g.SlipType)
		}
		for _, it := range g.Items {
			line := fmt.Sprintf("  box %-4s %12s", it.Box, it.Display)
			if it.BoxLabel != "" {
				line += "  " + it.BoxLabel
			}
			if it.Issuer != "" {
				line += fmt.Sprintf(" (%s)", it.Issuer)
			}
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}
