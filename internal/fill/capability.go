package fill

import (
	"context"

	"taxpilot/internal/browser"
	"taxpilot/internal/schema"
)

// Capability is the browser surface the orchestrator drives. Satisfied by
// *browser.UFilePage in production and by scripted fakes in tests. Every
// call is bounded by its context; the orchestrator never holds the session
// lock across an unbounded wait.
type Capability interface {
	EnsureAuthenticated(ctx context.Context) error
	SelectTaxYear(ctx context.Context, year int) error
	ListSlipSections(ctx context.Context, prefix string) ([]string, error)
	FindOrCreateSlipSection(ctx context.Context, meta schema.UFileMeta, issuer string) (browser.SectionRef, error)
	LocateBoxField(ctx context.Context, section browser.SectionRef, box string) (browser.FieldLocator, error)
	WriteField(ctx context.Context, loc browser.FieldLocator, value string) error
	ReadField(ctx context.Context, loc browser.FieldLocator) (string, error)
	ReadSlipFields(ctx context.Context, section browser.SectionRef) ([]browser.SlipField, error)
	RemoveSlipSection(ctx context.Context, section browser.SectionRef) error
	NormalizeIssuerSerials(ctx context.Context, meta schema.UFileMeta) (int, error)
	Reconnect(ctx context.Context, taxYear int) error
}
