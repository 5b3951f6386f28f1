package browser

import (
	"context"
	"fmt"
	"strings"

	"taxpilot/internal/logging"
	"taxpilot/internal/schema"

	"github.com/go-rod/rod/lib/input"
)

// maxIssuerLen is the longest issuer name UFile keeps before the serial
// suffix stops fitting in the toc label.
const maxIssuerLen = 27

// serializeIssuer strips a previous "#NN" suffix, truncates, and appends a
// fresh zero-padded serial.
func serializeIssuer(name string, index int) string {
	if i := strings.Index(name, "#"); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSpace(name)
	if len(name) > maxIssuerLen {
		name = name[:maxIssuerLen]
	}
	return fmt.Sprintf("%s#%02d", name, index)
}

// NormalizeIssuerSerials renumbers every slip of the given type so duplicate
// issuers stay distinguishable ("Acme#01", "Acme#02", ...). Walks each
// section, rewrites its issuer field, and commits with Tab.
func (u *UFilePage) NormalizeIssuerSerials(ctx context.Context, meta schema.UFileMeta) (int, error) {
	titles, err := u.ListSlipSections(ctx, meta.SectionPrefix)
	if err != nil {
		return 0, err
	}

	for i, title := range titles {
		if err := u.openSection(ctx, SectionRef{Title: title}); err != nil {
			return i, err
		}

		page, err := u.livePage()
		if err != nil {
			return i, err
		}
		p := page.Context(ctx).Timeout(u.cfg.CallTimeout())

		issuerInput, err := p.Element(fmt.Sprintf(`input[aria-label*=%q]`, strings.TrimSpace(meta.IssuerLabel)))
		if err != nil {
			return i, fmt.Errorf("%w: issuer field in %q", ErrFieldNotFound, title)
		}
		val, err := issuerInput.Property("value")
		if err != nil {
			return i, fmt.Errorf("read issuer in %q: %w", title, err)
		}

		renamed := serializeIssuer(val.String(), i+1)
		if err := issuerInput.SelectAllText(); err != nil {
			return i, fmt.Errorf("select issuer in %q: %w", title, err)
		}
		if err := issuerInput.Input(renamed); err != nil {
			return i, fmt.Errorf("rename issuer in %q: %w", title, err)
		}
		_ = issuerInput.Type(input.Tab)
		logging.BrowserDebug("issuer serial: %q -> %q", val.String(), renamed)
	}
	return len(titles), nil
}
