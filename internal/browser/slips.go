package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taxpilot/internal/logging"
	"taxpilot/internal/schema"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// UFile interview DOM contract. The interview page tags each slip sub-form
// with a div.tocLabel tab; inside a sub-form every field is a fieldset with
// an .int-label title, an optional .boxNumberContent box code, and a visible
// text input.
const (
	selSectionTab = `div.tocLabel`
	selFieldset   = `fieldset`
	selFieldTitle = `.int-label`
	selBoxNumber  = `.boxNumberContent`
	selTextInput  = `input[type="text"][aria-hidden="false"]`
)

// ListSlipSections returns the tocLabel titles whose text starts with the
// slip type's section prefix.
func (u *UFilePage) ListSlipSections(ctx context.Context, prefix string) ([]string, error) {
	page, err := u.livePage()
	if err != nil {
		return nil, err
	}
	p := page.Context(ctx).Timeout(u.cfg.CallTimeout())

	tabs, err := p.Elements(selSectionTab)
	if err != nil {
		return nil, fmt.Errorf("%w: section tabs: %v", ErrSessionLost, err)
	}

	var titles []string
	for _, tab := range tabs {
		text, err := tab.Text()
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if strings.HasPrefix(text, prefix) {
			titles = append(titles, text)
		}
	}
	return titles, nil
}

// FindOrCreateSlipSection locates the slip sub-form for (slip type, issuer),
// creating a fresh one through the interview's add-item flow when none
// exists. An existing open slip of the type is reused when the issuer
// matches (or when no issuer is given), so follow-up boxes land on the same
// sub-form instead of spawning duplicates.
func (u *UFilePage) FindOrCreateSlipSection(ctx context.Context, meta schema.UFileMeta, issuer string) (SectionRef, error) {
	titles, err := u.ListSlipSections(ctx, meta.SectionPrefix)
	if err != nil {
		return SectionRef{}, err
	}

	if issuer != "" {
		for _, title := range titles {
			if strings.Contains(strings.ToLower(title), strings.ToLower(issuer)) {
				return SectionRef{Title: title}, nil
			}
		}
	} else if len(titles) > 0 {
		// No issuer given: the user is adding boxes to the slip they
		// already have open.
		return SectionRef{Title: titles[len(titles)-1]}, nil
	}

	return u.createSlipSection(ctx, meta, issuer)
}

func (u *UFilePage) createSlipSection(ctx context.Context, meta schema.UFileMeta, issuer string) (SectionRef, error) {
	page, err := u.livePage()
	if err != nil {
		return SectionRef{}, err
	}
	p := page.Context(ctx).Timeout(u.cfg.CallTimeout())

	group, err := p.Element(fmt.Sprintf(`button[aria-label*=%q]`, meta.GroupButton))
	if err != nil {
		return SectionRef{}, fmt.Errorf("%w: interview group %q", ErrFieldNotFound, meta.GroupButton)
	}
	if err := group.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return SectionRef{}, fmt.Errorf("open interview group: %w", err)
	}
	time.Sleep(settleDelay)

	add, err := p.Element(fmt.Sprintf(`button[aria-label*=%q]`, meta.AddButton))
	if err != nil {
		return SectionRef{}, fmt.Errorf("%w: add button %q", ErrFieldNotFound, meta.AddButton)
	}
	if err := add.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return SectionRef{}, fmt.Errorf("add slip: %w", err)
	}
	time.Sleep(settleDelay)

	if issuer == "" {
		issuer = "Slip"
	}
	issuerInput, err := p.Element(fmt.Sprintf(`input[aria-label*=%q]`, strings.TrimSpace(meta.IssuerLabel)))
	if err != nil {
		return SectionRef{}, fmt.Errorf("%w: issuer field for new slip", ErrFieldNotFound)
	}
	if err := issuerInput.SelectAllText(); err == nil {
		if err := issuerInput.Input(issuer); err != nil {
			return SectionRef{}, fmt.Errorf("name new slip: %w", err)
		}
	}
	_ = issuerInput.Type(input.Tab)

	title := fmt.Sprintf("%s %s", meta.SectionPrefix, issuer)
	logging.Browser("created slip section %q", title)
	return SectionRef{Title: title}, nil
}

// openSection clicks the section's toc tab and waits for its fieldsets.
func (u *UFilePage) openSection(ctx context.Context, section SectionRef) error {
	page, err := u.livePage()
	if err != nil {
		return err
	}
	p := page.Context(ctx).Timeout(u.cfg.CallTimeout())

	tabs, err := p.Elements(selSectionTab)
	if err != nil {
		return fmt.Errorf("%w: section tabs: %v", ErrSessionLost, err)
	}
	for _, tab := range tabs {
		text, err := tab.Text()
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) == section.Title {
			if err := tab.Click(proto.InputMouseButtonLeft, 1); err != nil {
				return fmt.Errorf("open section %q: %w", section.Title, err)
			}
			time.Sleep(settleDelay)
			return nil
		}
	}
	return fmt.Errorf("%w: section %q", ErrFieldNotFound, section.Title)
}

// LocateBoxField opens the section and finds the fieldset tagged with the
// box code.
func (u *UFilePage) LocateBoxField(ctx context.Context, section SectionRef, box string) (FieldLocator, error) {
	if err := u.openSection(ctx, section); err != nil {
		return FieldLocator{}, err
	}

	page, err := u.livePage()
	if err != nil {
		return FieldLocator{}, err
	}
	p := page.Context(ctx).Timeout(u.cfg.CallTimeout())

	fieldsets, err := p.Elements(selFieldset)
	if err != nil {
		return FieldLocator{}, fmt.Errorf("%w: fieldsets: %v", ErrSessionLost, err)
	}

	for i, fs := range fieldsets {
		has, boxEl, err := fs.Has(selBoxNumber)
		if err != nil || !has {
			continue
		}
		code, err := boxEl.Text()
		if err != nil {
			continue
		}
		if boxCodesEqual(strings.TrimSpace(code), box) {
			loc := FieldLocator{Section: section, Box: box, Index: i}
			logging.BrowserDebug("located %s", loc)
			return loc, nil
		}
	}
	return FieldLocator{}, fmt.Errorf("%w: box %s in %q", ErrFieldNotFound, box, section.Title)
}

// WriteField replaces the located control's value. The section must already
// be open (locate and write run under one session lock).
func (u *UFilePage) WriteField(ctx context.Context, loc FieldLocator, value string) error {
	inputEl, err := u.fieldInput(ctx, loc)
	if err != nil {
		return err
	}
	if err := inputEl.SelectAllText(); err != nil {
		return fmt.Errorf("select field %s: %w", loc, err)
	}
	if err := inputEl.Input(value); err != nil {
		return fmt.Errorf("write field %s: %w", loc, err)
	}
	// Tab commits the value; UFile recalculates on blur.
	if err := inputEl.Type(input.Tab); err != nil {
		return fmt.Errorf("commit field %s: %w", loc, err)
	}
	logging.BrowserDebug("wrote %s = %s", loc, value)
	return nil
}

// ReadField reads the control's current value back from the live page.
func (u *UFilePage) ReadField(ctx context.Context, loc FieldLocator) (string, error) {
	inputEl, err := u.fieldInput(ctx, loc)
	if err != nil {
		return "", err
	}
	val, err := inputEl.Property("value")
	if err != nil {
		return "", fmt.Errorf("read field %s: %w", loc, err)
	}
	return strings.TrimSpace(val.String()), nil
}

func (u *UFilePage) fieldInput(ctx context.Context, loc FieldLocator) (*rod.Element, error) {
	page, err := u.livePage()
	if err != nil {
		return nil, err
	}
	p := page.Context(ctx).Timeout(u.cfg.CallTimeout())

	fieldsets, err := p.Elements(selFieldset)
	if err != nil {
		return nil, fmt.Errorf("%w: fieldsets: %v", ErrSessionLost, err)
	}
	if loc.Index >= len(fieldsets) {
		return nil, fmt.Errorf("%w: %s (page shifted)", ErrFieldNotFound, loc)
	}

	fs := fieldsets[loc.Index]
	// Re-check the box tag so a shifted page cannot silently hit the wrong
	// control.
	has, boxEl, err := fs.Has(selBoxNumber)
	if err == nil && has {
		code, terr := boxEl.Text()
		if terr == nil && !boxCodesEqual(strings.TrimSpace(code), loc.Box) {
			return nil, fmt.Errorf("%w: %s (page shifted)", ErrFieldNotFound, loc)
		}
	}

	has, inputEl, err := fs.Has(selTextInput)
	if err != nil || !has {
		return nil, fmt.Errorf("%w: input control in %s", ErrFieldNotFound, loc)
	}
	return inputEl, nil
}

// ReadSlipFields extracts every title/box/value triple from an open slip
// sub-form, mirroring what the user sees.
func (u *UFilePage) ReadSlipFields(ctx context.Context, section SectionRef) ([]SlipField, error) {
	if err := u.openSection(ctx, section); err != nil {
		return nil, err
	}

	page, err := u.livePage()
	if err != nil {
		return nil, err
	}
	p := page.Context(ctx).Timeout(u.cfg.CallTimeout())

	fieldsets, err := p.Elements(selFieldset)
	if err != nil {
		return nil, fmt.Errorf("%w: fieldsets: %v", ErrSessionLost, err)
	}

	var fields []SlipField
	for _, fs := range fieldsets {
		var f SlipField
		if has, el, err := fs.Has(selFieldTitle); err == nil && has {
			if text, err := el.Text(); err == nil {
				f.Title = strings.TrimSpace(text)
			}
		}
		if has, el, err := fs.Has(selBoxNumber); err == nil && has {
			if text, err := el.Text(); err == nil {
				f.Box = strings.TrimSpace(text)
			}
		}
		if has, el, err := fs.Has(selTextInput); err == nil && has {
			if val, err := el.Property("value"); err == nil {
				f.Value = strings.TrimSpace(val.String())
			}
		}
		if f.Title != "" || f.Box != "" {
			fields = append(fields, f)
		}
	}
	return fields, nil
}

// RemoveSlipSection deletes a slip sub-form. The interview guards removal
// behind a window.confirm, which is answered affirmatively up front.
func (u *UFilePage) RemoveSlipSection(ctx context.Context, section SectionRef) error {
	page, err := u.livePage()
	if err != nil {
		return err
	}
	p := page.Context(ctx).Timeout(u.cfg.CallTimeout())

	_, err = p.Evaluate(&rod.EvalOptions{
		JS: `
		() => {
			window.confirm = function() { return true; };
			return true;
		}
		`,
		ByValue: true,
	})
	if err != nil {
		return fmt.Errorf("%w: confirm hook: %v", ErrSessionLost, err)
	}

	sel := fmt.Sprintf(`button.tocIconRemove[aria-hidden="false"][aria-label*=%q]`, section.Title)
	remove, err := p.Element(sel)
	if err != nil {
		return fmt.Errorf("%w: remove control for %q", ErrFieldNotFound, section.Title)
	}
	if err := remove.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("remove section %q: %w", section.Title, err)
	}
	logging.Browser("removed slip section %q", section.Title)
	return nil
}

// boxCodesEqual compares box codes ignoring leading zeros, so the page's
// "16" matches the catalog's "016".
func boxCodesEqual(a, b string) bool {
	if strings.EqualFold(a, b) {
		return true
	}
	ta := strings.TrimLeft(a, "0")
	tb := strings.TrimLeft(b, "0")
	return ta != "" && strings.EqualFold(ta, tb)
}
