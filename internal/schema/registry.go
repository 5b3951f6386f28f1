// Package schema holds the static slip catalog: the supported slip types,
// their legal box numbers, and the UFile page metadata needed to find each
// slip's section on the live form. The catalog is embedded at build time and
// immutable after Load.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

var (
	ErrUnknownSlipType = errors.New("unknown slip type")
	ErrUnknownBox      = errors.New("unknown box number")
)

// SlipType is a catalog slip code such as "T4" or "T5008".
type SlipType string

// Box describes one legal box on a slip type.
type Box struct {
	Code          string `yaml:"code"`
	Label         string `yaml:"label"`
	AllowNegative bool   `yaml:"allow_negative"`
}

// UFileMeta carries the accessible names UFile uses for a slip type's
// interview section. The resolver needs these to find or create sub-forms.
type UFileMeta struct {
	SectionPrefix string `yaml:"section_prefix"`
	GroupButton   string `yaml:"group_button"`
	AddButton     string `yaml:"add_button"`
	IssuerLabel   string `yaml:"issuer_label"`
}

// SlipDef is the full catalog entry for one slip type.
type SlipDef struct {
	Code    SlipType  `yaml:"code"`
	Label   string    `yaml:"label"`
	Aliases []string  `yaml:"aliases"`
	UFile   UFileMeta `yaml:"ufile"`
	Boxes   []Box     `yaml:"boxes"`
}

type catalogFile struct {
	SlipTypes []SlipDef `yaml:"slip_types"`
}

// Registry is the loaded slip catalog. Read-only after Load.
type Registry struct {
	defs  map[SlipType]*SlipDef
	boxes map[SlipType]map[string]Box
	order []SlipType
}

// Load parses the embedded catalog. Called once at startup.
func Load() (*Registry, error) {
	return loadFrom(catalogYAML)
}

func loadFrom(data []byte) (*Registry, error) {
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse slip catalog: %w", err)
	}
	if len(cf.SlipTypes) == 0 {
		return nil, errors.New("slip catalog is empty")
	}

	r := &Registry{
		defs:  make(map[SlipType]*SlipDef, len(cf.SlipTypes)),
		boxes: make(map[SlipType]map[string]Box, len(cf.SlipTypes)),
	}
	for i := range cf.SlipTypes {
		def := &cf.SlipTypes[i]
		if _, dup := r.defs[def.Code]; dup {
			return nil, fmt.Errorf("duplicate slip type %q in catalog", def.Code)
		}
		byCode := make(map[string]Box, len(def.Boxes))
		for _, b := range def.Boxes {
			if _, dup := byCode[b.Code]; dup {
				return nil, fmt.Errorf("duplicate box %q on slip type %q", b.Code, def.Code)
			}
			byCode[b.Code] = b
		}
		r.defs[def.Code] = def
		r.boxes[def.Code] = byCode
		r.order = append(r.order, def.Code)
	}
	return r, nil
}

// SlipTypes returns the catalog slip codes in catalog order.
func (r *Registry) SlipTypes() []SlipType {
	out := make([]SlipType, len(r.order))
	copy(out, r.order)
	return out
}

// Def returns the full catalog entry for a slip type.
func (r *Registry) Def(st SlipType) (*SlipDef, error) {
	def, ok := r.defs[st]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSlipType, st)
	}
	return def, nil
}

// LegalBoxes returns the legal box codes for a slip type, sorted.
func (r *Registry) LegalBoxes(st SlipType) ([]string, error) {
	byCode, ok := r.boxes[st]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSlipType, st)
	}
	codes := make([]string, 0, len(byCode))
	for code := range byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

// Box returns the catalog entry for one box on a slip type.
func (r *Registry) Box(st SlipType, code string) (Box, error) {
	byCode, ok := r.boxes[st]
	if !ok {
		return Box{}, fmt.Errorf("%w: %q", ErrUnknownSlipType, st)
	}
	b, ok := byCode[code]
	if !ok {
		return Box{}, fmt.Errorf("%w: %q box %q", ErrUnknownBox, st, code)
	}
	return b, nil
}

// Label returns the human-readable label for a box.
func (r *Registry) Label(st SlipType, code string) (string, error) {
	b, err := r.Box(st, code)
	if err != nil {
		return "", err
	}
	return b.Label, nil
}

// AllowsNegative reports whether a box may carry a negative amount.
func (r *Registry) AllowsNegative(st SlipType, code string) (bool, error) {
	b, err := r.Box(st, code)
	if err != nil {
		return false, err
	}
	return b.AllowNegative, nil
}

// MatchAliases returns the slip types whose code or alias appears in the
// given text, keeping only the longest matches. Case-insensitive; used by
// the extraction normalizer for slip resolution.
func (r *Registry) MatchAliases(text string) []SlipType {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return nil
	}

	best := 0
	var matched []SlipType
	for _, st := range r.order {
		def := r.defs[st]
		candidates := append([]string{strings.ToLower(string(def.Code))}, def.Aliases...)
		longest := 0
		for _, alias := range candidates {
			alias = strings.ToLower(alias)
			if needle == alias || containsToken(needle, alias) {
				if len(alias) > longest {
					longest = len(alias)
				}
			}
		}
		if longest == 0 {
			continue
		}
		if longest > best {
			best = longest
			matched = matched[:0]
		}
		if longest == best {
			matched = append(matched, st)
		}
	}
	return matched
}

// containsToken reports whether alias occurs in text on token boundaries,
// so "t5" does not match inside "t5008".
func containsToken(text, alias string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], alias)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(alias)
		beforeOK := start == 0 || !isAliasRune(rune(text[start-1]))
		afterOK := end == len(text) || !isAliasRune(rune(text[end]))
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isAliasRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= '0' && r <= '9'
}
