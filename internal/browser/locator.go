package browser

import "fmt"

// SectionRef addresses one slip sub-form by its table-of-contents label,
// e.g. "T4/RL-1: Acme Widgets #01".
type SectionRef struct {
	Title string `json:"title"`
}

// FieldLocator addresses one input control inside a slip section. The
// fieldset index is positional at locate time; write and read-back happen
// under the same session lock, so the page cannot shift in between.
type FieldLocator struct {
	Section SectionRef `json:"section"`
	Box     string     `json:"box"`
	Index   int        `json:"index"`
}

func (l FieldLocator) String() string {
	return fmt.Sprintf("%s [box %s] fieldset#%d", l.Section.Title, l.Box, l.Index)
}

// SlipField is one title/box/value triple read back from a slip sub-form.
type SlipField struct {
	Title string `json:"title"`
	Box   string `json:"box,omitempty"`
	Value string `json:"value,omitempty"`
}
