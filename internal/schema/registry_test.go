package schema

import (
	"errors"
	"testing"
)

func TestLoadCatalog(t *testing.T) {
	reg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	types := reg.SlipTypes()
	if len(types) != 5 {
		t.Fatalf("Expected 5 slip types, got %d", len(types))
	}

	for _, st := range types {
		boxes, err := reg.LegalBoxes(st)
		if err != nil {
			t.Fatalf("LegalBoxes(%s) failed: %v", st, err)
		}
		if len(boxes) == 0 {
			t.Errorf("Slip type %s has no boxes", st)
		}
		def, err := reg.Def(st)
		if err != nil {
			t.Fatalf("Def(%s) failed: %v", st, err)
		}
		if def.UFile.SectionPrefix == "" {
			t.Errorf("Slip type %s missing UFile section prefix", st)
		}
	}
}

func TestLabelLookup(t *testing.T) {
	reg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	label, err := reg.Label("T4", "14")
	if err != nil {
		t.Fatalf("Label(T4, 14) failed: %v", err)
	}
	if label != "Employment income" {
		t.Errorf("Unexpected label: %s", label)
	}

	if _, err := reg.Label("T9", "14"); !errors.Is(err, ErrUnknownSlipType) {
		t.Errorf("Expected ErrUnknownSlipType, got %v", err)
	}
	if _, err := reg.Label("T4", "99"); !errors.Is(err, ErrUnknownBox) {
		t.Errorf("Expected ErrUnknownBox, got %v", err)
	}
}

func TestAllowsNegative(t *testing.T) {
	reg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	neg, err := reg.AllowsNegative("T3", "42")
	if err != nil {
		t.Fatalf("AllowsNegative failed: %v", err)
	}
	if !neg {
		t.Error("T3 box 42 should allow negative amounts")
	}

	neg, err = reg.AllowsNegative("T4", "14")
	if err != nil {
		t.Fatalf("AllowsNegative failed: %v", err)
	}
	if neg {
		t.Error("T4 box 14 should not allow negative amounts")
	}
}

func TestMatchAliases(t *testing.T) {
	reg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cases := []struct {
		text string
		want []SlipType
	}{
		{"T4", []SlipType{"T4"}},
		{"t4 slip", []SlipType{"T4"}},
		{"my t4a from the university", []SlipType{"T4A"}},
		{"the t5008 slip from my broker", []SlipType{"T5008"}},
		{"t5", []SlipType{"T5"}},
		{"completely unrelated", nil},
	}

	for _, tc := range cases {
		got := reg.MatchAliases(tc.text)
		if len(got) != len(tc.want) {
			t.Errorf("MatchAliases(%q) = %v, want %v", tc.text, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("MatchAliases(%q) = %v, want %v", tc.text, got, tc.want)
			}
		}
	}
}

func TestTokenBoundaries(t *testing.T) {
	// "t5" must not match inside "t5008".
	if containsToken("t5008 slip", "t5") {
		t.Error("t5 should not match inside t5008")
	}
	if !containsToken("t5008 slip", "t5008") {
		t.Error("t5008 should match on token boundary")
	}
}
