package browser

import "testing"

func TestBoxCodesEqual(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"14", "14", true},
		{"016", "16", true},
		{"16", "016", true},
		{"16a", "16A", true},
		{"14", "16", false},
		{"", "", true},
		{"0", "00", false}, // all-zero codes never match through zero-stripping
	}
	for _, tc := range cases {
		if got := boxCodesEqual(tc.a, tc.b); got != tc.want {
			t.Errorf("boxCodesEqual(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSerializeIssuer(t *testing.T) {
	cases := []struct {
		name  string
		index int
		want  string
	}{
		{"Acme Widgets", 1, "Acme Widgets#01"},
		{"Acme Widgets#07", 2, "Acme Widgets#02"},
		{"A Very Long Employer Name Incorporated", 3, "A Very Long Employer Name I#03"},
		{"Broker", 12, "Broker#12"},
	}
	for _, tc := range cases {
		if got := serializeIssuer(tc.name, tc.index); got != tc.want {
			t.Errorf("serializeIssuer(%q, %d) = %q, want %q", tc.name, tc.index, got, tc.want)
		}
	}
}
