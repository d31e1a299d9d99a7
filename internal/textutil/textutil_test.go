package textutil_test

import (
	"testing"

	"dublaj/internal/textutil"
)

func TestPunctuationOnlyChange(t *testing.T) {
	cases := []struct {
		name   string
		before string
		after  string
		want   bool
	}{
		{"comma added", "Das ist gut so", "Das ist gut, so", true},
		{"period swapped", "Genau. So war es", "Genau, so war es", true},
		{"word changed", "Das ist gut", "Das ist schlecht", false},
		{"umlaut fixed", "Muzik", "Müzik", false},
		{"spacing only", "Eins  zwei", "Eins zwei", true},
		{"composed vs decomposed", "Straße über", "Straße über", true},
	}
	for _, tc := range cases {
		if got := textutil.PunctuationOnlyChange(tc.before, tc.after); got != tc.want {
			t.Fatalf("%s: PunctuationOnlyChange(%q, %q) = %v, want %v", tc.name, tc.before, tc.after, got, tc.want)
		}
	}
}

func TestSlugTurkish(t *testing.T) {
	got := textutil.Slug("Bölüm I: Giriş")
	if got != "bölüm-ı-giriş" {
		t.Fatalf("unexpected slug %q", got)
	}
}

func TestSlugTrimsDashes(t *testing.T) {
	if got := textutil.Slug("  --Intro!  "); got != "intro" {
		t.Fatalf("unexpected slug %q", got)
	}
}
