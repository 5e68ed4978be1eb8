package ingest

import (
	"strings"
	"testing"
)

func TestNormalizeNameIdempotent(t *testing.T) {
	names := []string{
		"Nike Air Max 1 'Panda'",
		"  ADIDAS  Samba\tOG ",
		"Jordan 4 Retro “Thunder”",
		"",
	}
	for _, name := range names {
		once := NormalizeName(name)
		twice := NormalizeName(once)
		if once != twice {
			t.Fatalf("нормализация не идемпотентна: %q -> %q -> %q", name, once, twice)
		}
	}
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Nike Air Max 1 'Panda'":   "nike air max 1 panda",
		"  ADIDAS  Samba\tOG ":     "adidas samba og",
		"Jordan 4 Retro “Thunder”": "jordan 4 retro thunder",
	}
	for raw, want := range cases {
		if got := NormalizeName(raw); got != want {
			t.Fatalf("NormalizeName(%q) = %q, ожидали %q", raw, got, want)
		}
	}
}

func TestIsSameProduct(t *testing.T) {
	cases := []struct {
		existing string
		incoming string
		want     bool
	}{
		{"Nike Air Max 1", "nike air max 1", true},
		{"Nike Air Max 1", "Nike Air Max 1 'Panda'", true},
		{"Nike Air Max 1 'Panda'", "Nike Air Max 1", true},
		{"Jordan 4 Retro Thunder", "Jordan 4 Retro Thunder (2023)", true},
		{"Nike Dunk Low", "Adidas Ultraboost", false},
		{"Nike Air Max 1", "Nike Air Max 90", false},
		// Короткие имена не должны склеиваться по вложенности.
		{"Air", "Air Jordan", false},
		{"Nike SB Dunk Low Pro ISO Orange Label", "Nike SB Dunk Low Pro ISO", true},
	}
	for _, tc := range cases {
		if got := IsSameProduct(tc.existing, tc.incoming); got != tc.want {
			t.Fatalf("IsSameProduct(%q, %q) = %v, ожидали %v", tc.existing, tc.incoming, got, tc.want)
		}
	}
}

func TestSearchFragmentTruncates(t *testing.T) {
	long := strings.Repeat("nike air max ", 10)
	fragment := SearchFragment(long)
	if len([]rune(fragment)) != searchFragmentLen {
		t.Fatalf("ожидали фрагмент из %d символов, получили %d", searchFragmentLen, len([]rune(fragment)))
	}
	if !strings.HasPrefix(NormalizeName(long), fragment) {
		t.Fatalf("фрагмент должен быть префиксом нормализованного имени")
	}
}

func TestSearchFragmentShortName(t *testing.T) {
	if got := SearchFragment("Nike Dunk Low"); got != "nike dunk low" {
		t.Fatalf("неожиданный фрагмент: %q", got)
	}
}
