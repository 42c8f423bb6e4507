package address

import (
	"errors"
	"testing"
)

func TestParsePattern(t *testing.T) {
	valid := []string{
		"/usa/ny/*/floor-*/mech/boiler-*",
		"/*/*/*/*/*/*/*",
		"/usa/ny/brooklyn/ps-118/floor-02/mech/boiler-01",
		"/usa/ny/*/ps-118/*-02/mech/*",
	}
	for _, p := range valid {
		if _, err := ParsePattern(p); err != nil {
			t.Fatalf("ParsePattern(%q): %v", p, err)
		}
	}
	invalid := []string{
		"",
		"/usa/ny/*/floor-*/mech",
		"/usa/ny/**/floor/mech/x/y",
		"usa/ny/a/b/c/d/e",
		"/usa/ny/a/b/c/d/E",
		"/usa/ny/a/b/c/d/",
	}
	for _, p := range invalid {
		if _, err := ParsePattern(p); !errors.Is(err, ErrMalformed) {
			t.Fatalf("ParsePattern(%q): want ErrMalformed, got %v", p, err)
		}
	}
}

func TestParsePatternImplicitBuilding(t *testing.T) {
	pat, err := ParsePattern("/usa/ny/*/floor-*/mech/boiler-*")
	if err != nil {
		t.Fatalf("ParsePattern: %v", err)
	}
	if got := pat.String(); got != "/usa/ny/*/*/floor-*/mech/boiler-*" {
		t.Fatalf("expanded pattern %q, want the building segment filled with *", got)
	}
	for _, addr := range []string{
		"/usa/ny/brooklyn/ps-118/floor-02/mech/boiler-01",
		"/usa/ny/queens/is-59/floor-01/mech/boiler-03",
	} {
		if !pat.Matches(MustParse(addr)) {
			t.Fatalf("pattern must match %s regardless of building", addr)
		}
	}
	if pat.Matches(MustParse("/usa/ca/oakland/tech-hs/floor-02/mech/boiler-01")) {
		t.Fatal("literal region segment must still bind")
	}
}

func TestPatternMatches(t *testing.T) {
	boiler := MustParse("/usa/ny/brooklyn/ps-118/floor-02/mech/boiler-01")
	match := []string{
		"/usa/ny/*/*/floor-*/mech/boiler-*",
		"/usa/ny/*/floor-*/mech/boiler-*",
		"/usa/ny/brooklyn/ps-118/floor-02/mech/boiler-01",
		"/*/*/*/*/*/*/*",
		"/usa/*/*/ps-*/*/*/*-01",
	}
	for _, p := range match {
		pat, err := ParsePattern(p)
		if err != nil {
			t.Fatalf("ParsePattern(%q): %v", p, err)
		}
		if !pat.Matches(boiler) {
			t.Fatalf("pattern %q should match %v", p, boiler)
		}
	}
	noMatch := []string{
		"/usa/ca/*/*/floor-*/mech/boiler-*",
		"/usa/ny/brooklyn/ps-118/floor-03/mech/boiler-01",
		"/usa/ny/brooklyn/ps-118/floor-02/mech/pump-*",
		"/usa/ny/brooklyn/ps-118/floor-02/mech/boiler-012x",
	}
	for _, p := range noMatch {
		pat, err := ParsePattern(p)
		if err != nil {
			t.Fatalf("ParsePattern(%q): %v", p, err)
		}
		if pat.Matches(boiler) {
			t.Fatalf("pattern %q should not match %v", p, boiler)
		}
	}
}

func TestMatchSegmentPrefixSuffix(t *testing.T) {
	cases := []struct {
		pattern, seg string
		want         bool
	}{
		{"boiler-*", "boiler-01", true},
		{"boiler-*", "boiler-", true},
		{"boiler-*", "boile", false},
		{"*-01", "boiler-01", true},
		{"*-01", "01", false},
		{"b*1", "boiler-01", true},
		{"b*1", "b1", true},
		{"b*1", "b2", false},
		{"*", "anything", true},
		{"mech", "mech", true},
		{"mech", "mechanical", false},
	}
	for _, tc := range cases {
		if got := matchSegment(tc.pattern, tc.seg); got != tc.want {
			t.Fatalf("matchSegment(%q,%q)=%v want %v", tc.pattern, tc.seg, got, tc.want)
		}
	}
}

func TestMatchGlobConvenience(t *testing.T) {
	a := MustParse("/usa/ny/brooklyn/ps-118/floor-02/mech/boiler-01")
	if !MatchGlob("/usa/ny/*/*/floor-*/mech/boiler-*", a) {
		t.Fatal("expected match")
	}
	if MatchGlob("not-a-pattern", a) {
		t.Fatal("malformed pattern must not match")
	}
}
