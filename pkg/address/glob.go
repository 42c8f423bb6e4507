package address

import (
	"fmt"
	"strings"
)

// Pattern is a compiled glob over the seven address segments. A segment is
// either a literal, a bare `*` matching any single segment, or a literal
// containing one `*` matched with prefix/suffix semantics (e.g.
// `boiler-*`). Cross-segment wildcards (`**`) are not supported. A
// six-segment pattern omits the building segment, which matches as `*`.
type Pattern struct {
	segments [SegmentCount]string
}

// ParsePattern validates and compiles a glob pattern. Patterns follow the
// address grammar with `*` additionally permitted, at most once per segment.
func ParsePattern(pattern string) (Pattern, error) {
	if !strings.HasPrefix(pattern, "/") {
		return Pattern{}, fmt.Errorf("%w: pattern %q missing leading slash", ErrMalformed, pattern)
	}
	parts := strings.Split(pattern[1:], "/")
	switch len(parts) {
	case SegmentCount:
	case SegmentCount - 1:
		// Implicit building wildcard.
		expanded := make([]string, 0, SegmentCount)
		expanded = append(expanded, parts[:SegmentBuilding]...)
		expanded = append(expanded, "*")
		expanded = append(expanded, parts[SegmentBuilding:]...)
		parts = expanded
	default:
		return Pattern{}, fmt.Errorf("%w: pattern %q has %d segments, want %d or %d",
			ErrMalformed, pattern, len(parts), SegmentCount-1, SegmentCount)
	}
	var p Pattern
	for i, seg := range parts {
		if !validPatternSegment(seg) {
			return Pattern{}, fmt.Errorf("%w: pattern segment %d %q invalid", ErrMalformed, i, seg)
		}
		p.segments[i] = seg
	}
	return p, nil
}

func validPatternSegment(seg string) bool {
	if seg == "" {
		return false
	}
	stars := 0
	for _, r := range seg {
		if r == '*' {
			stars++
			continue
		}
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return stars <= 1
}

// String renders the pattern in its slash-separated form.
func (p Pattern) String() string {
	return "/" + strings.Join(p.segments[:], "/")
}

// Matches reports whether the address satisfies every pattern segment.
func (p Pattern) Matches(a Address) bool {
	for i := 0; i < SegmentCount; i++ {
		if !matchSegment(p.segments[i], a.segments[i]) {
			return false
		}
	}
	return true
}

func matchSegment(pattern, seg string) bool {
	if pattern == "*" {
		return true
	}
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return pattern == seg
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	if len(seg) < len(prefix)+len(suffix) {
		return false
	}
	return strings.HasPrefix(seg, prefix) && strings.HasSuffix(seg, suffix)
}

// MatchGlob reports whether pattern matches the address. Malformed patterns
// never match; use ParsePattern to distinguish pattern errors.
func MatchGlob(pattern string, a Address) bool {
	p, err := ParsePattern(pattern)
	if err != nil {
		return false
	}
	return p.Matches(a)
}
