// Package protocol defines the versioned message envelope, the protocol
// version registry and negotiator, and the stable error vocabulary shared
// by the connection state machine and the tool adapters.
package protocol

import (
	"strconv"
	"strings"
)

// Version is an opaque, dotted-numeric protocol version string such as
// "1.0" or "2.0". Versions are ordered by their numeric dot-separated
// tuple; a non-numeric tail sorts after any numeric one, and a version
// that fails to parse at all degrades to plain lexicographic comparison
// against other unparsed versions.
type Version string

// parsedVersion is the numeric tuple extracted from a Version, used for
// ordering. ok is false when the string could not be parsed as a
// dot-separated sequence of non-negative integers, in which case Less
// falls back to lexicographic comparison.
type parsedVersion struct {
	parts []int
	raw   string
	ok    bool
}

func parseVersion(v Version) parsedVersion {
	segments := strings.Split(string(v), ".")
	parts := make([]int, 0, len(segments))
	for _, seg := range segments {
		n, err := strconv.Atoi(seg)
		if err != nil || n < 0 {
			return parsedVersion{raw: string(v), ok: false}
		}
		parts = append(parts, n)
	}
	if len(parts) == 0 {
		return parsedVersion{raw: string(v), ok: false}
	}
	return parsedVersion{parts: parts, raw: string(v), ok: true}
}

// Less reports whether a sorts strictly before b.
//
// Two parsed (numeric) versions compare tuple-wise, padding the shorter
// with zeros. A parsed version always sorts before an unparsed one. Two
// unparsed versions fall back to lexicographic order.
func Less(a, b Version) bool {
	pa, pb := parseVersion(a), parseVersion(b)
	switch {
	case pa.ok && pb.ok:
		return compareTuples(pa.parts, pb.parts) < 0
	case pa.ok && !pb.ok:
		return true
	case !pa.ok && pb.ok:
		return false
	default:
		return pa.raw < pb.raw
	}
}

func compareTuples(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Comparable reports whether a and b can be meaningfully ordered, i.e.
// both parse as dotted-numeric tuples. The fallback rule in the
// negotiator's oldest-version step only fires for comparable pairs; an
// incomparable client version never satisfies it.
func Comparable(a, b Version) bool {
	return parseVersion(a).ok && parseVersion(b).ok
}

// LessOrEqual reports whether a <= b, using the same rules as Less. It is
// used by the negotiator's oldest-server-version fallback and is only
// meaningful when Comparable(a, b) is true; callers must check that
// first, since an incomparable pair will still return a deterministic
// (but not semantically useful) answer here.
func LessOrEqual(a, b Version) bool {
	return !Less(b, a)
}

// Max returns the greatest version in versions by Less, or "" if versions
// is empty.
func Max(versions []Version) Version {
	if len(versions) == 0 {
		return ""
	}
	best := versions[0]
	for _, v := range versions[1:] {
		if Less(best, v) {
			best = v
		}
	}
	return best
}

// SortAscending returns a new slice containing versions ordered from
// smallest to largest by Less. The input is not mutated.
func SortAscending(versions []Version) []Version {
	out := make([]Version, len(versions))
	copy(out, versions)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && Less(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
