// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

// Package interval implements closed-interval arithmetic over non-negative
// real time values.
//
// Nothing in the retrieved example pool ships an importable closed-interval
// union type for plain real numbers (cockroachdb's internal interval tree
// and biogo/store's int-keyed interval tree are augmented-tree indexes over
// integer keys built for a different problem: fast overlap queries among
// many stored intervals, not algebra over a handful of constraint
// intervals). This package borrows their low/high-endpoint, sorted-slice
// merge style but is hand-written directly against the standard library, as
// noted in DESIGN.md.
package interval

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Span is a closed interval [Lo, Hi] of time. A Span with Lo > Hi is
// considered empty.
type Span struct {
	Lo, Hi float64
}

// Empty reports whether s contains no points.
func (s Span) Empty() bool {
	return s.Lo > s.Hi
}

// Width returns Hi-Lo, or 0 for an empty span.
func (s Span) Width() float64 {
	if s.Empty() {
		return 0
	}
	return s.Hi - s.Lo
}

// Contains reports whether t lies within the closed span.
func (s Span) Contains(t float64) bool {
	return !s.Empty() && t >= s.Lo && t <= s.Hi
}

// Set is a union of disjoint, sorted, non-adjacent spans.
type Set []Span

// Single returns a Set containing exactly one span.
func Single(lo, hi float64) Set {
	if lo > hi {
		return nil
	}
	return Set{{Lo: lo, Hi: hi}}
}

// Union returns the union of a and b, merging overlapping or touching
// spans.
func Union(a, b Set) Set {
	merged := make(Set, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	return normalize(merged)
}

// Intersect returns the intersection of a and b.
func Intersect(a, b Set) Set {
	var out Set
	for _, x := range a {
		for _, y := range b {
			lo := math.Max(x.Lo, y.Lo)
			hi := math.Min(x.Hi, y.Hi)
			if lo <= hi {
				out = append(out, Span{Lo: lo, Hi: hi})
			}
		}
	}
	return normalize(out)
}

// Complement returns the portion of the bounding span [bound.Lo, bound.Hi]
// not covered by a.
func Complement(a Set, bound Span) Set {
	a = normalize(a)
	var out Set
	cursor := bound.Lo
	for _, s := range a {
		lo := math.Max(s.Lo, bound.Lo)
		hi := math.Min(s.Hi, bound.Hi)
		if lo > bound.Hi || hi < bound.Lo {
			continue
		}
		if lo > cursor {
			out = append(out, Span{Lo: cursor, Hi: lo})
		}
		if hi > cursor {
			cursor = hi
		}
	}
	if cursor < bound.Hi {
		out = append(out, Span{Lo: cursor, Hi: bound.Hi})
	}
	return out
}

// normalize sorts spans by lower bound and merges any that overlap or
// touch (a gap of at most 1e-12 is treated as touching so that
// accumulated rounding error doesn't manufacture spurious gaps).
func normalize(s Set) Set {
	spans := make(Set, 0, len(s))
	for _, x := range s {
		if !x.Empty() {
			spans = append(spans, x)
		}
	}
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Lo < spans[j].Lo })

	out := Set{spans[0]}
	for _, x := range spans[1:] {
		last := &out[len(out)-1]
		if x.Lo <= last.Hi+1e-12 {
			if x.Hi > last.Hi {
				last.Hi = x.Hi
			}
			continue
		}
		out = append(out, x)
	}
	return out
}

// Bounds returns [min(s), max(s)] across every span in s, and false if s is
// empty.
func (s Set) Bounds() (Span, bool) {
	if len(s) == 0 {
		return Span{}, false
	}
	norm := normalize(s)
	return Span{Lo: norm[0].Lo, Hi: norm[len(norm)-1].Hi}, true
}

// AtomicHull reduces a union of spans to the single interval [min(s),
// max(s)] spanning its convex hull, provided no internal gap between
// consecutive spans is at least eps wide. If such a gap exists, the
// constraints that produced s cannot be jointly satisfied by a single
// divergence time and AtomicHull returns an error wrapping this package's
// own sentinel, which IsDisjoint detects; callers such as package
// placement translate it into tacterr.ErrDisjointConstraints.
func AtomicHull(s Set, eps float64) (Span, error) {
	norm := normalize(s)
	if len(norm) == 0 {
		return Span{}, fmt.Errorf("atomic-hull: empty interval set")
	}
	for i := 1; i < len(norm); i++ {
		gap := norm[i].Lo - norm[i-1].Hi
		if gap >= eps {
			return Span{}, fmt.Errorf("%w: gap [%g, %g] of width %g >= %g",
				errDisjoint, norm[i-1].Hi, norm[i].Lo, gap, eps)
		}
	}
	hull, _ := norm.Bounds()
	return hull, nil
}

// errDisjoint is a local sentinel so AtomicHull's error can be tested with
// errors.Is without this package importing internal/tacterr, which would
// create an import cycle once tacterr grows span-shaped error payloads.
// Callers that want to test for it use interval.IsDisjoint(err).
var errDisjoint = errors.New("disjoint age constraints")

// IsDisjoint reports whether err was produced by a failed AtomicHull call.
func IsDisjoint(err error) bool {
	return errors.Is(err, errDisjoint)
}
