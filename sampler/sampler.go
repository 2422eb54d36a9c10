// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

// Package sampler implements the branching-time sampler (spec component
// E): inverse-CDF draws of new speciation times from a constant-rate
// birth-death process, conditioned on an age interval and the process
// already having produced the branching times observed in the backbone.
//
// Grounded directly on lib.py's get_new_times, itself adapted from
// TreeSim::corsim (Stadler); Cusimano et al. (2012), Systematic Biology
// 61(5):785-792.
package sampler

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// bdIntp1 is the same c2 integration constant as rates' unexported intp1,
// duplicated here (rather than exported across the package boundary)
// because it is purely a property of the birth-death process, not of any
// fitted clade state that package rates owns.
func bdIntp1(t, birth, death float64) float64 {
	if birth == death {
		return birth * t / (1 + birth*t)
	}
	const maxExp = 700
	x := -(birth - death) * t
	var e float64
	switch {
	case x > maxExp:
		e = math.MaxFloat64
	case x < -maxExp:
		e = 0
	default:
		e = math.Exp(x)
	}
	return (1 - e) / (birth - death*e)
}

// Sample draws n ordered new speciation times within [tYoung, tOld],
// conditioned on birth, death, and the existing waiting times in
// backboneAges (which need not lie inside the interval; only those that
// do constrain the draw). Returned times are sorted descending (oldest
// first), matching the rest of the package's age convention.
//
// Degenerate cases per spec §4.E: n == 0 returns nil; if tOld and tYoung
// are equal within 1e-9, n copies of that value are returned directly
// without invoking the sampler.
func Sample(rng *rand.Rand, birth, death float64, backboneAges []float64, tOld, tYoung float64, n int) []float64 {
	if n == 0 {
		return nil
	}
	if math.Abs(tOld-tYoung) < 1e-9 {
		out := make([]float64, n)
		for i := range out {
			out[i] = tOld
		}
		return out
	}

	if birth == death {
		// Guard the degenerate limit the same way p0/p1 do for the
		// likelihood, rather than letting 1/(death-birth) divide by
		// zero below.
		death -= 1e-9
	}

	ages := make([]float64, 0, len(backboneAges))
	for _, a := range backboneAges {
		if a <= tOld && a >= tYoung {
			ages = append(ages, a)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(ages)))

	times := make([]float64, 0, len(ages)+2)
	times = append(times, tOld)
	times = append(times, ages...)
	times = append(times, tYoung)

	u := distuv.Uniform{Min: 0, Max: 1, Src: rng}

	out := make([]float64, 0, n)
	for remaining := n; remaining > 0; remaining-- {
		addRank := 0
		if len(times) > 2 {
			weights := make([]float64, len(times)-1)
			var sum float64
			for i := 1; i < len(times); i++ {
				w := float64(i) * (bdIntp1(times[i-1], birth, death) - bdIntp1(times[i], birth, death))
				weights[i-1] = w
				sum += w
			}
			if sum != 0 {
				r := u.Rand()
				var cum float64
				for i, w := range weights {
					cum += w / sum
					if cum > r {
						addRank = i
						break
					}
				}
			}
		}

		r := u.Rand()
		denom := bdIntp1(times[addRank], birth, death) - bdIntp1(times[addRank+1], birth, death)
		var temp float64
		if denom != 0 {
			temp = bdIntp1(times[addRank+1], birth, death) / denom
		}
		xnew := 1 / (death - birth) * math.Log((1-(r+temp)*denom*birth)/(1-(r+temp)*denom*death))
		out = append(out, xnew)
	}

	sort.Sort(sort.Reverse(sort.Float64Slice(out)))
	return out
}
