// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

package rates

import (
	"math"
	"sort"
)

// p0 is the probability that an individual alive at time t before the
// present has no sampled descendants (extant or extinct), under a
// constant-rate birth-death process with incomplete sampling. Stadler
// (2010), J. Theor. Biol. 267(3):396-404, remark 3.2; grounded directly on
// lib.py's p0 (itself a port of TreePar:::p0). The original falls back to
// arbitrary-precision Decimal arithmetic on overflow; this implementation
// instead keeps the exponent itself bounded (expGuard) since birth >= 0
// and death >= 0 mean the exponent's sign is enough to know which branch
// won't overflow.
func p0(t, birth, death, rho float64) float64 {
	if birth == death {
		// l == m limit: p0 -> 1 - rho / (1 + rho*l*t).
		return 1 - rho/(1+rho*birth*t)
	}
	e := expGuard(-(birth - death) * t)
	return 1 - rho*(birth-death)/(rho*birth+(birth*(1-rho)-death)*e)
}

// p1 is the probability that an individual alive at time t before the
// present has exactly one sampled extant descendant and no sampled
// extinct descendants. Grounded directly on lib.py's p1.
func p1(t, birth, death, rho float64) float64 {
	if birth == death {
		denom := 1 + rho*birth*t
		v := rho / (denom * denom)
		if v == 0 {
			return math.SmallestNonzeroFloat64
		}
		return v
	}
	e := expGuard(-(birth - death) * t)
	num := rho * (birth - death) * (birth - death) * e
	denom := rho*birth + (birth*(1-rho)-death)*e
	v := num / (denom * denom)
	if v == 0 {
		return math.SmallestNonzeroFloat64
	}
	return v
}

// expGuard evaluates exp(x) without overflowing to +Inf or underflowing
// silently past zero, since the birth-death likelihood is evaluated at
// optimizer-proposed parameters that can be numerically extreme before
// the optimizer converges.
func expGuard(x float64) float64 {
	const maxExp = 700 // math.Exp(710) overflows float64
	if x > maxExp {
		return math.MaxFloat64
	}
	if x < -maxExp {
		return 0
	}
	return math.Exp(x)
}

// intp1 is the c2 integration constant from Cusimano et al. (2012), Syst.
// Biol. 61(5):785-792, eq. A.2. Grounded directly on lib.py's intp1
// (itself a port of TreeSim:::intp1). Nothing calls it; the inverse-CDF
// branching-time sampler (package sampler) uses its own copy, bdIntp1.
func intp1(t, birth, death float64) float64 {
	if birth == death {
		return birth * t / (1 + birth*t)
	}
	e := expGuard(-(birth - death) * t)
	return (1 - e) / (birth - death*e)
}

// negLogLikConstant computes the negative log-likelihood of a sequence of
// branching times under a constant-rate birth-death process conditioned
// on survival and incomplete sampling. Stadler (2009), J. Theor. Biol.
// 261:58-66; grounded directly on lib.py's lik_constant.
//
// ages must include the crown age as its maximum element; it is sorted
// in place, descending.
func negLogLikConstant(birth, death, rho float64, ages []float64) float64 {
	sort.Sort(sort.Reverse(sort.Float64Slice(ages)))

	lik := 2 * math.Log(p1(ages[0], birth, death, rho))
	for _, tt := range ages[1:] {
		lik += math.Log(birth) + math.Log(p1(tt, birth, death, rho))
	}
	lik -= 2 * math.Log(1-p0(ages[0], birth, death, rho))
	return -lik
}
