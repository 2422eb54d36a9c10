// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

package rates

import (
	"fmt"
	"math"
	"sort"

	"github.com/jonchang/tact/internal/tacterr"
)

// Fit is a diversification-rate estimate for one taxonomic clade, fitted
// under a constant-rate birth-death-sampling process.
type Fit struct {
	Birth  float64
	Death  float64
	Method string // "cherry", "yule", or "birth-death"
}

// Request bundles the per-clade inputs to FitClade, grounded directly on
// spec §4.D's "inputs per clade" paragraph.
type Request struct {
	// BranchingTimes are the internal-node ages within the sampled
	// subtree, not including the crown age, in any order (FitClade sorts
	// them).
	BranchingTimes []float64
	// CrownAge is the age of the sampled subtree's MRCA.
	CrownAge float64
	// Sampled is the number of tips actually present in the backbone
	// (k in the spec).
	Sampled int
	// Full is the total known diversity of the clade (n in the spec).
	Full int
	// MinCCP is the admission cutoff theta; a fit is refused below it.
	MinCCP float64
	// ForceYule, when set, skips the birth-death-sampling stage
	// entirely and always reports the Yule estimate (spec's --yule
	// override, see SPEC_FULL.md).
	ForceYule bool
}

// rho is the proportion of extant diversity sampled in the backbone,
// k/n, the incomplete-sampling fraction threaded through p0/p1/lik_constant.
func (r Request) rho() float64 {
	return float64(r.Sampled) / float64(r.Full)
}

// FitClade implements the §4.D decision tree: a cherry (two sampled tips)
// takes the closed form without a crown-capture check; any other clade is
// admitted by crown-capture probability and then dispatched to the bounded
// Yule optimizer or the dual-optimizer birth-death-sampling fit, in that
// order of increasing cost. It returns a finite Fit, or an error wrapping
// tacterr.ErrRateFitFailed (invalid input) or tacterr.ErrCCPBelowCutoff
// (not admitted). It does not retry; the driver falls back to the fit it
// already has for the nearest ancestor taxon (spec's "nearest ancestor
// taxon for which a fit succeeded").
func FitClade(req Request) (Fit, error) {
	if req.Full <= 0 || req.Sampled <= 0 || req.Sampled > req.Full {
		return Fit{}, fmt.Errorf("rates: invalid clade size (sampled=%d, full=%d): %w", req.Sampled, req.Full, tacterr.ErrRateFitFailed)
	}
	if req.CrownAge <= 0 {
		return Fit{}, fmt.Errorf("rates: non-positive crown age: %w", tacterr.ErrRateFitFailed)
	}

	if req.Sampled == 2 {
		// Cherries carry no internal branching times to inform a
		// birth-death fit; lib.py's fit_cherry uses the closed-form
		// Yule MLE for two lineages directly instead. This is
		// independent of the CCP admission gate below: CCP(n,2) is
		// below most thresholds for any n>2, which is exactly the
		// case the cherry shortcut exists to handle (spec.md §8 S1).
		birth := math.Log(float64(req.Full)) / req.CrownAge
		return Fit{Birth: birth, Death: 0, Method: "cherry"}, nil
	}

	ccp, err := CCP(req.Full, req.Sampled)
	if err != nil {
		return Fit{}, fmt.Errorf("rates: %w: %w", err, tacterr.ErrRateFitFailed)
	}
	if ccp < req.MinCCP {
		return Fit{}, fmt.Errorf("rates: CCP(%d,%d)=%.4f below cutoff %.4f: %w", req.Full, req.Sampled, ccp, req.MinCCP, tacterr.ErrCCPBelowCutoff)
	}

	ages := append([]float64{req.CrownAge}, req.BranchingTimes...)
	sort.Sort(sort.Reverse(sort.Float64Slice(ages)))

	rho := req.rho()
	yuleBirth, yuleNegLL := fitYule(ages, rho, yuleUpperBound(ages))
	if req.ForceYule {
		return Fit{Birth: yuleBirth, Death: 0, Method: "yule"}, nil
	}

	bdBirth, bdDeath, bdNegLL, err := fitBirthDeathSampling(ages, rho, yuleBirth, yuleNegLL)
	if err != nil || math.IsNaN(bdNegLL) || math.IsInf(bdNegLL, 0) || bdNegLL > yuleNegLL {
		// Dual-optimizer fallback already tried inside
		// fitBirthDeathSampling; if it still can't beat the Yule fit,
		// the birth-death surface is too flat or pathological to trust
		// (spec §4.D "fails to improve on the Yule fit"), so report
		// the Yule estimate instead of a worse birth-death one.
		return Fit{Birth: yuleBirth, Death: 0, Method: "yule"}, nil
	}
	return Fit{Birth: bdBirth, Death: bdDeath, Method: "birth-death"}, nil
}

// yuleUpperBound picks a generous upper bound B for the golden-section
// Yule search: 50/T, where T is the oldest age (the crown age), wide
// enough that the true MLE is never pinned against the boundary for any
// plausible clade.
func yuleUpperBound(ages []float64) float64 {
	t := ages[0]
	if t <= 0 {
		t = 1e-6
	}
	return 50 / t
}
