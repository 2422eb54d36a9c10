// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

package rates

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// goldenSectionMaxIter bounds the Yule-rate line search; the golden-section
// interval shrinks by a constant factor each iteration so this is far more
// than enough to reach float64 precision from any reasonable bracket.
const goldenSectionMaxIter = 200

const goldenRatio = 0.6180339887498949

// fitYule finds the single birth rate maximizing the Yule (pure-birth)
// log-likelihood of ages by golden-section search over (0, hi), the
// birth-death log-likelihood's analytical death=0 limit. Grounded on the
// bounded scalar-optimization approach of lib.py's fit_yule, which calls
// scipy.optimize.minimize_scalar(bounded=...); gonum has no bounded
// scalar minimizer, so this hand-rolls golden-section search, the
// textbook derivative-free bracketed method minimize_scalar itself falls
// back to outside Brent's method.
func fitYule(ages []float64, rho, hi float64) (birth float64, negLL float64) {
	lo := 1e-9
	negLogLik := func(b float64) float64 {
		return negLogLikConstant(b, 0, rho, append([]float64(nil), ages...))
	}

	a, b := lo, hi
	c := b - goldenRatio*(b-a)
	d := a + goldenRatio*(b-a)
	fc, fd := negLogLik(c), negLogLik(d)
	for i := 0; i < goldenSectionMaxIter && b-a > 1e-10; i++ {
		if fc < fd {
			b, d, fd = d, c, fc
			c = b - goldenRatio*(b-a)
			fc = negLogLik(c)
		} else {
			a, c, fc = c, d, fd
			d = a + goldenRatio*(b-a)
			fd = negLogLik(d)
		}
	}
	birth = (a + b) / 2
	return birth, negLogLik(birth)
}

// fitBirthDeathSampling estimates (birth, death) jointly by minimizing the
// negative birth-death-sampling log-likelihood, trying gonum's
// Nelder-Mead simplex first and falling back to SimulatedAnnealing
// whenever Nelder-Mead fails to converge, proposes a degenerate point, or
// simply fails to improve on the Yule fit (spec §4.D: all three are
// triggers for the SA rerun, not just outright failure). Both optimizers
// are from gonum.org/v1/gonum/optimize, the library the teacher repo's
// walkparam package already depends on for parameter search; birth-death
// fitting here is the same "bounded nonlinear minimization of a scalar
// objective" problem restated in a new domain.
//
// birth0 seeds the search at the Yule MLE with a small excess, per §4.D's
// guidance to initialize from the Yule fit rather than an arbitrary
// point. yuleNegLL is the Yule fit's own negative log-likelihood, the bar
// Nelder-Mead must clear on its own before SA is skipped.
func fitBirthDeathSampling(ages []float64, rho, birth0, yuleNegLL float64) (birth, death float64, negLL float64, err error) {
	negLogLik := func(p []float64) float64 {
		b, d := p[0], p[1]
		if b <= 0 || d < 0 || d >= b {
			return math.Inf(1)
		}
		return negLogLikConstant(b, d, rho, append([]float64(nil), ages...))
	}

	p0 := []float64{birth0 * 1.1, birth0 * 0.1}
	problem := optimize.Problem{Func: negLogLik}

	result, nmErr := optimize.Minimize(problem, p0, &optimize.Settings{
		MajorIterations: 500,
	}, &optimize.NelderMead{})
	nmValid := nmErr == nil && result != nil && validBD(result.X)

	if nmValid && result.F <= yuleNegLL {
		return result.X[0], result.X[1], result.F, nil
	}

	// Nelder-Mead either failed outright, proposed a degenerate point,
	// or simply didn't beat the Yule fit; simulated annealing explores
	// more broadly before FitClade concedes the clade to the Yule
	// estimate.
	saResult, saErr := optimize.Minimize(problem, p0, &optimize.Settings{
		MajorIterations: 2000,
	}, &optimize.SimulatedAnnealing{})
	saValid := saErr == nil && saResult != nil && validBD(saResult.X)

	switch {
	case nmValid && saValid:
		if result.F <= saResult.F {
			return result.X[0], result.X[1], result.F, nil
		}
		return saResult.X[0], saResult.X[1], saResult.F, nil
	case saValid:
		return saResult.X[0], saResult.X[1], saResult.F, nil
	case nmValid:
		return result.X[0], result.X[1], result.F, nil
	default:
		return 0, 0, 0, fmt.Errorf("rates: birth-death optimization failed to converge: nelder-mead: %v, annealing: %v", nmErr, saErr)
	}
}

func validBD(p []float64) bool {
	if len(p) != 2 {
		return false
	}
	b, d := p[0], p[1]
	return b > 0 && d >= 0 && d < b && !math.IsNaN(b) && !math.IsNaN(d) && !math.IsInf(b, 0) && !math.IsInf(d, 0)
}
