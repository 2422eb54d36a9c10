// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

// Package rates implements the per-clade diversification-rate estimator
// (spec component D): crown-capture probability, the cherry/Yule/
// birth-death-sampling decision tree, and the dual-optimizer fallback.
package rates

import "fmt"

// CCP returns the crown-capture probability: the probability that a
// random sample of k taxa out of n total, under a Yule process, includes
// the clade's crown node. Sanderson (1996), Systematic Biology 45:168-173;
// grounded directly on lib.py's crown_capture_probability.
//
// CCP is undefined for n < k and returns an error in that case; P8
// requires CCP(n,n) == 1 and monotone non-decreasing in k, both of which
// hold for the formula below once n == k is special-cased.
func CCP(n, k int) (float64, error) {
	if n < k {
		return 0, fmt.Errorf("rates: CCP(n=%d, k=%d): n must be >= k", n, k)
	}
	if n == k {
		return 1, nil
	}
	if k < 2 {
		// A single sampled tip can never be known to include the crown
		// node of a clade with more than one species; matches lib.py's
		// "not technically correct but it works for our purposes" n==1
		// case generalized to any k<2.
		return 0, nil
	}
	return 1 - 2*float64(n-k)/(float64(n-1)*float64(k+1)), nil
}
