// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

package rates_test

import (
	"errors"
	"math"
	"testing"

	"github.com/jonchang/tact/internal/tacterr"
	"github.com/jonchang/tact/rates"
)

func TestCCPMonotoneAndBoundary(t *testing.T) {
	got, err := rates.CCP(10, 10)
	if err != nil || got != 1 {
		t.Fatalf("CCP(10,10) = %v, %v; want 1, nil", got, err)
	}
	prev := -1.0
	for k := 2; k <= 10; k++ {
		v, err := rates.CCP(10, k)
		if err != nil {
			t.Fatalf("CCP(10,%d): %v", k, err)
		}
		if v < prev {
			t.Fatalf("CCP(10,%d) = %g is not monotone non-decreasing (prev %g)", k, v, prev)
		}
		prev = v
	}
	if _, err := rates.CCP(3, 5); err == nil {
		t.Fatalf("expected an error for n < k")
	}
}

func TestFitCladeCherry(t *testing.T) {
	fit, err := rates.FitClade(rates.Request{
		CrownAge: 2.0,
		Sampled:  2,
		Full:     2,
		MinCCP:   0.8,
	})
	if err != nil {
		t.Fatalf("FitClade: %v", err)
	}
	if fit.Method != "cherry" {
		t.Fatalf("Method = %q, want cherry", fit.Method)
	}
	if fit.Death != 0 {
		t.Fatalf("cherry fit should have death = 0, got %g", fit.Death)
	}
	want := math.Log(2) / 2.0
	if math.Abs(fit.Birth-want) > 1e-9 {
		t.Fatalf("Birth = %g, want %g", fit.Birth, want)
	}
}

func TestFitCladeBelowCutoff(t *testing.T) {
	// Sampled must be > 2 here: the cherry shortcut (Sampled == 2)
	// bypasses the CCP admission gate entirely, so the gate can only be
	// exercised against a clade with internal branching times.
	_, err := rates.FitClade(rates.Request{
		BranchingTimes: []float64{1.0},
		CrownAge:       2.0,
		Sampled:        3,
		Full:           20,
		MinCCP:         0.8,
	})
	if !errors.Is(err, tacterr.ErrCCPBelowCutoff) {
		t.Fatalf("expected ErrCCPBelowCutoff, got %v", err)
	}
}

func TestFitCladeYuleForced(t *testing.T) {
	fit, err := rates.FitClade(rates.Request{
		BranchingTimes: []float64{2.0, 1.0, 0.5},
		CrownAge:       3.0,
		Sampled:        4,
		Full:           4,
		MinCCP:         0.8,
		ForceYule:      true,
	})
	if err != nil {
		t.Fatalf("FitClade: %v", err)
	}
	if fit.Method != "yule" {
		t.Fatalf("Method = %q, want yule", fit.Method)
	}
	if fit.Death != 0 {
		t.Fatalf("yule fit should have death = 0, got %g", fit.Death)
	}
	if fit.Birth <= 0 {
		t.Fatalf("Birth = %g, want > 0", fit.Birth)
	}
}

func TestFitCladeBirthDeath(t *testing.T) {
	fit, err := rates.FitClade(rates.Request{
		BranchingTimes: []float64{4.5, 4.0, 3.0, 2.8, 2.2, 1.5, 1.0, 0.8, 0.4},
		CrownAge:       5.0,
		Sampled:        10,
		Full:           12,
		MinCCP:         0.8,
	})
	if err != nil {
		t.Fatalf("FitClade: %v", err)
	}
	if fit.Birth <= 0 {
		t.Fatalf("Birth = %g, want > 0", fit.Birth)
	}
	if fit.Death < 0 || fit.Death >= fit.Birth {
		t.Fatalf("Death = %g out of range [0, Birth=%g)", fit.Death, fit.Birth)
	}
}

func TestFitCladeRejectsInvalidSizes(t *testing.T) {
	if _, err := rates.FitClade(rates.Request{Sampled: 5, Full: 3, MinCCP: 0.8}); !errors.Is(err, tacterr.ErrRateFitFailed) {
		t.Fatalf("expected ErrRateFitFailed for sampled > full, got %v", err)
	}
}
