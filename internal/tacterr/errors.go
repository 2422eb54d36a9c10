// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

// Package tacterr defines the sentinel errors shared across TACT's packages.
//
// Callers use errors.Is against these values rather than comparing strings,
// the same way the rest of the module uses errors.Is(err, io.EOF) against
// stdlib sentinels.
package tacterr

import "errors"

var (
	// ErrNonUltrametric is returned when a tree's tip-to-root distances
	// disagree by more than the configured precision.
	ErrNonUltrametric = errors.New("tree is not ultrametric")

	// ErrNotBinary is returned when a tree has a node of degree other
	// than two where binary structure is required.
	ErrNotBinary = errors.New("tree is not binary")

	// ErrNameConflict is returned when a label is not unique where
	// uniqueness is required (taxonomy ranks, backbone taxa).
	ErrNameConflict = errors.New("duplicate name")

	// ErrDisjointConstraints is returned by interval reduction when an
	// age-constraint union cannot be collapsed to a single interval.
	ErrDisjointConstraints = errors.New("disjoint age constraints")

	// ErrMinAgeViolation is returned when the tightest feasible age for
	// a new divergence is younger than a propagated minimum-age
	// constraint.
	ErrMinAgeViolation = errors.New("minimum age constraint violated")

	// ErrRateFitFailed is returned when a clade's birth-death or Yule
	// optimization could not produce a finite result.
	ErrRateFitFailed = errors.New("rate fit failed")

	// ErrMonophylyBroken signals an internal invariant failure: the
	// placement engine should never attempt to violate the monophyly of
	// an already-resolved taxon. Reaching this is a bug, not a
	// recoverable condition.
	ErrMonophylyBroken = errors.New("monophyly invariant broken")

	// ErrCCPBelowCutoff is logged (not returned to a caller that aborts)
	// when a clade's crown-capture probability falls below the
	// configured minimum and a fit is skipped in favor of an ancestor.
	ErrCCPBelowCutoff = errors.New("crown capture probability below cutoff")

	// ErrNoValidEdge is returned when the placement engine cannot find
	// any unlocked edge on which to graft a new divergence.
	ErrNoValidEdge = errors.New("no valid edge for graft")

	// ErrUnknownLeaf is returned when a backbone leaf label is not
	// present in the taxonomy's leaf set.
	ErrUnknownLeaf = errors.New("leaf not present in taxonomy")
)
