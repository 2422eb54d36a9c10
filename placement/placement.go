// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

// Package placement implements the monophyly-aware placement engine
// (spec component F): for each taxonomic group, compute its valid
// attachment edges on the backbone, build an admissible age interval, and
// graft unsampled species onto it using branching times drawn from
// package sampler.
package placement

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/jonchang/tact/internal/tacterr"
	"github.com/jonchang/tact/interval"
	"github.com/jonchang/tact/logstream"
	"github.com/jonchang/tact/mrca"
	"github.com/jonchang/tact/rates"
	"github.com/jonchang/tact/sampler"
	"github.com/jonchang/tact/tree"
)

// minAgeEpsilon is how far below the group's stem age the engine backs off
// to choose the upper age t for the MinAgeViolation recovery path
// (graftAllAtAge).
const minAgeEpsilon = 1e-6

// PendingClade is a taxonomic group with no sampled members at all
// (sampled(G) = ∅): it cannot be attached on its own because it has no
// MRCA in the current backbone, so its species bubble up to be grafted
// as a single monophyletic unit by the nearest ancestor group that does
// have one (spec §4.F step 1).
type PendingClade struct {
	Label      string
	Species    []string
	Rate       rates.Fit
	RateSource string
}

// Group is one taxonomic node's input to Resolve, assembled by the
// driver in post-order (deepest groups first).
type Group struct {
	// Path is the taxon path from the taxonomy root to this group,
	// used both for log messages and to derive this group's RNG
	// sub-stream from the run's global seed.
	Path []string
	// SampledLeaves are backbone node ids already present for
	// species in full(G).
	SampledLeaves []int
	// DirectMissing are species whose deepest taxonomic rank is this
	// group itself (not a nested, finer rank).
	DirectMissing []string
	// Pending holds clades bubbled up from fully-unsampled child
	// groups; each is grafted as one monophyletic unit.
	Pending []PendingClade
	// NestedCrownAges are the crown ages of already-resolved,
	// monophyletic sampled child taxa, whose interior edges are
	// already locked; the ages themselves still narrow the group's
	// admissible interval (spec step 4).
	NestedCrownAges []float64
	// MinAgeConstraint is a lower bound on any new divergence time in
	// this group, propagated from a previously resolved sibling or
	// child whose own stem age was pinned.
	MinAgeConstraint *float64
	// Rate and RateSource are this group's resolved diversification
	// rate and the taxon (self or ancestor) it was admitted at,
	// already decided in Phase 1.
	Rate       rates.Fit
	RateSource string
	CCP        float64
	// Full and Sampled are |full(G)| and |sampled(G)|, used for the
	// crown-vs-stem policy (spec step 5).
	Full, Sampled int
}

// State is a taxon's position in the per-group state machine (spec
// §4.F "state machine per taxon").
type State int

const (
	StatePending State = iota
	StateRateResolved
	StatePlacing
	StateDone
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRateResolved:
		return "rate-resolved"
	case StatePlacing:
		return "placing"
	case StateDone:
		return "done"
	case StateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Result reports how a group was resolved.
type Result struct {
	State State
	// Pending is set (and the caller must bubble it to the parent
	// group) when the group had no sampled members at all.
	Pending *PendingClade
}

// Engine owns the single backbone tree and MRCA cache mutated across all
// of Phase 2; it is not safe for concurrent use (spec §5: Phase 2 is
// single-threaded cooperative).
type Engine struct {
	backbone *tree.Tree
	cache    *mrca.Cache
	log      *logstream.Logger
	seed     uint64
	subRand  func(path []string) *rand.Rand
}

// New builds a placement engine over an already-validated backbone tree.
func New(backbone *tree.Tree, cache *mrca.Cache, log *logstream.Logger, seed uint64, subRand func(path []string) *rand.Rand) *Engine {
	return &Engine{backbone: backbone, cache: cache, log: log, seed: seed, subRand: subRand}
}

// Resolve applies spec §4.F to a single taxonomic group and mutates the
// backbone in place.
func (e *Engine) Resolve(g Group) (Result, error) {
	if len(g.DirectMissing) == 0 && len(g.Pending) == 0 {
		if len(g.SampledLeaves) > 0 {
			e.lockResolvedTaxon(g)
		}
		return Result{State: StateSkipped}, nil
	}

	if len(g.SampledLeaves) == 0 {
		// Fully unsampled: defer to the parent group (spec step 1).
		allSpecies := append([]string(nil), g.DirectMissing...)
		for _, p := range g.Pending {
			allSpecies = append(allSpecies, p.Species...)
		}
		return Result{State: StateSkipped, Pending: &PendingClade{
			Label:      lastPathElement(g.Path),
			Species:    allSpecies,
			Rate:       g.Rate,
			RateSource: g.RateSource,
		}}, nil
	}

	m, ok := e.cache.Get(g.SampledLeaves)
	if !ok {
		return Result{}, fmt.Errorf("placement: no MRCA for group %v: %w", g.Path, tacterr.ErrMonophylyBroken)
	}
	crownAge := e.backbone.Age(m)
	var stemAge float64
	if e.backbone.IsRoot(m) {
		stemAge = crownAge
	} else {
		stemAge = e.backbone.Age(e.backbone.Parent(m))
	}

	if e.backbone.IsFullyLocked(m) {
		// spec step 6: every edge beneath M already belongs to a
		// resolved sibling sub-taxon; the only option left is the
		// stem edge itself.
		e.log.LogOnce(logstream.Entry{Severity: logstream.Warn, Tag: logstream.TagFullyLocked, Taxon: pathString(g.Path)})
		rng := e.subRand(g.Path)
		items := e.collectItems(g)
		if err := e.graftOnStem(m, stemAge, crownAge, items, g.Rate, rng); err != nil {
			return Result{}, err
		}
		e.lockResolvedTaxon(g)
		return Result{State: StateDone}, nil
	}

	ccp, err := rates.CCP(g.Full, g.Sampled)
	if err != nil {
		ccp = g.CCP
	}

	span, err := e.admissibleInterval(g, crownAge, stemAge, ccp)
	if err != nil {
		tag := logstream.TagMinAgeViolation
		if errors.Is(err, tacterr.ErrDisjointConstraints) {
			tag = logstream.TagDisjointConstraints
		}
		if errors.Is(err, tacterr.ErrMinAgeViolation) || errors.Is(err, tacterr.ErrDisjointConstraints) {
			e.log.Log(logstream.Entry{Severity: logstream.Warn, Tag: tag, Taxon: pathString(g.Path), Message: err.Error()})
			t := stemAge - minAgeEpsilon
			if t < 0 {
				t = 0
			}
			rng := e.subRand(g.Path)
			items := e.collectItems(g)
			if gerr := e.graftAllAtAge(m, t, items, g.Rate, rng); gerr != nil {
				return Result{}, gerr
			}
			e.lockResolvedTaxon(g)
			return Result{State: StateDone}, nil
		}
		return Result{}, err
	}

	rng := e.subRand(g.Path)
	items := e.collectItems(g)
	if err := e.graft(m, span, items, g.Rate, rng); err != nil {
		return Result{}, err
	}
	e.lockResolvedTaxon(g)
	return Result{State: StateDone}, nil
}

const minCCPDefault = 0.8

// item is one outer attachment unit: either a single missing species or
// an entire bubbled-up pending clade grafted as one monophyletic block.
type item struct {
	species []string // len 1 for a direct leaf, len >= 1 for a pending clade
	rate    rates.Fit
}

func (e *Engine) collectItems(g Group) []item {
	items := make([]item, 0, len(g.DirectMissing)+len(g.Pending))
	for _, s := range g.DirectMissing {
		items = append(items, item{species: []string{s}, rate: g.Rate})
	}
	for _, p := range g.Pending {
		items = append(items, item{species: p.Species, rate: p.Rate})
	}
	return items
}

// admissibleInterval implements spec step 4: start from the crown-vs-stem
// base range, carve out the excluded sub-range beneath each nested
// monophyletic subgroup's crown age (and beneath any propagated minimum-
// age constraint) using package interval's Complement/Intersect, then
// reduce what remains to a single atomic interval.
//
// Per spec §4.F step 5 (ground truth: original_source/tact/cli_add_taxa.py's
// `stem = ccp < min_ccp` passed into fill_new_taxa), stem attachment is
// permitted only when CCP falls below the cutoff -- a low CCP means the
// sampled MRCA may not be the clade's true crown, so the admissible range
// must extend up to the stem age. A high CCP means the sampled MRCA is
// trustworthy as the true crown, so new attachments stay crownward of it.
//
// Every exclusion here shares the same lower bound (base.Lo), so each
// complement is one span ending at base.Hi and the surviving set is at
// most one span, with no gap; AtomicHull's gap check still runs the
// general case.
func (e *Engine) admissibleInterval(g Group, crownAge, stemAge, ccp float64) (interval.Span, error) {
	crownAllowed := ccp >= minCCPDefault
	var base interval.Span
	if crownAllowed {
		base = interval.Span{Lo: 0, Hi: crownAge}
	} else {
		base = interval.Span{Lo: 0, Hi: stemAge}
	}

	allowed := interval.Set{base}
	if crownAllowed {
		for _, nc := range g.NestedCrownAges {
			if nc > base.Lo && nc < base.Hi {
				excluded := interval.Single(base.Lo, nc)
				allowed = interval.Intersect(allowed, interval.Complement(excluded, base))
			}
		}
	}
	if g.MinAgeConstraint != nil && *g.MinAgeConstraint > base.Lo {
		excluded := interval.Single(base.Lo, *g.MinAgeConstraint)
		allowed = interval.Intersect(allowed, interval.Complement(excluded, base))
	}

	if len(allowed) == 0 {
		lo := base.Lo
		if g.MinAgeConstraint != nil && *g.MinAgeConstraint > lo {
			lo = *g.MinAgeConstraint
		}
		return interval.Span{}, fmt.Errorf("placement: group %v requires age > %g but the admissible range tops out at %g: %w", g.Path, lo, base.Hi, tacterr.ErrMinAgeViolation)
	}

	hull, err := interval.AtomicHull(allowed, 1e-9)
	if err != nil {
		if interval.IsDisjoint(err) {
			return interval.Span{}, fmt.Errorf("placement: group %v: %w", g.Path, tacterr.ErrDisjointConstraints)
		}
		return interval.Span{}, fmt.Errorf("placement: group %v: %w", g.Path, err)
	}
	return hull, nil
}

// graft implements spec step 7 for the common case: draw one branching
// time per outer item from the admissible interval, then process them
// oldest-to-youngest, each time selecting uniformly among the currently
// valid (unlocked) edges beneath m, m's own stem edge included, whose age
// span straddles it.
func (e *Engine) graft(m int, span interval.Span, items []item, rate rates.Fit, rng *rand.Rand) error {
	if len(items) == 0 {
		return nil
	}
	times := sampler.Sample(rng, rate.Birth, rate.Death, nil, span.Hi, span.Lo, len(items))
	order := rng.Perm(len(items))

	for i, t := range times {
		it := items[order[i]]
		edge, err := e.pickValidEdge(m, t, rng)
		if err != nil {
			return err
		}
		if err := e.graftItemOnEdge(edge, t, it, rng); err != nil {
			return err
		}
	}
	return nil
}

// graftAllAtAge implements the MinAgeViolation recovery path (spec step
// 4): it picks one valid edge beneath m whose span straddles t and chains
// every outstanding item onto that edge, one new divergence per item, at
// ages drawn between the edge's lower end and t. It does not place a
// divergence exactly at t and does not join the items under a single
// divergence.
func (e *Engine) graftAllAtAge(m int, t float64, items []item, rate rates.Fit, rng *rand.Rand) error {
	if len(items) == 0 {
		return nil
	}
	edge, err := e.pickValidEdge(m, t, rng)
	if err != nil {
		return err
	}
	lo, _ := e.backbone.Span(edge)
	times := sampler.Sample(rng, rate.Birth, rate.Death, nil, t, lo, len(items))
	order := rng.Perm(len(items))
	ordered := make([]item, len(items))
	for i, j := range order {
		ordered[i] = items[j]
	}
	return e.graftChainOnEdge(edge.Child, times, ordered, rng)
}

// graftOnStem implements spec step 6 (fully-locked case): attach
// everything directly onto m's stem edge.
func (e *Engine) graftOnStem(m int, stemAge, crownAge float64, items []item, rate rates.Fit, rng *rand.Rand) error {
	if len(items) == 0 {
		return nil
	}
	times := sampler.Sample(rng, rate.Birth, rate.Death, nil, stemAge, crownAge, len(items))
	order := rng.Perm(len(items))
	ordered := make([]item, len(items))
	for i, j := range order {
		ordered[i] = items[j]
	}
	return e.graftChainOnEdge(m, times, ordered, rng)
}

// graftChainOnEdge repeatedly splits the edge directly above edgeChild,
// oldest age first, each time attaching one item as edgeChild's new
// sibling. Because every insertion targets the edge immediately above
// edgeChild (whose age never changes), each subsequent, younger time
// nests between edgeChild and the previous insertion rather than
// chaining off whichever leaf was attached last, keeping edgeChild's
// pre-existing subtree undisturbed (I5).
func (e *Engine) graftChainOnEdge(edgeChild int, times []float64, items []item, rng *rand.Rand) error {
	for i, t := range times {
		newNode, err := e.backbone.InsertOnEdge(edgeChild, t)
		if err != nil {
			return fmt.Errorf("placement: %w", err)
		}
		e.cache.OnInsert(newNode, edgeChild)
		if err := e.graftSpeciesChain(newNode, t, items[i].species, items[i].rate, rng); err != nil {
			return err
		}
	}
	return nil
}

// graftItemOnEdge grafts a single outer item (a leaf or a whole pending
// clade) onto edge at age t, via the same insert-then-attach mechanics.
func (e *Engine) graftItemOnEdge(edge tree.Edge, t float64, it item, rng *rand.Rand) error {
	newNode, err := e.backbone.InsertOnEdge(edge.Child, t)
	if err != nil {
		return fmt.Errorf("placement: %w", err)
	}
	e.cache.OnInsert(newNode, edge.Child)
	return e.graftSpeciesChain(newNode, t, it.species, it.rate, rng)
}

// graftSpeciesChain attaches the given species under newNode (whose age
// is t) as a monophyletic caterpillar: the first species becomes
// newNode's sibling to the pre-existing descendant, and each further
// species nests between newNode and the first leaf at a strictly
// younger age, drawn from the clade's own sampler.Sample call on (0, t).
// This keeps every species that bubbled up from the same pending clade
// monophyletic, matching spec S2's expectation without requiring a
// separate detached-subtree representation in package tree.
func (e *Engine) graftSpeciesChain(newNode int, t float64, species []string, rate rates.Fit, rng *rand.Rand) error {
	if len(species) == 0 {
		return fmt.Errorf("placement: graft with no species")
	}
	order := rng.Perm(len(species))
	shuffled := make([]string, len(species))
	for i, j := range order {
		shuffled[i] = species[j]
	}

	leaf, err := e.backbone.AttachLeaf(newNode, shuffled[0])
	if err != nil {
		return fmt.Errorf("placement: %w", err)
	}
	e.cache.OnAttachLeaf(leaf)
	if len(shuffled) == 1 {
		return nil
	}

	// The remaining species nest between newNode and leaf, oldest
	// first, using the same fixed-child chaining graftChainOnEdge uses
	// at the outer level: leaf's age never changes, so each
	// successively younger inner time still satisfies InsertOnEdge's
	// strict bounds.
	innerTimes := sampler.Sample(rng, rate.Birth, rate.Death, nil, t, 0, len(shuffled)-1)
	innerItems := make([]item, len(innerTimes))
	for i, s := range shuffled[1:] {
		innerItems[i] = item{species: []string{s}, rate: rate}
	}
	return e.graftChainOnEdge(leaf, innerTimes, innerItems, rng)
}

// pickValidEdge selects uniformly among m's unlocked descendant edges
// (including m's own stem) whose age span straddles t. Locked edges are
// those spec step 3 excludes: interiors of smaller, already resolved
// sampled sibling taxa (see lockResolvedTaxon).
func (e *Engine) pickValidEdge(m int, t float64, rng *rand.Rand) (tree.Edge, error) {
	var candidates []tree.Edge
	for _, edge := range e.backbone.EdgesUnder(m, true) {
		if e.backbone.Locked(edge.Child) {
			continue
		}
		lo, hi := e.backbone.Span(edge)
		if t >= lo && t <= hi {
			candidates = append(candidates, edge)
		}
	}
	if len(candidates) == 0 {
		return tree.Edge{}, fmt.Errorf("placement: no valid edge straddling age %g under node %d: %w", t, m, tacterr.ErrNoValidEdge)
	}
	return candidates[rng.IntN(len(candidates))], nil
}

// lockResolvedTaxon locks every edge inside the subtree of this group's
// sampled MRCA (spec I3): once locked, no descendant edge can be chosen by
// an ancestor's own placement step. It locks that subtree whether or not
// the group's sampled leaves are monophyletic, so tips of other taxa that
// fall inside it are locked as well.
func (e *Engine) lockResolvedTaxon(g Group) {
	if len(g.SampledLeaves) == 0 {
		return
	}
	m, ok := e.cache.Get(g.SampledLeaves)
	if !ok {
		return
	}
	e.backbone.Lock(m, false)
}

func lastPathElement(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return path[len(path)-1]
}

func pathString(path []string) string {
	s := ""
	for i, p := range path {
		if i > 0 {
			s += "/"
		}
		s += p
	}
	return s
}

