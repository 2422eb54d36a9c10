// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

// Package driver implements the two-phase orchestration loop (spec
// component G): Phase 1 fits diversification rates for every qualifying
// taxonomic node, fanned out over a worker pool the way
// js-arias/phygeo's pruning package fans out pixel likelihoods over a
// channel of workers; Phase 2 walks the same nodes in a fixed
// deterministic order and hands each to the placement engine.
package driver

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/jonchang/tact/internal/rng"
	"github.com/jonchang/tact/internal/tacterr"
	"github.com/jonchang/tact/logstream"
	"github.com/jonchang/tact/mrca"
	"github.com/jonchang/tact/placement"
	"github.com/jonchang/tact/rates"
	"github.com/jonchang/tact/taxonomy"
	"github.com/jonchang/tact/tree"
)

// Config bundles the run parameters spec §6 lists as CLI parameters
// recognized by the core.
type Config struct {
	MinCCP    float64
	Yule      bool
	Seed      uint64
	Workers   int
	Precision float64
}

// RateRecord is one row of the rates CSV spec §6 requires: columns
// taxon, birth, death, ccp, source.
type RateRecord struct {
	Taxon  string
	Fit    rates.Fit
	CCP    float64
	Source string
}

// Driver owns the taxonomy, the backbone, and the MRCA cache for one run.
type Driver struct {
	tax      *taxonomy.Taxonomy
	backbone *tree.Tree
	cache    *mrca.Cache
	log      *logstream.Logger
	cfg      Config
}

// New builds a Driver over an already-validated taxonomy and backbone.
func New(tax *taxonomy.Taxonomy, backbone *tree.Tree, log *logstream.Logger, cfg Config) *Driver {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Driver{tax: tax, backbone: backbone, cache: mrca.New(backbone), log: log, cfg: cfg}
}

// groupNodes returns every internal taxonomy node in post-order (deepest
// first), ties broken by label, matching spec §5's ordering guarantee.
func groupNodes(root *taxonomy.Node) []*taxonomy.Node {
	var out []*taxonomy.Node
	var walk func(n *taxonomy.Node)
	walk = func(n *taxonomy.Node) {
		if n.IsLeaf() {
			return
		}
		children := append([]*taxonomy.Node(nil), n.Children...)
		sort.Slice(children, func(i, j int) bool { return children[i].Label < children[j].Label })
		for _, c := range children {
			walk(c)
		}
		out = append(out, n)
	}
	walk(root)
	return out
}

// fitJob is one unit of Phase 1 work, dispatched to the worker pool.
type fitJob struct {
	node    *taxonomy.Node
	ages    []float64
	crown   float64
	sampled int
	full    int
}

type fitResult struct {
	node    *taxonomy.Node
	fit     rates.Fit
	ccp     float64
	admit   bool
	err     error
}

// FitRates implements Phase 1: for every taxonomic node whose
// crown-capture probability admits a fit, estimate (birth, death) in
// parallel, then resolve ancestor fallback for every node that was not
// admitted (or whose fit failed). Returns a rate record keyed by taxon
// path string; the map has no defined order.
func (d *Driver) FitRates(ctx context.Context) (map[string]RateRecord, error) {
	nodes := groupNodes(d.tax.Root)

	jobs := make(chan fitJob, d.cfg.Workers*2)
	results := make(chan fitResult, len(nodes))
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for j := range jobs {
			ccp, _ := rates.CCP(j.full, j.sampled)
			if j.sampled < 2 {
				results <- fitResult{node: j.node, ccp: ccp, admit: false}
				continue
			}
			// Cherries (sampled==2) bypass the CCP admission gate: the
			// closed-form Yule MLE FitClade uses for them doesn't need
			// it, and CCP(n,2) falls below most thresholds for any
			// n>2, the exact case the cherry shortcut exists to handle.
			if j.sampled > 2 && ccp < d.cfg.MinCCP {
				results <- fitResult{node: j.node, ccp: ccp, admit: false}
				continue
			}
			fit, err := rates.FitClade(rates.Request{
				BranchingTimes: j.ages,
				CrownAge:       j.crown,
				Sampled:        j.sampled,
				Full:           j.full,
				MinCCP:         d.cfg.MinCCP,
				ForceYule:      d.cfg.Yule,
			})
			if err != nil {
				results <- fitResult{node: j.node, ccp: ccp, admit: false, err: err}
				continue
			}
			results <- fitResult{node: j.node, fit: fit, ccp: ccp, admit: true}
		}
	}
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go worker()
	}

	var dispatched int
	for _, n := range nodes {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, ctx.Err()
		default:
		}
		leaves := d.sampledLeaves(n)
		full := len(n.Leaves())
		if len(leaves) < 2 {
			continue
		}
		ages := d.branchingAges(leaves)
		crown, ok := d.crownAge(leaves)
		if !ok {
			continue
		}
		jobs <- fitJob{node: n, ages: ages, crown: crown, sampled: len(leaves), full: full}
		dispatched++
	}
	close(jobs)
	wg.Wait()
	close(results)

	own := make(map[*taxonomy.Node]fitResult, dispatched)
	for r := range results {
		own[r.node] = r
		if !r.admit {
			tag := logstream.TagCCPBelowCutoff
			if r.err != nil {
				tag = logstream.TagRateFitFailed
			}
			d.log.LogOnce(logstream.Entry{Severity: logstream.Warn, Tag: tag, Taxon: pathString(r.node.Path())})
		}
	}

	records := make(map[string]RateRecord, len(nodes))
	for _, n := range nodes {
		fit, source, ccp := d.resolveFallback(n, own)
		records[pathString(n.Path())] = RateRecord{
			Taxon:  pathString(n.Path()),
			Fit:    fit,
			CCP:    ccp,
			Source: source,
		}
	}
	return records, nil
}

// resolveFallback implements "rate selection": the nearest ancestor-or-
// self taxon with an admitted fit.
func (d *Driver) resolveFallback(n *taxonomy.Node, own map[*taxonomy.Node]fitResult) (rates.Fit, string, float64) {
	ccp := 0.0
	if r, ok := own[n]; ok {
		ccp = r.ccp
		if r.admit {
			return r.fit, pathString(n.Path()), ccp
		}
	}
	for anc := n.Parent; anc != nil; anc = anc.Parent {
		if r, ok := own[anc]; ok && r.admit {
			return r.fit, pathString(anc.Path()), ccp
		}
	}
	return rates.Fit{}, "", ccp
}

func (d *Driver) sampledLeaves(n *taxonomy.Node) []int {
	var out []int
	for _, sp := range n.Leaves() {
		if id, ok := d.backbone.Leaf(sp); ok {
			out = append(out, id)
		}
	}
	return out
}

func (d *Driver) branchingAges(leaves []int) []float64 {
	m, ok := d.cache.Get(leaves)
	if !ok {
		return nil
	}
	var ages []float64
	var walk func(id int)
	walk = func(id int) {
		if d.backbone.IsTerm(id) {
			return
		}
		if id != m {
			ages = append(ages, d.backbone.Age(id))
		}
		for _, c := range d.backbone.Children(id) {
			walk(c)
		}
	}
	walk(m)
	return ages
}

func (d *Driver) crownAge(leaves []int) (float64, bool) {
	m, ok := d.cache.Get(leaves)
	if !ok {
		return 0, false
	}
	return d.backbone.Age(m), true
}

// Place implements Phase 2: resolve every taxonomic node, in the same
// post-order Phase 1 used, mutating the backbone via the placement
// engine. cancel is polled between taxa (spec §5 "the driver checks a
// cancellation flag between taxa"); a true return discards all further
// work without attempting to roll back completed grafts.
func (d *Driver) Place(records map[string]RateRecord, cancel func() bool) error {
	nodes := groupNodes(d.tax.Root)
	engine := placement.New(d.backbone, d.cache, d.log, d.cfg.Seed, d.subRandFunc())

	pending := make(map[*taxonomy.Node]*placement.PendingClade)

	for _, n := range nodes {
		if cancel != nil && cancel() {
			return fmt.Errorf("driver: cancelled before taxon %q", pathString(n.Path()))
		}

		rec := records[pathString(n.Path())]
		g := d.buildGroup(n, rec, pending)

		res, err := engine.Resolve(g)
		if err != nil {
			return fmt.Errorf("driver: taxon %q: %w", pathString(n.Path()), err)
		}
		if res.Pending != nil && n.Parent != nil {
			pending[n.Parent] = mergePending(pending[n.Parent], res.Pending)
		}
		if err := d.checkInvariants(); err != nil {
			return fmt.Errorf("driver: taxon %q: %w", pathString(n.Path()), err)
		}
	}
	return nil
}

// checkInvariants is the tier-3 safety net spec §7 calls for: a placement
// transaction that leaves the backbone non-ultrametric or non-binary is a
// bug in the placement engine, not a recoverable input problem, and aborts
// the run rather than being logged and skipped.
func (d *Driver) checkInvariants() error {
	if !tree.IsBinary(d.backbone) {
		return tacterr.ErrNotBinary
	}
	precision := d.cfg.Precision
	if precision <= 0 {
		precision = tree.DefaultPrecision
	}
	if err := tree.CheckUltrametric(d.backbone, precision); err != nil {
		return err
	}
	return nil
}

func mergePending(existing *placement.PendingClade, add *placement.PendingClade) *placement.PendingClade {
	if existing == nil {
		return add
	}
	existing.Species = append(existing.Species, add.Species...)
	return existing
}

func (d *Driver) buildGroup(n *taxonomy.Node, rec RateRecord, pending map[*taxonomy.Node]*placement.PendingClade) placement.Group {
	sampledLeaves := d.sampledLeaves(n)
	full := len(n.Leaves())

	var direct []string
	for _, c := range n.Children {
		if !c.IsLeaf() {
			continue
		}
		if _, ok := d.backbone.Leaf(c.Label); !ok {
			direct = append(direct, c.Label)
		}
	}

	var pendingClades []placement.PendingClade
	if pc, ok := pending[n]; ok {
		pendingClades = append(pendingClades, *pc)
	}

	var nestedCrownAges []float64
	for _, c := range n.Children {
		if c.IsLeaf() {
			continue
		}
		childLeaves := d.sampledLeaves(c)
		if len(childLeaves) < 2 {
			continue
		}
		if !d.cache.Monophyletic(childLeaves) {
			continue
		}
		if age, ok := d.crownAge(childLeaves); ok {
			nestedCrownAges = append(nestedCrownAges, age)
		}
	}

	return placement.Group{
		Path:            n.Path(),
		SampledLeaves:   sampledLeaves,
		DirectMissing:   direct,
		Pending:         pendingClades,
		NestedCrownAges: nestedCrownAges,
		Rate:            rec.Fit,
		RateSource:      rec.Source,
		CCP:             rec.CCP,
		Full:            full,
		Sampled:         len(sampledLeaves),
	}
}

func (d *Driver) subRandFunc() func([]string) *rand.Rand {
	return func(path []string) *rand.Rand {
		return rng.Sub(d.cfg.Seed, path)
	}
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
