// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

package placement_test

import (
	"bytes"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/jonchang/tact/logstream"
	"github.com/jonchang/tact/mrca"
	"github.com/jonchang/tact/placement"
	"github.com/jonchang/tact/rates"
	"github.com/jonchang/tact/tree"
)

func newSubRand(seed uint64) func([]string) *rand.Rand {
	return func(path []string) *rand.Rand {
		var h uint64 = seed
		for _, p := range path {
			for _, c := range p {
				h = h*31 + uint64(c)
			}
		}
		return rand.New(rand.NewPCG(h, seed))
	}
}

// TestCherryPlacement mirrors scenario S1: a cherry backbone gains one
// new leaf drawn from a Yule fit.
func TestCherryPlacement(t *testing.T) {
	tr, err := tree.ReadNewick(strings.NewReader("((a:1.0,b:1.0):0.0);"), "cherry", tree.DefaultPrecision)
	if err != nil {
		t.Fatalf("ReadNewick: %v", err)
	}
	a, _ := tr.Leaf("a")
	b, _ := tr.Leaf("b")
	cache := mrca.New(tr)
	var buf bytes.Buffer
	log := logstream.New(&buf)

	eng := placement.New(tr, cache, log, 0x5AC7, newSubRand(0x5AC7))

	fit, err := rates.FitClade(rates.Request{CrownAge: 1.0, Sampled: 2, Full: 3, MinCCP: 0.8})
	if err != nil {
		t.Fatalf("FitClade: %v", err)
	}

	g := placement.Group{
		Path:          []string{"F", "G"},
		SampledLeaves: []int{a, b},
		DirectMissing: []string{"c"},
		Rate:          fit,
		RateSource:    "G",
		CCP:           1,
		Full:          3,
		Sampled:       2,
	}
	res, err := eng.Resolve(g)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.State != placement.StateDone {
		t.Fatalf("State = %v, want Done", res.State)
	}
	if len(tr.Terms()) != 3 {
		t.Fatalf("Terms() = %d, want 3", len(tr.Terms()))
	}
	c, ok := tr.Leaf("c")
	if !ok {
		t.Fatalf("leaf c not grafted")
	}
	if tr.Age(c) != 0 {
		t.Fatalf("Age(c) = %g, want 0", tr.Age(c))
	}
	if err := tree.CheckUltrametric(tr, tree.DefaultPrecision); err != nil {
		t.Fatalf("output not ultrametric: %v", err)
	}
	if !tree.IsBinary(tr) {
		t.Fatalf("output not binary")
	}
	// I5: pre-existing node ages unchanged.
	if got, want := tr.Age(tr.Root()), 1.0; got != want {
		t.Fatalf("root age changed: got %g, want %g", got, want)
	}
}

// TestPendingCladeBubblesUp mirrors scenario S2: a fully-unsampled
// genus's species are placed as one monophyletic clade.
func TestPendingCladeBubblesUp(t *testing.T) {
	tr, err := tree.ReadNewick(strings.NewReader("((a:1.0,b:1.0):1.0,c:2.0);"), "t", tree.DefaultPrecision)
	if err != nil {
		t.Fatalf("ReadNewick: %v", err)
	}
	a, _ := tr.Leaf("a")
	b, _ := tr.Leaf("b")
	c, _ := tr.Leaf("c")
	cache := mrca.New(tr)
	var buf bytes.Buffer
	log := logstream.New(&buf)
	eng := placement.New(tr, cache, log, 1, newSubRand(1))

	fit := rates.Fit{Birth: 0.8, Death: 0, Method: "yule"}

	// Genus A (a,b,c) is fully sampled; skip it, but lock nothing extra
	// beyond what's already monophyletic. Directly resolve the family,
	// which carries genus B as a pending clade.
	family := placement.Group{
		Path:          []string{"Family"},
		SampledLeaves: []int{a, b, c},
		Pending: []placement.PendingClade{
			{Label: "GenusB", Species: []string{"d", "e", "f"}, Rate: fit, RateSource: "Family"},
		},
		Rate:    fit,
		CCP:     1,
		Full:    6,
		Sampled: 3,
	}
	res, err := eng.Resolve(family)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.State != placement.StateDone {
		t.Fatalf("State = %v, want Done", res.State)
	}
	if len(tr.Terms()) != 6 {
		t.Fatalf("Terms() = %d, want 6", len(tr.Terms()))
	}

	d, ok1 := tr.Leaf("d")
	e, ok2 := tr.Leaf("e")
	f, ok3 := tr.Leaf("f")
	if !ok1 || !ok2 || !ok3 {
		t.Fatalf("genus B species not all grafted")
	}
	if !cache.Monophyletic([]int{d, e, f}) {
		t.Fatalf("genus B should be monophyletic after placement")
	}
	if !cache.Monophyletic([]int{a, b, c}) {
		t.Fatalf("genus A should remain monophyletic")
	}
	if err := tree.CheckUltrametric(tr, tree.DefaultPrecision); err != nil {
		t.Fatalf("output not ultrametric: %v", err)
	}
	if !tree.IsBinary(tr) {
		t.Fatalf("output not binary")
	}
}

// TestFullyLockedStemAttachment mirrors spec step 6: once every edge
// beneath a group's MRCA belongs to an already-locked sub-taxon, new
// species attach on the stem edge.
func TestFullyLockedStemAttachment(t *testing.T) {
	tr, err := tree.ReadNewick(strings.NewReader("((a:1.0,b:1.0):2.0,c:3.0);"), "t", tree.DefaultPrecision)
	if err != nil {
		t.Fatalf("ReadNewick: %v", err)
	}
	a, _ := tr.Leaf("a")
	b, _ := tr.Leaf("b")
	cache := mrca.New(tr)

	// Lock the interior of the (a,b) cherry, the group's MRCA, as if it
	// already belonged to a fully resolved sub-taxon.
	cherryRoot := tr.Parent(a)
	tr.Lock(cherryRoot, false)

	var buf bytes.Buffer
	log := logstream.New(&buf)
	eng := placement.New(tr, cache, log, 2, newSubRand(2))
	fit := rates.Fit{Birth: 0.5, Death: 0, Method: "yule"}

	g := placement.Group{
		Path:          []string{"Family"},
		SampledLeaves: []int{a, b},
		DirectMissing: []string{"g"},
		Rate:          fit,
		CCP:           1,
		Full:          3,
		Sampled:       2,
	}
	res, err := eng.Resolve(g)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.State != placement.StateDone {
		t.Fatalf("State = %v, want Done", res.State)
	}
	if !bytes.Contains(buf.Bytes(), []byte(logstream.TagFullyLocked)) {
		t.Fatalf("expected a FullyLocked log entry, got %q", buf.String())
	}
	if err := tree.CheckUltrametric(tr, tree.DefaultPrecision); err != nil {
		t.Fatalf("output not ultrametric: %v", err)
	}
}

// TestSkippedWhenNothingMissing covers the Pending -> Skipped transition
// for a group whose full and sampled sets already coincide.
func TestSkippedWhenNothingMissing(t *testing.T) {
	tr, err := tree.ReadNewick(strings.NewReader("(a:1.0,b:1.0);"), "t", tree.DefaultPrecision)
	if err != nil {
		t.Fatalf("ReadNewick: %v", err)
	}
	a, _ := tr.Leaf("a")
	b, _ := tr.Leaf("b")
	cache := mrca.New(tr)
	var buf bytes.Buffer
	eng := placement.New(tr, cache, logstream.New(&buf), 3, newSubRand(3))

	res, err := eng.Resolve(placement.Group{
		Path:          []string{"G"},
		SampledLeaves: []int{a, b},
		Full:          2,
		Sampled:       2,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.State != placement.StateSkipped {
		t.Fatalf("State = %v, want Skipped", res.State)
	}
}
