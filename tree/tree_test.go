// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

package tree_test

import (
	"strings"
	"testing"

	"github.com/jonchang/tact/tree"
)

func TestReadNewickCherry(t *testing.T) {
	r := strings.NewReader("((a:1.0,b:1.0):0.0);")
	tr, err := tree.ReadNewick(r, "cherry", tree.DefaultPrecision)
	if err != nil {
		t.Fatalf("ReadNewick: %v", err)
	}
	if got, want := len(tr.Terms()), 2; got != want {
		t.Fatalf("Terms() = %d, want %d", got, want)
	}
	a, ok := tr.Leaf("a")
	if !ok {
		t.Fatalf("leaf a not found")
	}
	if got, want := tr.Age(a), 0.0; got != want {
		t.Fatalf("Age(a) = %g, want %g", got, want)
	}
	root := tr.Root()
	if got, want := tr.Age(root), 1.0; got != want {
		t.Fatalf("Age(root) = %g, want %g", got, want)
	}
	if !tree.IsBinary(tr) {
		t.Fatalf("tree is not binary")
	}
}

func TestReadNewickRejectsNonUltrametric(t *testing.T) {
	r := strings.NewReader("((a:1.0,b:3.0):0.0);")
	_, err := tree.ReadNewick(r, "bad", tree.DefaultPrecision)
	if err == nil {
		t.Fatalf("expected a non-ultrametric error")
	}
}

func TestInsertOnEdgeAndAttachLeaf(t *testing.T) {
	r := strings.NewReader("((a:1.0,b:1.0):0.0);")
	tr, err := tree.ReadNewick(r, "cherry", tree.DefaultPrecision)
	if err != nil {
		t.Fatalf("ReadNewick: %v", err)
	}
	a, _ := tr.Leaf("a")
	parent := tr.Parent(a)

	newNode, err := tr.InsertOnEdge(a, 0.5)
	if err != nil {
		t.Fatalf("InsertOnEdge: %v", err)
	}
	if got, want := tr.Age(newNode), 0.5; got != want {
		t.Fatalf("Age(new) = %g, want %g", got, want)
	}
	if got := tr.Parent(newNode); got != parent {
		t.Fatalf("Parent(new) = %d, want %d", got, parent)
	}
	if got := tr.Parent(a); got != newNode {
		t.Fatalf("Parent(a) = %d, want %d", got, newNode)
	}

	c, err := tr.AttachLeaf(newNode, "c")
	if err != nil {
		t.Fatalf("AttachLeaf: %v", err)
	}
	if got, want := tr.Age(c), 0.0; got != want {
		t.Fatalf("Age(c) = %g, want %g", got, want)
	}
	if !tree.IsBinary(tr) {
		t.Fatalf("tree should remain binary after grafting")
	}
	if err := tree.CheckUltrametric(tr, tree.DefaultPrecision); err != nil {
		t.Fatalf("tree should remain ultrametric after grafting: %v", err)
	}

	// I5: the age of the pre-existing root must not have moved.
	if got, want := tr.Age(parent), 1.0; got != want {
		t.Fatalf("pre-existing root age changed: got %g, want %g", got, want)
	}
}

func TestInsertOnEdgeRejectsOutOfRange(t *testing.T) {
	r := strings.NewReader("((a:1.0,b:1.0):0.0);")
	tr, err := tree.ReadNewick(r, "cherry", tree.DefaultPrecision)
	if err != nil {
		t.Fatalf("ReadNewick: %v", err)
	}
	a, _ := tr.Leaf("a")
	if _, err := tr.InsertOnEdge(a, 2.0); err == nil {
		t.Fatalf("expected an error for an out-of-range age")
	}
}

func TestMRCAAndLeavesUnder(t *testing.T) {
	r := strings.NewReader("(((a:1.0,b:1.0):1.0,c:2.0):1.0,d:3.0);")
	tr, err := tree.ReadNewick(r, "four", tree.DefaultPrecision)
	if err != nil {
		t.Fatalf("ReadNewick: %v", err)
	}
	a, _ := tr.Leaf("a")
	b, _ := tr.Leaf("b")
	c, _ := tr.Leaf("c")

	mrca, ok := tr.MRCA([]int{a, b})
	if !ok {
		t.Fatalf("MRCA(a,b) not found")
	}
	if got, want := tr.Age(mrca), 1.0; got != want {
		t.Fatalf("Age(MRCA(a,b)) = %g, want %g", got, want)
	}

	mrcaABC, ok := tr.MRCA([]int{a, b, c})
	if !ok {
		t.Fatalf("MRCA(a,b,c) not found")
	}
	if got, want := tr.Age(mrcaABC), 2.0; got != want {
		t.Fatalf("Age(MRCA(a,b,c)) = %g, want %g", got, want)
	}
}

func TestLockClade(t *testing.T) {
	r := strings.NewReader("((a:1.0,b:1.0):1.0,c:2.0);")
	tr, err := tree.ReadNewick(r, "t", tree.DefaultPrecision)
	if err != nil {
		t.Fatalf("ReadNewick: %v", err)
	}
	a, _ := tr.Leaf("a")
	cladeRoot := tr.Parent(a)

	tr.Lock(cladeRoot, false)
	if !tr.IsFullyLocked(cladeRoot) {
		t.Fatalf("clade should be fully locked")
	}
	if _, err := tr.InsertOnEdge(a, 0.5); err == nil {
		t.Fatalf("expected InsertOnEdge on a locked edge to fail")
	}
}

func TestWriteNewickRoundTrip(t *testing.T) {
	r := strings.NewReader("((a:1.0,b:1.0):1.0,c:2.0);")
	tr, err := tree.ReadNewick(r, "t", tree.DefaultPrecision)
	if err != nil {
		t.Fatalf("ReadNewick: %v", err)
	}
	var buf strings.Builder
	if err := tree.WriteNewick(&buf, tr); err != nil {
		t.Fatalf("WriteNewick: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "[&R]") || strings.Contains(out, "[&U]") {
		t.Fatalf("output should not carry a rooting annotation: %q", out)
	}
	rt, err := tree.ReadNewick(strings.NewReader(out), "roundtrip", tree.DefaultPrecision)
	if err != nil {
		t.Fatalf("round-trip ReadNewick: %v", err)
	}
	if got, want := len(rt.Terms()), len(tr.Terms()); got != want {
		t.Fatalf("round-trip Terms() = %d, want %d", got, want)
	}
}

func TestPruneLeafSplicesUnaryParent(t *testing.T) {
	r := strings.NewReader("((a:1.0,b:1.0):1.0,c:2.0);")
	tr, err := tree.ReadNewick(r, "t", tree.DefaultPrecision)
	if err != nil {
		t.Fatalf("ReadNewick: %v", err)
	}
	a, _ := tr.Leaf("a")
	cherryRoot := tr.Parent(a)

	if err := tr.PruneLeaf("b"); err != nil {
		t.Fatalf("PruneLeaf: %v", err)
	}
	if _, ok := tr.Leaf("b"); ok {
		t.Fatalf("leaf b should be gone")
	}
	if got, want := len(tr.Terms()), 2; got != want {
		t.Fatalf("Terms() = %d, want %d", got, want)
	}
	// a's unary former parent (cherryRoot) should have been spliced out:
	// a's new parent is the tree's root, at the same age it always had.
	if tr.Parent(a) == cherryRoot {
		t.Fatalf("unary parent was not spliced out")
	}
	if got, want := tr.Age(a), 0.0; got != want {
		t.Fatalf("Age(a) = %g, want %g", got, want)
	}
	if !tree.IsBinary(tr) {
		t.Fatalf("tree should remain binary after pruning")
	}
}

func TestPruneLeafRejectsUnknownName(t *testing.T) {
	r := strings.NewReader("(a:1.0,b:1.0);")
	tr, err := tree.ReadNewick(r, "t", tree.DefaultPrecision)
	if err != nil {
		t.Fatalf("ReadNewick: %v", err)
	}
	if err := tr.PruneLeaf("z"); err == nil {
		t.Fatalf("expected an error for an unknown leaf")
	}
}
