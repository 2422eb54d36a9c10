// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

// Package mrca implements the fast-MRCA cache (spec component B): a
// bitset-indexed, concurrency-safe index of which leaves descend from
// which backbone node, so MRCA and monophyly queries during rate
// estimation (Phase 1, read-concurrent) and placement (Phase 2,
// exclusive-write) don't each re-walk the tree.
//
// No library in the retrieved example pool provides an importable bitset
// (see DESIGN.md); the word-packed []uint64 representation here is a
// direct, small, stdlib-only implementation (math/bits for population
// counts isn't even needed -- only set/superset tests are).
package mrca

import (
	"sync"

	"github.com/jonchang/tact/tree"
)

type bitset []uint64

func newBitset(words int) bitset { return make(bitset, words) }

func (b bitset) set(i int) { b[i/64] |= 1 << uint(i%64) }

func (b bitset) clone() bitset {
	c := make(bitset, len(b))
	copy(c, b)
	return c
}

func (b bitset) or(o bitset) {
	for i := range o {
		b[i] |= o[i]
	}
}

// supersetOf reports whether every bit set in o is also set in b.
func (b bitset) supersetOf(o bitset) bool {
	for i := range o {
		if i >= len(b) {
			return false
		}
		if b[i]&o[i] != o[i] {
			return false
		}
	}
	return true
}

func (b bitset) equal(o bitset) bool {
	n := len(b)
	if len(o) > n {
		n = len(o)
	}
	for i := 0; i < n; i++ {
		var x, y uint64
		if i < len(b) {
			x = b[i]
		}
		if i < len(o) {
			y = o[i]
		}
		if x != y {
			return false
		}
	}
	return true
}

// Cache is a thread-safe, incrementally-maintained MRCA index over a
// single backbone tree.Tree. The driver only reads it while collecting
// crown ages and branching times for rate estimation in Phase 1; the
// placement engine (package
// placement) is the cache's sole writer during Phase 2.
type Cache struct {
	mu      sync.RWMutex
	t       *tree.Tree
	leafBit map[int]int    // leaf node id -> bit index
	nodeSet map[int]bitset // node id -> descendant leaf bitset
	words   int
}

// New builds a cache over every leaf currently in t.
func New(t *tree.Tree) *Cache {
	c := &Cache{t: t}
	c.rebuild()
	return c
}

func (c *Cache) rebuild() {
	terms := c.t.Terms()
	c.words = (len(terms) + 63) / 64
	if c.words == 0 {
		c.words = 1
	}
	c.leafBit = make(map[int]int, len(terms))
	for i, id := range terms {
		c.leafBit[id] = i
	}
	c.nodeSet = make(map[int]bitset, len(c.t.Nodes()))

	var walk func(id int) bitset
	walk = func(id int) bitset {
		if c.t.IsTerm(id) {
			b := newBitset(c.words)
			b.set(c.leafBit[id])
			c.nodeSet[id] = b
			return b
		}
		acc := newBitset(c.words)
		for _, ch := range c.t.Children(id) {
			acc.or(walk(ch))
		}
		c.nodeSet[id] = acc
		return acc
	}
	walk(c.t.Root())
}

// Invalidate fully rebuilds the cache from the current state of the
// underlying tree. The incremental On* hooks below are far cheaper after
// a single graft; Invalidate exists as the fallback spec §4.B allows
// ("invalidated when the backbone is mutated") when many mutations have
// piled up without incremental bookkeeping (e.g. after an external tree
// edit, or in tests).
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebuild()
}

// leafSet builds the target bitset for a set of leaf node ids. A leaf
// with no bit index (one added without an intervening On* call) is left
// out of the set; the cache's word width is not changed.
func (c *Cache) leafSet(leaves []int) bitset {
	b := newBitset(c.words)
	for _, l := range leaves {
		if i, ok := c.leafBit[l]; ok {
			b.set(i)
		}
	}
	return b
}

// Get returns the MRCA of the given leaf node ids, the way spec §4.B
// describes: walk up from any leaf in the set, testing at each ancestor
// whether its descendant bitset is a superset of the target; the first
// match is the MRCA. It reports false if leaves is empty.
func (c *Cache) Get(leaves []int) (int, bool) {
	if len(leaves) == 0 {
		return -1, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	target := c.leafSet(leaves)
	for anc := leaves[0]; ; {
		if c.nodeSet[anc].supersetOf(target) {
			return anc, true
		}
		p := c.t.Parent(anc)
		if p < 0 {
			root := c.t.Root()
			if c.nodeSet[root].supersetOf(target) {
				return root, true
			}
			return -1, false
		}
		anc = p
	}
}

// Monophyletic reports whether the given leaves form an exact
// monophyletic clade: their MRCA's descendant leaf set equals the given
// set exactly (spec glossary).
func (c *Cache) Monophyletic(leaves []int) bool {
	if len(leaves) == 0 {
		return false
	}
	m, ok := c.Get(leaves)
	if !ok {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nodeSet[m].equal(c.leafSet(leaves))
}

// OnInsert must be called immediately after tree.InsertOnEdge(child, age)
// returns newInternal, seeding the new node's descendant bitset as a copy
// of child's (it has no other descendants yet).
func (c *Cache) OnInsert(newInternal, child int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodeSet[newInternal] = c.nodeSet[child].clone()
}

// OnAttachLeaf must be called immediately after tree.AttachLeaf returns a
// new leaf id. It assigns the leaf a bit index (growing the cache's word
// width if needed) and ORs that bit into every ancestor's descendant set,
// which is the entire cost of adding one taxon: O(depth), not O(tree
// size).
func (c *Cache) OnAttachLeaf(leaf int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := len(c.leafBit)
	needWords := idx/64 + 1
	if needWords > c.words {
		c.growWords(needWords)
	}
	c.leafBit[leaf] = idx

	b := newBitset(c.words)
	b.set(idx)
	c.nodeSet[leaf] = b

	for anc := c.t.Parent(leaf); anc >= 0; anc = c.t.Parent(anc) {
		c.nodeSet[anc].or(b)
	}
	// the root may itself have anc == -1 as its own parent already
	// handled by the loop terminating; nothing further to OR.
}

// OnAttachSubtree must be called immediately after
// tree.AttachSubtree(parent, subtreeRoot), ORing the already-indexed
// subtree's descendant set into every ancestor from parent up to the
// root.
func (c *Cache) OnAttachSubtree(parent, subtreeRoot int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := c.nodeSet[subtreeRoot]
	for anc := parent; anc >= 0; anc = c.t.Parent(anc) {
		c.nodeSet[anc].or(sub)
	}
}

func (c *Cache) growWords(words int) {
	for id, b := range c.nodeSet {
		grown := make(bitset, words)
		copy(grown, b)
		c.nodeSet[id] = grown
	}
	c.words = words
}
