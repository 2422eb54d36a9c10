// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

// Package taxonomy builds the taxonomy tree the placement engine walks:
// a rooted tree whose internal labels are rank names and whose leaves
// are species, built from a CSV of one row per species, ranks ordered
// most-inclusive to least-inclusive with the species name last.
//
// Grounded directly on cli_taxonomy.py's build_taxonomic_tree/
// mangle_rank/fix_file, reworked from DendroPy's mutable Tree/Taxon
// objects into a small tree of *Node values, and on validation.py's
// validate_tree_node_depths for the equal-rank-depth sanity check.
package taxonomy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jonchang/tact/internal/tacterr"
)

// Node is one vertex of a taxonomy tree: an internal node names a rank,
// a leaf names a species.
type Node struct {
	Label    string
	Parent   *Node
	Children []*Node
}

// IsLeaf reports whether n is a species tip.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// Path returns the rank labels from the tree root (exclusive) down to
// and including n, the same path used to derive a group's RNG
// sub-stream and its log-entry taxon field.
func (n *Node) Path() []string {
	var rev []string
	for cur := n; cur != nil && cur.Parent != nil; cur = cur.Parent {
		rev = append(rev, cur.Label)
	}
	out := make([]string, len(rev))
	for i, p := range rev {
		out[len(rev)-1-i] = p
	}
	return out
}

// Leaves returns every species name in the subtree rooted at n.
func (n *Node) Leaves() []string {
	if n.IsLeaf() {
		return []string{n.Label}
	}
	var out []string
	for _, c := range n.Children {
		out = append(out, c.Leaves()...)
	}
	return out
}

// Taxonomy is an immutable, fully built taxonomy tree (spec §3: "Lifecycles.
// Taxonomy tree is immutable once built.").
type Taxonomy struct {
	Root    *Node
	species map[string]*Node
}

// Species returns the leaf node for a species name.
func (t *Taxonomy) Species(name string) (*Node, bool) {
	n, ok := t.species[name]
	return n, ok
}

// SpeciesNames returns every species name in the taxonomy.
func (t *Taxonomy) SpeciesNames() []string {
	out := make([]string, 0, len(t.species))
	for name := range t.species {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Rename records a rank label that was disambiguated during Build
// because it collided with an unrelated lineage's rank of the same name.
type Rename struct {
	Original string
	Mangled  string
}

// Build constructs a Taxonomy from rows of ranks ending in a species
// name, most-inclusive rank first. rankNames labels each column
// (species column excluded). Rows need not be pre-sorted; Build sorts
// them internally the way fix_file does, so that rows sharing a prefix
// of ranks are adjacent and the tree can be built incrementally.
func Build(rankNames []string, rows [][]string) (*Taxonomy, []Rename, error) {
	sorted := append([][]string(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool {
		return strings.Join(sorted[i], ",") < strings.Join(sorted[j], ",")
	})

	root := &Node{Label: "__ROOT__"}
	t := &Taxonomy{Root: root, species: make(map[string]*Node)}

	var renames []Rename
	var stack []*Node = []*Node{root}
	var prevRow []string
	owner := make(map[string]string) // rank label -> lineage that first used it

	for _, row := range sorted {
		if err := ensureNonEmpty(row); err != nil {
			return nil, nil, err
		}
		mangled, rowRenames := mangleRank(row, rankNames)
		renames = append(renames, rowRenames...)
		for i := 0; i < len(mangled)-1 && i < len(rankNames); i++ {
			lineage := strings.Join(mangled[:i], "\x00")
			if prev, ok := owner[mangled[i]]; ok && prev != lineage {
				m := mangled[i] + "__" + rankNames[i] + "__"
				if _, seen := owner[m]; !seen {
					renames = append(renames, Rename{Original: mangled[i], Mangled: m})
				}
				mangled[i] = m
			}
			if _, ok := owner[mangled[i]]; !ok {
				owner[mangled[i]] = lineage
			}
		}

		commonPrefix := 0
		for commonPrefix < len(prevRow) && commonPrefix < len(mangled) && prevRow[commonPrefix] == mangled[commonPrefix] {
			commonPrefix++
		}
		// stack[0] is the root; stack[i+1] corresponds to prevRow[i].
		stack = stack[:commonPrefix+1]

		cur := stack[len(stack)-1]
		for i := commonPrefix; i < len(mangled); i++ {
			label := mangled[i]
			child := &Node{Label: label, Parent: cur}
			cur.Children = append(cur.Children, child)
			cur = child
			stack = append(stack, cur)
		}

		species := mangled[len(mangled)-1]
		if _, dup := t.species[species]; dup {
			return nil, nil, fmt.Errorf("taxonomy: %w: species %q appears twice", tacterr.ErrNameConflict, species)
		}
		t.species[species] = cur
		prevRow = mangled
	}

	return t, renames, nil
}

func ensureNonEmpty(row []string) error {
	for _, cell := range row {
		if cell == "" {
			return fmt.Errorf("taxonomy: empty cell in row %q", strings.Join(row, ","))
		}
	}
	return nil
}

// mangleRank disambiguates a rank label that repeats an earlier label in
// the same row, suffixing it with its column name (e.g. "Eurasia" in the
// Subgenus column becomes "Eurasia__Subgenus__"). Build applies the same
// suffix to a rank label reused under a different lineage (two unrelated
// genera both containing a subgenus named "Eurasia"). Grounded directly on
// cli_taxonomy.py's mangle_rank; unlike the source, the species column
// (the last cell) is never mangled: Build reports a species that appears
// twice as a name conflict, since species names must be globally unique.
func mangleRank(row []string, rankNames []string) ([]string, []Rename) {
	seen := make(map[string]bool, len(row))
	out := make([]string, len(row))
	var renames []Rename
	for i, item := range row {
		if seen[item] && i < len(rankNames) {
			mangled := item + "__" + rankNames[i] + "__"
			renames = append(renames, Rename{Original: item, Mangled: mangled})
			item = mangled
		}
		seen[item] = true
		out[i] = item
	}
	return out, renames
}

// CheckRankDepths implements the equal-rank-depth sanity check (spec
// SUPPLEMENTED FEATURES): it warns, but does not fail, when species
// don't all have the same number of ranked ancestors, since in practice
// this usually signals a miscounted CSV column. Grounded directly on
// validation.py's validate_tree_node_depths/compute_node_depths.
func CheckRankDepths(t *Taxonomy) (ok bool, report string) {
	counts := make(map[int]int)
	for _, name := range t.SpeciesNames() {
		n, _ := t.Species(name)
		depth := 0
		for cur := n.Parent; cur != nil && cur.Parent != nil; cur = cur.Parent {
			depth++
		}
		counts[depth]++
	}
	if len(counts) <= 1 {
		return true, ""
	}
	depths := make([]int, 0, len(counts))
	for d := range counts {
		depths = append(depths, d)
	}
	sort.Ints(depths)
	var b strings.Builder
	b.WriteString("taxonomy tips do not have equal numbers of ranked ancestors:\n")
	for _, d := range depths {
		fmt.Fprintf(&b, "  %d tips have %d ranked ancestors\n", counts[d], d)
	}
	return false, b.String()
}
