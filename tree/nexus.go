// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

package tree

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// treeStatement matches a single NEXUS "tree <name> = <newick>;" line
// inside a TREES block. TACT only needs to locate the Newick payload, not
// interpret NEXUS's full grammar (translate tables, comments, other
// blocks); no example in the retrieved pool carries a NEXUS parser to
// ground a fuller one on, so this is a deliberately narrow regexp-based
// reader, documented in DESIGN.md.
var treeStatement = regexp.MustCompile(`(?i)^\s*tree\s+(\S+)\s*=\s*(?:\[&\w+\]\s*)?(.+);\s*$`)

// ReadNEXUS extracts the first tree statement from a NEXUS "trees" block
// and parses it as a single rooted, ultrametric, binary tree.
func ReadNEXUS(r io.Reader, name string, precision float64) (*Tree, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var payload string
	var treeName string
	for sc.Scan() {
		line := sc.Text()
		if m := treeStatement.FindStringSubmatch(line); m != nil {
			treeName, payload = m[1], m[2]
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading nexus %q: %w", name, err)
	}
	if payload == "" {
		return nil, fmt.Errorf("reading nexus %q: no tree statement found", name)
	}
	if name == "" {
		name = treeName
	}
	return ReadNewick(strings.NewReader(payload), name, precision)
}

// WriteNEXUS writes t as a minimal NEXUS file with a single TAXA and
// TREES block.
func WriteNEXUS(w io.Writer, t *Tree) error {
	var nwk strings.Builder
	if err := WriteNewick(&nwk, t); err != nil {
		return err
	}
	newick := strings.TrimSuffix(strings.TrimSpace(nwk.String()), ";")

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "#NEXUS\n\n")
	fmt.Fprintf(bw, "BEGIN TAXA;\n")
	terms := t.Terms()
	fmt.Fprintf(bw, "\tDIMENSIONS NTAX=%d;\n", len(terms))
	fmt.Fprintf(bw, "\tTAXLABELS\n")
	for _, id := range terms {
		fmt.Fprintf(bw, "\t\t%s\n", quoteNexus(t.Taxon(id)))
	}
	fmt.Fprintf(bw, "\t;\nEND;\n\n")

	fmt.Fprintf(bw, "BEGIN TREES;\n")
	fmt.Fprintf(bw, "\tTREE %s = %s;\n", nexusName(t.Name()), newick)
	fmt.Fprintf(bw, "END;\n")
	return bw.Flush()
}

func quoteNexus(s string) string {
	if strings.ContainsAny(s, " \t'()[]") {
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}
	return s
}

func nexusName(name string) string {
	if name == "" {
		return "tact"
	}
	return strings.ReplaceAll(name, " ", "_")
}
