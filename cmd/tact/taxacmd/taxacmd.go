// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

// Package taxacmd implements a command that builds a taxonomy tree from
// a ranks CSV and reports problems with it, without requiring a
// backbone phylogeny.
package taxacmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/js-arias/command"
	"github.com/jonchang/tact/taxonomy"
)

var Command = &command.Command{
	Usage: `taxonomy <taxonomy-file>`,
	Short: "validate a taxonomy CSV and report rank-label problems",
	Long: `
Command taxonomy reads a taxonomy CSV (ranks most-inclusive first,
species name last) and reports how many species it contains, any rank
labels that had to be disambiguated because they collided across
unrelated lineages, and whether every species has the same number of
ranked ancestors.

No backbone is required; this command only exercises the taxonomy
builder, useful for catching a miscounted column before running addtaxa.
	`,
	Run: run,
}

func run(c *command.Command, args []string) error {
	if len(args) < 1 {
		return c.UsageError("expecting a taxonomy file")
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("reading header from %q: %v", args[0], err)
	}
	if len(header) < 2 {
		return fmt.Errorf("taxonomy %q: expecting at least one rank column and a species column", args[0])
	}
	rankNames := header[:len(header)-1]

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading %q: %v", args[0], err)
		}
		rows = append(rows, rec)
	}

	tax, renames, err := taxonomy.Build(rankNames, rows)
	if err != nil {
		fmt.Fprintf(c.Stdout(), "invalid\t%v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(c.Stdout(), "species\t%d\n", len(tax.SpeciesNames()))
	for _, rn := range renames {
		fmt.Fprintf(c.Stdout(), "relabeled\t%s -> %s\n", rn.Original, rn.Mangled)
	}
	if ok, report := taxonomy.CheckRankDepths(tax); !ok {
		fmt.Fprint(c.Stdout(), report)
	}
	return nil
}
