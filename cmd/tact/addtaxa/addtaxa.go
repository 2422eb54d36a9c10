// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

// Package addtaxa implements the command that runs the whole TACT core:
// fit diversification rates, graft missing taxa onto a backbone, and
// write the augmented phylogeny.
package addtaxa

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/js-arias/command"
	"github.com/jonchang/tact/driver"
	"github.com/jonchang/tact/logstream"
	"github.com/jonchang/tact/project"
	"github.com/jonchang/tact/taxonomy"
	"github.com/jonchang/tact/tree"
)

var Command = &command.Command{
	Usage: `addtaxa [--min-ccp <value>] [--yule] [--seed <value>]
	[--precision <value>] [--workers <n>] <project-file>`,
	Short: "graft missing taxa onto a backbone phylogeny",
	Long: `
Command addtaxa reads a taxonomy and a backbone phylogeny named by a TACT
project file, estimates a diversification rate for every taxonomic clade
that meets the minimum crown-capture probability, and grafts every
species present in the taxonomy but absent from the backbone at a time
drawn from the clade's fitted process.

The project file names the taxonomy CSV, the backbone tree, the output
base name, and the run parameters (min-ccp, seed, yule, the
ultrametricity precision). Any of --min-ccp, --yule, --seed, --precision
given on the command line override the project's stored value for this
run only; the project file itself is left untouched.

Output is written next to the project's output base name: <output>.nwk
and <output>.nex carry the augmented phylogeny, <output>.rates.csv
carries one row per taxonomic group, whether or not a fit was attempted
for it. A group without an admitted fit of its own carries the rate of
the ancestor named in its source column, or zero rates and an empty
source when no ancestor has one.
	`,
	SetFlags: setFlags,
	Run:      run,
}

var (
	minCCP    float64 = -1
	yule      bool
	seedFlag  uint64
	precision float64 = -1
	workers   int
)

func setFlags(c *command.Command) {
	c.Flags().Float64Var(&minCCP, "min-ccp", -1, "")
	c.Flags().BoolVar(&yule, "yule", false, "")
	c.Flags().Uint64Var(&seedFlag, "seed", 0, "")
	c.Flags().Float64Var(&precision, "precision", -1, "")
	c.Flags().IntVar(&workers, "workers", 0, "")
}

func run(c *command.Command, args []string) error {
	if len(args) < 1 {
		return c.UsageError("expecting project file")
	}

	p, err := project.Read(args[0])
	if err != nil {
		return fmt.Errorf("addtaxa: %v", err)
	}
	if minCCP >= 0 {
		p.MinCCP = minCCP
	}
	if yule {
		p.Yule = true
	}
	if seedFlag != 0 {
		p.Seed = seedFlag
	}
	if precision >= 0 {
		p.Precision = precision
	}
	if p.Taxonomy == "" || p.Backbone == "" {
		return fmt.Errorf("addtaxa: project %q names no taxonomy or backbone", args[0])
	}

	tax, err := readTaxonomy(p.Taxonomy)
	if err != nil {
		return fmt.Errorf("addtaxa: %v", err)
	}
	if ok, report := taxonomy.CheckRankDepths(tax); !ok {
		fmt.Fprint(os.Stderr, report)
	}

	backbone, err := readBackbone(p.Backbone, p.Precision)
	if err != nil {
		return fmt.Errorf("addtaxa: %v", err)
	}

	for _, og := range p.Outgroups {
		if err := backbone.PruneLeaf(og); err != nil {
			return fmt.Errorf("addtaxa: pruning outgroup %q: %v", og, err)
		}
	}

	if err := checkLeavesKnown(tax, backbone); err != nil {
		return err
	}

	log := logstream.New(os.Stderr)
	drv := driver.New(tax, backbone, log, driver.Config{
		MinCCP:    p.MinCCP,
		Yule:      p.Yule,
		Seed:      p.Seed,
		Workers:   workers,
		Precision: p.Precision,
	})

	records, err := drv.FitRates(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "addtaxa: rate estimation failed: %v\n", err)
		os.Exit(2)
	}
	if err := drv.Place(records, nil); err != nil {
		fmt.Fprintf(os.Stderr, "addtaxa: placement failed: %v\n", err)
		os.Exit(2)
	}

	out := p.Output
	if out == "" {
		out = "tact-output"
	}
	if err := writeOutputs(out, backbone, records); err != nil {
		return fmt.Errorf("addtaxa: %v", err)
	}
	return nil
}

func checkLeavesKnown(tax *taxonomy.Taxonomy, backbone *tree.Tree) error {
	species := make(map[string]bool, len(tax.SpeciesNames()))
	for _, s := range tax.SpeciesNames() {
		species[s] = true
	}
	var unknown []string
	for name := range backbone.TermNames() {
		if !species[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("addtaxa: backbone contains leaves absent from the taxonomy: %s", strings.Join(unknown, ", "))
	}
	return nil
}

// readTaxonomy reads a CSV whose header row names the taxonomic ranks
// (most inclusive first) followed by a final species column, and whose
// data rows carry one species per row.
func readTaxonomy(name string) (*taxonomy.Taxonomy, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading taxonomy header from %q: %v", name, err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("taxonomy %q: expecting at least one rank column and a species column", name)
	}
	rankNames := header[:len(header)-1]

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading taxonomy %q: %v", name, err)
		}
		rows = append(rows, rec)
	}

	tax, renames, err := taxonomy.Build(rankNames, rows)
	if err != nil {
		return nil, fmt.Errorf("building taxonomy from %q: %v", name, err)
	}
	for _, rn := range renames {
		fmt.Fprintf(os.Stderr, "warn\tRankRelabeled\t%s -> %s\n", rn.Original, rn.Mangled)
	}
	return tax, nil
}

// readBackbone reads a Newick or NEXUS backbone, deciding the format by
// sniffing for a leading "#NEXUS" token the way the command-line tools in
// js-arias/phygeo pick a reader by file content rather than extension.
func readBackbone(name string, precision float64) (*tree.Tree, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading backbone %q: %v", name, err)
	}
	if precision <= 0 {
		precision = tree.DefaultPrecision
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(strings.ToUpper(trimmed), "#NEXUS") {
		t, err := tree.ReadNEXUS(strings.NewReader(trimmed), name, precision)
		if err != nil {
			return nil, fmt.Errorf("reading backbone %q: %v", name, err)
		}
		return t, nil
	}
	t, err := tree.ReadNewick(strings.NewReader(trimmed), name, precision)
	if err != nil {
		return nil, fmt.Errorf("reading backbone %q: %v", name, err)
	}
	return t, nil
}

func writeOutputs(base string, backbone *tree.Tree, records map[string]driver.RateRecord) (err error) {
	nwk, err := os.Create(base + ".nwk")
	if err != nil {
		return err
	}
	defer closeAndJoin(nwk, &err)
	if err := tree.WriteNewick(nwk, backbone); err != nil {
		return fmt.Errorf("writing %s.nwk: %v", base, err)
	}

	nex, err := os.Create(base + ".nex")
	if err != nil {
		return err
	}
	defer closeAndJoin(nex, &err)
	if err := tree.WriteNEXUS(nex, backbone); err != nil {
		return fmt.Errorf("writing %s.nex: %v", base, err)
	}

	rf, err := os.Create(base + ".rates.csv")
	if err != nil {
		return err
	}
	defer closeAndJoin(rf, &err)
	w := csv.NewWriter(rf)
	if err := w.Write([]string{"taxon", "birth", "death", "ccp", "source"}); err != nil {
		return err
	}
	for taxon, rec := range records {
		if err := w.Write([]string{
			taxon,
			formatFloat(rec.Fit.Birth),
			formatFloat(rec.Fit.Death),
			formatFloat(rec.CCP),
			rec.Source,
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%.10g", v)
}

func closeAndJoin(f *os.File, err *error) {
	e := f.Close()
	if e != nil && *err == nil {
		*err = e
	}
}
