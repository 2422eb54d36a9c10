// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

package driver_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/jonchang/tact/driver"
	"github.com/jonchang/tact/logstream"
	"github.com/jonchang/tact/taxonomy"
	"github.com/jonchang/tact/tree"
)

// TestFitRatesAndPlaceEndToEnd exercises both phases together: genus A and
// genus X are already fully sampled, genus B has no sampled members at all
// and must bubble up to be grafted under the family by the parent's
// fitted or inherited rate.
func TestFitRatesAndPlaceEndToEnd(t *testing.T) {
	tr, err := tree.ReadNewick(strings.NewReader("(((a:1.0,b:1.0):1.0,c:2.0):1.0,x:3.0);"), "t", tree.DefaultPrecision)
	if err != nil {
		t.Fatalf("ReadNewick: %v", err)
	}

	ranks := []string{"Family", "Genus"}
	rows := [][]string{
		{"Fam", "GenusA", "a"},
		{"Fam", "GenusA", "b"},
		{"Fam", "GenusA", "c"},
		{"Fam", "GenusX", "x"},
		{"Fam", "GenusB", "d"},
	}
	tax, _, err := taxonomy.Build(ranks, rows)
	if err != nil {
		t.Fatalf("taxonomy.Build: %v", err)
	}

	var buf bytes.Buffer
	log := logstream.New(&buf)
	cfg := driver.Config{MinCCP: 0, Seed: 0xC0FFEE, Workers: 2}
	drv := driver.New(tax, tr, log, cfg)

	records, err := drv.FitRates(context.Background())
	if err != nil {
		t.Fatalf("FitRates: %v", err)
	}
	if len(records) == 0 {
		t.Fatalf("expected at least one rate record")
	}

	if err := drv.Place(records, nil); err != nil {
		t.Fatalf("Place: %v", err)
	}

	d, ok := tr.Leaf("d")
	if !ok {
		t.Fatalf("leaf d was not grafted")
	}
	if tr.Age(d) != 0 {
		t.Fatalf("Age(d) = %g, want 0", tr.Age(d))
	}
	if err := tree.CheckUltrametric(tr, tree.DefaultPrecision); err != nil {
		t.Fatalf("output not ultrametric: %v", err)
	}
	if !tree.IsBinary(tr) {
		t.Fatalf("output not binary")
	}
}

// TestPlaceCancelsBetweenTaxa covers the §5 cancellation contract: once
// the flag trips, Place stops before mutating any further taxon and
// reports an error rather than silently truncating.
func TestPlaceCancelsBetweenTaxa(t *testing.T) {
	tr, err := tree.ReadNewick(strings.NewReader("((a:1.0,b:1.0):1.0,c:2.0);"), "t", tree.DefaultPrecision)
	if err != nil {
		t.Fatalf("ReadNewick: %v", err)
	}
	ranks := []string{"Family", "Genus"}
	rows := [][]string{
		{"Fam", "GenusA", "a"},
		{"Fam", "GenusA", "b"},
		{"Fam", "GenusA", "c"},
		{"Fam", "GenusB", "d"},
	}
	tax, _, err := taxonomy.Build(ranks, rows)
	if err != nil {
		t.Fatalf("taxonomy.Build: %v", err)
	}

	log := logstream.New(nil)
	drv := driver.New(tax, tr, log, driver.Config{MinCCP: 0, Seed: 1, Workers: 1})
	records, err := drv.FitRates(context.Background())
	if err != nil {
		t.Fatalf("FitRates: %v", err)
	}

	cancelled := true
	if err := drv.Place(records, func() bool { return cancelled }); err == nil {
		t.Fatalf("expected an error when cancelled before the first taxon")
	}
}
