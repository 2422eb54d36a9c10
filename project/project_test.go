// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

package project

import (
	"reflect"
	"strings"
	"testing"
)

func TestReadWriteRoundTrip(t *testing.T) {
	p := Project{
		Taxonomy:  "taxonomy.csv",
		Backbone:  "backbone.nex",
		Outgroups: []string{"Outgroup_a", "Outgroup_b"},
		Output:    "out",
		MinCCP:    0.75,
		Seed:      0x5AC7,
		Yule:      true,
		Precision: 1e-7,
	}
	var buf strings.Builder
	if err := write(&buf, p); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := read(strings.NewReader(buf.String()), "mem")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, p) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestReadDefaults(t *testing.T) {
	p, err := read(strings.NewReader("taxonomy\tt.csv\nbackbone\tb.nex\n"), "mem")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if p.MinCCP != 0.8 {
		t.Fatalf("MinCCP default = %g, want 0.8", p.MinCCP)
	}
	if p.Precision != 1e-6 {
		t.Fatalf("Precision default = %g, want 1e-6", p.Precision)
	}
}

func TestReadRejectsUnknownDataset(t *testing.T) {
	if _, err := read(strings.NewReader("bogus\tvalue\n"), "mem"); err == nil {
		t.Fatalf("expected an error for an unknown dataset row")
	}
}

func TestReadRejectsBadFieldCount(t *testing.T) {
	if _, err := read(strings.NewReader("taxonomy\tt.csv\textra\n"), "mem"); err == nil {
		t.Fatalf("expected an error for a malformed row")
	}
}
