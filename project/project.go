// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

// Package project reads and writes a TACT project file: a single TSV
// document naming the files and parameters of one run, in the same
// register as js-arias/phygeo's project.Project ("dataset\tpath" rows
// read and written with encoding/csv configured for tabs).
package project

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Dataset names are the recognized rows of a project file.
const (
	DatasetTaxonomy  = "taxonomy"
	DatasetBackbone  = "backbone"
	DatasetOutgroups = "outgroups"
	DatasetOutput    = "output"
	DatasetMinCCP    = "min-ccp"
	DatasetSeed      = "seed"
	DatasetYule      = "yule"
	DatasetPrecision = "ultrametricity-precision"
)

// Project is the set of file paths and run parameters for one TACT
// analysis.
type Project struct {
	Taxonomy  string
	Backbone  string
	Outgroups []string
	Output    string
	MinCCP    float64
	Seed      uint64
	Yule      bool
	Precision float64
}

// Default returns a Project with spec.md §6's default CLI parameters
// (min-ccp 0.8, ultrametricity-precision 1e-6), leaving file paths empty.
func Default() Project {
	return Project{MinCCP: 0.8, Precision: 1e-6}
}

// Read parses a project file, the same two-column "dataset\tpath" shape
// project.Read uses, tolerating blank lines and requiring every row to
// have exactly two tab-separated fields.
func Read(name string) (Project, error) {
	f, err := os.Open(name)
	if err != nil {
		return Project{}, fmt.Errorf("project: %w", err)
	}
	defer f.Close()
	return read(f, name)
}

func read(r io.Reader, name string) (Project, error) {
	p := Default()
	tr := csv.NewReader(r)
	tr.Comma = '\t'
	tr.FieldsPerRecord = -1
	tr.Comment = '#'

	row := 0
	for {
		row++
		rec, err := tr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Project{}, fmt.Errorf("project: on file %q: on row %d: %v", name, row, err)
		}
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}
		if len(rec) != 2 {
			return Project{}, fmt.Errorf("project: on file %q: on row %d: expected 2 fields, got %d", name, row, len(rec))
		}
		dataset, value := strings.ToLower(strings.TrimSpace(rec[0])), strings.TrimSpace(rec[1])
		if err := p.set(dataset, value); err != nil {
			return Project{}, fmt.Errorf("project: on file %q: on row %d: %v", name, row, err)
		}
	}
	return p, nil
}

func (p *Project) set(dataset, value string) error {
	switch dataset {
	case DatasetTaxonomy:
		p.Taxonomy = value
	case DatasetBackbone:
		p.Backbone = value
	case DatasetOutgroups:
		if value != "" {
			p.Outgroups = strings.Split(value, ",")
		}
	case DatasetOutput:
		p.Output = value
	case DatasetMinCCP:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid min-ccp %q: %w", value, err)
		}
		p.MinCCP = v
	case DatasetSeed:
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seed %q: %w", value, err)
		}
		p.Seed = v
	case DatasetYule:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid yule %q: %w", value, err)
		}
		p.Yule = v
	case DatasetPrecision:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid ultrametricity-precision %q: %w", value, err)
		}
		p.Precision = v
	default:
		return fmt.Errorf("unknown dataset %q", dataset)
	}
	return nil
}

// Write serializes p as a TSV project file.
func Write(name string, p Project) error {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("project: %w", err)
	}
	defer f.Close()
	return write(f, p)
}

func write(w io.Writer, p Project) error {
	tw := csv.NewWriter(w)
	tw.Comma = '\t'
	rows := [][]string{
		{DatasetTaxonomy, p.Taxonomy},
		{DatasetBackbone, p.Backbone},
		{DatasetOutgroups, strings.Join(p.Outgroups, ",")},
		{DatasetOutput, p.Output},
		{DatasetMinCCP, strconv.FormatFloat(p.MinCCP, 'g', -1, 64)},
		{DatasetSeed, strconv.FormatUint(p.Seed, 10)},
		{DatasetYule, strconv.FormatBool(p.Yule)},
		{DatasetPrecision, strconv.FormatFloat(p.Precision, 'g', -1, 64)},
	}
	for _, row := range rows {
		if err := tw.Write(row); err != nil {
			return fmt.Errorf("project: %w", err)
		}
	}
	tw.Flush()
	return tw.Error()
}
