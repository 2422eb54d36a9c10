// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

// Package checkcmd implements a command that validates a backbone
// phylogeny without running any placement, the pre-algorithm half of
// spec §7's validation tier.
package checkcmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/js-arias/command"
	"github.com/jonchang/tact/tree"
)

var Command = &command.Command{
	Usage: `check [--precision <value>] <tree-file>`,
	Short: "validate that a tree is a rooted, binary, ultrametric backbone",
	Long: `
Command check reads a Newick or NEXUS tree and reports whether it is
fit to be used as a TACT backbone: rooted, fully binary, and ultrametric
within the given precision (default 1e-6). On success it prints "ok"
and the number of leaves; on failure it prints "invalid" with the
offending condition and the command exits with status 1.
	`,
	SetFlags: setFlags,
	Run:      run,
}

var precision float64

func setFlags(c *command.Command) {
	c.Flags().Float64Var(&precision, "precision", tree.DefaultPrecision, "")
}

func run(c *command.Command, args []string) error {
	if len(args) < 1 {
		return c.UsageError("expecting a tree file")
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	trimmed := strings.TrimSpace(string(data))
	var t *tree.Tree
	if strings.HasPrefix(strings.ToUpper(trimmed), "#NEXUS") {
		t, err = tree.ReadNEXUS(strings.NewReader(trimmed), args[0], precision)
	} else {
		t, err = tree.ReadNewick(strings.NewReader(trimmed), args[0], precision)
	}
	if err != nil {
		fmt.Fprintf(c.Stdout(), "invalid\t%v\n", err)
		os.Exit(1)
	}

	if !tree.IsBinary(t) {
		fmt.Fprintf(c.Stdout(), "invalid\ttree is not binary\n")
		os.Exit(1)
	}
	if err := tree.CheckUltrametric(t, precision); err != nil {
		fmt.Fprintf(c.Stdout(), "invalid\t%v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(c.Stdout(), "ok\t%d leaves\n", len(t.Terms()))
	return nil
}
