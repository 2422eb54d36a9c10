// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

// Tact grafts taxa known only from a taxonomic classification onto a
// molecular backbone phylogeny, assigning divergence times drawn from a
// diversification rate fitted to each clade.
package main

import (
	"github.com/js-arias/command"
	"github.com/jonchang/tact/cmd/tact/addtaxa"
	"github.com/jonchang/tact/cmd/tact/checkcmd"
	"github.com/jonchang/tact/cmd/tact/taxacmd"
)

var app = &command.Command{
	Usage: "tact <command> [<argument>...]",
	Short: "graft taxonomy-only taxa onto a backbone phylogeny",
}

func init() {
	app.Add(addtaxa.Command)
	app.Add(checkcmd.Command)
	app.Add(taxacmd.Command)
}

func main() {
	app.Main()
}
