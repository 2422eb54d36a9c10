// Copyright © 2024 The TACT Authors.
// All rights reserved.
// Distributed under a BSD-style license that can be found in the LICENSE file.

// Package rng derives deterministic, independent random sources from a
// single global seed and a taxon path.
//
// The placement engine (package placement) must be reproducible: the same
// global seed plus the same taxonomy must produce bit-identical output
// regardless of how rate estimation (which can run concurrently) happened
// to schedule its work. Hashing the taxon's path to the root, instead of
// relying on call order, makes every sub-stream depend only on "where in
// the taxonomy is this", never on "when did we get to it".
package rng

import (
	"hash/fnv"
	"math/rand/v2"
	"strconv"
)

// Sub derives a *rand.Rand for a taxon path from a global seed. The path is
// typically the sequence of rank labels from the taxonomy root down to the
// node being resolved (e.g. []string{"Mammalia", "Carnivora", "Felidae"}).
//
// Two calls with the same seed and the same path produce generators with
// identical future output; two different paths produce (with
// overwhelming probability) independent streams.
func Sub(seed uint64, path []string) *rand.Rand {
	h := fnv.New64a()
	var buf [8]byte
	putUint64(buf[:], seed)
	h.Write(buf[:])
	for _, p := range path {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	sum := h.Sum64()

	// Derive a second, independent 64 bits so the PCG source isn't fed
	// two copies of the same value.
	h.Write([]byte("tact-rng-salt"))
	salt := h.Sum64()

	return rand.New(rand.NewPCG(sum, salt))
}

// SubIndex is a convenience wrapper for deriving a sub-stream keyed by a
// taxon path plus an integer index, used when a single taxon needs more
// than one independent draw sequence (e.g. one per missing species slot).
func SubIndex(seed uint64, path []string, index int) *rand.Rand {
	return Sub(seed, append(append([]string{}, path...), strconv.Itoa(index)))
}

func putUint64(b []byte, v uint64) {
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
}
