// Copyright 2025 jackalope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package coverage provides the edge coverage set type and its algebra.
// An edge is a (module, offset) pair identifying one instrumented
// control-flow location in the target.
package coverage

type OffsetSet map[uint64]struct{}

// Coverage is a collection of per-module edge sets.
type Coverage map[string]OffsetSet

type Edge struct {
	Module string
	Offset uint64
}

func FromEdges(edges ...Edge) Coverage {
	if len(edges) == 0 {
		return nil
	}
	cov := make(Coverage)
	for _, e := range edges {
		cov.Add(e.Module, e.Offset)
	}
	return cov
}

// Edges flattens the set into a list, in no particular order.
func (cov Coverage) Edges() []Edge {
	var edges []Edge
	for module, offsets := range cov {
		for off := range offsets {
			edges = append(edges, Edge{Module: module, Offset: off})
		}
	}
	return edges
}

func (cov *Coverage) Add(module string, offset uint64) {
	c := *cov
	if c == nil {
		c = make(Coverage)
		*cov = c
	}
	offsets := c[module]
	if offsets == nil {
		offsets = make(OffsetSet)
		c[module] = offsets
	}
	offsets[offset] = struct{}{}
}

func (cov Coverage) Empty() bool {
	for _, offsets := range cov {
		if len(offsets) != 0 {
			return false
		}
	}
	return true
}

// Count returns the total number of edges across all modules.
func (cov Coverage) Count() int {
	n := 0
	for _, offsets := range cov {
		n += len(offsets)
	}
	return n
}

func (cov Coverage) Copy() Coverage {
	if cov == nil {
		return nil
	}
	c := make(Coverage, len(cov))
	for module, offsets := range cov {
		set := make(OffsetSet, len(offsets))
		for off := range offsets {
			set[off] = struct{}{}
		}
		c[module] = set
	}
	return c
}

func (cov *Coverage) Merge(other Coverage) {
	for module, offsets := range other {
		for off := range offsets {
			cov.Add(module, off)
		}
	}
}

// Diff returns the edges of other that are not in cov.
func (cov Coverage) Diff(other Coverage) Coverage {
	var res Coverage
	for module, offsets := range other {
		have := cov[module]
		for off := range offsets {
			if _, ok := have[off]; ok {
				continue
			}
			res.Add(module, off)
		}
	}
	return res
}

// Intersect returns the edges present in both cov and other.
func (cov Coverage) Intersect(other Coverage) Coverage {
	var res Coverage
	for module, offsets := range cov {
		have := other[module]
		if have == nil {
			continue
		}
		for off := range offsets {
			if _, ok := have[off]; ok {
				res.Add(module, off)
			}
		}
	}
	return res
}

// Contains reports whether sub is a subset of cov.
func (cov Coverage) Contains(sub Coverage) bool {
	for module, offsets := range sub {
		have := cov[module]
		if len(have) < len(offsets) {
			return false
		}
		for off := range offsets {
			if _, ok := have[off]; !ok {
				return false
			}
		}
	}
	return true
}
