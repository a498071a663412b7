/*
 * graph.go, part of gofullerene.
 *
 * Copyright 2024 Raul Mera <rmera{at}chemDOThelsinkiDOTfi>
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU Lesser General Public License as
 * published by the Free Software Foundation; either version 2.1 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU Lesser General
 * Public License along with this program.  If not, see
 * <http://www.gnu.org/licenses/>.
 *
 */

package featurize

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/mat"
)

// Edge is a directed edge of a StructureGraph.
type Edge struct {
	From, To int
	Distance float64
	//Unit vector from From to (the image of) To. Depends on the orientation
	//of the structure, so it is not a model input.
	Direction [3]float64
	Image     [3]int //lattice translation applied to To
}

// StructureGraph is the graph representation of one configuration. Row i
// of Nodes holds the features of atom i, row k of EdgeFeatures those of
// Edges[k]. A StructureGraph is not modified after it is built.
type StructureGraph struct {
	ID           string
	Group        string
	Stratum      string
	Nodes        *mat.Dense
	Edges        []Edge
	EdgeFeatures *mat.Dense
	degree       []int
}

// Len returns the number of nodes (atoms).
func (G *StructureGraph) Len() int {
	r, _ := G.Nodes.Dims()
	return r
}

func (G *StructureGraph) NodeDim() int {
	_, c := G.Nodes.Dims()
	return c
}

func (G *StructureGraph) EdgeDim() int {
	if G.EdgeFeatures == nil {
		return 0
	}
	_, c := G.EdgeFeatures.Dims()
	return c
}

// Degree returns the number of edges leaving node i.
func (G *StructureGraph) Degree(i int) int {
	if G.degree != nil {
		return G.degree[i]
	}
	d := 0
	for _, e := range G.Edges {
		if e.From == i {
			d++
		}
	}
	return d
}

// Symmetric returns true if every edge has its reverse in the graph, with the
// same length and the opposite image.
func (G *StructureGraph) Symmetric() bool {
	type key struct {
		from, to int
		img      [3]int
	}
	set := make(map[key]float64, len(G.Edges))
	for _, e := range G.Edges {
		set[key{e.From, e.To, e.Image}] = e.Distance
	}
	for _, e := range G.Edges {
		d, ok := set[key{e.To, e.From, [3]int{-e.Image[0], -e.Image[1], -e.Image[2]}}]
		if !ok || d != e.Distance {
			return false
		}
	}
	return true
}

// Undirected returns the connectivity of G as a gonum graph, with node IDs
// equal to atom indexes. Periodic self-images are not represented.
func (G *StructureGraph) Undirected() *simple.UndirectedGraph {
	u := simple.NewUndirectedGraph()
	for i := 0; i < G.Len(); i++ {
		u.AddNode(simple.Node(i))
	}
	for _, e := range G.Edges {
		if e.From == e.To || u.HasEdgeBetween(int64(e.From), int64(e.To)) {
			continue
		}
		u.SetEdge(simple.Edge{F: simple.Node(e.From), T: simple.Node(e.To)})
	}
	return u
}

// Components returns the connected components of G, each a sorted list of
// atom indexes, ordered by their first atom. A featurized cage normally has
// a single component; more than one means the cutoff leaves fragments.
func (G *StructureGraph) Components() [][]int {
	cc := topo.ConnectedComponents(G.Undirected())
	ret := make([][]int, len(cc))
	for i, c := range cc {
		ret[i] = make([]int, len(c))
		for j, n := range c {
			ret[i][j] = int(n.ID())
		}
		sort.Ints(ret[i])
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i][0] < ret[j][0] })
	return ret
}

// Permuted returns a copy of G with its atoms renumbered: atom i of G is
// atom perm[i] of the result. Edge order is kept.
func (G *StructureGraph) Permuted(perm []int) (*StructureGraph, error) {
	n := G.Len()
	if len(perm) != n {
		return nil, errors.Errorf("featurize: permutation of length %d for %d atoms", len(perm), n)
	}
	seen := make([]bool, n)
	for _, p := range perm {
		if p < 0 || p >= n || seen[p] {
			return nil, errors.New("featurize: invalid permutation")
		}
		seen[p] = true
	}
	P := &StructureGraph{ID: G.ID, Group: G.Group, Stratum: G.Stratum,
		Nodes: mat.NewDense(n, G.NodeDim(), nil), Edges: make([]Edge, len(G.Edges))}
	for i := 0; i < n; i++ {
		P.Nodes.SetRow(perm[i], G.Nodes.RawRowView(i))
	}
	for k, e := range G.Edges {
		e.From, e.To = perm[e.From], perm[e.To]
		P.Edges[k] = e
	}
	if G.EdgeFeatures != nil {
		P.EdgeFeatures = mat.DenseCopyOf(G.EdgeFeatures)
	}
	if G.degree != nil {
		P.degree = make([]int, n)
		for i, d := range G.degree {
			P.degree[perm[i]] = d
		}
	}
	return P, nil
}
