/*
 * forward.go, part of gofullerene.
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

package gnn

import (
	"github.com/pkg/errors"
	"github.com/rmera/gofullerene/featurize"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

//pass keeps the intermediate values of a forward pass that the backward
//pass needs. pre[0] is the input projection before the ReLU and pre[l+1]
//the pre-activation of convolution l. h[l] is the input of convolution l,
//h[Layers] the final node states.
type pass struct {
	g    *featurize.StructureGraph
	deg  []float64
	pre  []*mat.Dense
	h    []*mat.Dense
	pool []float64
	zpre [][]float64
	z    [][]float64
	out  []float64 //normalized predictions
}

func relu(dst, src *mat.Dense) {
	dst.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	}, src)
}

func addRowVector(m *mat.Dense, v []float64) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		floats.Add(m.RawRowView(i), v)
	}
}

func (m *Model) checkGraph(G *featurize.StructureGraph) error {
	if G == nil || G.Nodes == nil || G.Len() == 0 {
		return errors.New("gnn: empty graph")
	}
	if G.NodeDim() != m.Arch.NodeFeatures {
		return errors.Errorf("gnn: %s has %d node features, model expects %d", G.ID, G.NodeDim(), m.Arch.NodeFeatures)
	}
	if len(G.Edges) > 0 && G.EdgeDim() != m.Arch.EdgeFeatures {
		return errors.Errorf("gnn: %s has %d edge features, model expects %d", G.ID, G.EdgeDim(), m.Arch.EdgeFeatures)
	}
	return nil
}

//forward runs the model on G. Each convolution computes, for node i,
//
//	pre_i = Self h_i + 1/deg_i sum_{i->j} (Msg h_j + Edge e_ij) + b
//	h'_i  = h_i + relu(pre_i)
//
//The node states are then mean-pooled and fed to one two-layer head per
//task.
func (m *Model) forward(G *featurize.StructureGraph) (*pass, error) {
	if err := m.checkGraph(G); err != nil {
		return nil, err
	}
	P := m.Params.M
	A := m.Arch
	N, H := G.Len(), A.Hidden
	p := &pass{g: G, deg: make([]float64, N)}
	for i := range p.deg {
		p.deg[i] = float64(G.Degree(i))
	}
	pre0 := new(mat.Dense)
	pre0.Mul(G.Nodes, P[0].T())
	addRowVector(pre0, P[1].RawRowView(0))
	h := new(mat.Dense)
	relu(h, pre0)
	p.pre = append(p.pre, pre0)
	p.h = append(p.h, h)

	for l := 0; l < A.Layers; l++ {
		b := A.layerBase(l)
		pre := new(mat.Dense)
		pre.Mul(h, P[b].T())
		if len(G.Edges) > 0 {
			var T, EP mat.Dense
			T.Mul(h, P[b+1].T())
			EP.Mul(G.EdgeFeatures, P[b+2].T())
			for e, ed := range G.Edges {
				row := pre.RawRowView(ed.From)
				c := 1 / p.deg[ed.From]
				floats.AddScaled(row, c, T.RawRowView(ed.To))
				floats.AddScaled(row, c, EP.RawRowView(e))
			}
		}
		addRowVector(pre, P[b+3].RawRowView(0))
		next := new(mat.Dense)
		relu(next, pre)
		next.Add(next, h)
		p.pre = append(p.pre, pre)
		p.h = append(p.h, next)
		h = next
	}

	p.pool = make([]float64, H)
	for i := 0; i < N; i++ {
		floats.Add(p.pool, h.RawRowView(i))
	}
	floats.Scale(1/float64(N), p.pool)

	pool := mat.NewVecDense(H, p.pool)
	p.out = make([]float64, len(A.Tasks))
	for k := range A.Tasks {
		b := A.headBase(k)
		zpre := mat.NewVecDense(A.headHidden(), nil)
		zpre.MulVec(P[b], pool)
		zp := zpre.RawVector().Data
		floats.Add(zp, P[b+1].RawRowView(0))
		z := make([]float64, len(zp))
		for a, v := range zp {
			if v > 0 {
				z[a] = v
			}
		}
		p.zpre = append(p.zpre, zp)
		p.z = append(p.z, z)
		p.out[k] = floats.Dot(P[b+2].RawRowView(0), z) + P[b+3].At(0, 0)
	}
	return p, nil
}
