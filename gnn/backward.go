/*
 * backward.go, part of gofullerene.
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
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

//gated returns d with the entries where pre <= 0 set to zero, the
//derivative of relu(pre) applied to d.
func gated(d, pre *mat.Dense) *mat.Dense {
	r := new(mat.Dense)
	r.Apply(func(i, j int, v float64) float64 {
		if pre.At(i, j) > 0 {
			return v
		}
		return 0
	}, d)
	return r
}

func addColSums(dst []float64, m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		floats.Add(dst, m.RawRowView(i))
	}
}

func addProduct(dst *mat.Dense, a, b mat.Matrix) {
	var t mat.Dense
	t.Mul(a, b)
	dst.Add(dst, &t)
}

//backward adds to grad the gradient of sum_k dOut[k]*out[k] for the pass p.
func (m *Model) backward(p *pass, dOut []float64, grad *Params) {
	P, D := m.Params.M, grad.M
	A := m.Arch
	G := p.g
	N, H := G.Len(), A.Hidden

	dg := make([]float64, H)
	dzpre := make([]float64, A.headHidden())
	for k := range A.Tasks {
		if dOut[k] == 0 {
			continue
		}
		b := A.headBase(k)
		floats.AddScaled(D[b+2].RawRowView(0), dOut[k], p.z[k])
		D[b+3].Set(0, 0, D[b+3].At(0, 0)+dOut[k])
		w2 := P[b+2].RawRowView(0)
		for a := range dzpre {
			dzpre[a] = 0
			if p.zpre[k][a] > 0 {
				dzpre[a] = dOut[k] * w2[a]
			}
		}
		floats.Add(D[b+1].RawRowView(0), dzpre)
		for a, v := range dzpre {
			if v == 0 {
				continue
			}
			floats.AddScaled(D[b].RawRowView(a), v, p.pool)
			floats.AddScaled(dg, v, P[b].RawRowView(a))
		}
	}

	//mean pooling spreads the embedding gradient evenly over the nodes.
	dH := mat.NewDense(N, H, nil)
	for i := 0; i < N; i++ {
		floats.AddScaled(dH.RawRowView(i), 1/float64(N), dg)
	}

	for l := A.Layers - 1; l >= 0; l-- {
		b := A.layerBase(l)
		h := p.h[l]
		dPre := gated(dH, p.pre[l+1])
		addColSums(D[b+3].RawRowView(0), dPre)
		addProduct(D[b], dPre.T(), h)
		dPrev := mat.DenseCopyOf(dH) //residual path
		addProduct(dPrev, dPre, P[b])
		if len(G.Edges) > 0 {
			dT := mat.NewDense(N, H, nil)
			dEP := mat.NewDense(len(G.Edges), H, nil)
			for e, ed := range G.Edges {
				c := 1 / p.deg[ed.From]
				row := dPre.RawRowView(ed.From)
				floats.AddScaled(dT.RawRowView(ed.To), c, row)
				floats.AddScaled(dEP.RawRowView(e), c, row)
			}
			addProduct(D[b+1], dT.T(), h)
			addProduct(dPrev, dT, P[b+1])
			addProduct(D[b+2], dEP.T(), G.EdgeFeatures)
		}
		dH = dPrev
	}

	dPre0 := gated(dH, p.pre[0])
	addProduct(D[0], dPre0.T(), G.Nodes)
	addColSums(D[1].RawRowView(0), dPre0)
}
