/*
 * adam.go, part of gofullerene.
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

import "math"

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

//adam keeps the moment estimates of the Adam optimizer.
type adam struct {
	T int
	M *Params
	V *Params
}

func newAdam(A Architecture) *adam {
	return &adam{M: zeroParams(A), V: zeroParams(A)}
}

//step applies one update with learning rate lr to P.
func (o *adam) step(P, grad *Params, lr float64) {
	o.T++
	c1 := 1 - math.Pow(adamBeta1, float64(o.T))
	c2 := 1 - math.Pow(adamBeta2, float64(o.T))
	for i, p := range P.M {
		pd := p.RawMatrix().Data
		gd := grad.M[i].RawMatrix().Data
		md := o.M.M[i].RawMatrix().Data
		vd := o.V.M[i].RawMatrix().Data
		for j, g := range gd {
			md[j] = adamBeta1*md[j] + (1-adamBeta1)*g
			vd[j] = adamBeta2*vd[j] + (1-adamBeta2)*g*g
			pd[j] -= lr * (md[j] / c1) / (math.Sqrt(vd[j]/c2) + adamEps)
		}
	}
}

type adamState struct {
	T int      `json:"t"`
	M []Matrix `json:"m"`
	V []Matrix `json:"v"`
}

func (o *adam) export() adamState {
	return adamState{T: o.T, M: o.M.export(), V: o.V.export()}
}

func importAdam(A Architecture, s adamState) (*adam, error) {
	M, err := importParams(A, s.M)
	if err != nil {
		return nil, err
	}
	V, err := importParams(A, s.V)
	if err != nil {
		return nil, err
	}
	return &adam{T: s.T, M: M, V: V}, nil
}
